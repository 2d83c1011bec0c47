package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ogurasousui/codex-userstore/internal/app"
	"github.com/ogurasousui/codex-userstore/internal/core/user"
	"github.com/ogurasousui/codex-userstore/internal/platform/config"
	"github.com/ogurasousui/codex-userstore/internal/platform/logging"
)

const usage = `usage: userctl [-config path] <command> [flags]

commands:
  create      -name NAME -email EMAIL [-note NOTE] [-active=false]
  get         -id ID
  list        [-active-only] [-page-size N] [-page-token TOKEN]
  update      -id ID [-name NAME] [-email EMAIL] [-note NOTE | -clear-note] [-active BOOL]
  deactivate  -id ID
  delete      -id ID`

var errUsage = errors.New(usage)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to CONFIG_PATH env or assets/local.yaml)")
	flag.Usage = func() { fmt.Fprintln(flag.CommandLine.Output(), usage) }
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(effectiveConfigPath(*configPath))
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.Log)

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open user store", slog.Any("error", err))
		os.Exit(1)
	}

	err = run(ctx, flag.Args(), rt.Store, os.Stdout)
	rt.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage), errors.Is(err, user.ErrValidation):
		return 2
	case errors.Is(err, user.ErrNotFound):
		return 3
	default:
		return 1
	}
}

func effectiveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return "assets/local.yaml"
}

type userJSON struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Note     *string `json:"note"`
	IsActive bool    `json:"is_active"`
}

func toJSON(u *user.User) userJSON {
	return userJSON{ID: u.ID, Name: u.Name, Email: u.Email, Note: u.Note, IsActive: u.IsActive}
}

// run はサブコマンドを解釈して uc に対して実行し、結果を JSON で out に書き出します。
func run(ctx context.Context, args []string, uc user.UseCase, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	enc := json.NewEncoder(out)
	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	switch cmd {
	case "create":
		name := fs.String("name", "", "user name")
		email := fs.String("email", "", "user email")
		note := fs.String("note", "", "optional note")
		active := fs.Bool("active", true, "active flag")
		if err := parse(fs, rest); err != nil {
			return err
		}
		in := user.CreateUserInput{Name: *name, Email: *email, IsActive: active}
		if isSet(fs, "note") {
			in.Note = note
		}
		created, err := uc.CreateUser(ctx, in)
		if err != nil {
			return err
		}
		return enc.Encode(toJSON(created))

	case "get":
		id := fs.Int64("id", 0, "user id")
		if err := parse(fs, rest); err != nil {
			return err
		}
		found, err := uc.GetUser(ctx, user.GetUserInput{ID: *id})
		if err != nil {
			return err
		}
		return enc.Encode(toJSON(found))

	case "list":
		activeOnly := fs.Bool("active-only", false, "only active users")
		pageSize := fs.Int("page-size", 0, "page size; 0 streams every user")
		pageToken := fs.String("page-token", "", "token returned by the previous page")
		if err := parse(fs, rest); err != nil {
			return err
		}
		if *pageSize == 0 && *pageToken == "" {
			for u, err := range uc.ListUsers(ctx, user.ListUsersInput{ActiveOnly: *activeOnly}) {
				if err != nil {
					return err
				}
				if err := enc.Encode(toJSON(u)); err != nil {
					return err
				}
			}
			return nil
		}
		result, err := uc.ListUsersPage(ctx, user.ListUsersPageInput{
			PageSize:   *pageSize,
			PageToken:  *pageToken,
			ActiveOnly: *activeOnly,
		})
		if err != nil {
			return err
		}
		page := struct {
			Users         []userJSON `json:"users"`
			NextPageToken string     `json:"next_page_token,omitempty"`
		}{Users: make([]userJSON, 0, len(result.Users)), NextPageToken: result.NextPageToken}
		for _, u := range result.Users {
			page.Users = append(page.Users, toJSON(u))
		}
		return enc.Encode(page)

	case "update":
		id := fs.Int64("id", 0, "user id")
		name := fs.String("name", "", "new name")
		email := fs.String("email", "", "new email")
		note := fs.String("note", "", "new note")
		clearNote := fs.Bool("clear-note", false, "unset the note")
		active := fs.String("active", "", "new active flag (true|false)")
		if err := parse(fs, rest); err != nil {
			return err
		}
		in := user.UpdateUserInput{ID: *id, ClearNote: *clearNote}
		if isSet(fs, "name") {
			in.Name = name
		}
		if isSet(fs, "email") {
			in.Email = email
		}
		if isSet(fs, "note") {
			in.Note = note
		}
		if isSet(fs, "active") {
			v, err := strconv.ParseBool(*active)
			if err != nil {
				return fmt.Errorf("%w: -active: %v", errUsage, err)
			}
			in.IsActive = &v
		}
		updated, err := uc.UpdateUser(ctx, in)
		if err != nil {
			return err
		}
		return enc.Encode(toJSON(updated))

	case "deactivate":
		id := fs.Int64("id", 0, "user id")
		if err := parse(fs, rest); err != nil {
			return err
		}
		if err := uc.DeactivateUser(ctx, user.DeactivateUserInput{ID: *id}); err != nil {
			return err
		}
		return enc.Encode(map[string]any{"id": *id, "deactivated": true})

	case "delete":
		id := fs.Int64("id", 0, "user id")
		if err := parse(fs, rest); err != nil {
			return err
		}
		if err := uc.DeleteUser(ctx, user.DeleteUserInput{ID: *id}); err != nil {
			return err
		}
		return enc.Encode(map[string]any{"id": *id, "deleted": true})

	default:
		return fmt.Errorf("%w\n\nunknown command %q", errUsage, cmd)
	}
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w\n\n%s: %v", errUsage, fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w\n\n%s: unexpected arguments %v", errUsage, fs.Name(), fs.Args())
	}
	return nil
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
