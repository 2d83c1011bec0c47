package postgres

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ogurasousui/codex-userstore/internal/core/user"
	pgdb "github.com/ogurasousui/codex-userstore/internal/platform/db/postgres"
)

const (
	uniqueViolationCode = "23505"
	// emailUniqueConstraint は運用側で email に一意制約を追加した場合の制約名です。
	emailUniqueConstraint = "users_email_key"
)

const userColumns = `id, name, email, note, is_active`

// UserRepository は PostgreSQL を利用したユーザー永続化の実装です。
type UserRepository struct {
	pool pgdb.Queryer
}

var _ user.Repository = (*UserRepository)(nil)

// NewUserRepository は UserRepository を生成します。
func NewUserRepository(pool pgdb.Queryer) *UserRepository {
	return &UserRepository{pool: pool}
}

// Insert は採番済みのユーザーを新規作成します。
func (r *UserRepository) Insert(ctx context.Context, u *user.User) (*user.User, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, `
        INSERT INTO users (id, name, email, note, is_active)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING `+userColumns+`
    `, u.ID, u.Name, u.Email, nullableString(u.Note), u.IsActive)

	created, err := scanUser(row)
	if err != nil {
		return nil, translatePgError(err)
	}
	return created, nil
}

// Update は指定されたフィールドのみを 1 つの UPDATE 文で更新します。
func (r *UserRepository) Update(ctx context.Context, id int64, changes user.Changes) (*user.User, error) {
	setNote := changes.ClearNote || changes.Note != nil

	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, `
        UPDATE users
           SET name = COALESCE($2::varchar, name),
               email = COALESCE($3::varchar, email),
               note = CASE WHEN $4::boolean THEN $5::varchar ELSE note END,
               is_active = COALESCE($6::boolean, is_active)
         WHERE id = $1
        RETURNING `+userColumns+`
    `, id, nullableString(changes.Name), nullableString(changes.Email), setNote, nullableString(changes.Note), nullableBool(changes.IsActive))

	updated, err := scanUser(row)
	if err != nil {
		return nil, translatePgError(err)
	}
	return updated, nil
}

// Delete はユーザーを削除します。
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	tag, err := exec.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return translatePgError(err)
	}
	if tag.RowsAffected() == 0 {
		return user.ErrUserNotFound
	}
	return nil
}

// FindByID はIDでユーザーを取得します。
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*user.User, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, `
        SELECT `+userColumns+`
          FROM users
         WHERE id = $1
         LIMIT 1
    `, id)

	found, err := scanUser(row)
	if err != nil {
		return nil, translatePgError(err)
	}
	return found, nil
}

// FindByEmail はメールアドレスが一致する最も古いユーザーを取得します。
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, `
        SELECT `+userColumns+`
          FROM users
         WHERE email = $1
         ORDER BY id
         LIMIT 1
    `, email)

	found, err := scanUser(row)
	if err != nil {
		return nil, translatePgError(err)
	}
	return found, nil
}

// Scan は filter に一致するユーザーを ID の昇順で返します。
// クエリは range された時点で発行されます。
func (r *UserRepository) Scan(ctx context.Context, filter user.ScanFilter) iter.Seq2[*user.User, error] {
	return func(yield func(*user.User, error) bool) {
		query, args := buildScanQuery(filter)

		exec := pgdb.QueryerFromContext(ctx, r.pool)
		rows, err := exec.Query(ctx, query, args...)
		if err != nil {
			yield(nil, translatePgError(err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			found, err := scanUser(rows)
			if err != nil {
				yield(nil, translatePgError(err))
				return
			}
			if !yield(found, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(nil, translatePgError(err))
		}
	}
}

func buildScanQuery(filter user.ScanFilter) (string, []any) {
	args := make([]any, 0, 2)
	conditions := make([]string, 0, 2)

	args = append(args, filter.AfterID)
	conditions = append(conditions, "id > $"+strconv.Itoa(len(args)))

	if filter.ActiveOnly {
		conditions = append(conditions, "is_active")
	}

	query := `
        SELECT ` + userColumns + `
          FROM users
         WHERE ` + strings.Join(conditions, " AND ") + `
         ORDER BY id`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += `
         LIMIT $` + strconv.Itoa(len(args))
	}

	return query + `
    `, args
}

func scanUser(row pgx.Row) (*user.User, error) {
	var (
		id       int64
		name     string
		email    string
		note     sql.NullString
		isActive bool
	)

	if err := row.Scan(&id, &name, &email, &note, &isActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrUserNotFound
		}
		return nil, err
	}

	var notePtr *string
	if note.Valid {
		n := note.String
		notePtr = &n
	}

	return &user.User{
		ID:       id,
		Name:     name,
		Email:    email,
		Note:     notePtr,
		IsActive: isActive,
	}, nil
}

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolationCode && pgErr.ConstraintName == emailUniqueConstraint {
			return user.ErrEmailAlreadyExists
		}
	}
	return err
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableBool(value *bool) any {
	if value == nil {
		return nil
	}
	return *value
}
