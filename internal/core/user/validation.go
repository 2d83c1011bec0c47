package user

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

var (
	validate = validator.New(validator.WithRequiredStructEnabled())

	requiredTextRule = fmt.Sprintf("required,max=%d", MaxFieldLength)
	optionalTextRule = fmt.Sprintf("max=%d", MaxFieldLength)
)

// validEncoding は PostgreSQL のテキスト型に格納できる UTF-8 文字列かどうかを判定します。
func validEncoding(raw string) bool {
	return utf8.ValidString(raw) && !strings.ContainsRune(raw, 0)
}

func normalizeName(raw string) (string, error) {
	if !validEncoding(raw) {
		return "", fmt.Errorf("%w: encoding", ErrInvalidName)
	}
	name := norm.NFC.String(strings.TrimSpace(raw))
	if err := validate.Var(name, requiredTextRule); err != nil {
		return "", withRule(ErrInvalidName, err)
	}
	return name, nil
}

func normalizeEmail(raw string, checkFormat bool) (string, error) {
	if !validEncoding(raw) {
		return "", fmt.Errorf("%w: encoding", ErrInvalidEmail)
	}
	email := norm.NFC.String(strings.TrimSpace(raw))
	if err := validate.Var(email, requiredTextRule); err != nil {
		return "", withRule(ErrInvalidEmail, err)
	}
	if checkFormat {
		if err := validate.Var(email, "email"); err != nil {
			return "", withRule(ErrInvalidEmail, err)
		}
	}
	return email, nil
}

func normalizeNote(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	if !validEncoding(*raw) {
		return nil, fmt.Errorf("%w: encoding", ErrInvalidNote)
	}
	note := norm.NFC.String(*raw)
	if err := validate.Var(note, optionalTextRule); err != nil {
		return nil, withRule(ErrInvalidNote, err)
	}
	return &note, nil
}

// checkAssignedID は採番され得ない ID (0 以下) を存在しないユーザーとして扱います。
func checkAssignedID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("id %d: %w", id, ErrUserNotFound)
	}
	return nil
}

// withRule は validator の失敗したルール名を付与します。
func withRule(base error, err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return fmt.Errorf("%w: %s", base, fieldErrs[0].Tag())
	}
	return base
}
