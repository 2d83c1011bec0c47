package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ogurasousui/codex-userstore/internal/core/user"
	pgdb "github.com/ogurasousui/codex-userstore/internal/platform/db/postgres"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var userColumnNames = []string{"id", "name", "email", "note", "is_active"}

type stubRow struct {
	scanFn func(dest ...interface{}) error
}

func (s stubRow) Scan(dest ...interface{}) error {
	return s.scanFn(dest...)
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestScanUser_Success(t *testing.T) {
	t.Parallel()

	row := stubRow{scanFn: func(dest ...interface{}) error {
		if len(dest) != 5 {
			return errors.New("unexpected dest length")
		}
		*(dest[0].(*int64)) = 1
		*(dest[1].(*string)) = "User"
		*(dest[2].(*string)) = "user@example.com"

		n := dest[3].(*sql.NullString)
		n.String = "note"
		n.Valid = true

		*(dest[4].(*bool)) = true
		return nil
	}}

	u, err := scanUser(row)
	if err != nil {
		t.Fatalf("scanUser returned error: %v", err)
	}

	if u.ID != 1 || u.Email != "user@example.com" || !u.IsActive {
		t.Fatalf("unexpected user %+v", u)
	}

	if u.Note == nil || *u.Note != "note" {
		t.Fatalf("expected note, got %v", u.Note)
	}
}

func TestScanUser_NullNote(t *testing.T) {
	t.Parallel()

	row := stubRow{scanFn: func(dest ...interface{}) error {
		*(dest[0].(*int64)) = 2
		*(dest[1].(*string)) = "User"
		*(dest[2].(*string)) = "user@example.com"
		*(dest[4].(*bool)) = false
		return nil
	}}

	u, err := scanUser(row)
	if err != nil {
		t.Fatalf("scanUser returned error: %v", err)
	}

	if u.Note != nil {
		t.Fatalf("expected nil note, got %q", *u.Note)
	}
}

func TestScanUser_NoRows(t *testing.T) {
	t.Parallel()

	row := stubRow{scanFn: func(dest ...interface{}) error {
		return pgx.ErrNoRows
	}}

	_, err := scanUser(row)
	if !errors.Is(err, user.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestTranslatePgError(t *testing.T) {
	t.Parallel()

	pgErr := &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: emailUniqueConstraint}
	if !errors.Is(translatePgError(pgErr), user.ErrEmailAlreadyExists) {
		t.Fatalf("expected email exists error mapping")
	}

	pkeyErr := &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "users_pkey"}
	translated := translatePgError(pkeyErr)
	if errors.Is(translated, user.ErrEmailAlreadyExists) || errors.Is(translated, user.ErrValidation) {
		t.Fatalf("primary key collision must not be reported as a duplicate email: %v", translated)
	}
	if !errors.Is(translated, pkeyErr) {
		t.Fatalf("expected the pg error to be preserved, got %v", translated)
	}

	otherErr := errors.New("random")
	if translatePgError(otherErr) != otherErr {
		t.Fatalf("unexpected translation for generic error")
	}
}

func TestUserRepository_Insert(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users (id, name, email, note, is_active)`)).
		WithArgs(int64(1), "Alice", "a@x.com", nil, true).
		WillReturnRows(pgxmock.NewRows(userColumnNames).AddRow(int64(1), "Alice", "a@x.com", nil, true))

	created, err := repo.Insert(context.Background(), &user.User{ID: 1, Name: "Alice", Email: "a@x.com", IsActive: true})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	if created.ID != 1 || created.Note != nil {
		t.Fatalf("unexpected user %+v", created)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_UpdatePartial(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users`)).
		WithArgs(int64(1), "X", nil, false, nil, nil).
		WillReturnRows(pgxmock.NewRows(userColumnNames).AddRow(int64(1), "X", "a@x.com", "kept", true))

	name := "X"
	updated, err := repo.Update(context.Background(), 1, user.Changes{Name: &name})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if updated.Name != "X" || updated.Note == nil || *updated.Note != "kept" {
		t.Fatalf("unexpected user %+v", updated)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_UpdateClearNoteAndDeactivate(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users`)).
		WithArgs(int64(1), nil, nil, true, nil, false).
		WillReturnRows(pgxmock.NewRows(userColumnNames).AddRow(int64(1), "Alice", "a@x.com", nil, false))

	inactive := false
	updated, err := repo.Update(context.Background(), 1, user.Changes{ClearNote: true, IsActive: &inactive})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if updated.IsActive || updated.Note != nil {
		t.Fatalf("unexpected user %+v", updated)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_UpdateNotFound(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users`)).
		WithArgs(int64(9), nil, nil, false, nil, false).
		WillReturnRows(pgxmock.NewRows(userColumnNames))

	inactive := false
	if _, err := repo.Update(context.Background(), 9, user.Changes{IsActive: &inactive}); !errors.Is(err, user.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserRepository_Delete(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM users WHERE id = $1`)).
		WithArgs(int64(1)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM users WHERE id = $1`)).
		WithArgs(int64(1)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	if err := repo.Delete(context.Background(), 1); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	if err := repo.Delete(context.Background(), 1); !errors.Is(err, user.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_FindByEmail(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE email = $1`)).
		WithArgs("a@x.com").
		WillReturnRows(pgxmock.NewRows(userColumnNames).AddRow(int64(3), "Alice", "a@x.com", nil, true))

	found, err := repo.FindByEmail(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("FindByEmail returned error: %v", err)
	}

	if found.ID != 3 {
		t.Fatalf("expected id 3, got %d", found.ID)
	}
}

func TestBuildScanQuery(t *testing.T) {
	t.Parallel()

	query, args := buildScanQuery(user.ScanFilter{AfterID: 10, Limit: 5, ActiveOnly: true})
	if !strings.Contains(query, "WHERE id > $1 AND is_active") || !strings.Contains(query, "LIMIT $2") {
		t.Fatalf("unexpected query: %s", query)
	}
	if len(args) != 2 || args[0] != int64(10) || args[1] != 5 {
		t.Fatalf("unexpected args: %v", args)
	}

	query, args = buildScanQuery(user.ScanFilter{})
	if strings.Contains(query, "LIMIT") || strings.Contains(query, " AND ") {
		t.Fatalf("unexpected query: %s", query)
	}
	if len(args) != 1 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestUserRepository_ScanYieldsInOrder(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY id`)).
		WithArgs(int64(0), 3).
		WillReturnRows(pgxmock.NewRows(userColumnNames).
			AddRow(int64(1), "Alice", "a@x.com", nil, true).
			AddRow(int64(2), "Bob", "b@x.com", "note", true))

	var ids []int64
	for u, err := range repo.Scan(context.Background(), user.ScanFilter{Limit: 3}) {
		if err != nil {
			t.Fatalf("Scan yielded error: %v", err)
		}
		ids = append(ids, u.ID)
	}

	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("unexpected ids %v", ids)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_ScanQueryError(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo := NewUserRepository(mock)

	queryErr := errors.New("connection reset")
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY id`)).
		WithArgs(int64(0)).
		WillReturnError(queryErr)

	var got error
	for _, err := range repo.Scan(context.Background(), user.ScanFilter{}) {
		got = err
	}

	if !errors.Is(got, queryErr) {
		t.Fatalf("expected %v, got %v", queryErr, got)
	}
}

func TestUserRepository_UsesTransactionFromContext(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	repo := NewUserRepository(mock)
	tm := pgdb.NewTransactionManager(mock)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadWrite})
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE email = $1`)).
		WithArgs("a@x.com").
		WillReturnRows(pgxmock.NewRows(userColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs(int64(5), "Alice", "a@x.com", nil, true).
		WillReturnRows(pgxmock.NewRows(userColumnNames).AddRow(int64(5), "Alice", "a@x.com", nil, true))
	mock.ExpectCommit()

	err := tm.WithinSerializable(context.Background(), func(ctx context.Context) error {
		if _, err := repo.FindByEmail(ctx, "a@x.com"); !errors.Is(err, user.ErrUserNotFound) {
			return err
		}
		_, err := repo.Insert(ctx, &user.User{ID: 5, Name: "Alice", Email: "a@x.com", IsActive: true})
		return err
	})
	if err != nil {
		t.Fatalf("transaction returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSequenceGenerator_NextID(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	gen := NewSequenceGenerator(mock)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT nextval(pg_get_serial_sequence('users', 'id'))`)).
		WillReturnRows(pgxmock.NewRows([]string{"nextval"}).AddRow(int64(7)))

	id, err := gen.NextID(context.Background())
	if err != nil {
		t.Fatalf("NextID returned error: %v", err)
	}

	if id != 7 {
		t.Fatalf("expected id 7, got %d", id)
	}
}
