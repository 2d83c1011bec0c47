package user

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
)

const (
	defaultListPageSize  = 50
	maxListPageSize      = 200
	defaultListBatchSize = 100
)

// UseCase はユーザーストアの公開インターフェースです。
type UseCase interface {
	CreateUser(ctx context.Context, in CreateUserInput) (*User, error)
	GetUser(ctx context.Context, in GetUserInput) (*User, error)
	ListUsers(ctx context.Context, in ListUsersInput) iter.Seq2[*User, error]
	ListUsersPage(ctx context.Context, in ListUsersPageInput) (*ListUsersResult, error)
	UpdateUser(ctx context.Context, in UpdateUserInput) (*User, error)
	DeactivateUser(ctx context.Context, in DeactivateUserInput) error
	DeleteUser(ctx context.Context, in DeleteUserInput) error
}

// Option は Store の挙動を変更します。
type Option func(*Store)

// WithUniqueEmail はメールアドレスの一意制約を有効にします。
// users テーブル自体は一意制約を持たないため、既定では無効です。
func WithUniqueEmail() Option {
	return func(s *Store) { s.uniqueEmail = true }
}

// WithEmailFormatCheck はメールアドレスの書式チェックを有効にします。
func WithEmailFormatCheck() Option {
	return func(s *Store) { s.checkEmailFormat = true }
}

// WithTransactor は一意制約チェックに利用するトランザクション境界を指定します。
func WithTransactor(tx Transactor) Option {
	return func(s *Store) { s.tx = tx }
}

// WithListBatchSize は ListUsers が 1 回の Scan で読み込む件数を指定します。
func WithListBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// Store はユーザーレコードの作成・取得・更新・無効化・削除・列挙をまとめます。
type Store struct {
	repo             Repository
	ids              IDGenerator
	tx               Transactor
	uniqueEmail      bool
	checkEmailFormat bool
	batchSize        int
}

var _ UseCase = (*Store)(nil)

// NewStore は Store を生成します。
// Transactor が指定されず repo が Transactor を実装している場合はそれを利用します。
func NewStore(repo Repository, ids IDGenerator, opts ...Option) *Store {
	s := &Store{repo: repo, ids: ids, batchSize: defaultListBatchSize}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		if tx, ok := repo.(Transactor); ok {
			s.tx = tx
		} else {
			s.tx = noopTransactor{}
		}
	}
	return s
}

// CreateUserInput はユーザー作成時の入力です。IsActive が nil の場合は true になります。
type CreateUserInput struct {
	Name     string
	Email    string
	Note     *string
	IsActive *bool
}

// UpdateUserInput はユーザー更新時の入力です。nil のフィールドは変更しません。
// ClearNote を true にするとノートを未設定に戻します。
type UpdateUserInput struct {
	ID        int64
	Name      *string
	Email     *string
	Note      *string
	ClearNote bool
	IsActive  *bool
}

// DeactivateUserInput はユーザー無効化時の入力です。
type DeactivateUserInput struct {
	ID int64
}

// DeleteUserInput はユーザー削除時の入力です。
type DeleteUserInput struct {
	ID int64
}

// GetUserInput はユーザー取得時の入力です。
type GetUserInput struct {
	ID int64
}

// ListUsersInput は列挙時の入力です。
type ListUsersInput struct {
	ActiveOnly bool
}

// ListUsersPageInput はページ単位の一覧取得時の入力です。
type ListUsersPageInput struct {
	PageSize   int
	PageToken  string
	ActiveOnly bool
}

// ListUsersResult はページ単位の一覧取得結果を表します。
type ListUsersResult struct {
	Users         []*User
	NextPageToken string
}

// CreateUser は新しいユーザーを作成します。
func (s *Store) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	name, err := normalizeName(in.Name)
	if err != nil {
		return nil, err
	}

	email, err := normalizeEmail(in.Email, s.checkEmailFormat)
	if err != nil {
		return nil, err
	}

	note, err := normalizeNote(in.Note)
	if err != nil {
		return nil, err
	}

	isActive := true
	if in.IsActive != nil {
		isActive = *in.IsActive
	}

	u := &User{Name: name, Email: email, Note: note, IsActive: isActive}

	if !s.uniqueEmail {
		created, err := s.insert(ctx, u)
		if err != nil {
			return nil, storageError("create user", err)
		}
		return created, nil
	}

	var created *User
	if err := s.tx.WithinSerializable(ctx, func(txCtx context.Context) error {
		if err := s.ensureEmailAvailable(txCtx, email, 0); err != nil {
			return err
		}
		inserted, err := s.insert(txCtx, u)
		if err != nil {
			return err
		}
		created = inserted
		return nil
	}); err != nil {
		return nil, storageError("create user", err)
	}

	return created, nil
}

// GetUser は ID でユーザーを取得します。
func (s *Store) GetUser(ctx context.Context, in GetUserInput) (*User, error) {
	if err := checkAssignedID(in.ID); err != nil {
		return nil, err
	}
	found, err := s.repo.FindByID(ctx, in.ID)
	if err != nil {
		return nil, storageError("get user", err)
	}
	return found, nil
}

// ListUsers は条件に一致するユーザーを ID の昇順で遅延列挙します。
// 返却されたシーケンスは range するたびに先頭から読み直します。
func (s *Store) ListUsers(ctx context.Context, in ListUsersInput) iter.Seq2[*User, error] {
	batch := s.batchSize
	return func(yield func(*User, error) bool) {
		var after int64
		for {
			n := 0
			for u, err := range s.repo.Scan(ctx, ScanFilter{ActiveOnly: in.ActiveOnly, AfterID: after, Limit: batch}) {
				if err != nil {
					yield(nil, storageError("list users", err))
					return
				}
				n++
				after = u.ID
				if !yield(u, nil) {
					return
				}
			}
			if n < batch {
				return
			}
		}
	}
}

// ListUsersPage はユーザーの一覧をページ単位で取得します。
// ページトークンは直前のページの最後の ID です。
func (s *Store) ListUsersPage(ctx context.Context, in ListUsersPageInput) (*ListUsersResult, error) {
	limit, err := normalizePageSize(in.PageSize)
	if err != nil {
		return nil, err
	}

	after, err := parsePageToken(in.PageToken)
	if err != nil {
		return nil, err
	}

	users := make([]*User, 0, limit+1)
	for u, err := range s.repo.Scan(ctx, ScanFilter{ActiveOnly: in.ActiveOnly, AfterID: after, Limit: limit + 1}) {
		if err != nil {
			return nil, storageError("list users", err)
		}
		users = append(users, u)
	}

	var nextToken string
	if len(users) > limit {
		users = users[:limit]
		nextToken = strconv.FormatInt(users[limit-1].ID, 10)
	}

	return &ListUsersResult{Users: users, NextPageToken: nextToken}, nil
}

// UpdateUser はユーザー情報を部分更新します。
func (s *Store) UpdateUser(ctx context.Context, in UpdateUserInput) (*User, error) {
	if err := checkAssignedID(in.ID); err != nil {
		return nil, err
	}
	if in.Note != nil && in.ClearNote {
		return nil, ErrConflictingNote
	}

	changes := Changes{ClearNote: in.ClearNote, IsActive: in.IsActive}

	if in.Name != nil {
		name, err := normalizeName(*in.Name)
		if err != nil {
			return nil, err
		}
		changes.Name = &name
	}

	if in.Email != nil {
		email, err := normalizeEmail(*in.Email, s.checkEmailFormat)
		if err != nil {
			return nil, err
		}
		changes.Email = &email
	}

	if in.Note != nil {
		note, err := normalizeNote(in.Note)
		if err != nil {
			return nil, err
		}
		changes.Note = note
	}

	if changes.IsEmpty() {
		return nil, ErrNoChanges
	}

	if !s.uniqueEmail || changes.Email == nil {
		updated, err := s.update(ctx, in.ID, changes)
		if err != nil {
			return nil, storageError("update user", err)
		}
		return updated, nil
	}

	var updated *User
	if err := s.tx.WithinSerializable(ctx, func(txCtx context.Context) error {
		if err := s.ensureEmailAvailable(txCtx, *changes.Email, in.ID); err != nil {
			return err
		}
		u, err := s.update(txCtx, in.ID, changes)
		if err != nil {
			return err
		}
		updated = u
		return nil
	}); err != nil {
		return nil, storageError("update user", err)
	}

	return updated, nil
}

// DeactivateUser はユーザーを無効化します。無効化済みでもエラーにはなりません。
func (s *Store) DeactivateUser(ctx context.Context, in DeactivateUserInput) error {
	inactive := false
	_, err := s.UpdateUser(ctx, UpdateUserInput{ID: in.ID, IsActive: &inactive})
	return err
}

// DeleteUser はユーザーを物理削除します。通常の運用では DeactivateUser を利用します。
func (s *Store) DeleteUser(ctx context.Context, in DeleteUserInput) error {
	if err := checkAssignedID(in.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storageError("delete user", err)
	}
	if err := s.repo.Delete(ctx, in.ID); err != nil {
		return storageError("delete user", err)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, u *User) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := s.ids.NextID(ctx)
	if err != nil {
		return nil, fmt.Errorf("next id: %w", err)
	}
	if id <= 0 {
		return nil, fmt.Errorf("next id: generator returned %d", id)
	}
	u.ID = id
	return s.repo.Insert(ctx, u)
}

func (s *Store) update(ctx context.Context, id int64, changes Changes) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, id, changes)
}

func (s *Store) ensureEmailAvailable(ctx context.Context, email string, selfID int64) error {
	found, err := s.repo.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return err
	}
	if found != nil && found.ID != selfID {
		return ErrEmailAlreadyExists
	}
	return nil
}

func normalizePageSize(pageSize int) (int, error) {
	if pageSize <= 0 {
		return defaultListPageSize, nil
	}
	if pageSize > maxListPageSize {
		return 0, ErrInvalidPageSize
	}
	return pageSize, nil
}

func parsePageToken(token string) (int64, error) {
	if strings.TrimSpace(token) == "" {
		return 0, nil
	}

	after, err := strconv.ParseInt(token, 10, 64)
	if err != nil || after < 0 {
		return 0, ErrInvalidPageToken
	}

	return after, nil
}
