package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/ogurasousui/codex-userstore/internal/core/user"
)

type txContextKey struct{}

// UserRepository はプロセス内メモリを利用したユーザー永続化の実装です。
// テストや単体実行向けで、プロセス終了とともに内容は失われます。
type UserRepository struct {
	mu    sync.RWMutex
	users map[int64]*user.User
	ids   []int64

	txMu sync.Mutex
}

var (
	_ user.Repository = (*UserRepository)(nil)
	_ user.Transactor = (*UserRepository)(nil)
)

// NewUserRepository は UserRepository を生成します。
func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[int64]*user.User)}
}

// Insert はユーザーを保存します。ID は採番済みである必要があります。
func (r *UserRepository) Insert(ctx context.Context, u *user.User) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if u == nil || u.ID <= 0 {
		return nil, fmt.Errorf("memory: insert: id must be assigned")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[u.ID]; exists {
		return nil, fmt.Errorf("memory: insert: duplicate id %d", u.ID)
	}

	r.users[u.ID] = u.Clone()
	pos, _ := slices.BinarySearch(r.ids, u.ID)
	r.ids = slices.Insert(r.ids, pos, u.ID)

	return u.Clone(), nil
}

// Update は変更内容をレコード全体の置き換えとしてアトミックに適用します。
func (r *UserRepository) Update(ctx context.Context, id int64, changes user.Changes) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}

	next := existing.Clone()
	changes.Apply(next)
	r.users[id] = next

	return next.Clone(), nil
}

// Delete はユーザーを削除します。
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return user.ErrUserNotFound
	}
	delete(r.users, id)
	if pos, found := slices.BinarySearch(r.ids, id); found {
		r.ids = slices.Delete(r.ids, pos, pos+1)
	}
	return nil
}

// FindByID はIDでユーザーを取得します。
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return u.Clone(), nil
}

// FindByEmail はメールアドレスが一致する最も古いユーザーを取得します。
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.ids {
		if u := r.users[id]; u.Email == email {
			return u.Clone(), nil
		}
	}
	return nil, user.ErrUserNotFound
}

// Scan は filter に一致するユーザーを ID の昇順で返します。
// 対象 ID は開始時点で確定し、各レコードは返却直前に読み取ります。
func (r *UserRepository) Scan(ctx context.Context, filter user.ScanFilter) iter.Seq2[*user.User, error] {
	return func(yield func(*user.User, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		r.mu.RLock()
		start, found := slices.BinarySearch(r.ids, filter.AfterID)
		if found {
			start++
		}
		pending := slices.Clone(r.ids[start:])
		r.mu.RUnlock()

		n := 0
		for _, id := range pending {
			if filter.Limit > 0 && n >= filter.Limit {
				return
			}
			u := r.snapshot(id, filter.ActiveOnly)
			if u == nil {
				continue
			}
			n++
			if !yield(u, nil) {
				return
			}
		}
	}
}

func (r *UserRepository) snapshot(id int64, activeOnly bool) *user.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok || (activeOnly && !u.IsActive) {
		return nil
	}
	return u.Clone()
}

// WithinSerializable は fn を他の WithinSerializable 呼び出しと直列に実行します。
// 入れ子の呼び出しは外側のロックを再利用します。
func (r *UserRepository) WithinSerializable(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("memory: transaction function is required")
	}
	if _, ok := ctx.Value(txContextKey{}).(bool); ok {
		return fn(ctx)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	return fn(context.WithValue(ctx, txContextKey{}, true))
}
