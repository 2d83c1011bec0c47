package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ogurasousui/codex-userstore/internal/core/user"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	keyPrefix   = "userstore:user:"
	loadTimeout = 5 * time.Second
)

// UserRepository は FindByID の結果を Redis にキャッシュする user.Repository のデコレータです。
//
// 書き込み後はキーを削除するのみで、キャッシュの内容は TTL の範囲で古くなる可能性があります。
// トランザクション内の書き込みはコミット後にまとめてキーを削除し、トランザクション内の読み取りはキャッシュを経由しません。
// Redis の障害は警告ログを出したうえで下位のリポジトリへフォールバックします。
type UserRepository struct {
	next   user.Repository
	tx     user.Transactor
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// Option は UserRepository の挙動を調整します。
type Option func(*UserRepository)

// WithTransactor はトランザクション境界を指定します。
// 未指定で下位のリポジトリが user.Transactor を実装していればそれを利用します。
func WithTransactor(tx user.Transactor) Option {
	return func(r *UserRepository) { r.tx = tx }
}

type pendingContextKey struct{}

// pendingInvalidations はトランザクション中に更新された ID を保持します。
type pendingInvalidations struct {
	mu  sync.Mutex
	ids []int64
}

func (p *pendingInvalidations) add(id int64) {
	p.mu.Lock()
	p.ids = append(p.ids, id)
	p.mu.Unlock()
}

func (p *pendingInvalidations) drain() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.ids
	p.ids = nil
	return ids
}

func pendingFromContext(ctx context.Context) (*pendingInvalidations, bool) {
	p, ok := ctx.Value(pendingContextKey{}).(*pendingInvalidations)
	return p, ok
}

var (
	_ user.Repository = (*UserRepository)(nil)
	_ user.Transactor = (*UserRepository)(nil)
)

// New は UserRepository を生成します。
func New(next user.Repository, client redis.Cmdable, ttl time.Duration, logger *slog.Logger, opts ...Option) *UserRepository {
	if logger == nil {
		logger = slog.Default()
	}
	r := &UserRepository{next: next, client: client, ttl: ttl, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	if r.tx == nil {
		if tx, ok := next.(user.Transactor); ok {
			r.tx = tx
		}
	}
	return r
}

type cachedUser struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Note     *string `json:"note,omitempty"`
	IsActive bool    `json:"is_active"`
}

func cacheKey(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}

// Insert は下位のリポジトリにそのまま委譲します。
func (r *UserRepository) Insert(ctx context.Context, u *user.User) (*user.User, error) {
	return r.next.Insert(ctx, u)
}

// Update は更新後にキャッシュを破棄します。
func (r *UserRepository) Update(ctx context.Context, id int64, changes user.Changes) (*user.User, error) {
	updated, err := r.next.Update(ctx, id, changes)
	if err != nil {
		return nil, err
	}
	r.invalidateAfterWrite(ctx, id)
	return updated, nil
}

// Delete は削除後にキャッシュを破棄します。
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	if err := r.next.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidateAfterWrite(ctx, id)
	return nil
}

// FindByID はキャッシュを優先して取得し、存在しなければ下位から読み込んで保存します。
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*user.User, error) {
	if _, inTx := pendingFromContext(ctx); inTx {
		return r.next.FindByID(ctx, id)
	}

	key := cacheKey(id)

	raw, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached cachedUser
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached.toUser(), nil
		}
		r.logger.Warn("cache entry is corrupt", slog.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		r.logger.Warn("cache get failed", slog.String("key", key), slog.Any("error", err))
	}

	// 共有される読み込みは呼び出し元のキャンセルに影響されず、各呼び出し元は自身の ctx で待つ。
	resultCh := r.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		found, err := r.next.FindByID(loadCtx, id)
		if err != nil {
			return nil, err
		}
		r.store(loadCtx, key, found)
		return found, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*user.User).Clone(), nil
	}
}

// FindByEmail は下位のリポジトリにそのまま委譲します。
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.next.FindByEmail(ctx, email)
}

// Scan は下位のリポジトリにそのまま委譲します。
func (r *UserRepository) Scan(ctx context.Context, filter user.ScanFilter) iter.Seq2[*user.User, error] {
	return r.next.Scan(ctx, filter)
}

// WithinSerializable はトランザクション境界に委譲し、終了後に更新されたキーを削除します。
func (r *UserRepository) WithinSerializable(ctx context.Context, fn func(context.Context) error) error {
	if _, nested := pendingFromContext(ctx); nested {
		return r.runInTx(ctx, fn)
	}

	pending := &pendingInvalidations{}
	err := r.runInTx(context.WithValue(ctx, pendingContextKey{}, pending), fn)

	cleanupCtx := context.WithoutCancel(ctx)
	for _, id := range pending.drain() {
		r.invalidate(cleanupCtx, id)
	}
	return err
}

func (r *UserRepository) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if r.tx != nil {
		return r.tx.WithinSerializable(ctx, fn)
	}
	return fn(ctx)
}

func (r *UserRepository) store(ctx context.Context, key string, u *user.User) {
	raw, err := json.Marshal(fromUser(u))
	if err != nil {
		r.logger.Warn("cache encode failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := r.client.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		r.logger.Warn("cache set failed", slog.String("key", key), slog.Any("error", err))
	}
}

// invalidateAfterWrite はトランザクション中ならコミット後まで削除を遅延します。
func (r *UserRepository) invalidateAfterWrite(ctx context.Context, id int64) {
	if pending, ok := pendingFromContext(ctx); ok {
		pending.add(id)
		return
	}
	r.invalidate(ctx, id)
}

func (r *UserRepository) invalidate(ctx context.Context, id int64) {
	key := cacheKey(id)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.Warn("cache invalidate failed", slog.String("key", key), slog.Any("error", err))
	}
}

func fromUser(u *user.User) cachedUser {
	return cachedUser{ID: u.ID, Name: u.Name, Email: u.Email, Note: u.Note, IsActive: u.IsActive}
}

func (c cachedUser) toUser() *user.User {
	return &user.User{ID: c.ID, Name: c.Name, Email: c.Email, Note: c.Note, IsActive: c.IsActive}
}
