package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ogurasousui/codex-userstore/internal/adapters/repository/postgres"
	"github.com/ogurasousui/codex-userstore/internal/adapters/repository/rediscache"
	"github.com/ogurasousui/codex-userstore/internal/core/user"
	"github.com/ogurasousui/codex-userstore/internal/platform/cache"
	"github.com/ogurasousui/codex-userstore/internal/platform/config"
	pgdb "github.com/ogurasousui/codex-userstore/internal/platform/db/postgres"
	"github.com/redis/go-redis/v9"
)

// Runtime は設定から組み立てたユーザーストアと、その接続資源を保持します。
type Runtime struct {
	Store *user.Store
	Pool  *pgxpool.Pool
	Redis *redis.Client

	logger *slog.Logger
}

// Open は PostgreSQL (必要なら Redis キャッシュ) に接続し Store を構築します。
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	pool, err := pgdb.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Pool: pool, logger: logger}

	txm := pgdb.NewTransactionManager(pool)
	var (
		repo user.Repository = postgres.NewUserRepository(pool)
		tx   user.Transactor = txm
	)
	if cfg.Cache.Enabled {
		client, err := cache.New(ctx, cfg.Cache.Addr)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("app: connect cache: %w", err)
		}
		rt.Redis = client
		// トランザクション境界もキャッシュを経由させる。
		cached := rediscache.New(repo, client, cfg.Cache.TTL, logger, rediscache.WithTransactor(txm))
		repo, tx = cached, cached
		logger.Info("user cache enabled", slog.String("addr", cfg.Cache.Addr), slog.Duration("ttl", cfg.Cache.TTL))
	}

	rt.Store = user.NewStore(repo, postgres.NewSequenceGenerator(pool), StoreOptions(cfg.Store, tx)...)
	return rt, nil
}

// StoreOptions は store 設定を user.Option に変換します。
func StoreOptions(cfg config.StoreConfig, tx user.Transactor) []user.Option {
	opts := []user.Option{user.WithListBatchSize(cfg.ListBatchSize)}
	if tx != nil {
		opts = append(opts, user.WithTransactor(tx))
	}
	if cfg.UniqueEmail {
		opts = append(opts, user.WithUniqueEmail())
	}
	if cfg.ValidateEmailFormat {
		opts = append(opts, user.WithEmailFormatCheck())
	}
	return opts
}

// Ping はデータベースの疎通を確認します。
func (r *Runtime) Ping(ctx context.Context) error {
	return pgdb.Ping(ctx, r.Pool)
}

// Close は保持している接続を閉じます。
func (r *Runtime) Close() {
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			r.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	r.Pool.Close()
}
