package postgres

import (
	"context"
	"fmt"

	"github.com/ogurasousui/codex-userstore/internal/core/user"
	pgdb "github.com/ogurasousui/codex-userstore/internal/platform/db/postgres"
)

// SequenceGenerator は users.id のシーケンスから ID を採番します。
// nextval はトランザクション外で確定するため、ロールバックされた ID は再利用されません。
type SequenceGenerator struct {
	pool pgdb.Queryer
}

var _ user.IDGenerator = (*SequenceGenerator)(nil)

// NewSequenceGenerator は SequenceGenerator を生成します。
func NewSequenceGenerator(pool pgdb.Queryer) *SequenceGenerator {
	return &SequenceGenerator{pool: pool}
}

// NextID は次の ID を返します。
func (g *SequenceGenerator) NextID(ctx context.Context) (int64, error) {
	exec := pgdb.QueryerFromContext(ctx, g.pool)

	var id int64
	if err := exec.QueryRow(ctx, `SELECT nextval(pg_get_serial_sequence('users', 'id'))`).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: nextval: %w", err)
	}
	return id, nil
}
