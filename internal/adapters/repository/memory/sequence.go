package memory

import (
	"context"
	"sync/atomic"

	"github.com/ogurasousui/codex-userstore/internal/core/user"
)

// Sequence は atomic カウンタによる ID 採番器です。
type Sequence struct {
	last atomic.Int64
}

var _ user.IDGenerator = (*Sequence)(nil)

// NewSequence は last の次の値から採番する Sequence を生成します。
func NewSequence(last int64) *Sequence {
	s := &Sequence{}
	s.last.Store(last)
	return s
}

// NextID は次の ID を返します。
func (s *Sequence) NextID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.last.Add(1), nil
}
