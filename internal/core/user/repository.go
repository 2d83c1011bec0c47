package user

import (
	"context"
	"iter"
)

// Repository はユーザーエンティティの永続化を行うインターフェースです。
//
// 実装は単一レコードの書き込みをアトミックに行う必要があります。
// Insert は ID が設定済みの User を受け取り、そのまま保存します。
type Repository interface {
	Insert(ctx context.Context, user *User) (*User, error)
	Update(ctx context.Context, id int64, changes Changes) (*User, error)
	Delete(ctx context.Context, id int64) error
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Scan(ctx context.Context, filter ScanFilter) iter.Seq2[*User, error]
}

// ScanFilter は Scan の検索条件を表します。
// AfterID より大きい ID を昇順で返し、Limit > 0 の場合は件数を制限します。
type ScanFilter struct {
	ActiveOnly bool
	AfterID    int64
	Limit      int
}

// IDGenerator は新しいユーザー ID を採番します。
// 返却される ID は一意かつ単調増加で、再利用されてはいけません。
type IDGenerator interface {
	NextID(ctx context.Context) (int64, error)
}

// Transactor は複数の読み書きを直列化可能なトランザクションで実行します。
type Transactor interface {
	WithinSerializable(ctx context.Context, fn func(context.Context) error) error
}

type noopTransactor struct{}

func (noopTransactor) WithinSerializable(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}
