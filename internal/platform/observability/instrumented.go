package observability

import (
	"context"
	"iter"
	"time"

	"github.com/ogurasousui/codex-userstore/internal/core/user"
)

// InstrumentedUseCase は user.UseCase の各操作をメトリクスに記録するデコレータです。
type InstrumentedUseCase struct {
	next    user.UseCase
	metrics *Metrics
}

var _ user.UseCase = (*InstrumentedUseCase)(nil)

// Instrument は next をメトリクス記録付きでラップします。
func Instrument(next user.UseCase, metrics *Metrics) *InstrumentedUseCase {
	return &InstrumentedUseCase{next: next, metrics: metrics}
}

func (u *InstrumentedUseCase) CreateUser(ctx context.Context, in user.CreateUserInput) (*user.User, error) {
	start := time.Now()
	created, err := u.next.CreateUser(ctx, in)
	u.metrics.Observe("create", start, err)
	return created, err
}

func (u *InstrumentedUseCase) GetUser(ctx context.Context, in user.GetUserInput) (*user.User, error) {
	start := time.Now()
	found, err := u.next.GetUser(ctx, in)
	u.metrics.Observe("get", start, err)
	return found, err
}

// ListUsers は列挙が終了した時点で 1 回分として記録します。
func (u *InstrumentedUseCase) ListUsers(ctx context.Context, in user.ListUsersInput) iter.Seq2[*user.User, error] {
	seq := u.next.ListUsers(ctx, in)
	return func(yield func(*user.User, error) bool) {
		start := time.Now()
		var failure error
		defer func() { u.metrics.Observe("list", start, failure) }()

		for found, err := range seq {
			if err != nil {
				failure = err
			}
			if !yield(found, err) {
				return
			}
		}
	}
}

func (u *InstrumentedUseCase) ListUsersPage(ctx context.Context, in user.ListUsersPageInput) (*user.ListUsersResult, error) {
	start := time.Now()
	result, err := u.next.ListUsersPage(ctx, in)
	u.metrics.Observe("list_page", start, err)
	return result, err
}

func (u *InstrumentedUseCase) UpdateUser(ctx context.Context, in user.UpdateUserInput) (*user.User, error) {
	start := time.Now()
	updated, err := u.next.UpdateUser(ctx, in)
	u.metrics.Observe("update", start, err)
	return updated, err
}

func (u *InstrumentedUseCase) DeactivateUser(ctx context.Context, in user.DeactivateUserInput) error {
	start := time.Now()
	err := u.next.DeactivateUser(ctx, in)
	u.metrics.Observe("deactivate", start, err)
	return err
}

func (u *InstrumentedUseCase) DeleteUser(ctx context.Context, in user.DeleteUserInput) error {
	start := time.Now()
	err := u.next.DeleteUser(ctx, in)
	u.metrics.Observe("delete", start, err)
	return err
}
