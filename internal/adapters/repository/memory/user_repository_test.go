package memory

import (
	"context"
	"testing"

	"github.com/ogurasousui/codex-userstore/internal/core/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insert(t *testing.T, repo *UserRepository, id int64, active bool) {
	t.Helper()

	_, err := repo.Insert(context.Background(), &user.User{ID: id, Name: "user", Email: "user@example.com", IsActive: active})
	require.NoError(t, err)
}

func scanIDs(t *testing.T, repo *UserRepository, filter user.ScanFilter) []int64 {
	t.Helper()

	var ids []int64
	for u, err := range repo.Scan(context.Background(), filter) {
		require.NoError(t, err)
		ids = append(ids, u.ID)
	}
	return ids
}

func TestUserRepository_InsertRejectsInvalidIDs(t *testing.T) {
	t.Parallel()

	repo := NewUserRepository()
	insert(t, repo, 1, true)

	_, err := repo.Insert(context.Background(), &user.User{ID: 1, Name: "dup", Email: "dup@example.com"})
	require.Error(t, err)

	_, err = repo.Insert(context.Background(), &user.User{Name: "none", Email: "none@example.com"})
	require.Error(t, err)
}

func TestUserRepository_ScanOrdersByIDRegardlessOfInsertOrder(t *testing.T) {
	t.Parallel()

	repo := NewUserRepository()
	for _, id := range []int64{3, 1, 5, 2, 4} {
		insert(t, repo, id, id%2 == 1)
	}

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, scanIDs(t, repo, user.ScanFilter{}))
	assert.Equal(t, []int64{1, 3, 5}, scanIDs(t, repo, user.ScanFilter{ActiveOnly: true}))
	assert.Equal(t, []int64{3, 4}, scanIDs(t, repo, user.ScanFilter{AfterID: 2, Limit: 2}))
	assert.Equal(t, []int64{4, 5}, scanIDs(t, repo, user.ScanFilter{AfterID: 3}))
}

func TestUserRepository_ScanSkipsRecordsDeletedMidway(t *testing.T) {
	t.Parallel()

	repo := NewUserRepository()
	for id := int64(1); id <= 3; id++ {
		insert(t, repo, id, true)
	}

	var ids []int64
	for u, err := range repo.Scan(context.Background(), user.ScanFilter{}) {
		require.NoError(t, err)
		ids = append(ids, u.ID)
		if u.ID == 1 {
			require.NoError(t, repo.Delete(context.Background(), 2))
		}
	}

	assert.Equal(t, []int64{1, 3}, ids)
}

func TestUserRepository_ScanCanceledContext(t *testing.T) {
	t.Parallel()

	repo := NewUserRepository()
	insert(t, repo, 1, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, err := range repo.Scan(ctx, user.ScanFilter{}) {
		require.ErrorIs(t, err, context.Canceled)
	}
}

func TestUserRepository_UpdateAppliesChangesAtomically(t *testing.T) {
	t.Parallel()

	repo := NewUserRepository()
	insert(t, repo, 1, true)

	note := "hello"
	inactive := false
	updated, err := repo.Update(context.Background(), 1, user.Changes{Note: &note, IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "hello", *updated.Note)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "user", updated.Name)

	note = "mutated by caller"
	found, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "hello", *found.Note)

	_, err = repo.Update(context.Background(), 2, user.Changes{IsActive: &inactive})
	require.ErrorIs(t, err, user.ErrUserNotFound)
}

func TestUserRepository_UpdateCanceledContextHasNoEffect(t *testing.T) {
	t.Parallel()

	repo := NewUserRepository()
	insert(t, repo, 1, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	name := "changed"
	_, err := repo.Update(ctx, 1, user.Changes{Name: &name})
	require.ErrorIs(t, err, context.Canceled)

	found, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "user", found.Name)
}

func TestUserRepository_FindByEmailReturnsOldest(t *testing.T) {
	t.Parallel()

	repo := NewUserRepository()
	insert(t, repo, 2, true)
	insert(t, repo, 1, true)

	found, err := repo.FindByEmail(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.ID)

	_, err = repo.FindByEmail(context.Background(), "missing@example.com")
	require.ErrorIs(t, err, user.ErrUserNotFound)
}

func TestUserRepository_WithinSerializableIsReentrant(t *testing.T) {
	t.Parallel()

	repo := NewUserRepository()

	depth := 0
	err := repo.WithinSerializable(context.Background(), func(ctx context.Context) error {
		depth++
		return repo.WithinSerializable(ctx, func(context.Context) error {
			depth++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestSequence_NextID(t *testing.T) {
	t.Parallel()

	seq := NewSequence(41)

	id, err := seq.NextID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = seq.NextID(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
