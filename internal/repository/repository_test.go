package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"tagapp/internal/models"
	"tagapp/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedisStore(client, 16)
}

func TestPostRepository_UpdateNoChangeKeepsRecord(t *testing.T) {
	ctx := context.Background()
	repo := NewPostRepository(newTestStore(t))

	require.NoError(t, repo.Create(ctx, &models.Post{PostID: "p1", UserID: "u1", Username: "alice"}))

	post, err := repo.Update(ctx, "p1", func(p *models.Post) error {
		p.Username = "ignored"
		return ErrNoChange
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", post.Username)
	assert.NotNil(t, post.LikedBy, "lists are normalized to empty")

	boom := errors.New("boom")
	_, err = repo.Update(ctx, "p1", func(p *models.Post) error { return boom })
	assert.ErrorIs(t, err, boom)

	_, err = repo.Update(ctx, "missing", func(p *models.Post) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostRepository_CreateIsCreateOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewPostRepository(newTestStore(t))

	require.NoError(t, repo.Create(ctx, &models.Post{PostID: "p1", UserID: "u1"}))
	err := repo.Create(ctx, &models.Post{PostID: "p1", UserID: "u2"})
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	post, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "u1", post.UserID)
}

func TestUsernameRepository_ReleaseRespectsOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewUsernameRepository(newTestStore(t))

	require.NoError(t, repo.Reserve(ctx, " Alice ", "u1"))
	assert.ErrorIs(t, repo.Reserve(ctx, "ALICE", "u2"), store.ErrConditionFailed)

	require.NoError(t, repo.Release(ctx, "alice", "u2"))
	res, err := repo.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, "alice", res.Username)

	require.NoError(t, repo.Release(ctx, "Alice", "u1"))
	_, err = repo.Lookup(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.NoError(t, repo.Release(ctx, "nobody", "u1"))
}

func TestNotificationRepository_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository(newTestStore(t))
	now := time.Now().UTC()

	unprocessed, err := repo.BatchCreate(ctx, []*models.Notification{
		{UserID: "u1", MessageID: "a", Type: models.NotificationTag, CreatedAt: now.Add(-time.Hour)},
		{UserID: "u1", MessageID: "b", Type: models.NotificationTag, CreatedAt: now},
		{UserID: "u2", MessageID: "c", Type: models.NotificationTag, CreatedAt: now},
	})
	require.NoError(t, err)
	assert.Empty(t, unprocessed)
	require.NoError(t, repo.Create(ctx, &models.Notification{UserID: "u1", MessageID: "d", Type: models.NotificationResponse, CreatedAt: now.Add(-2 * time.Hour)}))

	ns, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, ns, 3)
	assert.Equal(t, "b", ns[0].MessageID)
	assert.Equal(t, "a", ns[1].MessageID)
	assert.Equal(t, "d", ns[2].MessageID)
}

func TestNotificationRepository_ListByUserIsExact(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository(newTestStore(t))

	require.NoError(t, repo.Create(ctx, &models.Notification{UserID: "team", MessageID: "m1", Type: models.NotificationTag}))
	require.NoError(t, repo.Create(ctx, &models.Notification{UserID: "team:red", MessageID: "m2", Type: models.NotificationTag}))

	ns, err := repo.ListByUser(ctx, "team")
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, "m1", ns[0].MessageID)

	ns, err = repo.ListByUser(ctx, "team:red")
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, "m2", ns[0].MessageID)
}

func TestCommunityRepository_ListByNameIsExact(t *testing.T) {
	ctx := context.Background()
	repo := NewCommunityRepository(newTestStore(t))

	_, err := repo.BatchAdd(ctx, []*models.CommunityIndexEntry{
		{Community: "go", Name: "Go", PostID: "p1"},
		{Community: "go:lang", Name: "go:lang", PostID: "p2"},
		{Community: "rust", Name: "Rust", PostID: "p3"},
	})
	require.NoError(t, err)

	entries, err := repo.ListByName(ctx, "GO")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p1", entries[0].PostID)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTaskRepository_GenerationGuard(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(newTestStore(t))

	require.NoError(t, repo.Save(ctx, &models.PropagationTask{UserID: "u1", Generation: "g1", Status: models.TaskPending}))
	require.NoError(t, repo.Save(ctx, &models.PropagationTask{UserID: "u2", Generation: "g1", Status: models.TaskDone}))

	_, err := repo.UpdateIfGeneration(ctx, "u1", "g0", func(t *models.PropagationTask) error {
		t.Cursor = "p9"
		return nil
	})
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	task, err := repo.UpdateIfGeneration(ctx, "u1", "g1", func(t *models.PropagationTask) error {
		t.Cursor = "p9"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "p9", task.Cursor)

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "u1", pending[0].UserID)
}
