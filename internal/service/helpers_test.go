package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tagapp/internal/models"
	"tagapp/internal/repository"
	"tagapp/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv wires every repository to one miniredis-backed store.
type testEnv struct {
	store       store.Store
	posts       repository.PostRepository
	users       repository.UserRepository
	usernames   repository.UsernameRepository
	inbox       repository.NotificationRepository
	communities repository.CommunityRepository
	tasks       repository.TaskRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := store.NewRedisStore(client, 1000)
	return &testEnv{
		store:       s,
		posts:       repository.NewPostRepository(s),
		users:       repository.NewUserRepository(s),
		usernames:   repository.NewUsernameRepository(s),
		inbox:       repository.NewNotificationRepository(s),
		communities: repository.NewCommunityRepository(s),
		tasks:       repository.NewTaskRepository(s),
	}
}

func (e *testEnv) seedPost(t *testing.T, post *models.Post) *models.Post {
	t.Helper()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	require.NoError(t, e.posts.Create(context.Background(), post))
	return post
}

func (e *testEnv) seedUser(t *testing.T, userID, username string) *models.User {
	t.Helper()
	ctx := context.Background()
	u := &models.User{UserID: userID, Username: username, CreatedAt: time.Now().UTC()}
	require.NoError(t, e.usernames.Reserve(ctx, username, userID))
	require.NoError(t, e.users.Create(ctx, u))
	return u
}

// recordingPublisher collects pushed notifications.
type recordingPublisher struct {
	mu   sync.Mutex
	sent []*models.Notification
	err  error
}

func (p *recordingPublisher) PublishNotification(_ context.Context, n *models.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func assertAppError(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	assert.Equal(t, code, appErr.Code)
}

func assertValidationError(t *testing.T, err error) {
	t.Helper()
	assertAppError(t, err, models.CodeValidation)
}
