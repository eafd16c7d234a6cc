package service

import (
	"context"
	"fmt"
	"testing"
	"time"
	"unsafe"

	"tagapp/internal/config"
	"tagapp/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOwnedPosts(t *testing.T, env *testEnv, userID, username string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		env.seedPost(t, &models.Post{PostID: fmt.Sprintf("p%02d", i), UserID: userID, Username: username})
	}
}

func TestPropagator_RunMissingTaskIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	p := NewPropagator(env.posts, env.tasks, PropagatorConfig{})

	res, err := p.Run(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestPropagator_ResumesFromCursor(t *testing.T) {
	env := newTestEnv(t)
	seedOwnedPosts(t, env, "u1", "old", 5)
	p := NewPropagator(env.posts, env.tasks, PropagatorConfig{CheckpointEvery: 2})
	ctx := context.Background()

	task, err := p.Enqueue(ctx, "u1", "new")
	require.NoError(t, err)
	// a previous run got through p02 before stopping
	_, err = env.tasks.UpdateIfGeneration(ctx, "u1", task.Generation, func(pt *models.PropagationTask) error {
		pt.Cursor = "p02"
		pt.Patched = 2
		return nil
	})
	require.NoError(t, err)

	res, err := p.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 3, res.Patched)
	assert.False(t, res.Superseded)

	for i, want := range []string{"old", "old", "new", "new", "new"} {
		post, err := env.posts.GetByID(ctx, fmt.Sprintf("p%02d", i+1))
		require.NoError(t, err)
		assert.Equal(t, want, post.Username, "post p%02d", i+1)
	}

	stored, err := env.tasks.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskDone, stored.Status)
	assert.Equal(t, "p05", stored.Cursor)
	assert.Equal(t, 5, stored.Patched)

	res, err = p.Run(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Skipped, "a done task is not rerun")
}

func TestPropagator_RerunIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	seedOwnedPosts(t, env, "u1", "old", 3)
	p := NewPropagator(env.posts, env.tasks, PropagatorConfig{})
	ctx := context.Background()

	_, err := p.Enqueue(ctx, "u1", "new")
	require.NoError(t, err)
	res, err := p.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Patched)

	_, err = p.Enqueue(ctx, "u1", "new")
	require.NoError(t, err)
	res, err = p.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Patched)
	assert.Equal(t, 3, res.Unchanged)
}

func TestPropagator_SupersededByNewerRename(t *testing.T) {
	env := newTestEnv(t)
	seedOwnedPosts(t, env, "u1", "old", 3)
	p := NewPropagator(env.posts, env.tasks, PropagatorConfig{CheckpointEvery: 100})
	ctx := context.Background()

	stale, err := p.Enqueue(ctx, "u1", "middle")
	require.NoError(t, err)
	fresh, err := p.Enqueue(ctx, "u1", "final")
	require.NoError(t, err)

	res := &PropagationResult{UserID: "u1"}
	require.NoError(t, p.run(ctx, stale, res))
	assert.True(t, res.Superseded)

	stored, err := env.tasks.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, fresh.Generation, stored.Generation)
	assert.Equal(t, models.TaskPending, stored.Status)
	assert.Empty(t, stored.Cursor)

	out, err := p.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, out.Patched)
	post, err := env.posts.GetByID(ctx, "p03")
	require.NoError(t, err)
	assert.Equal(t, "final", post.Username)
}

func TestPropagator_AsyncWorker(t *testing.T) {
	env := newTestEnv(t)
	seedOwnedPosts(t, env, "u1", "old", 2)
	p := NewPropagator(env.posts, env.tasks, PropagatorConfig{
		Mode:         config.PropagationAsync,
		PollInterval: time.Hour,
		Rate:         1000,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	_, err := p.Enqueue(ctx, "u1", "new")
	require.NoError(t, err)
	res, err := p.Trigger(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Skipped, "async trigger only schedules")

	require.Eventually(t, func() bool {
		task, err := env.tasks.Get(context.Background(), "u1")
		return err == nil && task.Status == models.TaskDone
	}, 5*time.Second, 20*time.Millisecond)

	post, err := env.posts.GetByID(context.Background(), "p02")
	require.NoError(t, err)
	assert.Equal(t, "new", post.Username)

	cancel()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestPropagator_StartResumesPendingTasks(t *testing.T) {
	env := newTestEnv(t)
	seedOwnedPosts(t, env, "u1", "old", 2)
	ctx := context.Background()

	require.NoError(t, env.tasks.Save(ctx, &models.PropagationTask{
		UserID: "u1", Username: "new", Generation: "g1", Status: models.TaskPending,
	}))

	p := NewPropagator(env.posts, env.tasks, PropagatorConfig{Mode: config.PropagationAsync, PollInterval: time.Hour})
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.Start(runCtx)

	require.Eventually(t, func() bool {
		post, err := env.posts.GetByID(ctx, "p01")
		return err == nil && post.Username == "new"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-p.Done()
}

func TestPropagator_SignalCopiesUserID(t *testing.T) {
	env := newTestEnv(t)
	p := NewPropagator(env.posts, env.tasks, PropagatorConfig{Mode: config.PropagationAsync})

	// a string aliasing a reusable buffer, as request frameworks hand out
	buf := []byte("user-a")
	p.Signal(unsafe.String(&buf[0], len(buf)))
	copy(buf, "user-b")

	select {
	case got := <-p.signals:
		assert.Equal(t, "user-a", got)
	default:
		t.Fatal("no signal queued")
	}
}
