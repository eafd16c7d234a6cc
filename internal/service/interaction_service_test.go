package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"tagapp/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInteractionService_LikeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedPost(t, &models.Post{PostID: "p1", UserID: "owner"})
	svc := NewInteractionService(env.posts)
	ctx := context.Background()

	post, err := svc.Like(ctx, "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, post.Likes)
	assert.Equal(t, []string{"u1"}, post.LikedBy)

	post, err = svc.Like(ctx, "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, post.Likes)
	assert.Equal(t, []string{"u1"}, post.LikedBy)

	post, err = svc.Unlike(ctx, "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, post.Likes)
	assert.Empty(t, post.LikedBy)

	post, err = svc.Unlike(ctx, "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, post.Likes)
}

func TestInteractionService_UnlikeRemovesByValue(t *testing.T) {
	env := newTestEnv(t)
	env.seedPost(t, &models.Post{PostID: "p1", UserID: "owner"})
	svc := NewInteractionService(env.posts)
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c"} {
		_, err := svc.Like(ctx, "p1", u)
		require.NoError(t, err)
	}
	post, err := svc.Unlike(ctx, "p1", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, post.LikedBy)
	assert.Equal(t, 2, post.Likes)
}

func TestInteractionService_SaveAndUnsave(t *testing.T) {
	env := newTestEnv(t)
	env.seedPost(t, &models.Post{PostID: "p1", UserID: "owner"})
	svc := NewInteractionService(env.posts)
	ctx := context.Background()

	post, err := svc.Apply(ctx, ActionSave, "p1", "u1")
	require.NoError(t, err)
	assert.True(t, post.SavedByUser("u1"))
	assert.Equal(t, 1, post.Saves)
	assert.Equal(t, 0, post.Likes)

	post, err = svc.Apply(ctx, ActionUnsave, "p1", "u1")
	require.NoError(t, err)
	assert.False(t, post.SavedByUser("u1"))
	assert.Equal(t, 0, post.Saves)
}

func TestInteractionService_Errors(t *testing.T) {
	env := newTestEnv(t)
	svc := NewInteractionService(env.posts)
	ctx := context.Background()

	_, err := svc.Like(ctx, "missing", "u1")
	assertAppError(t, err, models.CodeNotFound)

	_, err = svc.Like(ctx, "", "u1")
	assertValidationError(t, err)

	_, err = svc.Save(ctx, "p1", " ")
	assertValidationError(t, err)

	_, err = svc.Apply(ctx, "share", "p1", "u1")
	assertValidationError(t, err)
}

func TestInteractionService_ConcurrentLikesAreNotLost(t *testing.T) {
	env := newTestEnv(t)
	env.seedPost(t, &models.Post{PostID: "p1", UserID: "owner"})
	svc := NewInteractionService(env.posts)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n*2)
	for i := 0; i < n; i++ {
		wg.Add(2)
		userID := fmt.Sprintf("u%d", i)
		go func() {
			defer wg.Done()
			_, err := svc.Like(ctx, "p1", userID)
			errs <- err
		}()
		// a duplicate like from the same user
		go func() {
			defer wg.Done()
			_, err := svc.Like(ctx, "p1", userID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	post, err := env.posts.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, post.LikedBy, n)
	assert.Equal(t, n, post.Likes)
}
