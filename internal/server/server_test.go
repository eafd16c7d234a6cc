package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tagapp/internal/config"
	"tagapp/internal/models"
	"tagapp/internal/service"
	"tagapp/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *fiber.App) {
	t.Helper()
	return newTestServerWith(t, nil)
}

func newTestServerWith(t *testing.T, configure func(*config.Config)) (*Server, *fiber.App) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		Env:             "test",
		StoreDriver:     config.DriverRedis,
		PropagationMode: config.PropagationSync,
	}
	if configure != nil {
		configure(cfg)
	}
	s := NewServerWithDeps(cfg, store.NewRedisStore(rdb, 100), rdb)
	return s, s.NewApp()
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthChecks(t *testing.T) {
	_, app := newTestServer(t)

	var live map[string]any
	assert.Equal(t, fiber.StatusOK, doJSON(t, app, http.MethodGet, "/health/live", nil, &live))
	assert.Equal(t, "up", live["status"])

	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	assert.Equal(t, fiber.StatusOK, doJSON(t, app, http.MethodGet, "/health/ready", nil, &ready))
	assert.Equal(t, "healthy", ready.Status)
	assert.Equal(t, "healthy", ready.Checks["store"])
	assert.Equal(t, "healthy", ready.Checks["redis"])

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestUserRoutes(t *testing.T) {
	_, app := newTestServer(t)

	var user models.User
	status := doJSON(t, app, http.MethodPost, "/api/users", map[string]string{"username": "alice"}, &user)
	require.Equal(t, fiber.StatusCreated, status)
	assert.NotEmpty(t, user.UserID)

	var errResp models.ErrorResponse
	status = doJSON(t, app, http.MethodPost, "/api/users", map[string]string{"username": "ALICE"}, &errResp)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, models.CodeConflict, errResp.Code)

	status = doJSON(t, app, http.MethodGet, "/api/users/nobody", nil, &errResp)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, models.CodeNotFound, errResp.Code)

	status = doJSON(t, app, http.MethodPut, "/api/users/"+user.UserID, map[string]string{"username": ""}, &errResp)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, models.CodeValidation, errResp.Code)
}

func TestPostLifecycle(t *testing.T) {
	_, app := newTestServer(t)

	var alice, bob models.User
	require.Equal(t, fiber.StatusCreated, doJSON(t, app, http.MethodPost, "/api/users", map[string]string{"username": "alice"}, &alice))
	require.Equal(t, fiber.StatusCreated, doJSON(t, app, http.MethodPost, "/api/users", map[string]string{"username": "bob"}, &bob))

	var created service.CreatePostResult
	status := doJSON(t, app, http.MethodPost, "/api/posts", map[string]any{
		"userId":            alice.UserID,
		"videoUrl":          "https://cdn/v.mp4",
		"description":       "first",
		"taggedUsernames":   []string{"Bob"},
		"taggedCommunities": []string{"Gophers"},
	}, &created)
	require.Equal(t, fiber.StatusCreated, status)
	postID := created.Post.PostID
	assert.Equal(t, []string{bob.UserID}, created.Post.TaggedFriends)
	assert.Equal(t, 1, created.Fanout.TagsWritten)

	var post models.Post
	for i := 0; i < 2; i++ {
		status = doJSON(t, app, http.MethodPost, "/api/posts/"+postID+"/like", map[string]string{"userId": bob.UserID}, &post)
		require.Equal(t, fiber.StatusOK, status)
	}
	assert.Equal(t, 1, post.Likes)

	status = doJSON(t, app, http.MethodPost, "/api/posts/"+postID+"/save", map[string]string{"userId": bob.UserID}, &post)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 1, post.Saves)

	status = doJSON(t, app, http.MethodPost, "/api/posts/"+postID+"/comments", map[string]string{
		"userId": bob.UserID, "username": "bob", "text": "nice",
	}, &post)
	require.Equal(t, fiber.StatusCreated, status)
	require.Len(t, post.Comments, 1)

	var inbox []models.Notification
	require.Equal(t, fiber.StatusOK, doJSON(t, app, http.MethodGet, "/api/users/"+bob.UserID+"/inbox", nil, &inbox))
	require.Len(t, inbox, 1)
	assert.Equal(t, models.NotificationTag, inbox[0].Type)

	var rank models.Rank
	require.Equal(t, fiber.StatusOK, doJSON(t, app, http.MethodGet, "/api/users/"+bob.UserID+"/rank", nil, &rank))
	assert.Equal(t, models.Rank{TagCount: 0, Rank: 2, TotalUsers: 1}, rank)

	var feed []models.Post
	require.Equal(t, fiber.StatusOK, doJSON(t, app, http.MethodGet, "/api/communities/gophers/posts", nil, &feed))
	require.Len(t, feed, 1)

	var names []string
	require.Equal(t, fiber.StatusOK, doJSON(t, app, http.MethodGet, "/api/communities", nil, &names))
	assert.Equal(t, []string{"Gophers"}, names)

	var renamed service.ProfileUpdate
	status = doJSON(t, app, http.MethodPut, "/api/users/"+bob.UserID, map[string]string{"username": "robert"}, &renamed)
	require.Equal(t, fiber.StatusOK, status)
	require.NotNil(t, renamed.Propagation)
	assert.Equal(t, 1, renamed.Propagation.Patched)

	require.Equal(t, fiber.StatusOK, doJSON(t, app, http.MethodGet, "/api/posts/"+postID, nil, &post))
	assert.Equal(t, "robert", post.Comments[0].Username)

	var mine []models.Post
	require.Equal(t, fiber.StatusOK, doJSON(t, app, http.MethodGet, "/api/users/"+alice.UserID+"/posts", nil, &mine))
	assert.Len(t, mine, 1)

	var all []models.Post
	require.Equal(t, fiber.StatusOK, doJSON(t, app, http.MethodGet, "/api/posts", nil, &all))
	assert.Len(t, all, 1)
}

func TestInteractionErrors(t *testing.T) {
	_, app := newTestServer(t)

	var errResp models.ErrorResponse
	status := doJSON(t, app, http.MethodPost, "/api/posts/missing/like", map[string]string{"userId": "u1"}, &errResp)
	assert.Equal(t, fiber.StatusNotFound, status)

	status = doJSON(t, app, http.MethodPost, "/api/posts/missing/unlike", map[string]string{}, &errResp)
	assert.Equal(t, fiber.StatusBadRequest, status)

	req := httptest.NewRequest(http.MethodPost, "/api/posts", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAsyncRenameRepairsRenamedUser(t *testing.T) {
	s, app := newTestServerWith(t, func(cfg *config.Config) {
		cfg.PropagationMode = config.PropagationAsync
		cfg.PropagationPollInterval = time.Hour
	})
	s.StartBackground()
	t.Cleanup(func() {
		s.shutdownFn()
		<-s.propagator.Done()
	})

	var alice, bob models.User
	require.Equal(t, fiber.StatusCreated, doJSON(t, app, http.MethodPost, "/api/users", map[string]string{"username": "alice"}, &alice))
	require.Equal(t, fiber.StatusCreated, doJSON(t, app, http.MethodPost, "/api/users", map[string]string{"username": "bob"}, &bob))

	var created service.CreatePostResult
	require.Equal(t, fiber.StatusCreated, doJSON(t, app, http.MethodPost, "/api/posts", map[string]any{
		"userId": alice.UserID, "videoUrl": "https://cdn/v.mp4",
	}, &created))

	var renamed service.ProfileUpdate
	require.Equal(t, fiber.StatusOK, doJSON(t, app, http.MethodPut, "/api/users/"+alice.UserID, map[string]string{"username": "alicia"}, &renamed))
	require.NotNil(t, renamed.Propagation)
	assert.True(t, renamed.Propagation.Skipped, "async rename only schedules the repair")

	// later requests reuse the request buffers
	for i := 0; i < 5; i++ {
		require.Equal(t, fiber.StatusOK, doJSON(t, app, http.MethodGet, "/api/users/"+bob.UserID, nil, nil))
	}

	require.Eventually(t, func() bool {
		post, err := s.postService.GetPost(context.Background(), created.Post.PostID)
		return err == nil && post.Username == "alicia"
	}, 5*time.Second, 20*time.Millisecond)
}
