package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"tagapp/internal/models"
	"tagapp/internal/observability"
	"tagapp/internal/repository"
	"tagapp/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const maxDescriptionLen = 5000

type PostService struct {
	posts       repository.PostRepository
	users       repository.UserRepository
	communities repository.CommunityRepository
	dispatcher  *Dispatcher
	now         func() time.Time
}

type CreatePostInput struct {
	UserID            string
	Username          string
	VideoURL          string
	Description       string
	Hashtags          []string
	TaggedUsernames   []string
	TaggedFriends     []string
	TaggedCommunities []string
	ResponseToPostID  *string
}

// CreatePostResult is the stored post together with what fan-out wrote.
type CreatePostResult struct {
	Post   *models.Post `json:"post"`
	Fanout FanoutReport  `json:"fanout"`
}

func NewPostService(
	posts repository.PostRepository,
	users repository.UserRepository,
	communities repository.CommunityRepository,
	dispatcher *Dispatcher,
) *PostService {
	return &PostService{
		posts:       posts,
		users:       users,
		communities: communities,
		dispatcher:  dispatcher,
		now:         time.Now,
	}
}

// CreatePost resolves tags, stores the post and then fans out
// notifications. The post write is the only step that can fail the call;
// community indexing, the uploads append and notifications are best-effort.
func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (*CreatePostResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, models.NewValidationError("userId is required")
	}
	if strings.TrimSpace(in.VideoURL) == "" {
		return nil, models.NewValidationError("videoUrl is required")
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLen {
		return nil, models.NewValidationError("Description too long (max 5000 characters)")
	}

	span, ctx := observability.NewSpan(ctx, "PostService.CreatePost", attribute.String("user.id", in.UserID))
	defer span.End()

	username := strings.TrimSpace(in.Username)
	if owner, err := s.users.GetByID(ctx, in.UserID); err == nil {
		username = owner.Username
	} else if !store.IsNotFound(err) {
		span.SetError(err)
		return nil, classify(err, "User", in.UserID)
	}
	if username == "" {
		username = anonymousAuthor
	}

	tagged, err := s.dispatcher.ResolveTags(ctx, in.TaggedUsernames, in.TaggedFriends)
	if err != nil {
		// the post is still created, tagging only the explicit ids
		observability.TagResolutionFailures.Inc()
		observability.Logger.WarnContext(ctx, "tag resolution failed, using explicit tagged friends",
			slog.String("user_id", in.UserID),
			slog.Int("mentions", len(in.TaggedUsernames)),
			slog.String("error", err.Error()),
		)
		tagged, _ = s.dispatcher.ResolveTags(ctx, nil, in.TaggedFriends)
	}

	var responseTo *string
	if in.ResponseToPostID != nil && strings.TrimSpace(*in.ResponseToPostID) != "" {
		id := strings.TrimSpace(*in.ResponseToPostID)
		responseTo = &id
	}

	post := &models.Post{
		PostID:            uuid.NewString(),
		UserID:            in.UserID,
		Username:          username,
		VideoURL:          strings.TrimSpace(in.VideoURL),
		Description:       in.Description,
		Hashtags:          cleanList(in.Hashtags),
		TaggedFriends:     tagged,
		TaggedCommunities: cleanList(in.TaggedCommunities),
		CreatedAt:         s.now().UTC(),
		ResponseToPostID:  responseTo,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		span.SetError(err)
		return nil, models.NewInternalError(err)
	}

	s.indexCommunities(ctx, post)
	s.appendUpload(ctx, post)
	report := s.dispatcher.Dispatch(ctx, post)

	return &CreatePostResult{Post: post, Fanout: report}, nil
}

func (s *PostService) indexCommunities(ctx context.Context, post *models.Post) {
	if len(post.TaggedCommunities) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(post.TaggedCommunities))
	entries := make([]*models.CommunityIndexEntry, 0, len(post.TaggedCommunities))
	for _, name := range post.TaggedCommunities {
		folded := store.Fold(name)
		if _, dup := seen[folded]; dup {
			continue
		}
		seen[folded] = struct{}{}
		entries = append(entries, &models.CommunityIndexEntry{
			Community: folded,
			Name:      strings.TrimSpace(name),
			PostID:    post.PostID,
			CreatedAt: post.CreatedAt,
		})
	}
	unprocessed, err := s.communities.BatchAdd(ctx, entries)
	if err != nil || len(unprocessed) > 0 {
		attrs := []any{
			slog.String("post_id", post.PostID),
			slog.Any("unprocessed", unprocessed),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		observability.Logger.WarnContext(ctx, "community index incomplete", attrs...)
	}
}

func (s *PostService) appendUpload(ctx context.Context, post *models.Post) {
	_, err := s.users.Update(ctx, post.UserID, func(u *models.User) error {
		u.Uploads = append(u.Uploads, post.PostID)
		return nil
	})
	if err != nil {
		level := slog.LevelError
		if store.IsNotFound(err) {
			level = slog.LevelWarn
		}
		observability.Logger.Log(ctx, level, "failed to append upload to user",
			slog.String("user_id", post.UserID),
			slog.String("post_id", post.PostID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PostService) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	if strings.TrimSpace(postID) == "" {
		return nil, models.NewValidationError("postId is required")
	}
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, classify(err, "Post", postID)
	}
	return post, nil
}

// ListPosts returns every post, newest first.
func (s *PostService) ListPosts(ctx context.Context) ([]*models.Post, error) {
	posts, err := s.posts.List(ctx)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	sortNewestFirst(posts)
	return posts, nil
}

// ListUserPosts returns the posts owned by userID, newest first.
func (s *PostService) ListUserPosts(ctx context.Context, userID string) ([]*models.Post, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.NewValidationError("userId is required")
	}
	all, err := s.posts.List(ctx)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	owned := make([]*models.Post, 0)
	for _, p := range all {
		if p.UserID == userID {
			owned = append(owned, p)
		}
	}
	sortNewestFirst(owned)
	return owned, nil
}

// CommunityFeed returns the posts tagged with a community, matched
// case-insensitively, newest first. Index entries whose post is gone are
// skipped.
func (s *PostService) CommunityFeed(ctx context.Context, name string) ([]*models.Post, error) {
	if store.Fold(name) == "" {
		return nil, models.NewValidationError("community name is required")
	}
	entries, err := s.communities.ListByName(ctx, name)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	posts := make([]*models.Post, 0, len(entries))
	for _, e := range entries {
		p, err := s.posts.GetByID(ctx, e.PostID)
		if store.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		posts = append(posts, p)
	}
	sortNewestFirst(posts)
	return posts, nil
}

// ListCommunities returns the distinct community names seen on posts,
// sorted case-insensitively. The first spelling indexed for a name wins.
func (s *PostService) ListCommunities(ctx context.Context) ([]string, error) {
	entries, err := s.communities.ListAll(ctx)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	byFolded := make(map[string]string)
	for _, e := range entries {
		if _, ok := byFolded[e.Community]; !ok {
			byFolded[e.Community] = e.Name
		}
	}
	names := make([]string, 0, len(byFolded))
	for _, n := range byFolded {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		fi, fj := strings.ToLower(names[i]), strings.ToLower(names[j])
		if fi != fj {
			return fi < fj
		}
		return names[i] < names[j]
	})
	return names, nil
}

func sortNewestFirst(posts []*models.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
}

// cleanList trims entries and drops empty ones.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
