package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"tagapp/internal/models"
	"tagapp/internal/observability"
	"tagapp/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	maxCommentLen   = 10000
	anonymousAuthor = "Anonymous"
)

type CommentService struct {
	posts repository.PostRepository
	now   func() time.Time
}

type AddCommentInput struct {
	PostID   string
	UserID   string
	Username string
	Text     string
}

func NewCommentService(posts repository.PostRepository) *CommentService {
	return &CommentService{posts: posts, now: time.Now}
}

// AddComment appends a comment inside one atomic update, so concurrent
// appends are never lost, and returns the post as stored.
func (s *CommentService) AddComment(ctx context.Context, in AddCommentInput) (*models.Post, error) {
	if strings.TrimSpace(in.PostID) == "" {
		return nil, models.NewValidationError("postId is required")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return nil, models.NewValidationError("userId is required")
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, models.NewValidationError("text is required")
	}
	if utf8.RuneCountInString(in.Text) > maxCommentLen {
		return nil, models.NewValidationError("Comment too long (max 10000 characters)")
	}

	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = anonymousAuthor
	}

	span, ctx := observability.NewSpan(ctx, "CommentService.AddComment",
		attribute.String("post.id", in.PostID),
		attribute.String("user.id", in.UserID),
	)
	defer span.End()

	comment := models.Comment{
		CommentID: uuid.NewString(),
		UserID:    in.UserID,
		Username:  username,
		Text:      in.Text,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}

	post, err := s.posts.Update(ctx, in.PostID, func(p *models.Post) error {
		p.Comments = append(p.Comments, comment)
		return nil
	})
	if err != nil {
		span.SetError(err)
		return nil, classify(err, "Post", in.PostID)
	}
	observability.CommentsTotal.Inc()
	return post, nil
}
