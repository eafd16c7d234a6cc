package service

import (
	"context"
	"slices"
	"strings"

	"tagapp/internal/models"
	"tagapp/internal/observability"
	"tagapp/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// Interaction actions.
const (
	ActionLike   = "like"
	ActionUnlike = "unlike"
	ActionSave   = "save"
	ActionUnsave = "unsave"
)

// InteractionService toggles membership of a user in a post's likedBy and
// savedBy lists. Each toggle is one atomic conditional update: repeating it
// is a no-op that returns the current post.
type InteractionService struct {
	posts repository.PostRepository
}

func NewInteractionService(posts repository.PostRepository) *InteractionService {
	return &InteractionService{posts: posts}
}

func (s *InteractionService) Like(ctx context.Context, postID, userID string) (*models.Post, error) {
	return s.toggle(ctx, ActionLike, postID, userID, func(p *models.Post) bool {
		return addMember(&p.LikedBy, &p.Likes, userID)
	})
}

func (s *InteractionService) Unlike(ctx context.Context, postID, userID string) (*models.Post, error) {
	return s.toggle(ctx, ActionUnlike, postID, userID, func(p *models.Post) bool {
		return removeMember(&p.LikedBy, &p.Likes, userID)
	})
}

func (s *InteractionService) Save(ctx context.Context, postID, userID string) (*models.Post, error) {
	return s.toggle(ctx, ActionSave, postID, userID, func(p *models.Post) bool {
		return addMember(&p.SavedBy, &p.Saves, userID)
	})
}

func (s *InteractionService) Unsave(ctx context.Context, postID, userID string) (*models.Post, error) {
	return s.toggle(ctx, ActionUnsave, postID, userID, func(p *models.Post) bool {
		return removeMember(&p.SavedBy, &p.Saves, userID)
	})
}

// Apply dispatches one of the Action constants.
func (s *InteractionService) Apply(ctx context.Context, action, postID, userID string) (*models.Post, error) {
	switch action {
	case ActionLike:
		return s.Like(ctx, postID, userID)
	case ActionUnlike:
		return s.Unlike(ctx, postID, userID)
	case ActionSave:
		return s.Save(ctx, postID, userID)
	case ActionUnsave:
		return s.Unsave(ctx, postID, userID)
	}
	return nil, models.NewValidationError("Unknown interaction " + action)
}

func (s *InteractionService) toggle(ctx context.Context, action, postID, userID string, mutate func(*models.Post) bool) (*models.Post, error) {
	if strings.TrimSpace(postID) == "" {
		return nil, models.NewValidationError("postId is required")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, models.NewValidationError("userId is required")
	}

	span, ctx := observability.NewSpan(ctx, "InteractionService."+action,
		attribute.String("post.id", postID),
		attribute.String("user.id", userID),
	)
	defer span.End()

	applied := false
	post, err := s.posts.Update(ctx, postID, func(p *models.Post) error {
		applied = mutate(p)
		if !applied {
			return repository.ErrNoChange
		}
		return nil
	})
	if err != nil {
		span.SetError(err)
		return nil, classify(err, "Post", postID)
	}

	outcome := "noop"
	if applied {
		outcome = "applied"
	}
	observability.InteractionsTotal.WithLabelValues(action, outcome).Inc()
	span.AddAttributes(attribute.String("outcome", outcome))
	return post, nil
}

// addMember appends userID when absent. The counter is recomputed from the
// list in the same write.
func addMember(list *[]string, count *int, userID string) bool {
	if slices.Contains(*list, userID) {
		return false
	}
	*list = append(*list, userID)
	*count = len(*list)
	return true
}

// removeMember removes one occurrence of userID by value, wherever it sits
// in the list at write time.
func removeMember(list *[]string, count *int, userID string) bool {
	idx := slices.Index(*list, userID)
	if idx < 0 {
		return false
	}
	*list = slices.Delete(*list, idx, idx+1)
	*count = len(*list)
	return true
}
