package service

import (
	"context"
	"sort"
	"strings"

	"tagapp/internal/models"
	"tagapp/internal/observability"
	"tagapp/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

type RankService struct {
	posts repository.PostRepository
}

func NewRankService(posts repository.PostRepository) *RankService {
	return &RankService{posts: posts}
}

// Rank returns the dense rank of userID by number of owned posts. Equal
// counts share a rank and the next distinct count takes the next integer. A
// user without posts ranks one past the lowest count.
func (s *RankService) Rank(ctx context.Context, userID string) (*models.Rank, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.NewValidationError("userId is required")
	}

	span, ctx := observability.NewSpan(ctx, "RankService.Rank", attribute.String("user.id", userID))
	defer span.End()

	posts, err := s.posts.List(ctx)
	if err != nil {
		span.SetError(err)
		return nil, models.NewInternalError(err)
	}
	return DenseRank(countByOwner(posts), userID), nil
}

func countByOwner(posts []*models.Post) map[string]int {
	counts := make(map[string]int)
	for _, p := range posts {
		counts[p.UserID]++
	}
	return counts
}

// DenseRank ranks userID among counts.
func DenseRank(counts map[string]int, userID string) *models.Rank {
	seen := make(map[int]struct{}, len(counts))
	distinct := make([]int, 0, len(counts))
	for _, c := range counts {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		distinct = append(distinct, c)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(distinct)))

	mine := counts[userID]
	rank := len(distinct) + 1
	if mine > 0 {
		for i, c := range distinct {
			if c == mine {
				rank = i + 1
				break
			}
		}
	}
	return &models.Rank{
		TagCount:   mine,
		Rank:       rank,
		TotalUsers: len(counts),
	}
}
