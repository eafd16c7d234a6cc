package repository

import (
	"context"

	"tagapp/internal/models"
	"tagapp/internal/observability"
	"tagapp/internal/store"
)

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, postID string) (*models.Post, error)
	Update(ctx context.Context, postID string, mutate Mutator[models.Post]) (*models.Post, error)
	// List returns every post ordered by post id.
	List(ctx context.Context) ([]*models.Post, error)
}

type postRepository struct {
	store store.Store
	log   *observability.RepoLogger
}

// NewPostRepository creates a new post repository
func NewPostRepository(s store.Store) PostRepository {
	return &postRepository{store: s, log: observability.NewRepoLogger("post")}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	post.Normalize()
	if err := createJSON(ctx, r.store, store.PostKey(post.PostID), post); err != nil {
		r.log.LogError(ctx, err, "create")
		return err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"post_id": post.PostID, "user_id": post.UserID})
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, postID string) (*models.Post, error) {
	post, err := getJSON[models.Post](ctx, r.store, store.PostKey(postID))
	if err != nil {
		return nil, err
	}
	post.Normalize()
	return post, nil
}

func (r *postRepository) Update(ctx context.Context, postID string, mutate Mutator[models.Post]) (*models.Post, error) {
	post, err := updateJSON[models.Post](ctx, r.store, store.PostKey(postID), func(p *models.Post) error {
		p.Normalize()
		return mutate(p)
	})
	if err != nil {
		if !store.IsNotFound(err) && !store.IsConditionFailed(err) {
			r.log.LogError(ctx, err, "update")
		}
		return nil, err
	}
	post.Normalize()
	r.log.LogUpdate(ctx, map[string]interface{}{"post_id": postID})
	return post, nil
}

func (r *postRepository) List(ctx context.Context) ([]*models.Post, error) {
	posts, err := scanJSON[models.Post](ctx, r.store, store.PostPrefix)
	if err != nil {
		r.log.LogError(ctx, err, "list")
		return nil, err
	}
	for _, p := range posts {
		p.Normalize()
	}
	return posts, nil
}
