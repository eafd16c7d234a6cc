package repository

import (
	"context"

	"tagapp/internal/models"
	"tagapp/internal/observability"
	"tagapp/internal/store"
)

// CommunityRepository maintains the community to post index.
type CommunityRepository interface {
	BatchAdd(ctx context.Context, entries []*models.CommunityIndexEntry) ([]string, error)
	// ListByName returns the entries of one community, matched case-insensitively.
	ListByName(ctx context.Context, name string) ([]*models.CommunityIndexEntry, error)
	ListAll(ctx context.Context) ([]*models.CommunityIndexEntry, error)
}

type communityRepository struct {
	store store.Store
	log   *observability.RepoLogger
}

// NewCommunityRepository creates a new community index repository
func NewCommunityRepository(s store.Store) CommunityRepository {
	return &communityRepository{store: s, log: observability.NewRepoLogger("community")}
}

func (r *communityRepository) BatchAdd(ctx context.Context, entries []*models.CommunityIndexEntry) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	unprocessed, err := batchPutJSON(ctx, r.store, entries, func(e *models.CommunityIndexEntry) string {
		return store.CommunityKey(e.Community, e.PostID)
	})
	if err != nil {
		r.log.LogError(ctx, err, "batch_add")
		return unprocessed, err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"count": len(entries), "unprocessed": len(unprocessed)})
	return unprocessed, nil
}

func (r *communityRepository) ListByName(ctx context.Context, name string) ([]*models.CommunityIndexEntry, error) {
	entries, err := scanJSON[models.CommunityIndexEntry](ctx, r.store, store.CommunityNamePrefix(name))
	if err != nil {
		return nil, err
	}
	// a name containing ':' shares its prefix with longer names
	folded := store.Fold(name)
	out := entries[:0]
	for _, e := range entries {
		if e.Community == folded {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *communityRepository) ListAll(ctx context.Context) ([]*models.CommunityIndexEntry, error) {
	return scanJSON[models.CommunityIndexEntry](ctx, r.store, store.CommunityPrefix)
}
