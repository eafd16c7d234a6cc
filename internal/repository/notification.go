package repository

import (
	"context"
	"sort"

	"tagapp/internal/models"
	"tagapp/internal/observability"
	"tagapp/internal/store"
)

// NotificationRepository stores inbox entries keyed by recipient.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	// BatchCreate writes every notification in one batch and returns the
	// keys the store reported as unprocessed.
	BatchCreate(ctx context.Context, ns []*models.Notification) ([]string, error)
	// ListByUser returns userID's notifications, newest first.
	ListByUser(ctx context.Context, userID string) ([]*models.Notification, error)
}

type notificationRepository struct {
	store store.Store
	log   *observability.RepoLogger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(s store.Store) NotificationRepository {
	return &notificationRepository{store: s, log: observability.NewRepoLogger("notification")}
}

func notificationKey(n *models.Notification) string {
	return store.InboxKey(n.UserID, n.MessageID)
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if err := putJSON(ctx, r.store, notificationKey(n), n); err != nil {
		r.log.LogError(ctx, err, "create")
		return err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"user_id": n.UserID, "message_id": n.MessageID, "type": n.Type})
	return nil
}

func (r *notificationRepository) BatchCreate(ctx context.Context, ns []*models.Notification) ([]string, error) {
	if len(ns) == 0 {
		return nil, nil
	}
	unprocessed, err := batchPutJSON(ctx, r.store, ns, notificationKey)
	if err != nil {
		r.log.LogError(ctx, err, "batch_create")
		return unprocessed, err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"count": len(ns), "unprocessed": len(unprocessed)})
	return unprocessed, nil
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID string) ([]*models.Notification, error) {
	scanned, err := scanJSON[models.Notification](ctx, r.store, store.InboxUserPrefix(userID))
	if err != nil {
		return nil, err
	}
	// ids may contain ':', so the prefix also matches "<userID>:<x>" inboxes.
	ns := scanned[:0]
	for _, n := range scanned {
		if n.UserID == userID {
			ns = append(ns, n)
		}
	}
	sort.SliceStable(ns, func(i, j int) bool {
		return ns[i].CreatedAt.After(ns[j].CreatedAt)
	})
	return ns, nil
}
