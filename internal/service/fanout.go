package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tagapp/internal/models"
	"tagapp/internal/observability"
	"tagapp/internal/repository"
	"tagapp/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Publisher pushes a stored notification to its live recipient channel.
type Publisher interface {
	PublishNotification(ctx context.Context, n *models.Notification) error
}

// FanoutReport describes what Dispatch wrote.
type FanoutReport struct {
	TagsWritten  int      `json:"tagsWritten"`
	Unprocessed  []string `json:"unprocessed,omitempty"`
	ResponseSent bool     `json:"responseSent"`
}

// Dispatcher derives inbox notifications from a newly created post. All of
// its writes are best-effort: failures are logged and counted, never
// returned.
type Dispatcher struct {
	usernames repository.UsernameRepository
	posts     repository.PostRepository
	inbox     repository.NotificationRepository
	publisher Publisher
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher. publisher may be nil.
func NewDispatcher(
	usernames repository.UsernameRepository,
	posts repository.PostRepository,
	inbox repository.NotificationRepository,
	publisher Publisher,
) *Dispatcher {
	return &Dispatcher{
		usernames: usernames,
		posts:     posts,
		inbox:     inbox,
		publisher: publisher,
		now:       time.Now,
	}
}

// ResolveTags maps mentioned usernames to user ids through the username
// index. Mentions are trimmed, case-folded and de-duplicated; unknown names
// are dropped. When nothing resolves, the explicit fallback ids are used.
func (d *Dispatcher) ResolveTags(ctx context.Context, mentions, fallback []string) ([]string, error) {
	seenName := make(map[string]struct{}, len(mentions))
	seenID := make(map[string]struct{}, len(mentions))
	var resolved []string
	for _, m := range mentions {
		name := store.Fold(m)
		if name == "" {
			continue
		}
		if _, dup := seenName[name]; dup {
			continue
		}
		seenName[name] = struct{}{}

		res, err := d.usernames.Lookup(ctx, name)
		if store.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, dup := seenID[res.UserID]; dup {
			continue
		}
		seenID[res.UserID] = struct{}{}
		resolved = append(resolved, res.UserID)
	}
	if len(resolved) > 0 {
		return resolved, nil
	}

	out := []string{}
	for _, id := range fallback {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seenID[id]; dup {
			continue
		}
		seenID[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// Dispatch writes one tag notification per tagged friend and, for a
// response post, one response notification to the original author.
func (d *Dispatcher) Dispatch(ctx context.Context, post *models.Post) FanoutReport {
	span, ctx := observability.NewSpan(ctx, "Dispatcher.Dispatch", attribute.String("post.id", post.PostID))
	defer span.End()

	var report FanoutReport
	d.dispatchTags(ctx, post, &report)
	d.dispatchResponse(ctx, post, &report)

	span.AddAttributes(
		attribute.Int("tags.written", report.TagsWritten),
		attribute.Int("tags.unprocessed", len(report.Unprocessed)),
		attribute.Bool("response.sent", report.ResponseSent),
	)
	return report
}

func (d *Dispatcher) newNotification(post *models.Post, recipient, kind string) *models.Notification {
	return &models.Notification{
		UserID:       recipient,
		MessageID:    uuid.NewString(),
		Type:         kind,
		FromUserID:   post.UserID,
		FromUsername: post.Username,
		PostID:       post.PostID,
		CreatedAt:    d.now().UTC(),
	}
}

func (d *Dispatcher) dispatchTags(ctx context.Context, post *models.Post, report *FanoutReport) {
	if len(post.TaggedFriends) == 0 {
		return
	}
	batch := make([]*models.Notification, 0, len(post.TaggedFriends))
	for _, friend := range post.TaggedFriends {
		batch = append(batch, d.newNotification(post, friend, models.NotificationTag))
	}

	unprocessed, err := d.inbox.BatchCreate(ctx, batch)
	if err != nil {
		observability.Logger.ErrorContext(ctx, "tag notification batch failed",
			slog.String("post_id", post.PostID),
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
		if len(unprocessed) == 0 {
			for _, n := range batch {
				unprocessed = append(unprocessed, store.InboxKey(n.UserID, n.MessageID))
			}
		}
	}

	failed := make(map[string]struct{}, len(unprocessed))
	for _, key := range unprocessed {
		failed[key] = struct{}{}
	}
	if len(unprocessed) > 0 {
		report.Unprocessed = unprocessed
		observability.NotificationsTotal.WithLabelValues(models.NotificationTag, "unprocessed").Add(float64(len(unprocessed)))
		observability.Logger.WarnContext(ctx, "tag notifications left unprocessed",
			slog.String("post_id", post.PostID),
			slog.Any("keys", unprocessed),
		)
	}

	for _, n := range batch {
		if _, skip := failed[store.InboxKey(n.UserID, n.MessageID)]; skip {
			continue
		}
		report.TagsWritten++
		observability.NotificationsTotal.WithLabelValues(models.NotificationTag, "written").Inc()
		d.push(ctx, n)
	}
}

func (d *Dispatcher) dispatchResponse(ctx context.Context, post *models.Post, report *FanoutReport) {
	if post.ResponseToPostID == nil || strings.TrimSpace(*post.ResponseToPostID) == "" {
		return
	}
	originalID := *post.ResponseToPostID

	original, err := d.posts.GetByID(ctx, originalID)
	if err != nil {
		observability.NotificationsTotal.WithLabelValues(models.NotificationResponse, "failed").Inc()
		observability.Logger.WarnContext(ctx, "response notification skipped, original post unavailable",
			slog.String("post_id", post.PostID),
			slog.String("original_post_id", originalID),
			slog.String("error", err.Error()),
		)
		return
	}
	if original.UserID == post.UserID {
		return
	}

	n := d.newNotification(post, original.UserID, models.NotificationResponse)
	n.OriginalPostID = originalID
	if err := d.inbox.Create(ctx, n); err != nil {
		observability.NotificationsTotal.WithLabelValues(models.NotificationResponse, "failed").Inc()
		observability.Logger.ErrorContext(ctx, "failed to send response notification",
			slog.String("post_id", post.PostID),
			slog.String("original_post_id", originalID),
			slog.String("error", err.Error()),
		)
		return
	}
	report.ResponseSent = true
	observability.NotificationsTotal.WithLabelValues(models.NotificationResponse, "written").Inc()
	d.push(ctx, n)
}

func (d *Dispatcher) push(ctx context.Context, n *models.Notification) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.PublishNotification(ctx, n); err != nil {
		observability.Logger.WarnContext(ctx, "live notification push failed",
			slog.String("user_id", n.UserID),
			slog.String("message_id", n.MessageID),
			slog.String("error", err.Error()),
		)
	}
}
