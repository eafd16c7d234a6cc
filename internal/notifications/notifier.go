// Package notifications publishes live notification pushes and propagation
// signals over Redis pub/sub.
package notifications

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"

	"tagapp/internal/models"
	"tagapp/internal/observability"

	"github.com/redis/go-redis/v9"
)

// PropagationChannel carries user ids whose username repair should run now.
const PropagationChannel = "tasks:propagate"

// Notifier provides helpers to publish notifications into Redis channels.
// A Notifier without a client is a no-op.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// UserChannel returns the live channel of one user.
func UserChannel(userID string) string {
	return "notifications:user:" + userID
}

// PublishNotification pushes a stored inbox entry to its recipient's channel.
func (n *Notifier) PublishNotification(ctx context.Context, notif *models.Notification) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(notif)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, UserChannel(notif.UserID), payload).Err()
}

// PublishPropagation asks whichever process runs the propagation worker to
// pick up userID's task.
func (n *Notifier) PublishPropagation(ctx context.Context, userID string) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, PropagationChannel, userID).Err()
}

// StartPropagationSubscriber calls onSignal for each user id published on
// PropagationChannel until ctx is done.
func (n *Notifier) StartPropagationSubscriber(ctx context.Context, onSignal func(userID string)) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.Subscribe(ctx, PropagationChannel)
	// Wait for the subscription so no signal published after return is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							observability.Logger.Error("panic in propagation subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onSignal(msg.Payload)
				}()
			}
		}
	}()

	return nil
}
