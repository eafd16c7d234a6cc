package service

import (
	"context"
	"strings"

	"tagapp/internal/models"
	"tagapp/internal/repository"
)

type InboxService struct {
	inbox repository.NotificationRepository
}

func NewInboxService(inbox repository.NotificationRepository) *InboxService {
	return &InboxService{inbox: inbox}
}

// List returns userID's notifications, newest first.
func (s *InboxService) List(ctx context.Context, userID string) ([]*models.Notification, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.NewValidationError("userId is required")
	}
	ns, err := s.inbox.ListByUser(ctx, userID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ns, nil
}
