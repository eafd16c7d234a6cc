package models

import "time"

// Notification types.
const (
	NotificationTag      = "tag"
	NotificationResponse = "response"
)

// Notification is an inbox entry identified by (UserID, MessageID). The
// sender fields are a snapshot and are never updated.
type Notification struct {
	UserID         string    `json:"userId"`
	MessageID      string    `json:"messageId"`
	Type           string    `json:"type"`
	FromUserID     string    `json:"fromUserId"`
	FromUsername   string    `json:"fromUsername"`
	PostID         string    `json:"postId"`
	OriginalPostID string    `json:"originalPostId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Read           bool      `json:"read"`
}
