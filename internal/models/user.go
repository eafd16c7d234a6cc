package models

import "time"

// User is the source of truth for a display name. Copies on posts and
// comments are repaired by propagation.
type User struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Bio       string    `json:"bio"`
	Uploads   []string  `json:"uploads"`
	CreatedAt time.Time `json:"createdAt"`
}

// UsernameReservation claims a case-folded username for one user. It is
// written with a create-only put and doubles as the username index.
type UsernameReservation struct {
	Username   string    `json:"username"`
	UserID     string    `json:"userId"`
	ReservedAt time.Time `json:"reservedAt"`
}

// Rank is a user's dense rank by number of owned posts.
type Rank struct {
	TagCount   int `json:"tagCount"`
	Rank       int `json:"rank"`
	TotalUsers int `json:"totalUsers"`
}

// Propagation task states.
const (
	TaskPending = "pending"
	TaskDone    = "done"
)

// PropagationTask checkpoints a username repair. Generation changes on every
// rename so a stale run can detect it has been superseded.
type PropagationTask struct {
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	Generation string    `json:"generation"`
	Cursor     string    `json:"cursor"`
	Patched    int       `json:"patched"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
