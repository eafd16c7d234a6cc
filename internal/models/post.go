// Package models contains data structures for the application's domain models.
package models

import (
	"slices"
	"time"
)

// Post is an immutable piece of content carrying mutable, denormalized
// interaction state. Likes and Saves always equal len(LikedBy) and
// len(SavedBy) after a successful write.
type Post struct {
	PostID            string    `json:"postId"`
	UserID            string    `json:"userId"`
	Username          string    `json:"username"`
	VideoURL          string    `json:"videoUrl"`
	Description       string    `json:"description"`
	Hashtags          []string  `json:"hashtags"`
	TaggedFriends     []string  `json:"taggedFriends"`
	TaggedCommunities []string  `json:"taggedCommunities"`
	CreatedAt         time.Time `json:"createdAt"`
	Likes             int       `json:"likes"`
	LikedBy           []string  `json:"likedBy"`
	Saves             int       `json:"saves"`
	SavedBy           []string  `json:"savedBy"`
	Comments          []Comment `json:"comments"`
	// ResponseToPostID is only read at creation time to notify the original
	// author. It is never maintained afterwards.
	ResponseToPostID *string `json:"responseToPostId"`
}

// Comment is appended to a post and never removed. Only Username is
// rewritten, by username propagation.
type Comment struct {
	CommentID string    `json:"commentId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// LikedByUser reports whether userID is in LikedBy.
func (p *Post) LikedByUser(userID string) bool {
	return slices.Contains(p.LikedBy, userID)
}

// SavedByUser reports whether userID is in SavedBy.
func (p *Post) SavedByUser(userID string) bool {
	return slices.Contains(p.SavedBy, userID)
}

// Normalize replaces nil slices with empty ones so the JSON shape is stable.
func (p *Post) Normalize() {
	if p.Hashtags == nil {
		p.Hashtags = []string{}
	}
	if p.TaggedFriends == nil {
		p.TaggedFriends = []string{}
	}
	if p.TaggedCommunities == nil {
		p.TaggedCommunities = []string{}
	}
	if p.LikedBy == nil {
		p.LikedBy = []string{}
	}
	if p.SavedBy == nil {
		p.SavedBy = []string{}
	}
	if p.Comments == nil {
		p.Comments = []Comment{}
	}
}

// CommunityIndexEntry maps a case-folded community name to a post that
// tagged it.
type CommunityIndexEntry struct {
	Community string    `json:"community"`
	Name      string    `json:"name"`
	PostID    string    `json:"postId"`
	CreatedAt time.Time `json:"createdAt"`
}
