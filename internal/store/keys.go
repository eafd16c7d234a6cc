package store

import "strings"

// Key prefixes for each record kind.
const (
	PostPrefix      = "post:"
	UserPrefix      = "user:"
	InboxPrefix     = "inbox:"
	UsernamePrefix  = "username:"
	CommunityPrefix = "community:"
	TaskPrefix      = "task:propagate:"
)

// Fold case-folds a username or community name for use in keys and
// comparisons.
func Fold(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func PostKey(postID string) string {
	return PostPrefix + postID
}

func UserKey(userID string) string {
	return UserPrefix + userID
}

func InboxKey(userID, messageID string) string {
	return InboxPrefix + userID + ":" + messageID
}

// InboxUserPrefix is the prefix shared by every notification of userID.
func InboxUserPrefix(userID string) string {
	return InboxPrefix + userID + ":"
}

func UsernameKey(username string) string {
	return UsernamePrefix + Fold(username)
}

func CommunityKey(name, postID string) string {
	return CommunityPrefix + Fold(name) + ":" + postID
}

// CommunityNamePrefix is the prefix shared by every index entry of one
// community.
func CommunityNamePrefix(name string) string {
	return CommunityPrefix + Fold(name) + ":"
}

func TaskKey(userID string) string {
	return TaskPrefix + userID
}

// AllPrefixes lists every record kind. Admin maintenance uses it to
// enumerate the whole store.
var AllPrefixes = []string{
	PostPrefix,
	UserPrefix,
	InboxPrefix,
	UsernamePrefix,
	CommunityPrefix,
	TaskPrefix,
}
