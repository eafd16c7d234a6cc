package service

import (
	"tagapp/internal/repository"
	"tagapp/internal/store"
)

// Services bundles every service over one record store.
type Services struct {
	Posts        *PostService
	Comments     *CommentService
	Interactions *InteractionService
	Users        *UserService
	Rank         *RankService
	Inbox        *InboxService
	Propagator   *Propagator
}

// NewServices wires the repositories and services on top of st. publisher
// may be nil.
func NewServices(st store.Store, publisher Publisher, pcfg PropagatorConfig) *Services {
	posts := repository.NewPostRepository(st)
	users := repository.NewUserRepository(st)
	usernames := repository.NewUsernameRepository(st)
	inbox := repository.NewNotificationRepository(st)

	propagator := NewPropagator(posts, repository.NewTaskRepository(st), pcfg)
	dispatcher := NewDispatcher(usernames, posts, inbox, publisher)
	return &Services{
		Posts:        NewPostService(posts, users, repository.NewCommunityRepository(st), dispatcher),
		Comments:     NewCommentService(posts),
		Interactions: NewInteractionService(posts),
		Users:        NewUserService(users, usernames, propagator),
		Rank:         NewRankService(posts),
		Inbox:        NewInboxService(inbox),
		Propagator:   propagator,
	}
}
