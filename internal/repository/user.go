package repository

import (
	"context"
	"time"

	"tagapp/internal/models"
	"tagapp/internal/observability"
	"tagapp/internal/store"
)

// UserRepository defines the interface for user data operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, userID string) (*models.User, error)
	Update(ctx context.Context, userID string, mutate Mutator[models.User]) (*models.User, error)
}

type userRepository struct {
	store store.Store
	log   *observability.RepoLogger
}

// NewUserRepository creates a new user repository
func NewUserRepository(s store.Store) UserRepository {
	return &userRepository{store: s, log: observability.NewRepoLogger("user")}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if user.Uploads == nil {
		user.Uploads = []string{}
	}
	if err := createJSON(ctx, r.store, store.UserKey(user.UserID), user); err != nil {
		r.log.LogError(ctx, err, "create")
		return err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"user_id": user.UserID})
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	return getJSON[models.User](ctx, r.store, store.UserKey(userID))
}

func (r *userRepository) Update(ctx context.Context, userID string, mutate Mutator[models.User]) (*models.User, error) {
	user, err := updateJSON[models.User](ctx, r.store, store.UserKey(userID), mutate)
	if err != nil {
		if !store.IsNotFound(err) {
			r.log.LogError(ctx, err, "update")
		}
		return nil, err
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"user_id": userID})
	return user, nil
}

// UsernameRepository manages username reservations. A reservation is the
// uniqueness guard for display names and the lookup index for tags.
type UsernameRepository interface {
	// Reserve claims username for userID. It returns store.ErrConditionFailed
	// when the name is already reserved, by anyone.
	Reserve(ctx context.Context, username, userID string) error
	Lookup(ctx context.Context, username string) (*models.UsernameReservation, error)
	// Release drops the reservation if userID still owns it.
	Release(ctx context.Context, username, userID string) error
}

type usernameRepository struct {
	store store.Store
	log   *observability.RepoLogger
}

// NewUsernameRepository creates a new username reservation repository
func NewUsernameRepository(s store.Store) UsernameRepository {
	return &usernameRepository{store: s, log: observability.NewRepoLogger("username")}
}

func (r *usernameRepository) Reserve(ctx context.Context, username, userID string) error {
	res := models.UsernameReservation{
		Username:   store.Fold(username),
		UserID:     userID,
		ReservedAt: time.Now().UTC(),
	}
	if err := createJSON(ctx, r.store, store.UsernameKey(username), res); err != nil {
		if !store.IsConditionFailed(err) {
			r.log.LogError(ctx, err, "reserve")
		}
		return err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"username": res.Username, "user_id": userID})
	return nil
}

func (r *usernameRepository) Lookup(ctx context.Context, username string) (*models.UsernameReservation, error) {
	return getJSON[models.UsernameReservation](ctx, r.store, store.UsernameKey(username))
}

func (r *usernameRepository) Release(ctx context.Context, username, userID string) error {
	res, err := r.Lookup(ctx, username)
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if res.UserID != userID {
		return nil
	}
	if err := r.store.Delete(ctx, store.UsernameKey(username)); err != nil {
		r.log.LogError(ctx, err, "release")
		return err
	}
	r.log.LogDelete(ctx, map[string]interface{}{"username": res.Username, "user_id": userID})
	return nil
}
