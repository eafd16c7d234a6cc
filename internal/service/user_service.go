package service

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"tagapp/internal/models"
	"tagapp/internal/observability"
	"tagapp/internal/repository"
	"tagapp/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	maxUsernameLen = 30
	maxBioLen      = 500
)

type UserService struct {
	users      repository.UserRepository
	usernames  repository.UsernameRepository
	propagator *Propagator
	now        func() time.Time
}

type RegisterInput struct {
	Username string
	Bio      string
}

type UpdateProfileInput struct {
	UserID   string
	Username string
	Bio      string
}

// ProfileUpdate is the stored user plus the propagation outcome, if a
// rename started one.
type ProfileUpdate struct {
	User        *models.User       `json:"user"`
	Propagation *PropagationResult `json:"propagation,omitempty"`
}

func NewUserService(
	users repository.UserRepository,
	usernames repository.UsernameRepository,
	propagator *Propagator,
) *UserService {
	return &UserService{
		users:      users,
		usernames:  usernames,
		propagator: propagator,
		now:        time.Now,
	}
}

func validateProfile(username, bio string) error {
	if username == "" {
		return models.NewValidationError("username is required")
	}
	if utf8.RuneCountInString(username) > maxUsernameLen {
		return models.NewValidationError("Username too long (max 30 characters)")
	}
	if utf8.RuneCountInString(bio) > maxBioLen {
		return models.NewValidationError("Bio too long (max 500 characters)")
	}
	return nil
}

// Register creates a user after reserving its username.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	if err := validateProfile(username, in.Bio); err != nil {
		return nil, err
	}

	span, ctx := observability.NewSpan(ctx, "UserService.Register")
	defer span.End()

	user := &models.User{
		UserID:    uuid.NewString(),
		Username:  username,
		Bio:       in.Bio,
		Uploads:   []string{},
		CreatedAt: s.now().UTC(),
	}

	if err := s.usernames.Reserve(ctx, username, user.UserID); err != nil {
		if store.IsConditionFailed(err) {
			return nil, models.NewConflictError("Username already taken")
		}
		span.SetError(err)
		return nil, models.NewInternalError(err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		span.SetError(err)
		s.releaseReservation(ctx, username, user.UserID)
		return nil, models.NewInternalError(err)
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.NewValidationError("userId is required")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, classify(err, "User", userID)
	}
	return user, nil
}

// UpdateProfile changes username and bio. A username change reserves the
// new name first, so two users can never end up with the same name, and
// then repairs every denormalized copy of the old one.
func (s *UserService) UpdateProfile(ctx context.Context, in UpdateProfileInput) (*ProfileUpdate, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, models.NewValidationError("userId is required")
	}
	username := strings.TrimSpace(in.Username)
	if err := validateProfile(username, in.Bio); err != nil {
		return nil, err
	}

	span, ctx := observability.NewSpan(ctx, "UserService.UpdateProfile", attribute.String("user.id", in.UserID))
	defer span.End()

	current, err := s.users.GetByID(ctx, in.UserID)
	if err != nil {
		span.SetError(err)
		return nil, classify(err, "User", in.UserID)
	}

	reserved := false
	if store.Fold(username) != store.Fold(current.Username) {
		if err := s.reserveFor(ctx, username, in.UserID); err != nil {
			span.SetError(err)
			return nil, err
		}
		reserved = true
	}

	// The reservation decisions above were made against current.Username; a
	// rename that landed since then invalidates them.
	var previous string
	updated, err := s.users.Update(ctx, in.UserID, func(u *models.User) error {
		if store.Fold(u.Username) != store.Fold(current.Username) {
			return store.ErrConditionFailed
		}
		previous = u.Username
		u.Username = username
		u.Bio = in.Bio
		return nil
	})
	if err != nil {
		span.SetError(err)
		if reserved {
			s.releaseReservation(ctx, username, in.UserID)
		}
		if store.IsConditionFailed(err) {
			return nil, models.NewConflictError("Profile changed concurrently, retry")
		}
		return nil, classify(err, "User", in.UserID)
	}

	if reserved {
		s.releaseReservation(ctx, previous, in.UserID)
	}

	out := &ProfileUpdate{User: updated}
	if previous != username {
		out.Propagation = s.propagate(ctx, in.UserID, username)
	}
	return out, nil
}

// reserveFor claims username for userID. A reservation already owned by
// userID is accepted.
func (s *UserService) reserveFor(ctx context.Context, username, userID string) error {
	err := s.usernames.Reserve(ctx, username, userID)
	if err == nil {
		return nil
	}
	if !store.IsConditionFailed(err) {
		return models.NewInternalError(err)
	}
	owner, lerr := s.usernames.Lookup(ctx, username)
	if lerr == nil && owner.UserID == userID {
		return nil
	}
	return models.NewConflictError("Username already taken")
}

func (s *UserService) releaseReservation(ctx context.Context, username, userID string) {
	if err := s.usernames.Release(ctx, username, userID); err != nil {
		observability.Logger.WarnContext(ctx, "failed to release username reservation",
			slog.String("username", username),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// propagate records the repair task and runs or schedules it. Failures are
// logged; the profile update itself has already succeeded.
func (s *UserService) propagate(ctx context.Context, userID, username string) *PropagationResult {
	if s.propagator == nil {
		return nil
	}
	if _, err := s.propagator.Enqueue(ctx, userID, username); err != nil {
		observability.Logger.ErrorContext(ctx, "failed to record username propagation task",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	result, err := s.propagator.Trigger(ctx, userID)
	if err != nil {
		observability.Logger.ErrorContext(ctx, "username propagation failed, task left for retry",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	return result
}
