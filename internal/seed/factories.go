// Package seed creates demo data through the service layer. It is intended
// for development and testing only.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"tagapp/internal/models"
	"tagapp/internal/observability"
	"tagapp/internal/service"

	"github.com/brianvoe/gofakeit/v6"
)

var communityNames = []string{
	"Skate", "Cooking", "Gaming", "Music", "Travel", "Fitness", "Pets", "Comedy",
}

// Options controls how much data a Factory creates.
type Options struct {
	NumUsers     int
	PostsPerUser int
	// Seed makes the generated content repeatable. Zero picks a random seed.
	Seed int64
}

// Result counts what Run created.
type Result struct {
	Users    int
	Posts    int
	Likes    int
	Saves    int
	Comments int
	Tags     int
}

// Factory builds users and posts with gofakeit content and persists them
// through the services, so every invariant the API keeps holds for seeded
// data too.
type Factory struct {
	svc  *service.Services
	opts Options
	fake *gofakeit.Faker
}

func NewFactory(svc *service.Services, opts Options) *Factory {
	if opts.NumUsers <= 0 {
		opts.NumUsers = 10
	}
	if opts.PostsPerUser < 0 {
		opts.PostsPerUser = 0
	}
	return &Factory{svc: svc, opts: opts, fake: gofakeit.New(opts.Seed)}
}

// CreateUser registers one user with a fake username, retrying with a
// suffix when the name is taken.
func (f *Factory) CreateUser(ctx context.Context) (*models.User, error) {
	base := f.fake.Username()
	if len(base) > 24 {
		base = base[:24]
	}
	name := base
	for attempt := 0; attempt < 5; attempt++ {
		user, err := f.svc.Users.Register(ctx, service.RegisterInput{
			Username: name,
			Bio:      f.fake.Sentence(8),
		})
		if err == nil {
			return user, nil
		}
		if models.ErrorCode(err) != models.CodeConflict {
			return nil, err
		}
		name = fmt.Sprintf("%s%d", base, f.fake.Number(10, 99999))
	}
	return nil, fmt.Errorf("could not find a free username for %q", base)
}

// BuildPostInput returns a post request by author tagging some of friends.
func (f *Factory) BuildPostInput(author *models.User, friends []*models.User) service.CreatePostInput {
	in := service.CreatePostInput{
		UserID:      author.UserID,
		Username:    author.Username,
		VideoURL:    fmt.Sprintf("https://videos.example.com/%s.mp4", f.fake.UUID()),
		Description: f.fake.Sentence(f.fake.Number(4, 14)),
		Hashtags:    []string{"#" + f.fake.Hobby(), "#" + f.fake.Word()},
	}
	for _, friend := range friends {
		if friend.UserID != author.UserID && f.fake.Number(0, 3) == 0 {
			in.TaggedUsernames = append(in.TaggedUsernames, friend.Username)
		}
	}
	if f.fake.Bool() {
		in.TaggedCommunities = []string{f.fake.RandomString(communityNames)}
	}
	return in
}

// Run creates NumUsers users, PostsPerUser posts each, and random likes,
// saves and comments from the other users.
func (f *Factory) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	users := make([]*models.User, 0, f.opts.NumUsers)
	for i := 0; i < f.opts.NumUsers; i++ {
		u, err := f.CreateUser(ctx)
		if err != nil {
			return res, fmt.Errorf("seed user %d: %w", i, err)
		}
		users = append(users, u)
		res.Users++
	}

	for _, author := range users {
		for i := 0; i < f.opts.PostsPerUser; i++ {
			created, err := f.svc.Posts.CreatePost(ctx, f.BuildPostInput(author, users))
			if err != nil {
				return res, fmt.Errorf("seed post for %s: %w", author.UserID, err)
			}
			res.Posts++
			res.Tags += created.Fanout.TagsWritten
			if err := f.engage(ctx, created.Post, users, res); err != nil {
				return res, err
			}
		}
	}

	observability.Logger.InfoContext(ctx, "seed complete",
		slog.Int("users", res.Users),
		slog.Int("posts", res.Posts),
		slog.Int("likes", res.Likes),
		slog.Int("comments", res.Comments),
	)
	return res, nil
}

func (f *Factory) engage(ctx context.Context, post *models.Post, users []*models.User, res *Result) error {
	for _, u := range users {
		if u.UserID == post.UserID {
			continue
		}
		if f.fake.Number(0, 1) == 0 {
			if _, err := f.svc.Interactions.Like(ctx, post.PostID, u.UserID); err != nil {
				return err
			}
			res.Likes++
		}
		if f.fake.Number(0, 4) == 0 {
			if _, err := f.svc.Interactions.Save(ctx, post.PostID, u.UserID); err != nil {
				return err
			}
			res.Saves++
		}
		if f.fake.Number(0, 3) == 0 {
			_, err := f.svc.Comments.AddComment(ctx, service.AddCommentInput{
				PostID:   post.PostID,
				UserID:   u.UserID,
				Username: u.Username,
				Text:     f.fake.Sentence(f.fake.Number(3, 12)),
			})
			if err != nil {
				return err
			}
			res.Comments++
		}
	}
	return nil
}
