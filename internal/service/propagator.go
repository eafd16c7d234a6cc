package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tagapp/internal/config"
	"tagapp/internal/models"
	"tagapp/internal/observability"
	"tagapp/internal/repository"
	"tagapp/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

const signalBuffer = 256

// PropagatorConfig controls how username repairs run.
type PropagatorConfig struct {
	Mode            string
	CheckpointEvery int
	Rate            float64 // patches per second, 0 = unlimited
	PollInterval    time.Duration
}

// PropagatorConfigFrom reads the PROPAGATION_* settings.
func PropagatorConfigFrom(cfg *config.Config) PropagatorConfig {
	return PropagatorConfig{
		Mode:            cfg.PropagationMode,
		CheckpointEvery: cfg.PropagationCheckpointEvery,
		Rate:            cfg.PropagationRate,
		PollInterval:    cfg.PropagationPollInterval,
	}
}

// PropagationResult summarizes one Run.
type PropagationResult struct {
	UserID     string `json:"userId"`
	Generation string `json:"generation"`
	Scanned    int    `json:"scanned"`
	Patched    int    `json:"patched"`
	Unchanged  int    `json:"unchanged"`
	// Superseded is set when a newer rename replaced the task mid-run.
	Superseded bool `json:"superseded"`
	// Skipped is set when there was nothing to run or a run was in flight.
	Skipped bool `json:"skipped"`
}

// Propagator rewrites the denormalized username copies held by posts and
// comments after a rename. Progress is checkpointed in a PropagationTask so
// an interrupted repair resumes where it stopped.
type Propagator struct {
	posts   repository.PostRepository
	tasks   repository.TaskRepository
	cfg     PropagatorConfig
	limiter *rate.Limiter
	signals chan string
	now     func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
	done    chan struct{}
}

func NewPropagator(posts repository.PostRepository, tasks repository.TaskRepository, cfg PropagatorConfig) *Propagator {
	if cfg.CheckpointEvery < 1 {
		cfg.CheckpointEvery = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = config.PropagationSync
	}
	p := &Propagator{
		posts:   posts,
		tasks:   tasks,
		cfg:     cfg,
		signals: make(chan string, signalBuffer),
		now:     time.Now,
		running: make(map[string]struct{}),
	}
	if cfg.Rate > 0 {
		burst := max(1, int(cfg.Rate))
		p.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return p
}

// Enqueue records a repair of userID's copies to username. It replaces any
// earlier task with a new generation and an empty cursor.
func (p *Propagator) Enqueue(ctx context.Context, userID, username string) (*models.PropagationTask, error) {
	task := &models.PropagationTask{
		UserID:     userID,
		Username:   username,
		Generation: uuid.NewString(),
		Status:     models.TaskPending,
		UpdatedAt:  p.now().UTC(),
	}
	if err := p.tasks.Save(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Trigger runs userID's task inline in sync mode and hands it to the
// background worker in async mode.
func (p *Propagator) Trigger(ctx context.Context, userID string) (*PropagationResult, error) {
	if p.cfg.Mode == config.PropagationAsync {
		p.Signal(userID)
		return &PropagationResult{UserID: userID, Skipped: true}, nil
	}
	return p.Run(ctx, userID)
}

// Signal asks the worker to run userID's task soon. When the queue is full
// the signal is dropped and the next poll picks the task up.
func (p *Propagator) Signal(userID string) {
	// the id outlives the caller's request
	userID = strings.Clone(userID)
	select {
	case p.signals <- userID:
	default:
		observability.Logger.Warn("propagation signal dropped, queue full", slog.String("user_id", userID))
	}
}

func (p *Propagator) acquire(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.running[userID]; busy {
		return false
	}
	p.running[userID] = struct{}{}
	return true
}

func (p *Propagator) release(userID string) {
	p.mu.Lock()
	delete(p.running, userID)
	p.mu.Unlock()
}

// Run executes userID's pending task from its cursor to the end of the post
// set. A missing or finished task is not an error.
func (p *Propagator) Run(ctx context.Context, userID string) (*PropagationResult, error) {
	result := &PropagationResult{UserID: userID}
	if !p.acquire(userID) {
		result.Skipped = true
		return result, nil
	}
	defer p.release(userID)

	task, err := p.tasks.Get(ctx, userID)
	if store.IsNotFound(err) {
		result.Skipped = true
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskDone {
		result.Skipped = true
		return result, nil
	}
	result.Generation = task.Generation

	span, ctx := observability.NewSpan(ctx, "Propagator.Run",
		attribute.String("user.id", userID),
		attribute.String("task.generation", task.Generation),
	)
	defer span.End()

	fields := map[string]interface{}{"user_id": userID, "generation": task.Generation, "cursor": task.Cursor}
	observability.LogAsyncOperationStart(ctx, "username_propagation", fields)

	err = p.run(ctx, task, result)
	fields["patched"] = result.Patched
	fields["scanned"] = result.Scanned
	fields["superseded"] = result.Superseded
	if err != nil {
		span.SetError(err)
		observability.LogAsyncOperationError(ctx, "username_propagation", err, fields)
		return result, err
	}
	observability.LogAsyncOperationEnd(ctx, "username_propagation", fields)
	return result, nil
}

func (p *Propagator) run(ctx context.Context, task *models.PropagationTask, result *PropagationResult) error {
	posts, err := p.posts.List(ctx)
	if err != nil {
		return err
	}

	cursor := task.Cursor
	sinceCheckpoint := 0
	for _, post := range posts {
		if task.Cursor != "" && post.PostID <= task.Cursor {
			continue
		}
		result.Scanned++

		if holdsCopy(post, task.UserID) {
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			patched, err := p.patch(ctx, post.PostID, task.UserID, task.Username)
			switch {
			case store.IsNotFound(err):
				// deleted since the scan
			case err != nil:
				observability.PropagationRecords.WithLabelValues("failed").Inc()
				return err
			case patched:
				result.Patched++
				observability.PropagationRecords.WithLabelValues("patched").Inc()
			default:
				result.Unchanged++
				observability.PropagationRecords.WithLabelValues("unchanged").Inc()
			}
		} else {
			result.Unchanged++
			observability.PropagationRecords.WithLabelValues("unchanged").Inc()
		}

		cursor = post.PostID
		sinceCheckpoint++
		if sinceCheckpoint >= p.cfg.CheckpointEvery {
			sinceCheckpoint = 0
			if err := p.checkpoint(ctx, task, cursor, result, models.TaskPending); err != nil {
				return err
			}
			if result.Superseded {
				return nil
			}
		}
	}
	return p.checkpoint(ctx, task, cursor, result, models.TaskDone)
}

// checkpoint persists progress while the task generation is unchanged. A
// newer generation marks the result superseded.
func (p *Propagator) checkpoint(ctx context.Context, task *models.PropagationTask, cursor string, result *PropagationResult, status string) error {
	_, err := p.tasks.UpdateIfGeneration(ctx, task.UserID, task.Generation, func(t *models.PropagationTask) error {
		t.Cursor = cursor
		t.Patched = task.Patched + result.Patched
		t.Status = status
		t.UpdatedAt = p.now().UTC()
		return nil
	})
	if store.IsConditionFailed(err) || store.IsNotFound(err) {
		result.Superseded = true
		return nil
	}
	return err
}

// holdsCopy reports whether post carries any denormalized username of userID.
func holdsCopy(post *models.Post, userID string) bool {
	if post.UserID == userID {
		return true
	}
	for _, c := range post.Comments {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// patch rewrites stale username copies on one post in a single atomic
// update. Posts that are already current are not written.
func (p *Propagator) patch(ctx context.Context, postID, userID, username string) (bool, error) {
	changed := false
	_, err := p.posts.Update(ctx, postID, func(post *models.Post) error {
		changed = false
		if post.UserID == userID && post.Username != username {
			post.Username = username
			changed = true
		}
		stale := false
		for _, c := range post.Comments {
			if c.UserID == userID && c.Username != username {
				stale = true
				break
			}
		}
		if stale {
			comments := make([]models.Comment, len(post.Comments))
			for i, c := range post.Comments {
				if c.UserID == userID {
					c.Username = username
				}
				comments[i] = c
			}
			post.Comments = comments
			changed = true
		}
		if !changed {
			return repository.ErrNoChange
		}
		return nil
	})
	return changed, err
}

// RunPending runs every unfinished task. Errors are logged per task so one
// failing repair does not block the others.
func (p *Propagator) RunPending(ctx context.Context) error {
	pending, err := p.tasks.ListPending(ctx)
	if err != nil {
		return err
	}
	observability.PropagationTasksPending.Set(float64(len(pending)))
	for _, t := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := p.Run(ctx, t.UserID); err != nil && !errors.Is(err, context.Canceled) {
			observability.Logger.ErrorContext(ctx, "propagation task failed",
				slog.String("user_id", t.UserID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Start launches the background worker. It resumes persisted tasks, then
// serves signals and periodic polls until ctx is done.
func (p *Propagator) Start(ctx context.Context) {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		return
	}
	p.done = make(chan struct{})
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		if err := p.RunPending(ctx); err != nil && ctx.Err() == nil {
			observability.Logger.Error("propagation resume failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case userID := <-p.signals:
				if _, err := p.Run(ctx, userID); err != nil && ctx.Err() == nil {
					observability.Logger.Error("propagation run failed",
						slog.String("user_id", userID),
						slog.String("error", err.Error()),
					)
				}
			case <-ticker.C:
				if err := p.RunPending(ctx); err != nil && ctx.Err() == nil {
					observability.Logger.Error("propagation poll failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Done is closed when the worker started by Start has exited. It is nil
// before Start.
func (p *Propagator) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
