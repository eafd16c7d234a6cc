package repository

import (
	"context"

	"tagapp/internal/models"
	"tagapp/internal/observability"
	"tagapp/internal/store"
)

// TaskRepository persists username propagation checkpoints.
type TaskRepository interface {
	// Save writes task, replacing any earlier task for the same user.
	Save(ctx context.Context, task *models.PropagationTask) error
	Get(ctx context.Context, userID string) (*models.PropagationTask, error)
	// UpdateIfGeneration applies mutate only while the stored task still has
	// the given generation. Otherwise it returns store.ErrConditionFailed.
	UpdateIfGeneration(ctx context.Context, userID, generation string, mutate Mutator[models.PropagationTask]) (*models.PropagationTask, error)
	ListPending(ctx context.Context) ([]*models.PropagationTask, error)
}

type taskRepository struct {
	store store.Store
	log   *observability.RepoLogger
}

// NewTaskRepository creates a new propagation task repository
func NewTaskRepository(s store.Store) TaskRepository {
	return &taskRepository{store: s, log: observability.NewRepoLogger("propagation_task")}
}

func (r *taskRepository) Save(ctx context.Context, task *models.PropagationTask) error {
	if err := putJSON(ctx, r.store, store.TaskKey(task.UserID), task); err != nil {
		r.log.LogError(ctx, err, "save")
		return err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"user_id": task.UserID, "generation": task.Generation})
	return nil
}

func (r *taskRepository) Get(ctx context.Context, userID string) (*models.PropagationTask, error) {
	return getJSON[models.PropagationTask](ctx, r.store, store.TaskKey(userID))
}

func (r *taskRepository) UpdateIfGeneration(ctx context.Context, userID, generation string, mutate Mutator[models.PropagationTask]) (*models.PropagationTask, error) {
	return updateJSON[models.PropagationTask](ctx, r.store, store.TaskKey(userID), func(t *models.PropagationTask) error {
		if t.Generation != generation {
			return store.ErrConditionFailed
		}
		return mutate(t)
	})
}

func (r *taskRepository) ListPending(ctx context.Context) ([]*models.PropagationTask, error) {
	tasks, err := scanJSON[models.PropagationTask](ctx, r.store, store.TaskPrefix)
	if err != nil {
		return nil, err
	}
	pending := tasks[:0]
	for _, t := range tasks {
		if t.Status != models.TaskDone {
			pending = append(pending, t)
		}
	}
	return pending, nil
}
