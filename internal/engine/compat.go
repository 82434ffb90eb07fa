package engine

import (
	"context"
	"errors"

	"studytrail/internal/domain"
)

// Compat updates serve callers that do not track versions. Each one fetches
// the current version, attempts the update, and on a version conflict
// re-fetches and retries a bounded number of times (one by default) before
// surfacing the conflict. Only conflicts are retried; every other failure is
// returned as-is.

func applyWithRetry[E any](ctx context.Context, retries int, version func(context.Context) (int, error), apply func(context.Context, int) (E, error)) (E, error) {
	var zero E
	for attempt := 0; ; attempt++ {
		v, err := version(ctx)
		if err != nil {
			return zero, err
		}
		entity, err := apply(ctx, v)
		if err == nil {
			return entity, nil
		}
		var ce *ConflictError
		if !errors.As(err, &ce) || attempt >= retries {
			return zero, err
		}
	}
}

func (e Engine) UpdateTopicCompat(ctx context.Context, id string, patch domain.TopicPatch, actorID string) (domain.Topic, error) {
	return applyWithRetry(ctx, e.conflictRetries(),
		func(ctx context.Context) (int, error) {
			t, err := e.Gateway.FetchTopic(ctx, id)
			return t.Version, err
		},
		func(ctx context.Context, v int) (domain.Topic, error) {
			return e.UpdateTopic(ctx, id, v, patch, actorID)
		})
}

func (e Engine) UpdateGoalCompat(ctx context.Context, id string, patch domain.GoalPatch, actorID string) (domain.Goal, error) {
	return applyWithRetry(ctx, e.conflictRetries(),
		func(ctx context.Context) (int, error) {
			g, err := e.Gateway.FetchGoal(ctx, id)
			return g.Version, err
		},
		func(ctx context.Context, v int) (domain.Goal, error) {
			return e.UpdateGoal(ctx, id, v, patch, actorID)
		})
}

func (e Engine) UpdateTaskCompat(ctx context.Context, id string, patch domain.TaskPatch, actorID string) (domain.Task, error) {
	return applyWithRetry(ctx, e.conflictRetries(),
		func(ctx context.Context) (int, error) {
			t, err := e.Gateway.FetchTask(ctx, id)
			return t.Version, err
		},
		func(ctx context.Context, v int) (domain.Task, error) {
			return e.UpdateTask(ctx, id, v, patch, actorID)
		})
}

func (e Engine) MarkTaskDoneCompat(ctx context.Context, id, actorID string, requireRecord bool) (domain.Task, error) {
	return applyWithRetry(ctx, e.conflictRetries(),
		func(ctx context.Context) (int, error) {
			t, err := e.Gateway.FetchTask(ctx, id)
			return t.Version, err
		},
		func(ctx context.Context, v int) (domain.Task, error) {
			return e.MarkTaskDone(ctx, id, v, actorID, requireRecord)
		})
}
