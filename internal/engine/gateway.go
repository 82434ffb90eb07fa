package engine

import (
	"context"
	"time"

	"studytrail/internal/domain"
)

// ActionInput is one action append request against the gateway. Date is the
// calendar day (YYYY-MM-DD) in the workspace timezone.
type ActionInput struct {
	TaskID     string
	ActionType string
	Date       string
	Timestamp  time.Time
	ActorID    string
	Data       map[string]any
}

// Gateway is the persistence contract the engine mutates through. The store
// behind it owns authoritative version numbers; every update call must be
// atomic (single entity, single version check, single write) and every
// AppendAction must cover uniqueness check, event insert, and counter/version
// update in one transaction.
//
// Updates return *ConflictError when expectedVersion is stale and ErrNotFound
// for unknown ids; in both cases nothing is written.
type Gateway interface {
	FetchTopic(ctx context.Context, id string) (domain.Topic, error)
	FetchGoal(ctx context.Context, id string) (domain.Goal, error)
	FetchTask(ctx context.Context, id string) (domain.Task, error)

	UpdateTopic(ctx context.Context, id string, expectedVersion int, patch domain.TopicPatch, actorID string) (domain.Topic, error)
	UpdateGoal(ctx context.Context, id string, expectedVersion int, patch domain.GoalPatch, actorID string) (domain.Goal, error)
	UpdateTask(ctx context.Context, id string, expectedVersion int, patch domain.TaskPatch, actorID string) (domain.Task, error)

	// AppendAction returns the post-action task snapshot and the action id.
	AppendAction(ctx context.Context, in ActionInput) (domain.Task, string, error)
	// CancelCheckIn removes the check-in for the given day and restores the
	// pre-check-in counters exactly.
	CancelCheckIn(ctx context.Context, taskID, actorID, date string) (domain.Task, error)

	Restore(ctx context.Context, kind, id, actorID string) error
}

// RecordChecker is the slice of the record subsystem the completion guard needs.
type RecordChecker interface {
	HasRecord(ctx context.Context, taskID string) (bool, error)
}
