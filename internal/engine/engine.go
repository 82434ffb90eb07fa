package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"studytrail/internal/config"
	"studytrail/internal/domain"
)

// Engine is the versioned mutation core: it applies optimistic-concurrency
// patches, records idempotent daily actions, and enforces the completion
// guard. All persistence goes through the injected Gateway.
type Engine struct {
	Gateway Gateway
	Records RecordChecker
	Config  *config.Config
	Now     func() time.Time
	Log     zerolog.Logger
}

func New(gw Gateway, rec RecordChecker, cfg *config.Config) Engine {
	return Engine{
		Gateway: gw,
		Records: rec,
		Config:  cfg,
		Now:     time.Now,
		Log:     zerolog.Nop(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Today returns the current calendar day in the workspace timezone. This is
// the idempotency key for check-ins.
func (e Engine) Today() string {
	return e.now().In(e.Config.Location()).Format("2006-01-02")
}

func (e Engine) conflictRetries() int {
	if e.Config != nil && e.Config.Retry.ConflictRetries > 0 {
		return e.Config.Retry.ConflictRetries
	}
	return 1
}

// RequireRecordDefault is the workspace default for the completion guard.
func (e Engine) RequireRecordDefault() bool {
	return e.Config != nil && e.Config.Completion.RequireRecord
}

// UpdateTopic applies a sparse patch if expectedVersion matches the store.
func (e Engine) UpdateTopic(ctx context.Context, id string, expectedVersion int, patch domain.TopicPatch, actorID string) (domain.Topic, error) {
	if patch.Status != nil && !validStatus(domain.KindTopic, *patch.Status) {
		return domain.Topic{}, fmt.Errorf("invalid topic status %q", *patch.Status)
	}
	t, err := e.Gateway.UpdateTopic(ctx, id, expectedVersion, patch, actorID)
	if err != nil {
		return domain.Topic{}, err
	}
	e.Log.Debug().Str("topic", id).Int("version", t.Version).Msg("topic updated")
	return t, nil
}

// UpdateGoal applies a sparse patch if expectedVersion matches the store.
func (e Engine) UpdateGoal(ctx context.Context, id string, expectedVersion int, patch domain.GoalPatch, actorID string) (domain.Goal, error) {
	if patch.Status != nil && !validStatus(domain.KindGoal, *patch.Status) {
		return domain.Goal{}, fmt.Errorf("invalid goal status %q", *patch.Status)
	}
	g, err := e.Gateway.UpdateGoal(ctx, id, expectedVersion, patch, actorID)
	if err != nil {
		return domain.Goal{}, err
	}
	e.Log.Debug().Str("goal", id).Int("version", g.Version).Msg("goal updated")
	return g, nil
}

// UpdateTask applies a sparse patch if expectedVersion matches the store.
// Status side effects are computed here, not left to the caller: done fills
// completed_at/completed_by unless the patch supplies them, any other status
// clears both.
func (e Engine) UpdateTask(ctx context.Context, id string, expectedVersion int, patch domain.TaskPatch, actorID string) (domain.Task, error) {
	if patch.Status != nil {
		if !validStatus(domain.KindTask, *patch.Status) {
			return domain.Task{}, fmt.Errorf("invalid task status %q", *patch.Status)
		}
		if *patch.Status == "done" {
			if patch.CompletedAt == nil {
				ts := e.now().UTC().Format(time.RFC3339)
				patch.CompletedAt = &ts
			}
			if patch.CompletedBy == nil {
				patch.CompletedBy = &actorID
			}
		} else {
			patch.CompletedAt = nil
			patch.CompletedBy = nil
			patch.ClearCompleted = true
		}
	}
	t, err := e.Gateway.UpdateTask(ctx, id, expectedVersion, patch, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	e.Log.Debug().Str("task", id).Int("version", t.Version).Str("status", t.Status).Msg("task updated")
	return t, nil
}

// MarkTaskDone completes a task. With requireRecord set it refuses with
// ErrRecordRequired when no learning record exists; the refusal happens
// before the gateway is touched, so no version is consumed.
func (e Engine) MarkTaskDone(ctx context.Context, taskID string, expectedVersion int, actorID string, requireRecord bool) (domain.Task, error) {
	if requireRecord {
		if e.Records == nil {
			return domain.Task{}, errors.New("record checker not configured")
		}
		has, err := e.Records.HasRecord(ctx, taskID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("check task record: %w", err)
		}
		if !has {
			return domain.Task{}, ErrRecordRequired
		}
	}
	status := "done"
	return e.UpdateTask(ctx, taskID, expectedVersion, domain.TaskPatch{Status: &status}, actorID)
}

func (e Engine) MarkTaskInProgress(ctx context.Context, taskID string, expectedVersion int, actorID string) (domain.Task, error) {
	status := "in_progress"
	return e.UpdateTask(ctx, taskID, expectedVersion, domain.TaskPatch{Status: &status}, actorID)
}

func (e Engine) MarkTaskTodo(ctx context.Context, taskID string, expectedVersion int, actorID string) (domain.Task, error) {
	status := "todo"
	return e.UpdateTask(ctx, taskID, expectedVersion, domain.TaskPatch{Status: &status}, actorID)
}

// PerformAction appends a date-scoped action event and returns the gateway's
// post-action task snapshot. check_in is limited to once per task per day;
// add_count/add_amount are unlimited; reset zeroes the counters while keeping
// prior events for audit.
func (e Engine) PerformAction(ctx context.Context, taskID, actionType, actorID string, data map[string]any) (domain.Task, error) {
	if data == nil {
		data = map[string]any{}
	}
	switch actionType {
	case domain.ActionCheckIn, domain.ActionReset:
	case domain.ActionAddCount:
		if v, ok := numeric(data["count"]); !ok {
			data["count"] = float64(1)
		} else if v <= 0 {
			return domain.Task{}, fmt.Errorf("add_count requires a positive count")
		}
	case domain.ActionAddAmount:
		if v, ok := numeric(data["amount"]); !ok || v <= 0 {
			return domain.Task{}, fmt.Errorf("add_amount requires a positive amount")
		}
	default:
		return domain.Task{}, fmt.Errorf("unknown action type %q", actionType)
	}
	task, actionID, err := e.Gateway.AppendAction(ctx, ActionInput{
		TaskID:     taskID,
		ActionType: actionType,
		Date:       e.Today(),
		Timestamp:  e.now(),
		ActorID:    actorID,
		Data:       data,
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.Log.Debug().Str("task", taskID).Str("action", actionType).Str("action_id", actionID).Msg("action recorded")
	return task, nil
}

func (e Engine) CheckIn(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.PerformAction(ctx, taskID, domain.ActionCheckIn, actorID, nil)
}

func (e Engine) AddCount(ctx context.Context, taskID, actorID string, count int) (domain.Task, error) {
	return e.PerformAction(ctx, taskID, domain.ActionAddCount, actorID, map[string]any{"count": float64(count)})
}

func (e Engine) AddAmount(ctx context.Context, taskID, actorID string, amount float64, unit string) (domain.Task, error) {
	data := map[string]any{"amount": amount}
	if unit != "" {
		data["unit"] = unit
	}
	return e.PerformAction(ctx, taskID, domain.ActionAddAmount, actorID, data)
}

func (e Engine) ResetProgress(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.PerformAction(ctx, taskID, domain.ActionReset, actorID, nil)
}

// CancelTodayCheckIn removes today's check-in and restores the pre-check-in
// counters exactly. ErrNoCheckInToday when there is nothing to cancel.
func (e Engine) CancelTodayCheckIn(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	task, err := e.Gateway.CancelCheckIn(ctx, taskID, actorID, e.Today())
	if err != nil {
		return domain.Task{}, err
	}
	e.Log.Debug().Str("task", taskID).Msg("check-in cancelled")
	return task, nil
}

// Restore transitions an archived entity back to its default active status.
func (e Engine) Restore(ctx context.Context, kind, id, actorID string) error {
	switch kind {
	case domain.KindTopic, domain.KindGoal, domain.KindTask:
	default:
		return fmt.Errorf("unknown entity kind %q", kind)
	}
	return e.Gateway.Restore(ctx, kind, id, actorID)
}

func validStatus(kind, status string) bool {
	switch kind {
	case domain.KindTopic:
		return status == "active" || status == "archived"
	case domain.KindGoal:
		return status == "todo" || status == "focus" || status == "done" || status == "archived"
	case domain.KindTask:
		return status == "todo" || status == "in_progress" || status == "done" || status == "archived"
	}
	return false
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
