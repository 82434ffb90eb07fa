package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"studytrail/internal/config"
	"studytrail/internal/domain"
	"studytrail/internal/engine"
)

// fakeGateway holds one task and simulates version checks so conflict and
// retry behavior can be tested without a database.
type fakeGateway struct {
	task        domain.Task
	updateCalls int
	actions     []engine.ActionInput
	// conflictUntil makes UpdateTask fail with a ConflictError for the
	// first N calls regardless of the expected version.
	conflictUntil int
}

func (f *fakeGateway) FetchTopic(ctx context.Context, id string) (domain.Topic, error) {
	return domain.Topic{}, engine.ErrNotFound
}

func (f *fakeGateway) FetchGoal(ctx context.Context, id string) (domain.Goal, error) {
	return domain.Goal{}, engine.ErrNotFound
}

func (f *fakeGateway) FetchTask(ctx context.Context, id string) (domain.Task, error) {
	if id != f.task.ID {
		return domain.Task{}, engine.ErrNotFound
	}
	return f.task, nil
}

func (f *fakeGateway) UpdateTopic(ctx context.Context, id string, expectedVersion int, patch domain.TopicPatch, actorID string) (domain.Topic, error) {
	return domain.Topic{}, engine.ErrNotFound
}

func (f *fakeGateway) UpdateGoal(ctx context.Context, id string, expectedVersion int, patch domain.GoalPatch, actorID string) (domain.Goal, error) {
	return domain.Goal{}, engine.ErrNotFound
}

func (f *fakeGateway) UpdateTask(ctx context.Context, id string, expectedVersion int, patch domain.TaskPatch, actorID string) (domain.Task, error) {
	f.updateCalls++
	if id != f.task.ID {
		return domain.Task{}, engine.ErrNotFound
	}
	if f.conflictUntil > 0 {
		f.conflictUntil--
		f.task.Version++
		return domain.Task{}, &engine.ConflictError{Expected: expectedVersion, Current: f.task.Version}
	}
	if expectedVersion != f.task.Version {
		return domain.Task{}, &engine.ConflictError{Expected: expectedVersion, Current: f.task.Version}
	}
	if patch.Title != nil {
		f.task.Title = *patch.Title
	}
	if patch.Status != nil {
		f.task.Status = *patch.Status
	}
	if patch.ClearCompleted {
		f.task.CompletedAt = nil
		f.task.CompletedBy = nil
	}
	if patch.CompletedAt != nil {
		f.task.CompletedAt = patch.CompletedAt
	}
	if patch.CompletedBy != nil {
		f.task.CompletedBy = patch.CompletedBy
	}
	f.task.Version++
	return f.task, nil
}

func (f *fakeGateway) AppendAction(ctx context.Context, in engine.ActionInput) (domain.Task, string, error) {
	if in.TaskID != f.task.ID {
		return domain.Task{}, "", engine.ErrNotFound
	}
	f.actions = append(f.actions, in)
	f.task.Version++
	return f.task, "action-1", nil
}

func (f *fakeGateway) CancelCheckIn(ctx context.Context, taskID, actorID, date string) (domain.Task, error) {
	if taskID != f.task.ID {
		return domain.Task{}, engine.ErrNotFound
	}
	return f.task, nil
}

func (f *fakeGateway) Restore(ctx context.Context, kind, id, actorID string) error {
	return nil
}

type fakeRecords struct{ has bool }

func (f fakeRecords) HasRecord(ctx context.Context, taskID string) (bool, error) {
	return f.has, nil
}

func newTestEngine(gw *fakeGateway, hasRecord bool) engine.Engine {
	cfg := config.Default("ws-1")
	eng := engine.New(gw, fakeRecords{has: hasRecord}, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC) }
	return eng
}

func newFakeTask() *fakeGateway {
	return &fakeGateway{task: domain.Task{
		ID:      "t1",
		GoalID:  "g1",
		Title:   "Read chapter",
		Status:  "todo",
		Version: 3,
	}}
}

func TestUpdateTaskStaleVersionConflict(t *testing.T) {
	gw := newFakeTask()
	eng := newTestEngine(gw, true)
	title := "New title"

	_, err := eng.UpdateTask(context.Background(), "t1", 2, domain.TaskPatch{Title: &title}, "alice")
	var ce *engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConflictError, got %v", err)
	}
	if ce.Current != 3 {
		t.Fatalf("conflict current = %d, want 3", ce.Current)
	}
	if gw.task.Title != "Read chapter" {
		t.Fatalf("title changed on conflict: %q", gw.task.Title)
	}
}

func TestUpdateTaskMatchingVersionBumps(t *testing.T) {
	gw := newFakeTask()
	eng := newTestEngine(gw, true)
	title := "New title"

	task, err := eng.UpdateTask(context.Background(), "t1", 3, domain.TaskPatch{Title: &title}, "alice")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Version != 4 {
		t.Fatalf("version = %d, want 4", task.Version)
	}
	if task.Title != "New title" {
		t.Fatalf("title = %q", task.Title)
	}
}

func TestUpdateTaskDoneFillsCompletion(t *testing.T) {
	gw := newFakeTask()
	eng := newTestEngine(gw, true)
	status := "done"

	task, err := eng.UpdateTask(context.Background(), "t1", 3, domain.TaskPatch{Status: &status}, "alice")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.CompletedAt == nil || *task.CompletedAt != "2024-03-10T09:00:00Z" {
		t.Fatalf("completed_at = %v", task.CompletedAt)
	}
	if task.CompletedBy == nil || *task.CompletedBy != "alice" {
		t.Fatalf("completed_by = %v", task.CompletedBy)
	}

	// Leaving done clears both.
	status = "todo"
	task, err = eng.UpdateTask(context.Background(), "t1", 4, domain.TaskPatch{Status: &status}, "alice")
	if err != nil {
		t.Fatalf("update back: %v", err)
	}
	if task.CompletedAt != nil || task.CompletedBy != nil {
		t.Fatalf("completion not cleared: %v %v", task.CompletedAt, task.CompletedBy)
	}
}

func TestUpdateTaskRejectsUnknownStatus(t *testing.T) {
	gw := newFakeTask()
	eng := newTestEngine(gw, true)
	status := "paused"
	if _, err := eng.UpdateTask(context.Background(), "t1", 3, domain.TaskPatch{Status: &status}, "alice"); err == nil {
		t.Fatal("expected invalid status error")
	}
	if gw.updateCalls != 0 {
		t.Fatalf("gateway called %d times for invalid status", gw.updateCalls)
	}
}

func TestMarkTaskDoneRequiresRecord(t *testing.T) {
	gw := newFakeTask()
	eng := newTestEngine(gw, false)

	_, err := eng.MarkTaskDone(context.Background(), "t1", 3, "alice", true)
	if !errors.Is(err, engine.ErrRecordRequired) {
		t.Fatalf("want ErrRecordRequired, got %v", err)
	}
	// The guard fires before the gateway: no version consumed.
	if gw.updateCalls != 0 {
		t.Fatalf("gateway touched %d times despite guard", gw.updateCalls)
	}
	if gw.task.Version != 3 {
		t.Fatalf("version moved to %d", gw.task.Version)
	}
}

func TestMarkTaskDoneWithRecord(t *testing.T) {
	gw := newFakeTask()
	eng := newTestEngine(gw, true)

	task, err := eng.MarkTaskDone(context.Background(), "t1", 3, "alice", true)
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if task.Status != "done" || task.Version != 4 {
		t.Fatalf("status=%s version=%d", task.Status, task.Version)
	}
}

func TestMarkTaskDoneSkipGuard(t *testing.T) {
	gw := newFakeTask()
	eng := newTestEngine(gw, false)
	if _, err := eng.MarkTaskDone(context.Background(), "t1", 3, "alice", false); err != nil {
		t.Fatalf("done without guard: %v", err)
	}
}

func TestCompatRetriesOnceAfterConflict(t *testing.T) {
	gw := newFakeTask()
	gw.conflictUntil = 1
	eng := newTestEngine(gw, true)
	title := "Retried"

	task, err := eng.UpdateTaskCompat(context.Background(), "t1", domain.TaskPatch{Title: &title}, "alice")
	if err != nil {
		t.Fatalf("compat update: %v", err)
	}
	if task.Title != "Retried" {
		t.Fatalf("title = %q", task.Title)
	}
	if gw.updateCalls != 2 {
		t.Fatalf("update calls = %d, want 2", gw.updateCalls)
	}
}

func TestCompatSurfacesSecondConflict(t *testing.T) {
	gw := newFakeTask()
	gw.conflictUntil = 2
	eng := newTestEngine(gw, true)
	title := "Never lands"

	_, err := eng.UpdateTaskCompat(context.Background(), "t1", domain.TaskPatch{Title: &title}, "alice")
	var ce *engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConflictError after retry budget, got %v", err)
	}
	if gw.updateCalls != 2 {
		t.Fatalf("update calls = %d, want 2", gw.updateCalls)
	}
}

func TestCompatDoesNotRetryOtherErrors(t *testing.T) {
	gw := newFakeTask()
	eng := newTestEngine(gw, true)
	title := "x"
	_, err := eng.UpdateTaskCompat(context.Background(), "missing", domain.TaskPatch{Title: &title}, "alice")
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if gw.updateCalls != 0 {
		t.Fatalf("update retried a not-found fetch")
	}
}

func TestPerformActionDefaultsAndValidation(t *testing.T) {
	gw := newFakeTask()
	eng := newTestEngine(gw, true)
	ctx := context.Background()

	if _, err := eng.PerformAction(ctx, "t1", "sprint", "alice", nil); err == nil {
		t.Fatal("expected unknown action type error")
	}
	if _, err := eng.AddAmount(ctx, "t1", "alice", 0, "pages"); err == nil {
		t.Fatal("expected positive amount error")
	}
	if _, err := eng.AddCount(ctx, "t1", "alice", -2); err == nil {
		t.Fatal("expected positive count error")
	}
	if len(gw.actions) != 0 {
		t.Fatalf("rejected actions reached the gateway: %d", len(gw.actions))
	}

	if _, err := eng.PerformAction(ctx, "t1", domain.ActionAddCount, "alice", nil); err != nil {
		t.Fatalf("add_count: %v", err)
	}
	got := gw.actions[len(gw.actions)-1]
	if got.Data["count"] != float64(1) {
		t.Fatalf("count default = %v, want 1", got.Data["count"])
	}
	if got.Date != "2024-03-10" {
		t.Fatalf("action date = %q", got.Date)
	}
}

func TestTodayUsesWorkspaceTimezone(t *testing.T) {
	if _, err := time.LoadLocation("America/New_York"); err != nil {
		t.Skip("tzdata unavailable")
	}
	gw := newFakeTask()
	eng := newTestEngine(gw, true)
	// 2024-03-10 01:00 UTC is still 2024-03-09 in New York.
	eng.Now = func() time.Time { return time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC) }
	eng.Config.Workspace.Timezone = "America/New_York"
	if got := eng.Today(); got != "2024-03-09" {
		t.Fatalf("Today() = %q, want 2024-03-09", got)
	}
}

func TestRestoreRejectsUnknownKind(t *testing.T) {
	gw := newFakeTask()
	eng := newTestEngine(gw, true)
	if err := eng.Restore(context.Background(), "note", "t1", "alice"); err == nil {
		t.Fatal("expected unknown kind error")
	}
}
