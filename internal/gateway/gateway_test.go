package gateway_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"studytrail/internal/db"
	"studytrail/internal/domain"
	"studytrail/internal/engine"
	"studytrail/internal/gateway"
	"studytrail/internal/migrate"
)

type testEnv struct {
	Store gateway.Store
	Ctx   context.Context
	Task  domain.Task
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := gateway.New(conn)
	st.Now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	topic, err := st.CreateTopic(ctx, domain.Topic{Title: "Spanish"}, "alice")
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	goal, err := st.CreateGoal(ctx, domain.Goal{TopicID: topic.ID, Title: "Vocabulary"}, "alice")
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	task, err := st.CreateTask(ctx, domain.Task{GoalID: goal.ID, Title: "Daily flashcards", TaskType: domain.TaskRecurringCount}, "alice")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return &testEnv{Store: st, Ctx: ctx, Task: task}
}

func (e *testEnv) checkIn(t *testing.T, date string) (domain.Task, error) {
	t.Helper()
	task, _, err := e.Store.AppendAction(e.Ctx, engine.ActionInput{
		TaskID:     e.Task.ID,
		ActionType: domain.ActionCheckIn,
		Date:       date,
		Timestamp:  time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		ActorID:    "alice",
	})
	return task, err
}

func (e *testEnv) action(t *testing.T, actionType string, data map[string]any) domain.Task {
	t.Helper()
	task, _, err := e.Store.AppendAction(e.Ctx, engine.ActionInput{
		TaskID:     e.Task.ID,
		ActionType: actionType,
		Date:       "2024-01-15",
		Timestamp:  time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		ActorID:    "alice",
		Data:       data,
	})
	if err != nil {
		t.Fatalf("%s: %v", actionType, err)
	}
	return task
}

func TestUpdateTaskBumpsVersion(t *testing.T) {
	env := newTestEnv(t)
	title := "Renamed"
	task, err := env.Store.UpdateTask(env.Ctx, env.Task.ID, 0, domain.TaskPatch{Title: &title}, "alice")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Version != 1 {
		t.Fatalf("version = %d, want 1", task.Version)
	}
	if task.Title != "Renamed" {
		t.Fatalf("title = %q", task.Title)
	}
}

func TestStaleUpdateLeavesRowUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.Ctx

	// Walk the task up to version 3.
	for i := 0; i < 3; i++ {
		title := "Edit"
		if _, err := env.Store.UpdateTask(ctx, env.Task.ID, i, domain.TaskPatch{Title: &title}, "alice"); err != nil {
			t.Fatalf("edit %d: %v", i, err)
		}
	}

	// Writer A lands at expected 3, moving the task to 4.
	titleA := "Writer A"
	if _, err := env.Store.UpdateTask(ctx, env.Task.ID, 3, domain.TaskPatch{Title: &titleA}, "alice"); err != nil {
		t.Fatalf("writer A: %v", err)
	}

	// Writer B still holds 3 and must see the current version in the error.
	titleB := "Writer B"
	_, err := env.Store.UpdateTask(ctx, env.Task.ID, 3, domain.TaskPatch{Title: &titleB}, "bob")
	var ce *engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConflictError, got %v", err)
	}
	if ce.Expected != 3 || ce.Current != 4 {
		t.Fatalf("conflict = expected %d current %d, want 3/4", ce.Expected, ce.Current)
	}

	task, err := env.Store.FetchTask(ctx, env.Task.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if task.Title != "Writer A" || task.Version != 4 {
		t.Fatalf("row changed by stale writer: title=%q version=%d", task.Title, task.Version)
	}
}

func TestUpdateMissingTask(t *testing.T) {
	env := newTestEnv(t)
	title := "x"
	_, err := env.Store.UpdateTask(env.Ctx, "nope", 0, domain.TaskPatch{Title: &title}, "alice")
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCheckInOncePerDay(t *testing.T) {
	env := newTestEnv(t)

	task, err := env.checkIn(t, "2024-01-15")
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if task.ProgressData.CheckInCount != 1 || task.ProgressData.CurrentStreak != 1 {
		t.Fatalf("progress = %+v", task.ProgressData)
	}

	if _, err := env.checkIn(t, "2024-01-15"); !errors.Is(err, engine.ErrDuplicateAction) {
		t.Fatalf("want ErrDuplicateAction, got %v", err)
	}

	// The rejected duplicate consumed nothing.
	fresh, err := env.Store.FetchTask(env.Ctx, env.Task.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fresh.ProgressData.CheckInCount != 1 || fresh.Version != task.Version {
		t.Fatalf("duplicate leaked: %+v version=%d", fresh.ProgressData, fresh.Version)
	}
}

func TestStreakProgression(t *testing.T) {
	env := newTestEnv(t)

	if task, _ := env.checkIn(t, "2024-01-15"); task.ProgressData.CurrentStreak != 1 {
		t.Fatalf("day 1 streak = %d", task.ProgressData.CurrentStreak)
	}
	if task, _ := env.checkIn(t, "2024-01-16"); task.ProgressData.CurrentStreak != 2 {
		t.Fatalf("day 2 streak = %d", task.ProgressData.CurrentStreak)
	}
	task, err := env.checkIn(t, "2024-01-19")
	if err != nil {
		t.Fatalf("check-in after gap: %v", err)
	}
	if task.ProgressData.CurrentStreak != 1 {
		t.Fatalf("streak after gap = %d, want 1", task.ProgressData.CurrentStreak)
	}
	if task.ProgressData.LongestStreak != 2 {
		t.Fatalf("longest streak = %d, want 2", task.ProgressData.LongestStreak)
	}
	if task.ProgressData.CheckInCount != 3 {
		t.Fatalf("check-in count = %d, want 3", task.ProgressData.CheckInCount)
	}
}

func TestCancelCheckInRestoresCounters(t *testing.T) {
	env := newTestEnv(t)

	env.action(t, domain.ActionAddCount, map[string]any{"count": float64(5)})
	before, err := env.Store.FetchTask(env.Ctx, env.Task.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if _, err := env.checkIn(t, "2024-01-15"); err != nil {
		t.Fatalf("check-in: %v", err)
	}

	task, err := env.Store.CancelCheckIn(env.Ctx, env.Task.ID, "alice", "2024-01-15")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if task.ProgressData != before.ProgressData {
		t.Fatalf("counters not restored: got %+v want %+v", task.ProgressData, before.ProgressData)
	}

	// Nothing left to cancel.
	if _, err := env.Store.CancelCheckIn(env.Ctx, env.Task.ID, "alice", "2024-01-15"); !errors.Is(err, engine.ErrNoCheckInToday) {
		t.Fatalf("want ErrNoCheckInToday, got %v", err)
	}

	// The day is free again.
	if _, err := env.checkIn(t, "2024-01-15"); err != nil {
		t.Fatalf("re-check-in after cancel: %v", err)
	}
}

func TestResetZeroesCounters(t *testing.T) {
	env := newTestEnv(t)

	env.action(t, domain.ActionAddCount, map[string]any{"count": float64(3)})
	env.action(t, domain.ActionAddAmount, map[string]any{"amount": 2.5})
	if _, err := env.checkIn(t, "2024-01-15"); err != nil {
		t.Fatalf("check-in: %v", err)
	}

	task := env.action(t, domain.ActionReset, nil)
	if task.ProgressData != (domain.ProgressData{}) {
		t.Fatalf("reset left counters: %+v", task.ProgressData)
	}

	// Prior events stay for audit.
	actions, err := env.Store.ListActions(env.Ctx, env.Task.ID, "", "")
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 4 {
		t.Fatalf("actions = %d, want 4", len(actions))
	}
}

func TestActionOnArchivedTask(t *testing.T) {
	env := newTestEnv(t)
	status := "archived"
	if _, err := env.Store.UpdateTask(env.Ctx, env.Task.ID, 0, domain.TaskPatch{Status: &status}, "alice"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := env.checkIn(t, "2024-01-15"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("want ErrNotFound on archived task, got %v", err)
	}
}

func TestRestoreRequiresArchived(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.Ctx

	if err := env.Store.Restore(ctx, domain.KindTask, env.Task.ID, "alice"); err == nil {
		t.Fatal("restore of an active task should fail")
	}

	status := "archived"
	if _, err := env.Store.UpdateTask(ctx, env.Task.ID, 0, domain.TaskPatch{Status: &status}, "alice"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := env.Store.Restore(ctx, domain.KindTask, env.Task.ID, "alice"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	task, err := env.Store.FetchTask(ctx, env.Task.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if task.Status != "todo" {
		t.Fatalf("status after restore = %q, want todo", task.Status)
	}
}

func TestLoadTreeExcludesArchived(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.Ctx

	status := "archived"
	if _, err := env.Store.UpdateTask(ctx, env.Task.ID, 0, domain.TaskPatch{Status: &status}, "alice"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	topics, err := env.Store.LoadTree(ctx, false)
	if err != nil {
		t.Fatalf("load tree: %v", err)
	}
	if len(topics) != 1 || len(topics[0].Goals) != 1 {
		t.Fatalf("tree shape: %d topics", len(topics))
	}
	if n := len(topics[0].Goals[0].Tasks); n != 0 {
		t.Fatalf("archived task visible: %d tasks", n)
	}

	topics, err = env.Store.LoadTree(ctx, true)
	if err != nil {
		t.Fatalf("load tree all: %v", err)
	}
	if n := len(topics[0].Goals[0].Tasks); n != 1 {
		t.Fatalf("archived task hidden with flag: %d tasks", n)
	}
}

func TestCollaborators(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.Ctx

	goal, err := env.Store.FetchGoal(ctx, env.Task.GoalID)
	if err != nil {
		t.Fatalf("fetch goal: %v", err)
	}
	if err := env.Store.InviteTopicCollaborator(ctx, goal.TopicID, "bob", "edit", "alice"); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if err := env.Store.InviteTopicCollaborator(ctx, goal.TopicID, "bob", "banana", "alice"); err == nil {
		t.Fatal("invalid permission accepted")
	}

	fetched, err := env.Store.FetchTopic(ctx, goal.TopicID)
	if err != nil {
		t.Fatalf("fetch topic: %v", err)
	}
	if len(fetched.Collaborators) != 1 || fetched.Collaborators[0].UserID != "bob" || fetched.Collaborators[0].Permission != "edit" {
		t.Fatalf("collaborators = %+v", fetched.Collaborators)
	}

	if err := env.Store.RemoveTopicCollaborator(ctx, goal.TopicID, "bob", "alice"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := env.Store.RemoveTopicCollaborator(ctx, goal.TopicID, "bob", "alice"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("want ErrNotFound on second remove, got %v", err)
	}
}

func TestEmptyPatchIsNoOp(t *testing.T) {
	env := newTestEnv(t)

	before, err := env.Store.LatestEventID(env.Ctx)
	if err != nil {
		t.Fatalf("latest event id: %v", err)
	}

	task, err := env.Store.UpdateTask(env.Ctx, env.Task.ID, 0, domain.TaskPatch{}, "alice")
	if err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if task.Version != 0 {
		t.Fatalf("version = %d, want 0", task.Version)
	}

	after, err := env.Store.LatestEventID(env.Ctx)
	if err != nil {
		t.Fatalf("latest event id: %v", err)
	}
	if after != before {
		t.Fatalf("empty patch appended an event: %d -> %d", before, after)
	}

	// A stale empty patch still reports the conflict.
	if _, err := env.Store.UpdateTask(env.Ctx, env.Task.ID, 7, domain.TaskPatch{}, "alice"); err == nil {
		t.Fatal("expected conflict for stale empty patch")
	}

	if _, err := env.Store.UpdateGoal(env.Ctx, env.Task.GoalID, 0, domain.GoalPatch{}, "alice"); err != nil {
		t.Fatalf("empty goal update: %v", err)
	}
	goal, err := env.Store.FetchGoal(env.Ctx, env.Task.GoalID)
	if err != nil {
		t.Fatalf("fetch goal: %v", err)
	}
	if goal.Version != 0 {
		t.Fatalf("goal version = %d, want 0", goal.Version)
	}
}
