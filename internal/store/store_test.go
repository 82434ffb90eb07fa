package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"studytrail/internal/config"
	"studytrail/internal/db"
	"studytrail/internal/domain"
	"studytrail/internal/engine"
	"studytrail/internal/gateway"
	"studytrail/internal/migrate"
	"studytrail/internal/records"
	"studytrail/internal/store"
)

type testEnv struct {
	Store *store.Store
	Ctx   context.Context
	Topic domain.Topic
	Goal  domain.Goal
	TaskA domain.Task
	TaskB domain.Task
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
	gw := gateway.New(conn)
	gw.Now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
	eng := engine.New(gw, records.New(conn), config.Default("ws-1"))
	eng.Now = gw.Now
	st := store.New(gw, eng)

	ctx := context.Background()
	topic, err := st.CreateTopic(ctx, domain.Topic{Title: "Math"}, "alice")
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	goal, err := st.AddGoal(ctx, domain.Goal{TopicID: topic.ID, Title: "Algebra"}, "alice")
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	taskA, err := st.AddTask(ctx, domain.Task{GoalID: goal.ID, Title: "Chapter 1"}, "alice")
	if err != nil {
		t.Fatalf("create task a: %v", err)
	}
	taskB, err := st.AddTask(ctx, domain.Task{GoalID: goal.ID, Title: "Chapter 2"}, "alice")
	if err != nil {
		t.Fatalf("create task b: %v", err)
	}
	return &testEnv{Store: st, Ctx: ctx, Topic: topic, Goal: goal, TaskA: taskA, TaskB: taskB}
}

func TestRefreshPopulatesTree(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Store.Refresh(env.Ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	topics := env.Store.Topics()
	if len(topics) != 1 {
		t.Fatalf("topics = %d", len(topics))
	}
	if len(topics[0].Goals) != 1 || len(topics[0].Goals[0].Tasks) != 2 {
		t.Fatalf("tree shape: %+v", topics[0])
	}
	if topics[0].Progress != 0 {
		t.Fatalf("progress = %d, want 0", topics[0].Progress)
	}
}

func TestFoldRecomputesProgress(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.Store.MarkTaskDone(env.Ctx, env.TaskA.ID, 0, "alice", false); err != nil {
		t.Fatalf("done: %v", err)
	}

	topic, ok := env.Store.Topic(env.Topic.ID)
	if !ok {
		t.Fatal("topic gone from cache")
	}
	if topic.Progress != 50 {
		t.Fatalf("topic progress = %d, want 50", topic.Progress)
	}
	goal, _ := env.Store.Goal(env.Goal.ID)
	if goal.Progress != 50 {
		t.Fatalf("goal progress = %d, want 50", goal.Progress)
	}
	task, _ := env.Store.Task(env.TaskA.ID)
	if task.Status != "done" || task.Version != 1 {
		t.Fatalf("cached task = %+v", task)
	}
}

func TestConflictLeavesCacheUntouched(t *testing.T) {
	env := newTestEnv(t)

	title := "First"
	if _, err := env.Store.UpdateTask(env.Ctx, env.TaskA.ID, 0, domain.TaskPatch{Title: &title}, "alice"); err != nil {
		t.Fatalf("update: %v", err)
	}

	stale := "Stale"
	_, err := env.Store.UpdateTask(env.Ctx, env.TaskA.ID, 0, domain.TaskPatch{Title: &stale}, "bob")
	var ce *engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConflictError, got %v", err)
	}
	task, _ := env.Store.Task(env.TaskA.ID)
	if task.Title != "First" || task.Version != 1 {
		t.Fatalf("cache reflects rejected write: %+v", task)
	}
}

func TestFoldGoalPreservesTasks(t *testing.T) {
	env := newTestEnv(t)

	title := "Algebra II"
	if _, err := env.Store.UpdateGoal(env.Ctx, env.Goal.ID, 0, domain.GoalPatch{Title: &title}, "alice"); err != nil {
		t.Fatalf("update goal: %v", err)
	}
	goal, ok := env.Store.Goal(env.Goal.ID)
	if !ok {
		t.Fatal("goal gone from cache")
	}
	if goal.Title != "Algebra II" {
		t.Fatalf("title = %q", goal.Title)
	}
	if len(goal.Tasks) != 2 {
		t.Fatalf("fold dropped children: %d tasks", len(goal.Tasks))
	}
}

func TestArchiveDropsFromCache(t *testing.T) {
	env := newTestEnv(t)

	if err := env.Store.Archive(env.Ctx, domain.KindTask, env.TaskA.ID, "alice"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, ok := env.Store.Task(env.TaskA.ID); ok {
		t.Fatal("archived task still cached")
	}
	if _, ok := env.Store.Task(env.TaskB.ID); !ok {
		t.Fatal("sibling task dropped")
	}

	if err := env.Store.Restore(env.Ctx, domain.KindTask, env.TaskA.ID, "alice"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, ok := env.Store.Task(env.TaskA.ID); !ok {
		t.Fatal("restored task not back in cache")
	}
}

func TestActionFoldsGatewaySnapshot(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.Store.PerformAction(env.Ctx, env.TaskA.ID, domain.ActionAddCount, "alice", map[string]any{"count": float64(4)}); err != nil {
		t.Fatalf("action: %v", err)
	}
	task, _ := env.Store.Task(env.TaskA.ID)
	if task.ProgressData.CurrentCount != 4 {
		t.Fatalf("cached count = %d, want 4", task.ProgressData.CurrentCount)
	}
}

func TestSnapshotsAreIsolatedFromFolds(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Store.Refresh(env.Ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	snapshot, ok := env.Store.Topic(env.Topic.ID)
	if !ok {
		t.Fatal("topic missing")
	}
	listed := env.Store.Topics()

	title := "Renamed chapter"
	if _, err := env.Store.UpdateTask(env.Ctx, env.TaskA.ID, 0, domain.TaskPatch{Title: &title}, "alice"); err != nil {
		t.Fatalf("update: %v", err)
	}

	if got := snapshot.Goals[0].Tasks[0].Title; got != "Chapter 1" {
		t.Fatalf("fold leaked into snapshot: %q", got)
	}
	if got := listed[0].Goals[0].Tasks[0].Title; got != "Chapter 1" {
		t.Fatalf("fold leaked into listed tree: %q", got)
	}

	fresh, _ := env.Store.Task(env.TaskA.ID)
	if fresh.Title != "Renamed chapter" {
		t.Fatalf("cache missed the fold: %q", fresh.Title)
	}
}
