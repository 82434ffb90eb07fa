package progress_test

import (
	"testing"

	"studytrail/internal/domain"
	"studytrail/internal/progress"
)

func tasks(statuses ...string) []domain.Task {
	out := make([]domain.Task, len(statuses))
	for i, s := range statuses {
		out[i] = domain.Task{ID: string(rune('a' + i)), Status: s}
	}
	return out
}

func TestGoalProgress(t *testing.T) {
	cases := []struct {
		name string
		goal domain.Goal
		want int
	}{
		{"empty goal", domain.Goal{}, 0},
		{"one of four done", domain.Goal{Tasks: tasks("done", "todo", "todo", "in_progress")}, 25},
		{"all done", domain.Goal{Tasks: tasks("done", "done")}, 100},
		{"archived tasks excluded", domain.Goal{Tasks: tasks("done", "archived", "archived")}, 100},
		{"only archived tasks", domain.Goal{Tasks: tasks("archived")}, 0},
		{"one of three rounds up", domain.Goal{Tasks: tasks("done", "todo", "todo")}, 33},
		{"two of three rounds up", domain.Goal{Tasks: tasks("done", "done", "todo")}, 67},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := progress.GoalProgress(tc.goal); got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestTopicProgressPoolsTasks(t *testing.T) {
	// Pooled over tasks, not averaged over goals: 1 done of 5 tasks is 20.
	topic := domain.Topic{Goals: []domain.Goal{
		{Status: "todo", Tasks: tasks("done")},
		{Status: "todo", Tasks: tasks("todo", "todo", "todo", "todo")},
	}}
	if got := progress.TopicProgress(topic); got != 20 {
		t.Fatalf("got %d, want 20", got)
	}
}

func TestTopicProgressSkipsArchivedGoals(t *testing.T) {
	topic := domain.Topic{Goals: []domain.Goal{
		{Status: "archived", Tasks: tasks("todo", "todo")},
		{Status: "todo", Tasks: tasks("done")},
	}}
	if got := progress.TopicProgress(topic); got != 100 {
		t.Fatalf("got %d, want 100", got)
	}
}

func TestTopicProgressEmpty(t *testing.T) {
	if got := progress.TopicProgress(domain.Topic{}); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestTopicStats(t *testing.T) {
	topic := domain.Topic{Goals: []domain.Goal{
		{Status: "todo", Tasks: tasks("done", "todo")},
		{Status: "focus", Tasks: tasks("done")},
	}}
	done, total := progress.TopicStats(topic)
	if done != 2 || total != 3 {
		t.Fatalf("stats = %d/%d, want 2/3", done, total)
	}
}
