// Package store is the local cache facade over the persistence gateway.
// It mirrors the remote topic tree in memory, routes every mutation through
// the engine, and folds only gateway-confirmed snapshots back into the
// cache, so the cache never reflects a mutation the gateway rejected.
package store

import (
	"context"
	"sync"

	"studytrail/internal/domain"
	"studytrail/internal/engine"
	"studytrail/internal/gateway"
	"studytrail/internal/progress"
)

type Store struct {
	Engine  engine.Engine
	Gateway gateway.Store

	mu     sync.RWMutex
	topics []domain.Topic
}

func New(gw gateway.Store, eng engine.Engine) *Store {
	return &Store{Engine: eng, Gateway: gw}
}

// Refresh replaces the cached tree with the gateway's current state and
// recomputes all progress aggregates.
func (s *Store) Refresh(ctx context.Context) error {
	topics, err := s.Gateway.LoadTree(ctx, false)
	if err != nil {
		return err
	}
	for i := range topics {
		recomputeTopic(&topics[i])
	}
	s.mu.Lock()
	s.topics = topics
	s.mu.Unlock()
	return nil
}

// Topics returns a snapshot of the cached tree. Children are copied, so
// later folds never show through a snapshot a caller already holds.
func (s *Store) Topics() []domain.Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Topic, len(s.topics))
	for i, t := range s.topics {
		out[i] = cloneTopic(t)
	}
	return out
}

// Topic returns the cached topic by id.
func (s *Store) Topic(id string) (domain.Topic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.topics {
		if t.ID == id {
			return cloneTopic(t), true
		}
	}
	return domain.Topic{}, false
}

// Goal returns the cached goal by id.
func (s *Store) Goal(id string) (domain.Goal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.topics {
		for _, g := range t.Goals {
			if g.ID == id {
				return cloneGoal(g), true
			}
		}
	}
	return domain.Goal{}, false
}

// Task returns the cached task by id.
func (s *Store) Task(id string) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.topics {
		for _, g := range t.Goals {
			for _, task := range g.Tasks {
				if task.ID == id {
					return task, true
				}
			}
		}
	}
	return domain.Task{}, false
}

// CreateTopic persists a new topic and prepends it to the cache.
func (s *Store) CreateTopic(ctx context.Context, t domain.Topic, actorID string) (domain.Topic, error) {
	created, err := s.Gateway.CreateTopic(ctx, t, actorID)
	if err != nil {
		return domain.Topic{}, err
	}
	s.mu.Lock()
	s.topics = append([]domain.Topic{created}, s.topics...)
	s.mu.Unlock()
	return created, nil
}

// AddGoal persists a new goal and attaches it to the cached topic.
func (s *Store) AddGoal(ctx context.Context, g domain.Goal, actorID string) (domain.Goal, error) {
	created, err := s.Gateway.CreateGoal(ctx, g, actorID)
	if err != nil {
		return domain.Goal{}, err
	}
	s.mu.Lock()
	for i := range s.topics {
		if s.topics[i].ID == created.TopicID {
			s.topics[i].Goals = append(s.topics[i].Goals, created)
			recomputeTopic(&s.topics[i])
			break
		}
	}
	s.mu.Unlock()
	return created, nil
}

// AddTask persists a new task and attaches it to the cached goal.
func (s *Store) AddTask(ctx context.Context, t domain.Task, actorID string) (domain.Task, error) {
	created, err := s.Gateway.CreateTask(ctx, t, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	s.mu.Lock()
	for i := range s.topics {
		for j := range s.topics[i].Goals {
			if s.topics[i].Goals[j].ID == created.GoalID {
				s.topics[i].Goals[j].Tasks = append(s.topics[i].Goals[j].Tasks, created)
				recomputeTopic(&s.topics[i])
				s.mu.Unlock()
				return created, nil
			}
		}
	}
	s.mu.Unlock()
	return created, nil
}

// UpdateTopic applies a versioned patch and folds the result.
func (s *Store) UpdateTopic(ctx context.Context, id string, expectedVersion int, patch domain.TopicPatch, actorID string) (domain.Topic, error) {
	t, err := s.Engine.UpdateTopic(ctx, id, expectedVersion, patch, actorID)
	if err != nil {
		return domain.Topic{}, err
	}
	s.foldTopic(t)
	return t, nil
}

func (s *Store) UpdateTopicCompat(ctx context.Context, id string, patch domain.TopicPatch, actorID string) (domain.Topic, error) {
	t, err := s.Engine.UpdateTopicCompat(ctx, id, patch, actorID)
	if err != nil {
		return domain.Topic{}, err
	}
	s.foldTopic(t)
	return t, nil
}

// UpdateGoal applies a versioned patch and folds the result.
func (s *Store) UpdateGoal(ctx context.Context, id string, expectedVersion int, patch domain.GoalPatch, actorID string) (domain.Goal, error) {
	g, err := s.Engine.UpdateGoal(ctx, id, expectedVersion, patch, actorID)
	if err != nil {
		return domain.Goal{}, err
	}
	s.foldGoal(g)
	return g, nil
}

func (s *Store) UpdateGoalCompat(ctx context.Context, id string, patch domain.GoalPatch, actorID string) (domain.Goal, error) {
	g, err := s.Engine.UpdateGoalCompat(ctx, id, patch, actorID)
	if err != nil {
		return domain.Goal{}, err
	}
	s.foldGoal(g)
	return g, nil
}

// UpdateTask applies a versioned patch and folds the result.
func (s *Store) UpdateTask(ctx context.Context, id string, expectedVersion int, patch domain.TaskPatch, actorID string) (domain.Task, error) {
	t, err := s.Engine.UpdateTask(ctx, id, expectedVersion, patch, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	s.foldTask(t)
	return t, nil
}

func (s *Store) UpdateTaskCompat(ctx context.Context, id string, patch domain.TaskPatch, actorID string) (domain.Task, error) {
	t, err := s.Engine.UpdateTaskCompat(ctx, id, patch, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	s.foldTask(t)
	return t, nil
}

// MarkTaskDone completes a task through the engine's completion guard.
func (s *Store) MarkTaskDone(ctx context.Context, taskID string, expectedVersion int, actorID string, requireRecord bool) (domain.Task, error) {
	t, err := s.Engine.MarkTaskDone(ctx, taskID, expectedVersion, actorID, requireRecord)
	if err != nil {
		return domain.Task{}, err
	}
	s.foldTask(t)
	return t, nil
}

func (s *Store) MarkTaskDoneCompat(ctx context.Context, taskID, actorID string, requireRecord bool) (domain.Task, error) {
	t, err := s.Engine.MarkTaskDoneCompat(ctx, taskID, actorID, requireRecord)
	if err != nil {
		return domain.Task{}, err
	}
	s.foldTask(t)
	return t, nil
}

// PerformAction records an action and folds the gateway's post-action
// snapshot; counters are never computed client-side.
func (s *Store) PerformAction(ctx context.Context, taskID, actionType, actorID string, data map[string]any) (domain.Task, error) {
	t, err := s.Engine.PerformAction(ctx, taskID, actionType, actorID, data)
	if err != nil {
		return domain.Task{}, err
	}
	s.foldTask(t)
	return t, nil
}

func (s *Store) CancelTodayCheckIn(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	t, err := s.Engine.CancelTodayCheckIn(ctx, taskID, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	s.foldTask(t)
	return t, nil
}

// Archive soft-deletes an entity via a compat status update and drops it
// from the active cache.
func (s *Store) Archive(ctx context.Context, kind, id, actorID string) error {
	status := "archived"
	switch kind {
	case domain.KindTopic:
		if _, err := s.Engine.UpdateTopicCompat(ctx, id, domain.TopicPatch{Status: &status}, actorID); err != nil {
			return err
		}
	case domain.KindGoal:
		if _, err := s.Engine.UpdateGoalCompat(ctx, id, domain.GoalPatch{Status: &status}, actorID); err != nil {
			return err
		}
	case domain.KindTask:
		if _, err := s.Engine.UpdateTaskCompat(ctx, id, domain.TaskPatch{Status: &status}, actorID); err != nil {
			return err
		}
	default:
		return engine.ErrNotFound
	}
	s.drop(kind, id)
	return nil
}

// Restore brings an archived entity back and reloads the tree so it
// reappears in the cache.
func (s *Store) Restore(ctx context.Context, kind, id, actorID string) error {
	if err := s.Engine.Restore(ctx, kind, id, actorID); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// foldTopic replaces the cached topic record wholesale, keeping the cached
// children that the snapshot does not carry.
func (s *Store) foldTopic(t domain.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.topics {
		if s.topics[i].ID != t.ID {
			continue
		}
		t.Goals = s.topics[i].Goals
		s.topics[i] = t
		if domain.Archived(t.Status) {
			s.topics = append(s.topics[:i], s.topics[i+1:]...)
			return
		}
		recomputeTopic(&s.topics[i])
		return
	}
}

func (s *Store) foldGoal(g domain.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.topics {
		for j := range s.topics[i].Goals {
			if s.topics[i].Goals[j].ID != g.ID {
				continue
			}
			g.Tasks = s.topics[i].Goals[j].Tasks
			s.topics[i].Goals[j] = g
			if domain.Archived(g.Status) {
				s.topics[i].Goals = append(s.topics[i].Goals[:j], s.topics[i].Goals[j+1:]...)
			}
			recomputeTopic(&s.topics[i])
			return
		}
	}
}

func (s *Store) foldTask(t domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.topics {
		for j := range s.topics[i].Goals {
			for k := range s.topics[i].Goals[j].Tasks {
				if s.topics[i].Goals[j].Tasks[k].ID != t.ID {
					continue
				}
				if domain.Archived(t.Status) {
					tasks := s.topics[i].Goals[j].Tasks
					s.topics[i].Goals[j].Tasks = append(tasks[:k], tasks[k+1:]...)
				} else {
					s.topics[i].Goals[j].Tasks[k] = t
				}
				recomputeTopic(&s.topics[i])
				return
			}
		}
	}
}

func (s *Store) drop(kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case domain.KindTopic:
		for i := range s.topics {
			if s.topics[i].ID == id {
				s.topics = append(s.topics[:i], s.topics[i+1:]...)
				return
			}
		}
	case domain.KindGoal:
		for i := range s.topics {
			for j := range s.topics[i].Goals {
				if s.topics[i].Goals[j].ID == id {
					s.topics[i].Goals = append(s.topics[i].Goals[:j], s.topics[i].Goals[j+1:]...)
					recomputeTopic(&s.topics[i])
					return
				}
			}
		}
	case domain.KindTask:
		for i := range s.topics {
			for j := range s.topics[i].Goals {
				for k := range s.topics[i].Goals[j].Tasks {
					if s.topics[i].Goals[j].Tasks[k].ID == id {
						tasks := s.topics[i].Goals[j].Tasks
						s.topics[i].Goals[j].Tasks = append(tasks[:k], tasks[k+1:]...)
						recomputeTopic(&s.topics[i])
						return
					}
				}
			}
		}
	}
}

// cloneTopic copies the goal and task slices so folds, which write into the
// cache's backing arrays in place, cannot reach an issued snapshot.
func cloneTopic(t domain.Topic) domain.Topic {
	if t.Collaborators != nil {
		t.Collaborators = append([]domain.Collaborator(nil), t.Collaborators...)
	}
	if t.Goals != nil {
		goals := make([]domain.Goal, len(t.Goals))
		for i, g := range t.Goals {
			goals[i] = cloneGoal(g)
		}
		t.Goals = goals
	}
	return t
}

func cloneGoal(g domain.Goal) domain.Goal {
	if g.Collaborators != nil {
		g.Collaborators = append([]string(nil), g.Collaborators...)
	}
	if g.Tasks != nil {
		g.Tasks = append([]domain.Task(nil), g.Tasks...)
	}
	return g
}

func recomputeTopic(t *domain.Topic) {
	for i := range t.Goals {
		t.Goals[i].Progress = progress.GoalProgress(t.Goals[i])
	}
	t.Progress = progress.TopicProgress(*t)
}
