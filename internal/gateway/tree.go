package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"studytrail/internal/domain"
	"studytrail/internal/engine"
	"studytrail/internal/events"
)

// CreateTopic inserts a topic with version 0 and default status.
func (s Store) CreateTopic(ctx context.Context, t domain.Topic, actorID string) (domain.Topic, error) {
	if t.Title == "" {
		return domain.Topic{}, fmt.Errorf("title is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = "active"
	}
	if t.OwnerID == "" {
		t.OwnerID = actorID
	}
	now := s.now().UTC().Format(time.RFC3339)
	t.CreatedAt, t.UpdatedAt = now, now
	t.Version = 0

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Topic{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO topics(id,title,subject,description,status,owner_id,is_collaborative,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Subject), nullable(t.Description), t.Status, t.OwnerID, t.IsCollaborative, t.Version, t.CreatedAt, t.UpdatedAt); err != nil {
		return domain.Topic{}, fmt.Errorf("insert topic: %w", err)
	}
	if err := s.writer().Append(ctx, tx, "topic.created", domain.KindTopic, t.ID, actorID, events.EventPayload{"title": t.Title}); err != nil {
		return domain.Topic{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Topic{}, err
	}
	return t, nil
}

// CreateGoal inserts a goal under a topic with version 0 and default status.
func (s Store) CreateGoal(ctx context.Context, g domain.Goal, actorID string) (domain.Goal, error) {
	if g.Title == "" {
		return domain.Goal{}, fmt.Errorf("title is required")
	}
	if g.TopicID == "" {
		return domain.Goal{}, fmt.Errorf("topic is required")
	}
	if _, err := s.FetchTopic(ctx, g.TopicID); err != nil {
		return domain.Goal{}, err
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = "todo"
	}
	if g.Priority == "" {
		g.Priority = "medium"
	}
	now := s.now().UTC().Format(time.RFC3339)
	g.CreatedAt, g.UpdatedAt = now, now
	g.Version = 0

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Goal{}, err
	}
	defer tx.Rollback()
	var owner any
	if g.OwnerID != nil {
		owner = *g.OwnerID
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO goals(id,topic_id,title,description,status,priority,order_index,owner_id,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.TopicID, g.Title, nullable(g.Description), g.Status, g.Priority, g.OrderIndex, owner, g.Version, g.CreatedAt, g.UpdatedAt); err != nil {
		return domain.Goal{}, fmt.Errorf("insert goal: %w", err)
	}
	if err := s.writer().Append(ctx, tx, "goal.created", domain.KindGoal, g.ID, actorID, events.EventPayload{"title": g.Title, "topic_id": g.TopicID}); err != nil {
		return domain.Goal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Goal{}, err
	}
	return g, nil
}

// CreateTask inserts a task under a goal with version 0, default status, and
// a zeroed progress block.
func (s Store) CreateTask(ctx context.Context, t domain.Task, actorID string) (domain.Task, error) {
	if t.Title == "" {
		return domain.Task{}, fmt.Errorf("title is required")
	}
	if t.GoalID == "" {
		return domain.Task{}, fmt.Errorf("goal is required")
	}
	if _, err := s.FetchGoal(ctx, t.GoalID); err != nil {
		return domain.Task{}, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = "todo"
	}
	if t.Priority == "" {
		t.Priority = "medium"
	}
	if t.TaskType == "" {
		t.TaskType = domain.TaskSingle
	}
	if t.OwnerID == "" {
		t.OwnerID = actorID
	}
	now := s.now().UTC().Format(time.RFC3339)
	t.CreatedAt, t.UpdatedAt = now, now
	t.Version = 0
	t.ProgressData = domain.ProgressData{}

	cfgJSON, err := json.Marshal(t.TaskConfig)
	if err != nil {
		return domain.Task{}, fmt.Errorf("marshal task config: %w", err)
	}
	progJSON, _ := json.Marshal(t.ProgressData)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks(id,goal_id,title,description,status,priority,order_index,owner_id,task_type,task_config_json,progress_data_json,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.GoalID, t.Title, nullable(t.Description), t.Status, t.Priority, t.OrderIndex, t.OwnerID, t.TaskType, string(cfgJSON), string(progJSON), t.Version, t.CreatedAt, t.UpdatedAt); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := s.writer().Append(ctx, tx, "task.created", domain.KindTask, t.ID, actorID, events.EventPayload{"title": t.Title, "goal_id": t.GoalID}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// LoadTree returns topics with their goals and tasks nested. Archived
// entities are excluded unless includeArchived is set.
func (s Store) LoadTree(ctx context.Context, includeArchived bool) ([]domain.Topic, error) {
	filter := ` WHERE status!='archived'`
	if includeArchived {
		filter = ``
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+topicCols+` FROM topics`+filter+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var topics []domain.Topic
	for rows.Next() {
		var t domain.Topic
		if err := rows.Scan(&t.ID, &t.Title, &t.Subject, &t.Description, &t.Status, &t.OwnerID, &t.IsCollaborative, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range topics {
		collabs, err := s.listTopicCollaborators(ctx, s.DB, topics[i].ID)
		if err != nil {
			return nil, err
		}
		topics[i].Collaborators = collabs
		goals, err := s.goalsForTopic(ctx, topics[i].ID, includeArchived)
		if err != nil {
			return nil, err
		}
		topics[i].Goals = goals
	}
	return topics, nil
}

func (s Store) goalsForTopic(ctx context.Context, topicID string, includeArchived bool) ([]domain.Goal, error) {
	query := `SELECT ` + goalCols + ` FROM goals WHERE topic_id=?`
	if !includeArchived {
		query += ` AND status!='archived'`
	}
	query += ` ORDER BY order_index ASC, created_at ASC`
	rows, err := s.DB.QueryContext(ctx, query, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var goals []domain.Goal
	for rows.Next() {
		g, err := scanGoalRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range goals {
		tasks, err := s.tasksForGoal(ctx, goals[i].ID, includeArchived)
		if err != nil {
			return nil, err
		}
		goals[i].Tasks = tasks
	}
	return goals, nil
}

func (s Store) tasksForGoal(ctx context.Context, goalID string, includeArchived bool) ([]domain.Task, error) {
	query := `SELECT ` + taskCols + ` FROM tasks WHERE goal_id=?`
	if !includeArchived {
		query += ` AND status!='archived'`
	}
	query += ` ORDER BY order_index ASC, created_at ASC`
	rows, err := s.DB.QueryContext(ctx, query, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// InviteTopicCollaborator grants view or edit capability; ownership never moves.
func (s Store) InviteTopicCollaborator(ctx context.Context, topicID, userID, permission, actorID string) error {
	if permission != "view" && permission != "edit" {
		return fmt.Errorf("invalid permission %q", permission)
	}
	if _, err := s.FetchTopic(ctx, topicID); err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO topic_collaborators(topic_id,user_id,permission) VALUES (?,?,?) ON CONFLICT(topic_id,user_id) DO UPDATE SET permission=excluded.permission`,
		topicID, userID, permission); err != nil {
		return fmt.Errorf("invite collaborator: %w", err)
	}
	if err := s.writer().Append(ctx, tx, "topic.collaborator.invited", domain.KindTopic, topicID, actorID,
		events.EventPayload{"user_id": userID, "permission": permission}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s Store) RemoveTopicCollaborator(ctx context.Context, topicID, userID, actorID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM topic_collaborators WHERE topic_id=? AND user_id=?`, topicID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrNotFound
	}
	if err := s.writer().Append(ctx, tx, "topic.collaborator.removed", domain.KindTopic, topicID, actorID,
		events.EventPayload{"user_id": userID}); err != nil {
		return err
	}
	return tx.Commit()
}

// SetGoalOwner reassigns responsibility for a goal. Last write wins: owner
// changes do not share invariants with patch fields, but the version still
// bumps so watchers observe the mutation.
func (s Store) SetGoalOwner(ctx context.Context, goalID, userID, actorID string) (domain.Goal, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Goal{}, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE goals SET owner_id=?, version=version+1, updated_at=? WHERE id=?`,
		userID, s.now().UTC().Format(time.RFC3339), goalID)
	if err != nil {
		return domain.Goal{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Goal{}, engine.ErrNotFound
	}
	if err := s.writer().Append(ctx, tx, "goal.owner.set", domain.KindGoal, goalID, actorID,
		events.EventPayload{"user_id": userID}); err != nil {
		return domain.Goal{}, err
	}
	g, err := s.getGoal(ctx, tx, goalID)
	if err != nil {
		return domain.Goal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Goal{}, err
	}
	return g, nil
}

func (s Store) AddGoalCollaborator(ctx context.Context, goalID, userID, actorID string) error {
	if _, err := s.FetchGoal(ctx, goalID); err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO goal_collaborators(goal_id,user_id) VALUES (?,?) ON CONFLICT(goal_id,user_id) DO NOTHING`,
		goalID, userID); err != nil {
		return err
	}
	if err := s.writer().Append(ctx, tx, "goal.collaborator.added", domain.KindGoal, goalID, actorID,
		events.EventPayload{"user_id": userID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s Store) RemoveGoalCollaborator(ctx context.Context, goalID, userID, actorID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM goal_collaborators WHERE goal_id=? AND user_id=?`, goalID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrNotFound
	}
	if err := s.writer().Append(ctx, tx, "goal.collaborator.removed", domain.KindGoal, goalID, actorID,
		events.EventPayload{"user_id": userID}); err != nil {
		return err
	}
	return tx.Commit()
}
