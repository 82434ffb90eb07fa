package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"studytrail/internal/domain"
	"studytrail/internal/engine"
	"studytrail/internal/events"
)

// Store is the SQLite-backed persistence gateway. It owns authoritative
// version numbers: every mutation is a single transaction that checks the
// caller's expected version, writes, bumps the version by one, and appends
// an audit event. On a stale version nothing is written and the caller gets
// the current version back in a ConflictError.
type Store struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Store {
	return Store{DB: db, Events: events.Writer{DB: db}, Now: time.Now}
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Store) writer() events.Writer {
	w := s.Events
	if w.DB == nil {
		w.DB = s.DB
	}
	if w.Now == nil {
		w.Now = s.Now
	}
	return w
}

// dbtx abstracts *sql.DB and *sql.Tx for shared scan helpers.
type dbtx interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const topicCols = `id,title,COALESCE(subject,''),COALESCE(description,''),status,owner_id,is_collaborative,version,created_at,updated_at`
const goalCols = `id,topic_id,title,COALESCE(description,''),status,priority,order_index,owner_id,version,created_at,updated_at`
const taskCols = `id,goal_id,title,COALESCE(description,''),status,priority,order_index,owner_id,task_type,task_config_json,progress_data_json,version,completed_at,completed_by,created_at,updated_at`

func scanTopic(row *sql.Row) (domain.Topic, error) {
	var t domain.Topic
	err := row.Scan(&t.ID, &t.Title, &t.Subject, &t.Description, &t.Status, &t.OwnerID, &t.IsCollaborative, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, engine.ErrNotFound
	}
	return t, err
}

func scanGoalRow(scan func(dest ...any) error) (domain.Goal, error) {
	var g domain.Goal
	var owner sql.NullString
	err := scan(&g.ID, &g.TopicID, &g.Title, &g.Description, &g.Status, &g.Priority, &g.OrderIndex, &owner, &g.Version, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return g, err
	}
	if owner.Valid {
		g.OwnerID = &owner.String
	}
	return g, nil
}

func scanTaskRow(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var cfgJSON, progJSON string
	var completedAt, completedBy sql.NullString
	err := scan(&t.ID, &t.GoalID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.OrderIndex, &t.OwnerID,
		&t.TaskType, &cfgJSON, &progJSON, &t.Version, &completedAt, &completedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if cfgJSON != "" {
		if err := json.Unmarshal([]byte(cfgJSON), &t.TaskConfig); err != nil {
			return t, fmt.Errorf("task %s config: %w", t.ID, err)
		}
	}
	if progJSON != "" {
		if err := json.Unmarshal([]byte(progJSON), &t.ProgressData); err != nil {
			return t, fmt.Errorf("task %s progress: %w", t.ID, err)
		}
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	if completedBy.Valid {
		t.CompletedBy = &completedBy.String
	}
	return t, nil
}

func (s Store) getTopic(ctx context.Context, q dbtx, id string) (domain.Topic, error) {
	t, err := scanTopic(q.QueryRowContext(ctx, `SELECT `+topicCols+` FROM topics WHERE id=?`, id))
	if err != nil {
		return domain.Topic{}, err
	}
	collabs, err := s.listTopicCollaborators(ctx, q, id)
	if err != nil {
		return domain.Topic{}, err
	}
	t.Collaborators = collabs
	return t, nil
}

func (s Store) getGoal(ctx context.Context, q dbtx, id string) (domain.Goal, error) {
	row := q.QueryRowContext(ctx, `SELECT `+goalCols+` FROM goals WHERE id=?`, id)
	g, err := scanGoalRow(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Goal{}, engine.ErrNotFound
	}
	if err != nil {
		return domain.Goal{}, err
	}
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM goal_collaborators WHERE goal_id=? ORDER BY user_id`, id)
	if err != nil {
		return domain.Goal{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return domain.Goal{}, err
		}
		g.Collaborators = append(g.Collaborators, uid)
	}
	return g, rows.Err()
}

func (s Store) getTask(ctx context.Context, q dbtx, id string) (domain.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	t, err := scanTaskRow(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Task{}, engine.ErrNotFound
	}
	return t, err
}

func (s Store) listTopicCollaborators(ctx context.Context, q dbtx, topicID string) ([]domain.Collaborator, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id,permission FROM topic_collaborators WHERE topic_id=? ORDER BY user_id`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Collaborator
	for rows.Next() {
		var c domain.Collaborator
		if err := rows.Scan(&c.UserID, &c.Permission); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s Store) FetchTopic(ctx context.Context, id string) (domain.Topic, error) {
	return s.getTopic(ctx, s.DB, id)
}

func (s Store) FetchGoal(ctx context.Context, id string) (domain.Goal, error) {
	return s.getGoal(ctx, s.DB, id)
}

func (s Store) FetchTask(ctx context.Context, id string) (domain.Task, error) {
	return s.getTask(ctx, s.DB, id)
}

// checkVersion reads the current version inside tx and compares it against
// the caller's expectation.
func checkVersion(ctx context.Context, tx *sql.Tx, table, id string, expected int) error {
	var current int
	err := tx.QueryRowContext(ctx, `SELECT version FROM `+table+` WHERE id=?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return engine.ErrNotFound
	}
	if err != nil {
		return err
	}
	if current != expected {
		return &engine.ConflictError{Expected: expected, Current: current}
	}
	return nil
}

func (s Store) UpdateTopic(ctx context.Context, id string, expectedVersion int, patch domain.TopicPatch, actorID string) (domain.Topic, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Topic{}, err
	}
	defer tx.Rollback()

	if err := checkVersion(ctx, tx, "topics", id, expectedVersion); err != nil {
		return domain.Topic{}, err
	}
	// An empty patch is a no-op: no version bump, no event.
	if patch.Empty() {
		return s.getTopic(ctx, tx, id)
	}

	var (
		fields []string
		args   []any
	)
	setStr := func(col string, v *string) {
		if v != nil {
			fields = append(fields, col+"=?")
			args = append(args, nullable(*v))
		}
	}
	setStr("title", patch.Title)
	setStr("subject", patch.Subject)
	setStr("description", patch.Description)
	setStr("status", patch.Status)
	if patch.IsCollaborative != nil {
		fields = append(fields, "is_collaborative=?")
		args = append(args, *patch.IsCollaborative)
	}
	fields = append(fields, "version=version+1", "updated_at=?")
	args = append(args, s.now().UTC().Format(time.RFC3339), id)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE topics SET %s WHERE id=?`, strings.Join(fields, ",")), args...); err != nil {
		return domain.Topic{}, fmt.Errorf("update topic: %w", err)
	}
	if err := s.writer().Append(ctx, tx, "topic.updated", domain.KindTopic, id, actorID, events.EventPayload{"version": expectedVersion + 1}); err != nil {
		return domain.Topic{}, err
	}
	t, err := s.getTopic(ctx, tx, id)
	if err != nil {
		return domain.Topic{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Topic{}, err
	}
	return t, nil
}

func (s Store) UpdateGoal(ctx context.Context, id string, expectedVersion int, patch domain.GoalPatch, actorID string) (domain.Goal, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Goal{}, err
	}
	defer tx.Rollback()

	if err := checkVersion(ctx, tx, "goals", id, expectedVersion); err != nil {
		return domain.Goal{}, err
	}
	if patch.Empty() {
		return s.getGoal(ctx, tx, id)
	}

	var (
		fields []string
		args   []any
	)
	setStr := func(col string, v *string) {
		if v != nil {
			fields = append(fields, col+"=?")
			args = append(args, nullable(*v))
		}
	}
	setStr("title", patch.Title)
	setStr("description", patch.Description)
	setStr("status", patch.Status)
	setStr("priority", patch.Priority)
	if patch.OrderIndex != nil {
		fields = append(fields, "order_index=?")
		args = append(args, *patch.OrderIndex)
	}
	fields = append(fields, "version=version+1", "updated_at=?")
	args = append(args, s.now().UTC().Format(time.RFC3339), id)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE goals SET %s WHERE id=?`, strings.Join(fields, ",")), args...); err != nil {
		return domain.Goal{}, fmt.Errorf("update goal: %w", err)
	}
	if err := s.writer().Append(ctx, tx, "goal.updated", domain.KindGoal, id, actorID, events.EventPayload{"version": expectedVersion + 1}); err != nil {
		return domain.Goal{}, err
	}
	g, err := s.getGoal(ctx, tx, id)
	if err != nil {
		return domain.Goal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Goal{}, err
	}
	return g, nil
}

func (s Store) UpdateTask(ctx context.Context, id string, expectedVersion int, patch domain.TaskPatch, actorID string) (domain.Task, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := checkVersion(ctx, tx, "tasks", id, expectedVersion); err != nil {
		return domain.Task{}, err
	}
	if patch.Empty() {
		return s.getTask(ctx, tx, id)
	}

	var (
		fields []string
		args   []any
	)
	setStr := func(col string, v *string) {
		if v != nil {
			fields = append(fields, col+"=?")
			args = append(args, nullable(*v))
		}
	}
	setStr("title", patch.Title)
	setStr("description", patch.Description)
	setStr("status", patch.Status)
	setStr("priority", patch.Priority)
	if patch.OrderIndex != nil {
		fields = append(fields, "order_index=?")
		args = append(args, *patch.OrderIndex)
	}
	if patch.TaskConfig != nil {
		cfgJSON, err := json.Marshal(patch.TaskConfig)
		if err != nil {
			return domain.Task{}, fmt.Errorf("marshal task config: %w", err)
		}
		fields = append(fields, "task_config_json=?")
		args = append(args, string(cfgJSON))
	}
	if patch.ClearCompleted {
		fields = append(fields, "completed_at=NULL", "completed_by=NULL")
	} else {
		setStr("completed_at", patch.CompletedAt)
		setStr("completed_by", patch.CompletedBy)
	}
	fields = append(fields, "version=version+1", "updated_at=?")
	args = append(args, s.now().UTC().Format(time.RFC3339), id)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...); err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	payload := events.EventPayload{"version": expectedVersion + 1}
	if patch.Status != nil {
		payload["status"] = *patch.Status
	}
	if err := s.writer().Append(ctx, tx, "task.updated", domain.KindTask, id, actorID, payload); err != nil {
		return domain.Task{}, err
	}
	t, err := s.getTask(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Restore transitions an archived entity back to its default active status.
func (s Store) Restore(ctx context.Context, kind, id, actorID string) error {
	table := map[string]string{domain.KindTopic: "topics", domain.KindGoal: "goals", domain.KindTask: "tasks"}[kind]
	if table == "" {
		return fmt.Errorf("unknown entity kind %q", kind)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM `+table+` WHERE id=?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return engine.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !domain.Archived(status) {
		return fmt.Errorf("%s %s is not archived", kind, id)
	}
	restored := domain.DefaultStatus(kind)
	if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET status=?, version=version+1, updated_at=? WHERE id=?`,
		restored, s.now().UTC().Format(time.RFC3339), id); err != nil {
		return fmt.Errorf("restore %s: %w", kind, err)
	}
	if err := s.writer().Append(ctx, tx, kind+".restored", kind, id, actorID, events.EventPayload{"status": restored}); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
