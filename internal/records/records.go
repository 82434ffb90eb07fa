package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"studytrail/internal/domain"
)

// Store persists learning records. A record's existence is the completion
// precondition checked by the engine's task-completion guard.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func New(db *sql.DB) Store {
	return Store{DB: db, Now: time.Now}
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Add appends a learning record for a task.
func (s Store) Add(ctx context.Context, r domain.Record) (domain.Record, error) {
	if r.TaskID == "" {
		return domain.Record{}, errors.New("task_id required")
	}
	if r.Content == "" {
		return domain.Record{}, errors.New("content required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt == "" {
		r.CreatedAt = s.now().UTC().Format(time.RFC3339)
	}
	attachments, err := json.Marshal(r.Attachments)
	if err != nil {
		return domain.Record{}, fmt.Errorf("marshal attachments: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO task_records(id,task_id,actor_id,title,content,attachments_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		r.ID, r.TaskID, r.ActorID, nullable(r.Title), r.Content, string(attachments), r.CreatedAt)
	if err != nil {
		return domain.Record{}, fmt.Errorf("insert record: %w", err)
	}
	return r, nil
}

// HasRecord reports whether at least one record exists for the task.
func (s Store) HasRecord(ctx context.Context, taskID string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT 1 FROM task_records WHERE task_id=? LIMIT 1`, taskID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// ListByTask returns a task's records, newest first.
func (s Store) ListByTask(ctx context.Context, taskID string) ([]domain.Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,task_id,actor_id,COALESCE(title,''),content,attachments_json,created_at FROM task_records WHERE task_id=? ORDER BY created_at DESC, id DESC`,
		taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Record
	for rows.Next() {
		var r domain.Record
		var attachments string
		if err := rows.Scan(&r.ID, &r.TaskID, &r.ActorID, &r.Title, &r.Content, &attachments, &r.CreatedAt); err != nil {
			return nil, err
		}
		if attachments != "" {
			_ = json.Unmarshal([]byte(attachments), &r.Attachments)
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
