package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"studytrail/internal/domain"
	"studytrail/internal/engine"
	"studytrail/internal/events"
)

// AppendAction records one action event and updates the owning task's
// denormalized counters in the same transaction: uniqueness check, event
// insert, and counter/version bump all commit or roll back together.
func (s Store) AppendAction(ctx context.Context, in engine.ActionInput) (domain.Task, string, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, "", err
	}
	defer tx.Rollback()

	task, err := s.getTask(ctx, tx, in.TaskID)
	if err != nil {
		return domain.Task{}, "", err
	}
	if domain.Archived(task.Status) {
		return domain.Task{}, "", engine.ErrNotFound
	}

	data := in.Data
	if data == nil {
		data = map[string]any{}
	}
	prog := task.ProgressData

	switch in.ActionType {
	case domain.ActionCheckIn:
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM task_actions WHERE task_id=? AND action_date=? AND action_type='check_in'`,
			in.TaskID, in.Date).Scan(&exists)
		if err == nil {
			return domain.Task{}, "", engine.ErrDuplicateAction
		}
		if err != sql.ErrNoRows {
			return domain.Task{}, "", err
		}
		// Snapshot the pre-action counters into the event so cancellation
		// can restore them exactly.
		data["prev"] = progressMap(prog)

		prog.CheckInCount++
		if last, err := s.lastCheckInBefore(ctx, tx, in.TaskID, in.Date); err != nil {
			return domain.Task{}, "", err
		} else if last == previousDay(in.Date) {
			prog.CurrentStreak++
		} else {
			prog.CurrentStreak = 1
		}
		if prog.CurrentStreak > prog.LongestStreak {
			prog.LongestStreak = prog.CurrentStreak
		}
		prog.LastActionDate = in.Date
	case domain.ActionAddCount:
		count, _ := data["count"].(float64)
		if count == 0 {
			count = 1
		}
		prog.CurrentCount += int(count)
		prog.LastActionDate = in.Date
	case domain.ActionAddAmount:
		amount, _ := data["amount"].(float64)
		prog.CurrentAmount += amount
		prog.LastActionDate = in.Date
	case domain.ActionReset:
		prog = domain.ProgressData{}
	default:
		return domain.Task{}, "", fmt.Errorf("unknown action type %q", in.ActionType)
	}

	actionID := uuid.NewString()
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return domain.Task{}, "", fmt.Errorf("marshal action data: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_actions(id,task_id,action_type,action_date,action_timestamp,actor_id,action_data_json) VALUES (?,?,?,?,?,?,?)`,
		actionID, in.TaskID, in.ActionType, in.Date, in.Timestamp.UTC().Format(time.RFC3339), in.ActorID, string(dataJSON)); err != nil {
		return domain.Task{}, "", fmt.Errorf("insert action: %w", err)
	}
	if err := s.updateProgress(ctx, tx, in.TaskID, prog); err != nil {
		return domain.Task{}, "", err
	}
	if err := s.writer().Append(ctx, tx, "task.action."+in.ActionType, domain.KindTask, in.TaskID, in.ActorID,
		events.EventPayload{"action_id": actionID, "date": in.Date}); err != nil {
		return domain.Task{}, "", err
	}
	fresh, err := s.getTask(ctx, tx, in.TaskID)
	if err != nil {
		return domain.Task{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, "", err
	}
	return fresh, actionID, nil
}

// CancelCheckIn removes the check-in for the given day and restores the
// counters captured when it was made.
func (s Store) CancelCheckIn(ctx context.Context, taskID, actorID, date string) (domain.Task, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if _, err := s.getTask(ctx, tx, taskID); err != nil {
		return domain.Task{}, err
	}

	var actionID, dataJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT id,action_data_json FROM task_actions WHERE task_id=? AND action_date=? AND action_type='check_in'`,
		taskID, date).Scan(&actionID, &dataJSON)
	if err == sql.ErrNoRows {
		return domain.Task{}, engine.ErrNoCheckInToday
	}
	if err != nil {
		return domain.Task{}, err
	}

	var data struct {
		Prev *domain.ProgressData `json:"prev"`
	}
	if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
		return domain.Task{}, fmt.Errorf("action %s data: %w", actionID, err)
	}
	if data.Prev == nil {
		return domain.Task{}, fmt.Errorf("action %s has no counter snapshot", actionID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_actions WHERE id=?`, actionID); err != nil {
		return domain.Task{}, fmt.Errorf("delete action: %w", err)
	}
	if err := s.updateProgress(ctx, tx, taskID, *data.Prev); err != nil {
		return domain.Task{}, err
	}
	if err := s.writer().Append(ctx, tx, "task.action.cancelled", domain.KindTask, taskID, actorID,
		events.EventPayload{"action_id": actionID, "date": date}); err != nil {
		return domain.Task{}, err
	}
	fresh, err := s.getTask(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return fresh, nil
}

// ListActions returns a task's action events for a date range, newest first.
func (s Store) ListActions(ctx context.Context, taskID, from, to string) ([]domain.ActionEvent, error) {
	query := `SELECT id,task_id,action_type,action_date,action_timestamp,actor_id,action_data_json FROM task_actions WHERE task_id=?`
	args := []any{taskID}
	if from != "" {
		query += ` AND action_date>=?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND action_date<=?`
		args = append(args, to)
	}
	query += ` ORDER BY action_timestamp DESC`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionEvent
	for rows.Next() {
		var a domain.ActionEvent
		var dataJSON string
		if err := rows.Scan(&a.ID, &a.TaskID, &a.ActionType, &a.ActionDate, &a.ActionTimestamp, &a.ActorID, &dataJSON); err != nil {
			return nil, err
		}
		if dataJSON != "" {
			_ = json.Unmarshal([]byte(dataJSON), &a.ActionData)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CheckedInOn reports which of the given tasks have a check-in for the day.
func (s Store) CheckedInOn(ctx context.Context, taskIDs []string, date string) (map[string]bool, error) {
	res := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		var exists int
		err := s.DB.QueryRowContext(ctx,
			`SELECT 1 FROM task_actions WHERE task_id=? AND action_date=? AND action_type='check_in'`, id, date).Scan(&exists)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		res[id] = true
	}
	return res, nil
}

func (s Store) updateProgress(ctx context.Context, tx *sql.Tx, taskID string, prog domain.ProgressData) error {
	progJSON, err := json.Marshal(prog)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET progress_data_json=?, version=version+1, updated_at=? WHERE id=?`,
		string(progJSON), s.now().UTC().Format(time.RFC3339), taskID); err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return nil
}

func (s Store) lastCheckInBefore(ctx context.Context, tx *sql.Tx, taskID, date string) (string, error) {
	var last string
	err := tx.QueryRowContext(ctx,
		`SELECT action_date FROM task_actions WHERE task_id=? AND action_type='check_in' AND action_date<? ORDER BY action_date DESC LIMIT 1`,
		taskID, date).Scan(&last)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return last, err
}

func previousDay(date string) string {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return ""
	}
	return d.AddDate(0, 0, -1).Format("2006-01-02")
}

func progressMap(p domain.ProgressData) map[string]any {
	raw, _ := json.Marshal(p)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}
