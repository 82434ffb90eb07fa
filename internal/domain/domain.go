package domain

// Entity kinds used by the event log and the restore operation.
const (
	KindTopic = "topic"
	KindGoal  = "goal"
	KindTask  = "task"
)

// Task type variants. The config and progress fields that apply depend on the kind.
const (
	TaskSingle          = "single"
	TaskRecurringCount  = "recurring_count"
	TaskRecurringAmount = "recurring_amount"
)

// Action types recorded against a task.
const (
	ActionCheckIn   = "check_in"
	ActionAddCount  = "add_count"
	ActionAddAmount = "add_amount"
	ActionReset     = "reset"
)

type Collaborator struct {
	UserID     string `json:"user_id"`
	Permission string `json:"permission" enum:"view,edit"`
}

type Topic struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Subject         string         `json:"subject,omitempty"`
	Description     string         `json:"description,omitempty"`
	Status          string         `json:"status" enum:"active,archived"`
	OwnerID         string         `json:"owner_id"`
	IsCollaborative bool           `json:"is_collaborative"`
	Collaborators   []Collaborator `json:"collaborators,omitempty"`
	Version         int            `json:"version"`
	Progress        int            `json:"progress"`
	Goals           []Goal         `json:"goals,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
}

type Goal struct {
	ID            string   `json:"id"`
	TopicID       string   `json:"topic_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Status        string   `json:"status" enum:"todo,focus,done,archived"`
	Priority      string   `json:"priority" enum:"high,medium,low"`
	OrderIndex    int      `json:"order_index"`
	OwnerID       *string  `json:"owner_id,omitempty"`
	Collaborators []string `json:"collaborators,omitempty"`
	Version       int      `json:"version"`
	Progress      int      `json:"progress"`
	Tasks         []Task   `json:"tasks,omitempty"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID           string       `json:"id"`
	GoalID       string       `json:"goal_id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Status       string       `json:"status" enum:"todo,in_progress,done,archived"`
	Priority     string       `json:"priority" enum:"high,medium,low"`
	OrderIndex   int          `json:"order_index"`
	OwnerID      string       `json:"owner_id"`
	TaskType     string       `json:"task_type" enum:"single,recurring_count,recurring_amount"`
	TaskConfig   TaskConfig   `json:"task_config"`
	ProgressData ProgressData `json:"progress_data"`
	Version      int          `json:"version"`
	CompletedAt  *string      `json:"completed_at,omitempty" format:"date-time"`
	CompletedBy  *string      `json:"completed_by,omitempty"`
	CreatedAt    string       `json:"created_at" format:"date-time"`
	UpdatedAt    string       `json:"updated_at" format:"date-time"`
}

// TaskConfig holds the variant-specific target for recurring tasks.
// For single tasks all fields are zero.
type TaskConfig struct {
	TargetCount  int     `json:"target_count,omitempty"`
	TargetAmount float64 `json:"target_amount,omitempty"`
	Unit         string  `json:"unit,omitempty"`
}

// ProgressData is the denormalized counter block derived from action events.
// It is written only by the persistence gateway inside the action transaction.
type ProgressData struct {
	CheckInCount   int     `json:"check_in_count"`
	CurrentCount   int     `json:"current_count"`
	CurrentAmount  float64 `json:"current_amount"`
	CurrentStreak  int     `json:"current_streak"`
	LongestStreak  int     `json:"longest_streak"`
	LastActionDate string  `json:"last_action_date,omitempty"`
}

// ActionEvent is one idempotent, date-scoped user action against a task.
// ActionDate is a calendar day (YYYY-MM-DD) and is the idempotency key for check-ins.
type ActionEvent struct {
	ID              string         `json:"id"`
	TaskID          string         `json:"task_id"`
	ActionType      string         `json:"action_type" enum:"check_in,add_count,add_amount,reset"`
	ActionDate      string         `json:"action_date"`
	ActionTimestamp string         `json:"action_timestamp" format:"date-time"`
	ActorID         string         `json:"actor_id"`
	ActionData      map[string]any `json:"action_data,omitempty"`
}

// Record is a learning note attached to a task. Independent of ActionEvent;
// its existence is the completion precondition for guarded task completion.
type Record struct {
	ID          string   `json:"id"`
	TaskID      string   `json:"task_id"`
	ActorID     string   `json:"actor_id"`
	Title       string   `json:"title,omitempty"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// DefaultStatus returns the active status an archived entity is restored to.
func DefaultStatus(kind string) string {
	if kind == KindTopic {
		return "active"
	}
	return "todo"
}

// Archived reports whether a status string marks an entity as soft-deleted.
func Archived(status string) bool { return status == "archived" }
