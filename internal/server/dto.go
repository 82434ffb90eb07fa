package server

import "studytrail/internal/domain"

type CreateTopicRequest struct {
	Title           string `json:"title"`
	Subject         string `json:"subject,omitempty"`
	Description     string `json:"description,omitempty"`
	IsCollaborative bool   `json:"is_collaborative,omitempty"`
}

type UpdateTopicRequest struct {
	ExpectedVersion *int    `json:"expected_version,omitempty"`
	Title           *string `json:"title,omitempty"`
	Subject         *string `json:"subject,omitempty"`
	Description     *string `json:"description,omitempty"`
	Status          *string `json:"status,omitempty" enum:"active,archived"`
	IsCollaborative *bool   `json:"is_collaborative,omitempty"`
}

type CreateGoalRequest struct {
	TopicID     string `json:"topic_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty" enum:"high,medium,low"`
	OrderIndex  int    `json:"order_index,omitempty"`
}

type UpdateGoalRequest struct {
	ExpectedVersion *int    `json:"expected_version,omitempty"`
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	Status          *string `json:"status,omitempty" enum:"todo,focus,done,archived"`
	Priority        *string `json:"priority,omitempty" enum:"high,medium,low"`
	OrderIndex      *int    `json:"order_index,omitempty"`
}

type CreateTaskRequest struct {
	GoalID      string             `json:"goal_id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Priority    string             `json:"priority,omitempty" enum:"high,medium,low"`
	OrderIndex  int                `json:"order_index,omitempty"`
	TaskType    string             `json:"task_type,omitempty" enum:"single,recurring_count,recurring_amount"`
	TaskConfig  *domain.TaskConfig `json:"task_config,omitempty"`
}

type UpdateTaskRequest struct {
	ExpectedVersion *int               `json:"expected_version,omitempty"`
	Title           *string            `json:"title,omitempty"`
	Description     *string            `json:"description,omitempty"`
	Status          *string            `json:"status,omitempty" enum:"todo,in_progress,done,archived"`
	Priority        *string            `json:"priority,omitempty" enum:"high,medium,low"`
	OrderIndex      *int               `json:"order_index,omitempty"`
	TaskConfig      *domain.TaskConfig `json:"task_config,omitempty"`
}

type CompleteTaskRequest struct {
	ExpectedVersion *int  `json:"expected_version,omitempty"`
	RequireRecord   *bool `json:"require_record,omitempty"`
}

type ActionRequest struct {
	ActionType string  `json:"action_type" enum:"check_in,add_count,add_amount,reset"`
	Count      int     `json:"count,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	Unit       string  `json:"unit,omitempty"`
}

type ActionResponse struct {
	ActionID string      `json:"action_id,omitempty"`
	Task     domain.Task `json:"task"`
}

type CreateRecordRequest struct {
	Title       string   `json:"title,omitempty"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

type InviteCollaboratorRequest struct {
	UserID     string `json:"user_id"`
	Permission string `json:"permission" enum:"view,edit"`
}

type SetGoalOwnerRequest struct {
	UserID string `json:"user_id"`
}

type GoalCollaboratorRequest struct {
	UserID string `json:"user_id"`
}

type StatusResponse struct {
	WorkspaceID string `json:"workspace_id"`
	Topics      int    `json:"topics"`
	Goals       int    `json:"goals"`
	Tasks       int    `json:"tasks"`
	TasksDone   int    `json:"tasks_done"`
	Progress    int    `json:"progress"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Source  string `json:"source,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateAPIKeyResponse struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
