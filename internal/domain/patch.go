package domain

// Sparse field updates for the versioned mutator. Nil pointers leave the
// corresponding column untouched.

type TopicPatch struct {
	Title           *string `json:"title,omitempty"`
	Subject         *string `json:"subject,omitempty"`
	Description     *string `json:"description,omitempty"`
	Status          *string `json:"status,omitempty" enum:"active,archived"`
	IsCollaborative *bool   `json:"is_collaborative,omitempty"`
}

type GoalPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"todo,focus,done,archived"`
	Priority    *string `json:"priority,omitempty" enum:"high,medium,low"`
	OrderIndex  *int    `json:"order_index,omitempty"`
}

type TaskPatch struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Status      *string     `json:"status,omitempty" enum:"todo,in_progress,done,archived"`
	Priority    *string     `json:"priority,omitempty" enum:"high,medium,low"`
	OrderIndex  *int        `json:"order_index,omitempty"`
	TaskConfig  *TaskConfig `json:"task_config,omitempty"`
	CompletedAt *string     `json:"completed_at,omitempty" format:"date-time"`
	CompletedBy *string     `json:"completed_by,omitempty"`

	// ClearCompleted unsets completed_at/completed_by; set by the mutator
	// whenever status moves away from done.
	ClearCompleted bool `json:"-"`
}

// Empty reports whether the patch carries no field updates.
func (p TopicPatch) Empty() bool {
	return p.Title == nil && p.Subject == nil && p.Description == nil && p.Status == nil && p.IsCollaborative == nil
}

func (p GoalPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil && p.OrderIndex == nil
}

func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil &&
		p.OrderIndex == nil && p.TaskConfig == nil && p.CompletedAt == nil && p.CompletedBy == nil && !p.ClearCompleted
}
