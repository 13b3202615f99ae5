package domain

import "time"

type TaskStatus string

const (
	StatusToDo       TaskStatus = "to-do"
	StatusInProgress TaskStatus = "in-progress"
	StatusDone       TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusToDo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

const (
	RoleOwner  = "owner"
	RoleMember = "member"

	DefaultProjectIcon   = "fas fa-folder"
	DefaultProjectStatus = "active"
)

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"ownerId"`
	Icon        string    `json:"icon"`
	Status      string    `json:"status"`
	StartDate   *string   `json:"startDate,omitempty"`
	DueDate     *string   `json:"dueDate,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ProjectSummary is a project together with the counters shown on the dashboard.
type ProjectSummary struct {
	Project
	MemberCount        int `json:"memberCount"`
	TaskCount          int `json:"taskCount"`
	CompletedTaskCount int `json:"completedTaskCount"`
}

type Member struct {
	ProjectID string    `json:"projectId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	JoinedAt  time.Time `json:"joinedAt"`
}

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	ProjectID   string     `json:"projectId"`
	AssigneeID  *string    `json:"assigneeId,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	Tags        []string   `json:"tags"`
	DueDate     *string    `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TaskPatch carries the fields of a partial task update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	AssigneeID  *string     `json:"assigneeId,omitempty"`
	Status      *TaskStatus `json:"status,omitempty"`
	Priority    *Priority   `json:"priority,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	DueDate     *string     `json:"dueDate,omitempty"`
}

type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
