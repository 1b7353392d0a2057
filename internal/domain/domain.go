package domain

// Task statuses and priorities. Stored as plain strings; validated at the
// engine boundary.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusBlocked    = "blocked"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Activity record types.
const (
	ActivityCreated      = "created"
	ActivityUpdated      = "updated"
	ActivityStatusChange = "status_change"
	ActivityCommentAdded = "comment_added"
	ActivityAssigned     = "assigned"
	ActivityDeleted      = "deleted"
)

type User struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Email          string   `json:"email"`
	RoleIDs        []string `json:"role_ids,omitempty"`
	RoleNames      []string `json:"role_names,omitempty"`
	SeniorPersonID *string  `json:"senior_person_id,omitempty"`
	Active         bool     `json:"active"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
}

type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status" enum:"open,in_progress,completed,blocked"`
	Priority    string   `json:"priority" enum:"high,medium,low"`
	DueDate     *string  `json:"due_date,omitempty" format:"date-time"`
	AssignedTo  []string `json:"assigned_to,omitempty"`
	CreatedBy   string   `json:"created_by"`
	CanAccess   []string `json:"can_access,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// ActivityRecord is one immutable audit entry for a task. Payload carries the
// type-specific detail: "field" for updated, "from"/"to" for status_change,
// "added"/"removed" for assigned, "comment_id" for comment_added.
type ActivityRecord struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	ActorID   string         `json:"actor_id"`
	Type      string         `json:"type" enum:"created,updated,status_change,comment_added,assigned,deleted"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidStatus reports whether s is a known task status.
func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known task priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}
