package server

import (
	"taskdesk/internal/activity"
	"taskdesk/internal/domain"
)

// Request payloads

type CreateUserRequest struct {
	ID             *string  `json:"id,omitempty"`
	Name           string   `json:"name"`
	Email          string   `json:"email"`
	SeniorPersonID *string  `json:"senior_person_id,omitempty"`
	Roles          []string `json:"roles,omitempty"`
}

type SetSeniorRequest struct {
	SeniorPersonID string `json:"senior_person_id"`
}

type RoleRequest struct {
	Role string `json:"role"`
}

type CreateTaskRequest struct {
	ID          *string  `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Status      *string  `json:"status,omitempty" enum:"open,in_progress,completed,blocked"`
	Priority    *string  `json:"priority,omitempty" enum:"high,medium,low"`
	DueDate     *string  `json:"due_date,omitempty" format:"date-time"`
	AssignedTo  []string `json:"assigned_to,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"open,in_progress,completed,blocked"`
	Priority    *string `json:"priority,omitempty" enum:"high,medium,low"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
}

type ReassignRequest struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

type AddCommentRequest struct {
	CommentID string `json:"comment_id"`
}

type CreateAPIKeyRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

type UserResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Email          string   `json:"email"`
	Roles          []string `json:"roles,omitempty"`
	SeniorPersonID *string  `json:"senior_person_id,omitempty"`
	Active         bool     `json:"active"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
}

type MeResponse struct {
	UserResponse
	IsTopRole       bool `json:"is_top_role"`
	IsManagerRole   bool `json:"is_manager_role"`
	IsHierarchyLead bool `json:"is_hierarchy_lead"`
}

type TaskResponse struct {
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

type ActivityResponse struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"task_id"`
	ActorID     string         `json:"actor_id"`
	Type        string         `json:"type" enum:"created,updated,status_change,comment_added,assigned,deleted"`
	Payload     map[string]any `json:"payload,omitempty"`
	Description string         `json:"description"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

type ActivityDayResponse struct {
	Date    string             `json:"date"`
	Records []ActivityResponse `json:"records"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type DashboardSummaryResponse struct {
	ByStatus   map[string]int `json:"by_status"`
	ByPriority map[string]int `json:"by_priority"`
}

// Mappers

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Roles:          u.RoleNames,
		SeniorPersonID: u.SeniorPersonID,
		Active:         u.Active,
		CreatedAt:      u.CreatedAt,
	}
}

func mapUsers(users []domain.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse(u))
	}
	return out
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		DueDate:     t.DueDate,
		AssignedTo:  t.AssignedTo,
		CreatedBy:   t.CreatedBy,
		CanAccess:   t.CanAccess,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func mapTasks(tasks []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	return out
}

func activityResponse(rec domain.ActivityRecord) ActivityResponse {
	return ActivityResponse{
		ID:          rec.ID,
		TaskID:      rec.TaskID,
		ActorID:     rec.ActorID,
		Type:        rec.Type,
		Payload:     rec.Payload,
		Description: activity.Describe(rec),
		CreatedAt:   rec.CreatedAt,
	}
}

func mapActivity(recs []domain.ActivityRecord) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, activityResponse(rec))
	}
	return out
}

func mapActivityDays(groups []activity.DayGroup) []ActivityDayResponse {
	out := make([]ActivityDayResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, ActivityDayResponse{Date: g.Date, Records: mapActivity(g.Records)})
	}
	return out
}
