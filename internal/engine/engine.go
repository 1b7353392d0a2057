package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskdesk/internal/activity"
	"taskdesk/internal/config"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine/auth"
	"taskdesk/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Recorder activity.Recorder
	Reader   activity.Reader
	Resolver auth.Resolver
	Policy   auth.Policy
	Config   *config.Config
	Log      *logrus.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	log := logrus.StandardLogger()
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Recorder: activity.Recorder{DB: db, Log: log},
		Reader:   activity.Reader{DB: db},
		Resolver: auth.Resolver{Repo: r, Log: log},
		Policy:   auth.Policy{Roles: cfg.Roles},
		Config:   cfg,
		Log:      log,
		Now:      time.Now,
	}
}

// WithClock returns a copy of the engine whose task timestamps and activity
// timestamps are both driven by now. Tests use this to pin time; leaving it
// unset keeps the wall clock.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Recorder.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *logrus.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

// ResolvePrincipal loads the principal for an already-verified user id.
func (e Engine) ResolvePrincipal(ctx context.Context, userID, source string) (auth.Principal, error) {
	return e.Resolver.Resolve(ctx, userID, source)
}

// UserCreateOptions are parameters for registering a user.
type UserCreateOptions struct {
	ID             string
	Name           string
	Email          string
	SeniorPersonID string
	Roles          []string
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if opts.Email == "" {
		return domain.User{}, errors.New("email is required")
	}
	if opts.Name == "" {
		return domain.User{}, errors.New("name is required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	var senior *string
	if opts.SeniorPersonID != "" {
		if _, err := e.Repo.GetUser(ctx, opts.SeniorPersonID); err != nil {
			return domain.User{}, fmt.Errorf("senior person %s: %w", opts.SeniorPersonID, err)
		}
		senior = &opts.SeniorPersonID
	}
	u := domain.User{
		ID:             id,
		Name:           opts.Name,
		Email:          opts.Email,
		SeniorPersonID: senior,
		Active:         true,
		CreatedAt:      e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	for _, name := range opts.Roles {
		role, err := e.Repo.EnsureRole(ctx, "", name)
		if err != nil {
			return domain.User{}, fmt.Errorf("ensure role %s: %w", name, err)
		}
		if err := e.Repo.GrantRole(ctx, u.ID, role.ID); err != nil {
			return domain.User{}, fmt.Errorf("grant role %s: %w", name, err)
		}
	}
	return e.Repo.GetUser(ctx, u.ID)
}

// GrantRole attaches a role by name, creating the role row if needed.
func (e Engine) GrantRole(ctx context.Context, userID, roleName string) error {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return err
	}
	role, err := e.Repo.EnsureRole(ctx, "", roleName)
	if err != nil {
		return err
	}
	return e.Repo.GrantRole(ctx, userID, role.ID)
}

func (e Engine) RevokeRole(ctx context.Context, userID, roleName string) error {
	role, err := e.Repo.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	return e.Repo.RevokeRole(ctx, userID, role.ID)
}

// SetSeniorPerson updates a user's reporting-chain link. Passing an empty
// senior id clears the link.
func (e Engine) SetSeniorPerson(ctx context.Context, userID, seniorID string) error {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return err
	}
	if seniorID == "" {
		return e.Repo.SetSeniorPerson(ctx, userID, nil)
	}
	if _, err := e.Repo.GetUser(ctx, seniorID); err != nil {
		return fmt.Errorf("senior person %s: %w", seniorID, err)
	}
	return e.Repo.SetSeniorPerson(ctx, userID, &seniorID)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	Title       string
	Description string
	Status      string
	Priority    string
	DueDate     string
	AssignedTo  []string
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.ActorID == "" {
		return domain.Task{}, errors.New("actor is required")
	}
	if opts.Status == "" {
		opts.Status = domain.StatusOpen
	}
	if !domain.ValidStatus(opts.Status) {
		return domain.Task{}, fmt.Errorf("invalid status %s", opts.Status)
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.Task{}, fmt.Errorf("invalid priority %s", opts.Priority)
	}
	if _, err := e.Repo.GetUser(ctx, opts.ActorID); err != nil {
		return domain.Task{}, fmt.Errorf("creator %s: %w", opts.ActorID, err)
	}
	assignees := newMemberSet(opts.AssignedTo...)
	for _, uid := range assignees.order {
		if _, err := e.Repo.GetUser(ctx, uid); err != nil {
			return domain.Task{}, fmt.Errorf("assignee %s: %w", uid, err)
		}
	}
	canAccess, err := e.seedAccessList(ctx, opts.ActorID, assignees.order)
	if err != nil {
		return domain.Task{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:          id,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      opts.Status,
		Priority:    opts.Priority,
		DueDate:     optionalString(opts.DueDate),
		AssignedTo:  assignees.order,
		CreatedBy:   opts.ActorID,
		CanAccess:   canAccess,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.Recorder.RecordAll(ctx, []domain.ActivityRecord{activity.Created(t.ID, opts.ActorID)})
	return t, nil
}

// TaskUpdateOptions encapsulates field and status edits. Nil pointers mean
// "leave unchanged"; DueDate set to the empty string clears the date.
type TaskUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	DueDate     *string
	ActorID     string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	original := t
	if opts.Title != nil {
		if *opts.Title == "" {
			return t, errors.New("title is required")
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Status != nil {
		if !domain.ValidStatus(*opts.Status) {
			return t, fmt.Errorf("invalid status %s", *opts.Status)
		}
		t.Status = *opts.Status
	}
	if opts.Priority != nil {
		if !domain.ValidPriority(*opts.Priority) {
			return t, fmt.Errorf("invalid priority %s", *opts.Priority)
		}
		t.Priority = *opts.Priority
	}
	if opts.DueDate != nil {
		t.DueDate = optionalString(*opts.DueDate)
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.Recorder.RecordAll(ctx, activity.Diff(original, t, opts.ActorID))
	return t, nil
}

// ReassignOptions describe an assignment change.
type ReassignOptions struct {
	ID      string
	Add     []string
	Remove  []string
	ActorID string
}

// Reassign adds and removes assignees. Newly assigned users and their
// superior chains are granted access; removing an assignee never shrinks the
// access set.
func (e Engine) Reassign(ctx context.Context, opts ReassignOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	assigned := newMemberSet(t.AssignedTo...)
	var added []string
	for _, uid := range newMemberSet(opts.Add...).order {
		if assigned.has(uid) {
			continue
		}
		if _, err := e.Repo.GetUser(ctx, uid); err != nil {
			return t, fmt.Errorf("assignee %s: %w", uid, err)
		}
		added = append(added, uid)
	}
	var removed []string
	for _, uid := range newMemberSet(opts.Remove...).order {
		if assigned.has(uid) {
			removed = append(removed, uid)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return t, nil
	}
	updatedAccess, err := e.extendAccessList(ctx, t, added)
	if err != nil {
		return t, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if len(added) > 0 {
		if err := e.Repo.AddAssignees(ctx, tx, t.ID, added); err != nil {
			return t, err
		}
		if err := e.Repo.AddAccessMembers(ctx, tx, t.ID, updatedAccess); err != nil {
			return t, err
		}
	}
	if len(removed) > 0 {
		if err := e.Repo.RemoveAssignees(ctx, tx, t.ID, removed); err != nil {
			return t, err
		}
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.Recorder.RecordAll(ctx, []domain.ActivityRecord{activity.AssignmentChange(t.ID, opts.ActorID, added, removed)})
	return e.Repo.GetTask(ctx, t.ID)
}

// AddComment records the comment_added activity for an externally stored
// comment. The record is the artifact here, so a failed write is an error.
func (e Engine) AddComment(ctx context.Context, taskID, commentID, actorID string) (domain.ActivityRecord, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return domain.ActivityRecord{}, err
	}
	if commentID == "" {
		return domain.ActivityRecord{}, errors.New("comment_id is required")
	}
	rec := activity.CommentAdded(taskID, actorID, commentID)
	rec.ID = uuid.New().String()
	rec.CreatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Recorder.Append(ctx, rec); err != nil {
		return domain.ActivityRecord{}, err
	}
	return rec, nil
}

// DeleteTask removes the task and cascades deletion of its activity trail.
// The trail is owned by the task, so no deleted-type record can outlive it;
// the deletion and its actor are logged instead.
func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	e.logger().WithFields(logrus.Fields{
		"task_id":  taskID,
		"actor_id": actorID,
	}).Info("task deleted; activity trail removed with it")
	return nil
}

// RevokeAccess is the explicit administrative removal path. The creator and
// current assignees cannot be revoked without breaking the access-set
// invariants.
func (e Engine) RevokeAccess(ctx context.Context, taskID, userID, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if userID == t.CreatedBy {
		return t, errors.New("cannot revoke access from task creator")
	}
	for _, uid := range t.AssignedTo {
		if uid == userID {
			return t, errors.New("cannot revoke access from a current assignee")
		}
	}
	if err := e.Repo.RemoveAccessMember(ctx, taskID, userID); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

// ListTasksFor returns tasks visible to the principal: everything for the
// top role, ACL-scoped for everyone else.
func (e Engine) ListTasksFor(ctx context.Context, p auth.Principal, opts repo.TaskListOptions) ([]domain.Task, error) {
	if e.Policy.IsTopRole(p) {
		opts.VisibleTo = ""
	} else {
		opts.VisibleTo = p.UserID
	}
	return e.Repo.ListTasks(ctx, opts)
}

// ListActivity returns a task's trail newest first. An unknown or deleted
// task id yields an empty sequence, not an error.
func (e Engine) ListActivity(ctx context.Context, taskID string) ([]domain.ActivityRecord, error) {
	return e.Reader.ListByTask(ctx, taskID)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
