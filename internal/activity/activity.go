package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskdesk/internal/domain"
)

// Recorder appends immutable activity records for task mutations. Records
// are written after the task change commits; a failed append is logged and
// swallowed so the committed mutation is never rolled back or reported as
// failed because of its audit trail.
type Recorder struct {
	DB  *sql.DB
	Log *logrus.Logger
	Now func() time.Time
}

func (r Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Recorder) logger() *logrus.Logger {
	if r.Log != nil {
		return r.Log
	}
	return logrus.StandardLogger()
}

// Append writes a single record. Callers that must observe the failure use
// this directly; mutation paths go through RecordAll.
func (r Recorder) Append(ctx context.Context, rec domain.ActivityRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = r.now().UTC().Format(time.RFC3339)
	}
	payload := rec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal activity payload: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO activity(id,task_id,actor_id,type,payload_json,created_at) VALUES (?,?,?,?,?,?)`,
		rec.ID, rec.TaskID, rec.ActorID, rec.Type, string(data), rec.CreatedAt)
	return err
}

// RecordAll appends records best-effort. All records share one logical
// mutation instant. Failures are logged, never returned.
func (r Recorder) RecordAll(ctx context.Context, recs []domain.ActivityRecord) {
	ts := r.now().UTC().Format(time.RFC3339)
	for _, rec := range recs {
		rec.CreatedAt = ts
		if err := r.Append(ctx, rec); err != nil {
			r.logger().WithFields(logrus.Fields{
				"task_id": rec.TaskID,
				"type":    rec.Type,
			}).WithError(err).Warn("activity write failed; task change is still committed")
		}
	}
}

// Record constructors.

func Created(taskID, actorID string) domain.ActivityRecord {
	return domain.ActivityRecord{TaskID: taskID, ActorID: actorID, Type: domain.ActivityCreated}
}

func FieldUpdate(taskID, actorID, field string) domain.ActivityRecord {
	return domain.ActivityRecord{TaskID: taskID, ActorID: actorID, Type: domain.ActivityUpdated,
		Payload: map[string]any{"field": field}}
}

func StatusChange(taskID, actorID, from, to string) domain.ActivityRecord {
	return domain.ActivityRecord{TaskID: taskID, ActorID: actorID, Type: domain.ActivityStatusChange,
		Payload: map[string]any{"from": from, "to": to}}
}

func CommentAdded(taskID, actorID, commentID string) domain.ActivityRecord {
	return domain.ActivityRecord{TaskID: taskID, ActorID: actorID, Type: domain.ActivityCommentAdded,
		Payload: map[string]any{"comment_id": commentID}}
}

func AssignmentChange(taskID, actorID string, added, removed []string) domain.ActivityRecord {
	payload := map[string]any{}
	if len(added) > 0 {
		payload["added"] = added
	}
	if len(removed) > 0 {
		payload["removed"] = removed
	}
	return domain.ActivityRecord{TaskID: taskID, ActorID: actorID, Type: domain.ActivityAssigned, Payload: payload}
}

// Diff compares two task snapshots and produces the records describing the
// change. A status transition yields exactly one status_change record, never
// a generic updated one; every other changed field yields one updated record
// so the read model stays one-record-per-field.
func Diff(old, cur domain.Task, actorID string) []domain.ActivityRecord {
	var recs []domain.ActivityRecord
	if old.Status != cur.Status {
		recs = append(recs, StatusChange(cur.ID, actorID, old.Status, cur.Status))
	}
	if old.Title != cur.Title {
		recs = append(recs, FieldUpdate(cur.ID, actorID, "title"))
	}
	if old.Description != cur.Description {
		recs = append(recs, FieldUpdate(cur.ID, actorID, "description"))
	}
	if old.Priority != cur.Priority {
		recs = append(recs, FieldUpdate(cur.ID, actorID, "priority"))
	}
	if derefOr(old.DueDate) != derefOr(cur.DueDate) {
		recs = append(recs, FieldUpdate(cur.ID, actorID, "due_date"))
	}
	return recs
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
