package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"taskdesk/internal/domain"
)

// Reader queries the activity trail for display.
type Reader struct {
	DB *sql.DB
}

// ListByTask returns the task's records newest first. Concurrent appends
// interleave in storage; timestamp order at read time is the only ordering
// guarantee.
func (r Reader) ListByTask(ctx context.Context, taskID string) ([]domain.ActivityRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,actor_id,type,payload_json,created_at FROM activity WHERE task_id=? ORDER BY created_at DESC, id DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []domain.ActivityRecord
	for rows.Next() {
		var rec domain.ActivityRecord
		var payload string
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.ActorID, &rec.Type, &payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if payload != "" {
			_ = json.Unmarshal([]byte(payload), &rec.Payload)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DayGroup is one calendar day of activity, newest record first.
type DayGroup struct {
	Date    string                  `json:"date"`
	Records []domain.ActivityRecord `json:"records"`
}

// GroupByDay partitions records by the calendar date of their timestamp in
// loc (nil means the local zone), preserving input order within each day.
// Days appear in input order, so a newest-first input yields newest-first
// days.
func GroupByDay(recs []domain.ActivityRecord, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}
	var groups []DayGroup
	index := map[string]int{}
	for _, rec := range recs {
		date := rec.CreatedAt
		if ts, err := time.Parse(time.RFC3339, rec.CreatedAt); err == nil {
			date = ts.In(loc).Format("2006-01-02")
		}
		i, ok := index[date]
		if !ok {
			i = len(groups)
			index[date] = i
			groups = append(groups, DayGroup{Date: date})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}
	return groups
}

// Describe renders a record as a human-readable sentence fragment. Absent or
// malformed payload fields degrade to generic wording rather than erroring.
func Describe(rec domain.ActivityRecord) string {
	switch rec.Type {
	case domain.ActivityCreated:
		return "created this task"
	case domain.ActivityUpdated:
		if field := payloadString(rec.Payload, "field"); field != "" {
			return fmt.Sprintf("updated %s", field)
		}
		return "updated task details"
	case domain.ActivityStatusChange:
		from := payloadString(rec.Payload, "from")
		to := payloadString(rec.Payload, "to")
		if from == "" {
			from = "unknown"
		}
		if to == "" {
			to = "unknown"
		}
		return fmt.Sprintf("changed status from %s to %s", from, to)
	case domain.ActivityCommentAdded:
		return "added a comment"
	case domain.ActivityAssigned:
		added := payloadStrings(rec.Payload, "added")
		removed := payloadStrings(rec.Payload, "removed")
		switch {
		case len(added) > 0 && len(removed) > 0:
			return fmt.Sprintf("assigned to %s and unassigned %s", strings.Join(added, ", "), strings.Join(removed, ", "))
		case len(added) > 0:
			return fmt.Sprintf("assigned to %s", strings.Join(added, ", "))
		case len(removed) > 0:
			return fmt.Sprintf("unassigned %s", strings.Join(removed, ", "))
		default:
			return "changed task assignment"
		}
	case domain.ActivityDeleted:
		// Part of the record type enum, but a task deletion cascades its
		// trail away, so the engine never stores one.
		return "deleted this task"
	default:
		return "updated this task"
	}
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func payloadStrings(payload map[string]any, key string) []string {
	if payload == nil {
		return nil
	}
	switch v := payload[key].(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
