package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

// InsertTask writes the task row plus its assignee and access sets.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,title,description,status,priority,due_date,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.Status, t.Priority, nullablePtr(t.DueDate), t.CreatedBy, t.CreatedAt, t.UpdatedAt); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	for i, uid := range t.AssignedTo {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_assignees(task_id,user_id,position) VALUES (?,?,?)`, t.ID, uid, i); err != nil {
			return fmt.Errorf("insert assignee: %w", err)
		}
	}
	return r.AddAccessMembers(ctx, tx, t.ID, t.CanAccess)
}

// AddAccessMembers grows the task's access set. INSERT OR IGNORE makes the
// grant atomic and idempotent, so concurrent extensions cannot lose members.
func (r Repo) AddAccessMembers(ctx context.Context, tx *sql.Tx, taskID string, userIDs []string) error {
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	for _, uid := range userIDs {
		if uid == "" {
			continue
		}
		if _, err := exec(`INSERT OR IGNORE INTO task_access(task_id,user_id) VALUES (?,?)`, taskID, uid); err != nil {
			return fmt.Errorf("grant access: %w", err)
		}
	}
	return nil
}

// RemoveAccessMember is the explicit administrative revoke path; nothing in
// the normal assignment flow calls it.
func (r Repo) RemoveAccessMember(ctx context.Context, taskID, userID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM task_access WHERE task_id=? AND user_id=?`, taskID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) AddAssignees(ctx context.Context, tx *sql.Tx, taskID string, userIDs []string) error {
	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),-1)+1 FROM task_assignees WHERE task_id=?`, taskID).Scan(&next); err != nil {
		return err
	}
	for i, uid := range userIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_assignees(task_id,user_id,position) VALUES (?,?,?)`, taskID, uid, next+i); err != nil {
			return fmt.Errorf("insert assignee: %w", err)
		}
	}
	return nil
}

func (r Repo) RemoveAssignees(ctx context.Context, tx *sql.Tx, taskID string, userIDs []string) error {
	for _, uid := range userIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id=? AND user_id=?`, taskID, uid); err != nil {
			return fmt.Errorf("remove assignee: %w", err)
		}
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	var desc, due sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,COALESCE(description,''),status,priority,due_date,created_by,created_at,updated_at FROM tasks WHERE id=?`, id).
		Scan(&t.ID, &t.Title, &desc, &t.Status, &t.Priority, &due, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if desc.Valid {
		t.Description = desc.String
	}
	if due.Valid {
		d := due.String
		t.DueDate = &d
	}
	if t.AssignedTo, err = r.listTaskMembers(ctx, `SELECT user_id FROM task_assignees WHERE task_id=? ORDER BY position`, id); err != nil {
		return t, err
	}
	if t.CanAccess, err = r.listTaskMembers(ctx, `SELECT user_id FROM task_access WHERE task_id=? ORDER BY user_id`, id); err != nil {
		return t, err
	}
	return t, nil
}

func (r Repo) listTaskMembers(ctx context.Context, query, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}

// UpdateTask persists the mutable task fields.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?,description=?,status=?,priority=?,due_date=?,updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, t.Priority, nullablePtr(t.DueDate), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes the task; assignee, access and activity rows cascade.
func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TaskListOptions filter a task listing. VisibleTo limits results to tasks
// whose access set contains the given user; empty means no ACL filter.
type TaskListOptions struct {
	VisibleTo string
	Status    string
	Priority  string
	Assignee  string
}

func (r Repo) ListTasks(ctx context.Context, opts TaskListOptions) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if opts.VisibleTo != "" {
		clauses = append(clauses, "id IN (SELECT task_id FROM task_access WHERE user_id=?)")
		args = append(args, opts.VisibleTo)
	}
	if opts.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, opts.Status)
	}
	if opts.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, opts.Priority)
	}
	if opts.Assignee != "" {
		clauses = append(clauses, "id IN (SELECT task_id FROM task_assignees WHERE user_id=?)")
		args = append(args, opts.Assignee)
	}
	query := `SELECT id FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var tasks []domain.Task
	for _, id := range ids {
		t, err := r.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// CountTasksByStatus feeds the dashboard summary.
func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	return r.countTasksBy(ctx, "status")
}

func (r Repo) CountTasksByPriority(ctx context.Context) (map[string]int, error) {
	return r.countTasksBy(ctx, "priority")
}

func (r Repo) countTasksBy(ctx context.Context, column string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s, COUNT(*) FROM tasks GROUP BY %s`, column, column))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}
