package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskdesk/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	if u.ID == "" {
		return errors.New("id required")
	}
	if u.Email == "" {
		return errors.New("email required")
	}
	if u.CreatedAt == "" {
		u.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	active := 0
	if u.Active {
		active = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,email,senior_person_id,active,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, nullablePtr(u.SeniorPersonID), active, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser loads a user with role references normalized into both role ids
// and role names, so callers never deal with mixed representations.
func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var senior sql.NullString
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,senior_person_id,active,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &senior, &active, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if senior.Valid {
		s := senior.String
		u.SeniorPersonID = &s
	}
	u.Active = active == 1
	rows, err := r.DB.QueryContext(ctx, `
SELECT ro.id, ro.name FROM user_roles ur
JOIN roles ro ON ro.id=ur.role_id
WHERE ur.user_id=? ORDER BY ur.position`, id)
	if err != nil {
		return u, err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID, roleName string
		if err := rows.Scan(&roleID, &roleName); err != nil {
			return u, err
		}
		u.RoleIDs = append(u.RoleIDs, roleID)
		u.RoleNames = append(u.RoleNames, roleName)
	}
	return u, rows.Err()
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM users ORDER BY created_at, id`)
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
	var users []domain.User
	for _, id := range ids {
		u, err := r.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// SetSeniorPerson updates the reporting-chain link. The link is not checked
// for cycles here; the hierarchy walk guards against them at read time.
func (r Repo) SetSeniorPerson(ctx context.Context, userID string, seniorID *string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET senior_person_id=? WHERE id=?`, nullablePtr(seniorID), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetUserActive(ctx context.Context, userID string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET active=? WHERE id=?`, v, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureRole inserts a role by name if missing and returns it.
func (r Repo) EnsureRole(ctx context.Context, id, name string) (domain.Role, error) {
	if name == "" {
		return domain.Role{}, errors.New("role name required")
	}
	if id == "" {
		id = name
	}
	if _, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO roles(id,name) VALUES (?,?)`, id, name); err != nil {
		return domain.Role{}, err
	}
	return r.GetRoleByName(ctx, name)
}

func (r Repo) GetRole(ctx context.Context, id string) (domain.Role, error) {
	var ro domain.Role
	err := r.DB.QueryRowContext(ctx, `SELECT id,name FROM roles WHERE id=?`, id).Scan(&ro.ID, &ro.Name)
	if err == sql.ErrNoRows {
		return ro, ErrNotFound
	}
	return ro, err
}

func (r Repo) GetRoleByName(ctx context.Context, name string) (domain.Role, error) {
	var ro domain.Role
	err := r.DB.QueryRowContext(ctx, `SELECT id,name FROM roles WHERE name=?`, name).Scan(&ro.ID, &ro.Name)
	if err == sql.ErrNoRows {
		return ro, ErrNotFound
	}
	return ro, err
}

func (r Repo) GrantRole(ctx context.Context, userID, roleID string) error {
	var next int
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),-1)+1 FROM user_roles WHERE user_id=?`, userID).Scan(&next); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles(user_id,role_id,position) VALUES (?,?,?)`, userID, roleID, next)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, userID, roleID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=? AND role_id=?`, userID, roleID)
	return err
}
