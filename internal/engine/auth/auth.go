package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"taskdesk/internal/config"
	"taskdesk/internal/repo"
)

// ErrNotAuthorized covers both a missing/invalid credential and a credential
// whose user no longer exists. Callers see a single outcome so they cannot
// tell which case applied.
var ErrNotAuthorized = errors.New("not authorized")

// ForbiddenError indicates an authenticated principal was denied an action.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not permitted to %s", e.Action)
}

// Principal is the authenticated identity making a request, with its role
// names normalized at load time.
type Principal struct {
	UserID string
	Name   string
	Roles  []string
	Source string
}

// HasRole reports whether the principal holds the named role.
func (p Principal) HasRole(name string) bool {
	for _, r := range p.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// Resolver loads principals from the user store. The token itself is
// verified upstream; Resolve trusts the user id it is given.
type Resolver struct {
	Repo repo.Repo
	Log  *logrus.Logger
}

// Resolve loads the user and its role set. A user id that no longer
// resolves yields ErrNotAuthorized, not a distinct not-found error.
func (r Resolver) Resolve(ctx context.Context, userID, source string) (Principal, error) {
	if userID == "" {
		return Principal{}, ErrNotAuthorized
	}
	u, err := r.Repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if r.Log != nil {
				r.Log.WithField("user_id", userID).Warn("token references unknown user")
			}
			return Principal{}, ErrNotAuthorized
		}
		return Principal{}, err
	}
	return Principal{
		UserID: u.ID,
		Name:   u.Name,
		Roles:  u.RoleNames,
		Source: source,
	}, nil
}

// Policy holds the distinguished role names and exposes the pure access
// decision functions. It has no side effects; callers act on the booleans.
type Policy struct {
	Roles config.RoleNames
}

// IsTopRole reports whether any of the principal's roles is the top role.
func (pl Policy) IsTopRole(p Principal) bool {
	return pl.Roles.Top != "" && p.HasRole(pl.Roles.Top)
}

// IsManagerRole reports whether the principal's role set intersects the
// manager role names.
func (pl Policy) IsManagerRole(p Principal) bool {
	for _, m := range pl.Roles.Managers {
		if p.HasRole(m) {
			return true
		}
	}
	return false
}

// IsHierarchyLead reports whether the principal holds the lead role that
// permits changing task assignment.
func (pl Policy) IsHierarchyLead(p Principal) bool {
	return pl.Roles.HierarchyLead != "" && p.HasRole(pl.Roles.HierarchyLead)
}

// CanView is true for the top role regardless of ACL membership, otherwise
// only for principals enumerated in the task's access set.
func (pl Policy) CanView(p Principal, canAccess []string) bool {
	if pl.IsTopRole(p) {
		return true
	}
	for _, uid := range canAccess {
		if uid == p.UserID {
			return true
		}
	}
	return false
}

// CanMutate gates field and status edits. The top role is read-only by
// policy: a global overseer observes task state but does not edit it.
func (pl Policy) CanMutate(p Principal) bool {
	if pl.IsTopRole(p) {
		return false
	}
	return pl.IsManagerRole(p)
}

// CanReassign gates assignment changes, which additionally require the
// hierarchy lead role.
func (pl Policy) CanReassign(p Principal) bool {
	return pl.CanMutate(p) && pl.IsHierarchyLead(p)
}
