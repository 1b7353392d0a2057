package engine

import (
	"context"

	"taskdesk/internal/domain"
)

// memberSet is an insertion-ordered string set.
type memberSet struct {
	seen  map[string]bool
	order []string
}

func newMemberSet(initial ...string) *memberSet {
	s := &memberSet{seen: map[string]bool{}}
	s.add(initial...)
	return s
}

func (s *memberSet) add(ids ...string) {
	for _, id := range ids {
		if id == "" || s.seen[id] {
			continue
		}
		s.seen[id] = true
		s.order = append(s.order, id)
	}
}

func (s *memberSet) has(id string) bool { return s.seen[id] }

// seedAccessList computes the initial access set for a new task: the creator,
// the assignees, and the superior chain of each, so everyone responsible for
// an assignee can observe the work.
func (e Engine) seedAccessList(ctx context.Context, createdBy string, assignees []string) ([]string, error) {
	set := newMemberSet(createdBy)
	set.add(assignees...)
	for _, uid := range append([]string{createdBy}, assignees...) {
		chain, err := e.SuperiorChain(ctx, uid)
		if err != nil {
			return nil, err
		}
		set.add(chain...)
	}
	return set.order, nil
}

// extendAccessList grows a task's access set for newly assigned users and
// their superior chains. Membership is a monotonic set union: existing
// members are never removed here, even when an assignee was dropped, so
// management continuity survives reassignment. Revoking access is a separate
// explicit operation.
func (e Engine) extendAccessList(ctx context.Context, t domain.Task, newAssignees []string) ([]string, error) {
	current := newMemberSet(t.AssignedTo...)
	set := newMemberSet(t.CanAccess...)
	for _, uid := range newAssignees {
		if uid == "" || current.has(uid) {
			continue
		}
		set.add(uid)
		chain, err := e.SuperiorChain(ctx, uid)
		if err != nil {
			return nil, err
		}
		set.add(chain...)
	}
	return set.order, nil
}
