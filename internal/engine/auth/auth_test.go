package auth_test

import (
	"errors"
	"testing"

	"taskdesk/internal/config"
	"taskdesk/internal/engine/auth"
)

// Deliberately non-default role names: the policy must key on whatever the
// config says, not on hardcoded strings.
func testPolicy() auth.Policy {
	return auth.Policy{Roles: config.RoleNames{
		Top:           "overseer",
		Managers:      []string{"supervisor", "team_captain"},
		HierarchyLead: "team_captain",
	}}
}

func TestTopRoleSeesEverythingButMutatesNothing(t *testing.T) {
	pl := testPolicy()
	top := auth.Principal{UserID: "root", Roles: []string{"overseer"}}
	if !pl.IsTopRole(top) {
		t.Fatalf("expected top role")
	}
	if !pl.CanView(top, nil) {
		t.Fatalf("top role must view without ACL membership")
	}
	if pl.CanMutate(top) {
		t.Fatalf("top role is read-only")
	}
	if pl.CanReassign(top) {
		t.Fatalf("top role must not reassign")
	}
}

func TestManagerMutatesButNeedsLeadRoleToReassign(t *testing.T) {
	pl := testPolicy()
	manager := auth.Principal{UserID: "m1", Roles: []string{"supervisor"}}
	lead := auth.Principal{UserID: "l1", Roles: []string{"team_captain"}}
	if !pl.CanMutate(manager) || !pl.CanMutate(lead) {
		t.Fatalf("manager roles must mutate")
	}
	if pl.CanReassign(manager) {
		t.Fatalf("plain manager must not reassign")
	}
	if !pl.CanReassign(lead) {
		t.Fatalf("hierarchy lead must reassign")
	}
}

func TestViewRequiresACLMembershipForNonTopRoles(t *testing.T) {
	pl := testPolicy()
	worker := auth.Principal{UserID: "w1"}
	if !pl.CanView(worker, []string{"w1", "m1"}) {
		t.Fatalf("member must view")
	}
	if pl.CanView(worker, []string{"m1"}) {
		t.Fatalf("non-member must not view")
	}
	if pl.CanMutate(worker) {
		t.Fatalf("principal without manager role must not mutate")
	}
}

func TestDefaultNamesGrantNothingUnderCustomPolicy(t *testing.T) {
	pl := testPolicy()
	p := auth.Principal{UserID: "a1", Roles: []string{"admin", "manager", "project_lead"}}
	if pl.IsTopRole(p) || pl.CanMutate(p) || pl.CanReassign(p) {
		t.Fatalf("roles absent from config must grant nothing")
	}
}

func TestTopRoleCombinedWithManagerStaysReadOnly(t *testing.T) {
	pl := testPolicy()
	both := auth.Principal{UserID: "b1", Roles: []string{"overseer", "supervisor"}}
	if pl.CanMutate(both) {
		t.Fatalf("top role wins over manager role for mutation")
	}
	if !pl.CanView(both, nil) {
		t.Fatalf("top role view bypass must hold")
	}
}

func TestForbiddenErrorNamesAction(t *testing.T) {
	err := auth.ForbiddenError{Action: "edit tasks"}
	if err.Error() != "not permitted to edit tasks" {
		t.Fatalf("message = %q", err.Error())
	}
	var fe auth.ForbiddenError
	if !errors.As(error(err), &fe) || fe.Action != "edit tasks" {
		t.Fatalf("errors.As failed: %v", err)
	}
}
