package engine_test

import (
	"context"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Dir    string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default()).WithClock(func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	})
	return testEnv{Engine: eng, Ctx: context.Background(), Dir: dir}
}

func (env testEnv) addUser(t *testing.T, id, senior string, roles ...string) {
	t.Helper()
	_, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{
		ID:             id,
		Name:           id,
		Email:          id + "@example.com",
		SeniorPersonID: senior,
		Roles:          roles,
	})
	if err != nil {
		t.Fatalf("add user %s: %v", id, err)
	}
}

func hasMember(list []string, id string) bool {
	for _, m := range list {
		if m == id {
			return true
		}
	}
	return false
}

// seedHierarchy builds dana (creator) and the chain alice -> bob -> carol.
func seedHierarchy(t *testing.T, env testEnv) {
	t.Helper()
	env.addUser(t, "carol", "", "manager")
	env.addUser(t, "bob", "carol")
	env.addUser(t, "alice", "bob")
	env.addUser(t, "dana", "", "project_lead")
}

func TestCreateTaskSeedsAccessWithReportingChain(t *testing.T) {
	env := newTestEnv(t)
	seedHierarchy(t, env)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:      "Prepare launch checklist",
		AssignedTo: []string{"alice"},
		ActorID:    "dana",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	want := []string{"dana", "alice", "bob", "carol"}
	if len(task.CanAccess) != len(want) {
		t.Fatalf("access set = %v, want members %v", task.CanAccess, want)
	}
	for _, id := range want {
		if !hasMember(task.CanAccess, id) {
			t.Fatalf("access set %v missing %s", task.CanAccess, id)
		}
	}
}

func TestReassignExtendsAccessWithoutShrinking(t *testing.T) {
	env := newTestEnv(t)
	seedHierarchy(t, env)
	env.addUser(t, "frank", "")
	env.addUser(t, "evan", "frank")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:      "Quarterly report",
		AssignedTo: []string{"alice"},
		ActorID:    "dana",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	before := len(task.CanAccess)

	task, err = env.Engine.Reassign(env.Ctx, engine.ReassignOptions{
		ID:      task.ID,
		Add:     []string{"evan"},
		Remove:  []string{"alice"},
		ActorID: "dana",
	})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if hasMember(task.AssignedTo, "alice") {
		t.Fatalf("alice still assigned after removal: %v", task.AssignedTo)
	}
	if !hasMember(task.AssignedTo, "evan") {
		t.Fatalf("evan not assigned: %v", task.AssignedTo)
	}
	for _, id := range []string{"alice", "bob", "carol", "evan", "frank"} {
		if !hasMember(task.CanAccess, id) {
			t.Fatalf("access set %v missing %s after reassignment", task.CanAccess, id)
		}
	}
	if len(task.CanAccess) != before+2 {
		t.Fatalf("access set grew to %d members, want %d", len(task.CanAccess), before+2)
	}

	// re-adding an existing member must not duplicate anything
	again, err := env.Engine.Reassign(env.Ctx, engine.ReassignOptions{
		ID:      task.ID,
		Add:     []string{"evan"},
		ActorID: "dana",
	})
	if err != nil {
		t.Fatalf("idempotent reassign: %v", err)
	}
	if len(again.CanAccess) != len(task.CanAccess) || len(again.AssignedTo) != len(task.AssignedTo) {
		t.Fatalf("repeated add changed sets: access %v assigned %v", again.CanAccess, again.AssignedTo)
	}

	// a new assignee whose chain is already covered adds only themself
	env.addUser(t, "gina", "bob")
	task, err = env.Engine.Reassign(env.Ctx, engine.ReassignOptions{
		ID:      task.ID,
		Add:     []string{"gina"},
		ActorID: "dana",
	})
	if err != nil {
		t.Fatalf("reassign gina: %v", err)
	}
	if len(task.CanAccess) != len(again.CanAccess)+1 || !hasMember(task.CanAccess, "gina") {
		t.Fatalf("access set = %v, want exactly gina added", task.CanAccess)
	}
}

func TestStatusUpdateRecordsExactlyOneStatusChange(t *testing.T) {
	env := newTestEnv(t)
	seedHierarchy(t, env)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:   "Triage bug reports",
		ActorID: "dana",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	status := domain.StatusInProgress
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: &status, ActorID: "dana"}); err != nil {
		t.Fatalf("update status: %v", err)
	}
	recs, err := env.Engine.ListActivity(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	var statusChanges []domain.ActivityRecord
	for _, rec := range recs {
		if rec.Type == domain.ActivityStatusChange {
			statusChanges = append(statusChanges, rec)
		}
		if rec.Type == domain.ActivityUpdated {
			t.Fatalf("status edit must not produce a generic updated record: %v", rec)
		}
	}
	if len(statusChanges) != 1 {
		t.Fatalf("got %d status_change records, want 1", len(statusChanges))
	}
	rec := statusChanges[0]
	if rec.Payload["from"] != domain.StatusOpen || rec.Payload["to"] != domain.StatusInProgress {
		t.Fatalf("status_change payload = %v", rec.Payload)
	}
}

func TestFieldEditsRecordOnePerFieldWithSharedTimestamp(t *testing.T) {
	env := newTestEnv(t)
	seedHierarchy(t, env)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:   "Draft announcement",
		ActorID: "dana",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	title := "Draft release announcement"
	priority := domain.PriorityHigh
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID:       task.ID,
		Title:    &title,
		Priority: &priority,
		ActorID:  "dana",
	}); err != nil {
		t.Fatalf("update fields: %v", err)
	}
	recs, err := env.Engine.ListActivity(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	fields := map[string]string{}
	for _, rec := range recs {
		if rec.Type != domain.ActivityUpdated {
			continue
		}
		field, _ := rec.Payload["field"].(string)
		fields[field] = rec.CreatedAt
	}
	if len(fields) != 2 {
		t.Fatalf("updated records for fields %v, want title and priority", fields)
	}
	if fields["title"] == "" || fields["priority"] == "" {
		t.Fatalf("missing field records: %v", fields)
	}
	if fields["title"] != fields["priority"] {
		t.Fatalf("records from one edit differ in timestamp: %v", fields)
	}
	if fields["title"] != "2024-01-01T00:00:00Z" {
		t.Fatalf("activity timestamp = %q, want the pinned clock", fields["title"])
	}
}

func TestAuditWriteFailureDoesNotBlockMutation(t *testing.T) {
	env := newTestEnv(t)
	seedHierarchy(t, env)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:   "Survive audit outage",
		ActorID: "dana",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := env.Engine.DB.Exec(`DROP TABLE activity`); err != nil {
		t.Fatalf("break activity store: %v", err)
	}

	title := "Survived audit outage"
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID:      task.ID,
		Title:   &title,
		ActorID: "dana",
	})
	if err != nil {
		t.Fatalf("update with broken activity store: %v", err)
	}
	if updated.Title != title {
		t.Fatalf("title = %q, want %q", updated.Title, title)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if got.Title != title {
		t.Fatalf("mutation not persisted: title = %q", got.Title)
	}

	// Comments are the one exception: the record is the operation's only
	// artifact, so its write failure must surface.
	if _, err := env.Engine.AddComment(env.Ctx, task.ID, "c-9", "dana"); err == nil {
		t.Fatalf("expected comment append to fail with broken activity store")
	}
}

func TestDeleteTaskRemovesActivityTrail(t *testing.T) {
	env := newTestEnv(t)
	seedHierarchy(t, env)
	logger, hook := logtest.NewNullLogger()
	env.Engine.Log = logger
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:   "Obsolete work",
		ActorID: "dana",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, task.ID, "c-1", "dana"); err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, "dana"); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	recs, err := env.Engine.ListActivity(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list activity after delete: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("activity survived task deletion: %v", recs)
	}

	// No deleted-type record can outlive the cascade, so the deletion is
	// attributed to the actor in the log instead.
	var attributed bool
	for _, entry := range hook.AllEntries() {
		if entry.Data["task_id"] == task.ID && entry.Data["actor_id"] == "dana" {
			attributed = true
		}
	}
	if !attributed {
		t.Fatalf("deletion not attributed to the acting user in the log")
	}
}

func TestAddCommentRecordsActivity(t *testing.T) {
	env := newTestEnv(t)
	seedHierarchy(t, env)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:   "Review proposal",
		ActorID: "dana",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	rec, err := env.Engine.AddComment(env.Ctx, task.ID, "c-42", "alice")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if rec.Type != domain.ActivityCommentAdded || rec.Payload["comment_id"] != "c-42" {
		t.Fatalf("comment record = %+v", rec)
	}
	if _, err := env.Engine.AddComment(env.Ctx, task.ID, "", "alice"); err == nil {
		t.Fatalf("expected error for empty comment id")
	}
}

func TestRevokeAccessGuardsCreatorAndAssignees(t *testing.T) {
	env := newTestEnv(t)
	seedHierarchy(t, env)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:      "Handle escalation",
		AssignedTo: []string{"alice"},
		ActorID:    "dana",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := env.Engine.RevokeAccess(env.Ctx, task.ID, "dana", "dana"); err == nil {
		t.Fatalf("expected error revoking creator access")
	}
	if _, err := env.Engine.RevokeAccess(env.Ctx, task.ID, "alice", "dana"); err == nil {
		t.Fatalf("expected error revoking assignee access")
	}
	task, err = env.Engine.RevokeAccess(env.Ctx, task.ID, "carol", "dana")
	if err != nil {
		t.Fatalf("revoke chain member: %v", err)
	}
	if hasMember(task.CanAccess, "carol") {
		t.Fatalf("carol still in access set after revoke: %v", task.CanAccess)
	}
}
