package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	seedUsers(t, e)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

// seedUsers builds root (top role), lead and mgr (manager roles), and a
// worker reporting to lead, plus an outsider with no roles or chain.
func seedUsers(t *testing.T, e engine.Engine) {
	t.Helper()
	ctx := context.Background()
	add := func(id, senior string, roles ...string) {
		_, err := e.CreateUser(ctx, engine.UserCreateOptions{
			ID:             id,
			Name:           id,
			Email:          id + "@example.com",
			SeniorPersonID: senior,
			Roles:          roles,
		})
		if err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
	add("root", "", "admin")
	add("lead", "", "project_lead")
	add("mgr", "", "manager")
	add("worker", "lead")
	add("outsider", "")
}

func bearer(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, err := MintToken(testSecret, userID, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestTaskFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":       "Ship release",
		"assigned_to": []string{"worker"},
	}, bearer(t, "lead"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, data)
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	// the assignee and the creator can view, an outsider cannot
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil, bearer(t, "worker"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("worker view status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil, bearer(t, "outsider"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider view status %d: %s", res.StatusCode, data)
	}

	// only manager roles may edit
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID, map[string]any{
		"status": "in_progress",
	}, bearer(t, "worker"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("worker edit status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID, map[string]any{
		"status": "in_progress",
	}, bearer(t, "lead"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("lead edit status %d: %s", res.StatusCode, data)
	}

	// only the hierarchy lead may reassign
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/assignees", map[string]any{
		"add": []string{"outsider"},
	}, bearer(t, "mgr"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("mgr reassign status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/assignees", map[string]any{
		"add": []string{"outsider"},
	}, bearer(t, "lead"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("lead reassign status %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil, bearer(t, "outsider"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assigned outsider view status %d", res.StatusCode)
	}

	// the trail shows the whole story, newest first
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID+"/activity?group_by=day", nil, bearer(t, "worker"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activity status %d: %s", res.StatusCode, data)
	}
	var trail struct {
		Items []ActivityResponse    `json:"items"`
		Days  []ActivityDayResponse `json:"days"`
	}
	if err := json.Unmarshal(data, &trail); err != nil {
		t.Fatalf("unmarshal activity: %v", err)
	}
	if len(trail.Items) != 3 {
		t.Fatalf("got %d activity records, want created, status_change, assigned: %v", len(trail.Items), trail.Items)
	}
	if len(trail.Days) == 0 {
		t.Fatalf("expected day groups")
	}
	types := map[string]bool{}
	for _, rec := range trail.Items {
		types[rec.Type] = true
		if rec.Description == "" {
			t.Fatalf("record %s has no description", rec.ID)
		}
	}
	for _, want := range []string{"created", "status_change", "assigned"} {
		if !types[want] {
			t.Fatalf("activity types %v missing %s", types, want)
		}
	}
}

func TestTopRoleIsReadOnlyOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title": "Confidential task",
	}, bearer(t, "lead"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, data)
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	// the top role is not in the access set but sees everything
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil, bearer(t, "root"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("root view status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, bearer(t, "root"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("root list status %d", res.StatusCode)
	}
	var tasks []TaskResponse
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("root sees %d tasks, want 1", len(tasks))
	}

	// but cannot change anything
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID, map[string]any{
		"title": "Renamed",
	}, bearer(t, "root"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("root edit status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/tasks/"+task.ID, nil, bearer(t, "root"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("root delete status %d: %s", res.StatusCode, data)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no credential status %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status %d", res.StatusCode)
	}

	// a valid token for a user that does not exist gets the same answer
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, bearer(t, "vanished"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("vanished user status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Message != "not authorized" {
		t.Fatalf("message = %q, want the generic one", envelope.Error.Message)
	}

	// health and dev login are exempt
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"user_id": "worker",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, data)
	}
	var tok TokenResponse
	if err := json.Unmarshal(data, &tok); err != nil || tok.Token == "" {
		t.Fatalf("token response %s: %v", data, err)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + tok.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me with minted token status %d", res.StatusCode)
	}
}
