package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"studytrail/internal/config"
	"studytrail/internal/db"
	"studytrail/internal/directory"
	"studytrail/internal/engine"
	"studytrail/internal/gateway"
	"studytrail/internal/migrate"
	"studytrail/internal/records"
	"studytrail/internal/server"
)

type testServer struct {
	BaseURL string
	Actor   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Default("ws-test")
	gw := gateway.New(conn)
	rec := records.New(conn)
	eng := engine.New(gw, rec, cfg)
	dir := directory.New(conn)
	if err := dir.EnsureUser(context.Background(), "alice", "Alice"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	handler, err := server.New(server.Config{
		Engine:    eng,
		Gateway:   gw,
		Records:   rec,
		Directory: dir,
		Workspace: cfg,
		Auth: server.AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
		Log: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	return &testServer{
		BaseURL: "http://" + ln.Addr().String(),
		Actor:   "alice",
	}
}

// doJSON issues a request with the legacy actor header and decodes the JSON
// response body into a generic map. Valid JSON bodies that are not objects
// (e.g. top-level arrays) yield a nil map.
func (s *testServer) doJSON(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.BaseURL+path, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Actor != "" {
		req.Header.Set("X-Actor-Id", s.Actor)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var decoded any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("%s %s: bad json %q: %v", method, path, raw, err)
		}
	}
	obj, _ := decoded.(map[string]any)
	return resp.StatusCode, obj
}

func errCode(t *testing.T, body map[string]any) string {
	t.Helper()
	env, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error envelope in %v", body)
	}
	code, _ := env["code"].(string)
	return code
}

func errDetails(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	env, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error envelope in %v", body)
	}
	details, _ := env["details"].(map[string]any)
	return details
}

// seedTask creates a topic, goal and task and returns their ids.
func seedTask(t *testing.T, s *testServer) (string, string, string) {
	t.Helper()
	status, topic := s.doJSON(t, http.MethodPost, "/v0/topics", map[string]any{"title": "Spanish"})
	if status != http.StatusCreated {
		t.Fatalf("create topic: status %d %v", status, topic)
	}
	status, goal := s.doJSON(t, http.MethodPost, "/v0/goals", map[string]any{
		"topic_id": topic["id"], "title": "Vocabulary",
	})
	if status != http.StatusCreated {
		t.Fatalf("create goal: status %d %v", status, goal)
	}
	status, task := s.doJSON(t, http.MethodPost, "/v0/tasks", map[string]any{
		"goal_id": goal["id"], "title": "Flashcards", "task_type": "recurring_count",
	})
	if status != http.StatusCreated {
		t.Fatalf("create task: status %d %v", status, task)
	}
	return topic["id"].(string), goal["id"].(string), task["id"].(string)
}

func TestHealthNoAuth(t *testing.T) {
	s := newTestServer(t)
	s.Actor = ""
	status, body := s.doJSON(t, http.MethodGet, "/v0/health", nil)
	if status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	s := newTestServer(t)
	s.Actor = ""
	status, body := s.doJSON(t, http.MethodGet, "/v0/topics", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", status)
	}
	if code := errCode(t, body); code != "unauthorized" {
		t.Fatalf("code = %q", code)
	}
}

func TestCreateHierarchy(t *testing.T) {
	s := newTestServer(t)
	_, _, taskID := seedTask(t, s)

	status, task := s.doJSON(t, http.MethodGet, "/v0/tasks/"+taskID, nil)
	if status != http.StatusOK {
		t.Fatalf("get task: %d", status)
	}
	if task["status"] != "todo" || task["version"].(float64) != 0 {
		t.Fatalf("task = %v", task)
	}

	status, topics := s.doJSON(t, http.MethodGet, "/v0/status", nil)
	if status != http.StatusOK {
		t.Fatalf("status endpoint: %d", status)
	}
	if topics["topics"].(float64) != 1 || topics["tasks"].(float64) != 1 {
		t.Fatalf("workspace status = %v", topics)
	}
}

func TestStaleVersionConflict(t *testing.T) {
	s := newTestServer(t)
	_, _, taskID := seedTask(t, s)

	status, _ := s.doJSON(t, http.MethodPatch, "/v0/tasks/"+taskID, map[string]any{
		"expected_version": 0, "title": "First writer",
	})
	if status != http.StatusOK {
		t.Fatalf("first update: %d", status)
	}

	status, body := s.doJSON(t, http.MethodPatch, "/v0/tasks/"+taskID, map[string]any{
		"expected_version": 0, "title": "Second writer",
	})
	if status != http.StatusConflict {
		t.Fatalf("stale update: status %d, want 409", status)
	}
	if code := errCode(t, body); code != "version_conflict" {
		t.Fatalf("code = %q", code)
	}
	details := errDetails(t, body)
	if details["current_version"].(float64) != 1 {
		t.Fatalf("details = %v", details)
	}

	status, task := s.doJSON(t, http.MethodGet, "/v0/tasks/"+taskID, nil)
	if status != http.StatusOK || task["title"] != "First writer" {
		t.Fatalf("task after conflict = %v", task)
	}
}

func TestPatchWithoutVersionRetries(t *testing.T) {
	s := newTestServer(t)
	_, _, taskID := seedTask(t, s)

	// No expected_version takes the fetch-and-retry path.
	status, task := s.doJSON(t, http.MethodPatch, "/v0/tasks/"+taskID, map[string]any{"title": "Compat"})
	if status != http.StatusOK {
		t.Fatalf("compat update: %d %v", status, task)
	}
	if task["title"] != "Compat" || task["version"].(float64) != 1 {
		t.Fatalf("task = %v", task)
	}
}

func TestCompleteRequiresRecord(t *testing.T) {
	s := newTestServer(t)
	_, _, taskID := seedTask(t, s)

	status, body := s.doJSON(t, http.MethodPost, "/v0/tasks/"+taskID+"/complete", map[string]any{"expected_version": 0})
	if status != http.StatusPreconditionFailed {
		t.Fatalf("complete without record: status %d, want 412", status)
	}
	if code := errCode(t, body); code != "record_required" {
		t.Fatalf("code = %q", code)
	}

	status, _ = s.doJSON(t, http.MethodPost, "/v0/tasks/"+taskID+"/records", map[string]any{
		"content": "Reviewed 20 cards, irregular verbs still shaky.",
	})
	if status != http.StatusCreated {
		t.Fatalf("create record: %d", status)
	}

	// The guard refusal consumed no version.
	status, task := s.doJSON(t, http.MethodPost, "/v0/tasks/"+taskID+"/complete", map[string]any{"expected_version": 0})
	if status != http.StatusOK {
		t.Fatalf("complete with record: %d %v", status, task)
	}
	if task["status"] != "done" {
		t.Fatalf("task = %v", task)
	}
	if task["completed_by"] != "alice" {
		t.Fatalf("completed_by = %v", task["completed_by"])
	}
}

func TestCompleteRequireRecordOverride(t *testing.T) {
	s := newTestServer(t)
	_, _, taskID := seedTask(t, s)

	status, task := s.doJSON(t, http.MethodPost, "/v0/tasks/"+taskID+"/complete", map[string]any{
		"expected_version": 0, "require_record": false,
	})
	if status != http.StatusOK {
		t.Fatalf("complete with override: %d %v", status, task)
	}
}

func TestCheckInOncePerDay(t *testing.T) {
	s := newTestServer(t)
	_, _, taskID := seedTask(t, s)

	status, body := s.doJSON(t, http.MethodPost, "/v0/tasks/"+taskID+"/actions", map[string]any{"action_type": "check_in"})
	if status != http.StatusCreated {
		t.Fatalf("check-in: %d %v", status, body)
	}
	task := body["task"].(map[string]any)
	prog := task["progress_data"].(map[string]any)
	if prog["check_in_count"].(float64) != 1 || prog["current_streak"].(float64) != 1 {
		t.Fatalf("progress = %v", prog)
	}

	status, body = s.doJSON(t, http.MethodPost, "/v0/tasks/"+taskID+"/actions", map[string]any{"action_type": "check_in"})
	if status != http.StatusConflict {
		t.Fatalf("duplicate check-in: status %d, want 409", status)
	}
	if code := errCode(t, body); code != "duplicate_action" {
		t.Fatalf("code = %q", code)
	}
}

func TestCancelTodayCheckIn(t *testing.T) {
	s := newTestServer(t)
	_, _, taskID := seedTask(t, s)

	status, body := s.doJSON(t, http.MethodDelete, "/v0/tasks/"+taskID+"/actions/check-in/today", nil)
	if status != http.StatusNotFound {
		t.Fatalf("cancel with no check-in: status %d, want 404", status)
	}
	if code := errCode(t, body); code != "no_check_in_today" {
		t.Fatalf("code = %q", code)
	}

	if status, _ := s.doJSON(t, http.MethodPost, "/v0/tasks/"+taskID+"/actions", map[string]any{"action_type": "check_in"}); status != http.StatusCreated {
		t.Fatalf("check-in: %d", status)
	}
	status, task := s.doJSON(t, http.MethodDelete, "/v0/tasks/"+taskID+"/actions/check-in/today", nil)
	if status != http.StatusOK {
		t.Fatalf("cancel: %d %v", status, task)
	}
	prog := task["progress_data"].(map[string]any)
	if prog["check_in_count"].(float64) != 0 || prog["current_streak"].(float64) != 0 {
		t.Fatalf("counters not restored: %v", prog)
	}
}

func TestActionsAccumulate(t *testing.T) {
	s := newTestServer(t)
	_, _, taskID := seedTask(t, s)

	for i := 0; i < 3; i++ {
		status, _ := s.doJSON(t, http.MethodPost, "/v0/tasks/"+taskID+"/actions", map[string]any{
			"action_type": "add_count", "count": 2,
		})
		if status != http.StatusCreated {
			t.Fatalf("add_count %d: status %d", i, status)
		}
	}
	status, body := s.doJSON(t, http.MethodPost, "/v0/tasks/"+taskID+"/actions", map[string]any{
		"action_type": "add_amount", "amount": 1.5, "unit": "hours",
	})
	if status != http.StatusCreated {
		t.Fatalf("add_amount: %d %v", status, body)
	}
	task := body["task"].(map[string]any)
	prog := task["progress_data"].(map[string]any)
	if prog["current_count"].(float64) != 6 || prog["current_amount"].(float64) != 1.5 {
		t.Fatalf("progress = %v", prog)
	}

	status, _ = s.doJSON(t, http.MethodGet, "/v0/tasks/"+taskID+"/actions", nil)
	if status != http.StatusOK {
		t.Fatalf("list actions: %d", status)
	}
}

func TestArchiveAndRestoreGoal(t *testing.T) {
	s := newTestServer(t)
	_, goalID, _ := seedTask(t, s)

	if status, _ := s.doJSON(t, http.MethodDelete, "/v0/goals/"+goalID, nil); status != http.StatusOK && status != http.StatusNoContent {
		t.Fatalf("archive goal: %d", status)
	}
	status, goal := s.doJSON(t, http.MethodGet, "/v0/goals/"+goalID, nil)
	if status != http.StatusOK || goal["status"] != "archived" {
		t.Fatalf("goal after archive = %v", goal)
	}
	status, goal = s.doJSON(t, http.MethodPost, "/v0/goals/"+goalID+"/restore", nil)
	if status != http.StatusOK || goal["status"] != "todo" {
		t.Fatalf("goal after restore = %v", goal)
	}
}

func TestCollaboratorPermissions(t *testing.T) {
	s := newTestServer(t)
	topicID, _, taskID := seedTask(t, s)

	// bob has no grant yet and cannot edit.
	s.Actor = "bob"
	status, body := s.doJSON(t, http.MethodPatch, "/v0/tasks/"+taskID, map[string]any{"title": "Hijack"})
	if status != http.StatusForbidden {
		t.Fatalf("edit without grant: status %d %v", status, body)
	}

	s.Actor = "alice"
	status, _ = s.doJSON(t, http.MethodPost, "/v0/topics/"+topicID+"/collaborators", map[string]any{
		"user_id": "bob", "permission": "edit",
	})
	if status != http.StatusCreated {
		t.Fatalf("invite: %d", status)
	}

	s.Actor = "bob"
	status, task := s.doJSON(t, http.MethodPatch, "/v0/tasks/"+taskID, map[string]any{"title": "Shared edit"})
	if status != http.StatusOK {
		t.Fatalf("edit with grant: %d %v", status, task)
	}
}

func TestEventsPagination(t *testing.T) {
	s := newTestServer(t)
	seedTask(t, s)

	status, page := s.doJSON(t, http.MethodGet, "/v0/events?limit=2", nil)
	if status != http.StatusOK {
		t.Fatalf("events: %d", status)
	}
	items := page["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	cursor, _ := page["next_cursor"].(string)
	if cursor == "" {
		t.Fatal("expected a next cursor")
	}
	status, page = s.doJSON(t, http.MethodGet, "/v0/events?limit=2&cursor="+cursor, nil)
	if status != http.StatusOK {
		t.Fatalf("events page 2: %d", status)
	}
	if len(page["items"].([]any)) == 0 {
		t.Fatal("second page empty")
	}
}

func TestDevLoginAndJWT(t *testing.T) {
	s := newTestServer(t)
	s.Actor = ""

	status, body := s.doJSON(t, http.MethodPost, "/v0/auth/dev/login", map[string]any{
		"actor_id": "carol", "name": "Carol",
	})
	if status != http.StatusOK {
		t.Fatalf("dev login: %d %v", status, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("no token in response")
	}

	req, err := http.NewRequest(http.MethodGet, s.BaseURL+"/v0/me", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d", resp.StatusCode)
	}
	var me map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me["actor_id"] != "carol" || me["source"] != "jwt" {
		t.Fatalf("me = %v", me)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	s := newTestServer(t)

	status, created := s.doJSON(t, http.MethodPost, "/v0/me/api-keys", map[string]any{"name": "ci"})
	if status != http.StatusCreated {
		t.Fatalf("create key: %d %v", status, created)
	}
	key, _ := created["key"].(string)
	if key == "" {
		t.Fatal("no key returned")
	}

	req, err := http.NewRequest(http.MethodGet, s.BaseURL+"/v0/me", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Api-Key", key)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me via api key: status %d", resp.StatusCode)
	}
	var me map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me["actor_id"] != "alice" || me["source"] != "api_key" {
		t.Fatalf("me = %v", me)
	}

	id, _ := created["id"].(string)
	if status, _ := s.doJSON(t, http.MethodDelete, fmt.Sprintf("/v0/me/api-keys/%s", id), nil); status != http.StatusOK && status != http.StatusNoContent {
		t.Fatalf("delete key: %d", status)
	}
}

func TestUnknownTaskIs404(t *testing.T) {
	s := newTestServer(t)
	status, body := s.doJSON(t, http.MethodGet, "/v0/tasks/nope", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status %d, want 404", status)
	}
	if code := errCode(t, body); code != "not_found" {
		t.Fatalf("code = %q", code)
	}
}
