package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskbridge/internal/config"
	"taskbridge/internal/db"
	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
	"taskbridge/internal/migrate"
	"taskbridge/internal/repo"
)

const testJWTSecret = "test-secret"

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
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:             testJWTSecret,
			AllowLegacyUserHeader: true,
			Logger:                log.New(io.Discard, "", 0),
		},
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

func asUser(id string) map[string]string {
	return map[string]string{"X-User-Id": id}
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, string(data))
	}
	return env
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":  "Paint the shed",
		"budget": 200,
	}, asUser("owner"))
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", createRes.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if created.Status != "open" || created.CreatedBy != "owner" {
		t.Fatalf("unexpected created task: %+v", created)
	}

	acceptRes, acceptBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/accept", map[string]any{
		"message": "On it",
	}, asUser("worker"))
	if acceptRes.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", acceptRes.StatusCode, string(acceptBody))
	}
	var accepted AcceptResponse
	if err := json.Unmarshal(acceptBody, &accepted); err != nil {
		t.Fatalf("unmarshal accept: %v", err)
	}
	if accepted.AcceptanceID == "" || accepted.ConversationID == "" {
		t.Fatalf("accept response incomplete: %+v", accepted)
	}

	respondRes, respondBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/acceptances/"+accepted.AcceptanceID+"/respond", map[string]any{
		"decision": "confirmed",
	}, asUser("owner"))
	if respondRes.StatusCode != http.StatusOK {
		t.Fatalf("respond status %d: %s", respondRes.StatusCode, string(respondBody))
	}
	var resolved AcceptanceResponse
	if err := json.Unmarshal(respondBody, &resolved); err != nil {
		t.Fatalf("unmarshal acceptance: %v", err)
	}
	if resolved.Status != "confirmed" {
		t.Fatalf("expected confirmed acceptance, got %s", resolved.Status)
	}

	finishRes, finishBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/finish", nil, asUser("worker"))
	if finishRes.StatusCode != http.StatusOK {
		t.Fatalf("finish status %d: %s", finishRes.StatusCode, string(finishBody))
	}
	var finished TaskResponse
	_ = json.Unmarshal(finishBody, &finished)
	if finished.Status != "finished" {
		t.Fatalf("expected finished, got %s", finished.Status)
	}

	completeRes, completeBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/complete", nil, asUser("owner"))
	if completeRes.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", completeRes.StatusCode, string(completeBody))
	}
	var completed TaskResponse
	_ = json.Unmarshal(completeBody, &completed)
	if completed.Status != "completed" || completed.CompletionDate == nil {
		t.Fatalf("unexpected completed task: %+v", completed)
	}

	msgRes, msgBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/conversations/"+accepted.ConversationID+"/messages", nil, asUser("owner"))
	if msgRes.StatusCode != http.StatusOK {
		t.Fatalf("messages status %d: %s", msgRes.StatusCode, string(msgBody))
	}
	var msgs []MessageResponse
	if err := json.Unmarshal(msgBody, &msgs); err != nil {
		t.Fatalf("unmarshal messages: %v", err)
	}
	if len(msgs) < 4 {
		t.Fatalf("expected lifecycle notifications in conversation, got %d messages", len(msgs))
	}
}

func TestAcceptAndRespondConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":  "Contested task",
		"budget": 80,
	}, asUser("owner"))
	var created TaskResponse
	_ = json.Unmarshal(data, &created)

	selfRes, selfBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/accept", map[string]any{}, asUser("owner"))
	if selfRes.StatusCode != http.StatusForbidden {
		t.Fatalf("self accept: expected 403, got %d %s", selfRes.StatusCode, string(selfBody))
	}
	if env := decodeError(t, selfBody); env.Error.Code != "self_acceptance" {
		t.Fatalf("self accept code: %s", env.Error.Code)
	}

	_, acceptBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/accept", map[string]any{}, asUser("worker-1"))
	var first AcceptResponse
	_ = json.Unmarshal(acceptBody, &first)
	_, acceptBody2 := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/accept", map[string]any{}, asUser("worker-2"))
	var second AcceptResponse
	_ = json.Unmarshal(acceptBody2, &second)

	strangerRes, strangerBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/acceptances/"+first.AcceptanceID+"/respond", map[string]any{
		"decision": "confirmed",
	}, asUser("worker-2"))
	if strangerRes.StatusCode != http.StatusForbidden {
		t.Fatalf("respond by stranger: expected 403, got %d %s", strangerRes.StatusCode, string(strangerBody))
	}
	if env := decodeError(t, strangerBody); env.Error.Code != "not_owner" {
		t.Fatalf("stranger respond code: %s", env.Error.Code)
	}

	okRes, okBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/acceptances/"+first.AcceptanceID+"/respond", map[string]any{
		"decision": "confirmed",
	}, asUser("owner"))
	if okRes.StatusCode != http.StatusOK {
		t.Fatalf("confirm: %d %s", okRes.StatusCode, string(okBody))
	}

	// the sibling was rejected in the same transaction; flipping it is refused
	flipRes, flipBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/acceptances/"+second.AcceptanceID+"/respond", map[string]any{
		"decision": "confirmed",
	}, asUser("owner"))
	if flipRes.StatusCode != http.StatusConflict {
		t.Fatalf("confirm rejected sibling: expected 409, got %d %s", flipRes.StatusCode, string(flipBody))
	}
	if env := decodeError(t, flipBody); env.Error.Code != "already_resolved" {
		t.Fatalf("sibling code: %s", env.Error.Code)
	}

	lateRes, lateBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/accept", map[string]any{}, asUser("worker-3"))
	if lateRes.StatusCode != http.StatusConflict {
		t.Fatalf("late accept: expected 409, got %d %s", lateRes.StatusCode, string(lateBody))
	}
	if env := decodeError(t, lateBody); env.Error.Code != "already_assigned" {
		t.Fatalf("late accept code: %s", env.Error.Code)
	}

	// completing an assigned task skips the finished state and is refused
	earlyRes, earlyBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/complete", nil, asUser("owner"))
	if earlyRes.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("early complete: expected 422, got %d %s", earlyRes.StatusCode, string(earlyBody))
	}
	if env := decodeError(t, earlyBody); env.Error.Code != "invalid_state" {
		t.Fatalf("early complete code: %s", env.Error.Code)
	}
}

func TestErrorEnvelopeNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/no-such-task", nil, asUser("anyone"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "not_found" {
		t.Fatalf("code: %s", env.Error.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "unauthorized" {
		t.Fatalf("code: %s", env.Error.Code)
	}

	healthRes, healthBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if healthRes.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth: %d %s", healthRes.StatusCode, string(healthBody))
	}
}

func TestJWTAndAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "jwt-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt me: %d %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.UserID != "jwt-user" || who.Source != "jwt" {
		t.Fatalf("unexpected jwt principal: %+v", who)
	}

	badRes, badBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if badRes.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad jwt: expected 401, got %d %s", badRes.StatusCode, string(badBody))
	}

	rawKey := "tb_test_key"
	if err := srv.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID:      "key-1",
		ActorID: "key-user",
		Name:    "test",
		KeyHash: repo.HashAPIKey(rawKey),
	}); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	keyRes, keyBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"X-Api-Key": rawKey,
	})
	if keyRes.StatusCode != http.StatusOK {
		t.Fatalf("api key me: %d %s", keyRes.StatusCode, string(keyBody))
	}
	var keyWho WhoAmIResponse
	_ = json.Unmarshal(keyBody, &keyWho)
	if keyWho.UserID != "key-user" || keyWho.Source != "api_key" {
		t.Fatalf("unexpected api key principal: %+v", keyWho)
	}
}

func TestDeleteTaskAndMyAcceptancesOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":  "short-lived task",
		"budget": 20,
	}, asUser("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(body))
	}
	var task TaskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatal(err)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/accept", map[string]any{
		"message": "let me",
	}, asUser("worker"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, string(body))
	}

	// the worker's application shows up under /me/acceptances
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me/acceptances", nil, asUser("worker"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("my acceptances: %d %s", res.StatusCode, string(body))
	}
	var mine []AcceptanceResponse
	if err := json.Unmarshal(body, &mine); err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].TaskID != task.ID {
		t.Fatalf("unexpected acceptances: %s", string(body))
	}

	// a task with applications cannot be deleted
	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/tasks/"+task.ID, nil, asUser("owner"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("delete with acceptances: %d %s", res.StatusCode, string(body))
	}
	if env := decodeError(t, body); env.Error.Code != "conflict" {
		t.Fatalf("unexpected error code %q", env.Error.Code)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":  "never applied to",
		"budget": 20,
	}, asUser("owner"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create second: %d %s", res.StatusCode, string(body))
	}
	var fresh TaskResponse
	if err := json.Unmarshal(body, &fresh); err != nil {
		t.Fatal(err)
	}
	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/tasks/"+fresh.ID, nil, asUser("worker"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("delete by non-owner: %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/tasks/"+fresh.ID, nil, asUser("owner"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+fresh.ID, nil, asUser("owner"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted: %d %s", res.StatusCode, string(body))
	}
}

func TestTaskListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for i := 0; i < 5; i++ {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
			"title":  "batch task",
			"budget": 10,
		}, asUser("owner"))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %d: %d %s", i, res.StatusCode, string(body))
		}
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		url := srv.URL + "/v0/tasks?limit=2"
		if cursor != "" {
			url += "&cursor=" + cursor
		}
		res, data := doJSON(t, client, http.MethodGet, url, nil, asUser("owner"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("list page %d: %d %s", pages, res.StatusCode, string(data))
		}
		var page struct {
			Items      []TaskResponse `json:"items"`
			NextCursor string         `json:"next_cursor"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			t.Fatalf("unmarshal page %d: %v", pages, err)
		}
		if pages == 0 && (len(page.Items) != 2 || page.NextCursor == "") {
			t.Fatalf("first page: expected 2 items and a cursor, got %d items cursor=%q", len(page.Items), page.NextCursor)
		}
		for _, item := range page.Items {
			if seen[item.ID] {
				t.Fatalf("task %s returned twice across pages", item.ID)
			}
			seen[item.ID] = true
		}
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	// every task shows up exactly once, no row lost at a page boundary
	if len(seen) != 5 {
		t.Fatalf("expected 5 distinct tasks across pages, got %d", len(seen))
	}
	if pages < 3 {
		t.Fatalf("expected at least 3 pages of 2, got %d", pages)
	}
}
