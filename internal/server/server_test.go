package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"trackline/internal/config"
	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/migrate"
	"trackline/internal/repo"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL      string
	Engine   engine.Engine
	Template domain.Template
	States   map[string]domain.State
	Admin      domain.User
	AdminKey   string
	Alice      domain.User
	AliceKey   string
	AliceKeyID string
	Carol      domain.User
	CarolKey   string
	client     *http.Client
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("demo")
	e := engine.New(conn, cfg)
	ctx := context.Background()

	project, err := e.CreateProject(ctx, "demo", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	tpl, err := e.ImportTemplate(ctx, project.ID, cfg.Templates[0])
	if err != nil {
		t.Fatalf("import template: %v", err)
	}
	states, err := e.Repo.ListStates(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("list states: %v", err)
	}
	byName := make(map[string]domain.State, len(states))
	for _, s := range states {
		byName[s.Name] = s
	}

	admin, err := e.CreateUser(ctx, domain.User{Account: "root", FullName: "Root", Admin: true})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	alice, err := e.CreateUser(ctx, domain.User{Account: "alice", FullName: "Alice"})
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	carol, err := e.CreateUser(ctx, domain.User{Account: "carol", FullName: "Carol"})
	if err != nil {
		t.Fatalf("create carol: %v", err)
	}

	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})

	s := &testServer{
		URL:      "http://" + ln.Addr().String(),
		Engine:   e,
		Template: tpl,
		States:   byName,
		Admin:    admin,
		Alice:    alice,
		Carol:    carol,
		client:   &http.Client{},
	}
	s.AdminKey, _ = mintAPIKey(t, e, admin.ID)
	s.AliceKey, s.AliceKeyID = mintAPIKey(t, e, alice.ID)
	s.CarolKey, _ = mintAPIKey(t, e, carol.ID)
	return s
}

func mintAPIKey(t *testing.T, e engine.Engine, userID int64) (string, string) {
	t.Helper()
	key, id, err := repo.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx, err := e.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	record := repo.APIKey{ID: id, UserID: userID, KeyHash: repo.HashAPIKey(key), CreatedAt: time.Now().Unix()}
	if err := e.Repo.InsertAPIKey(context.Background(), tx, record); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return key, id
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

func apiKeyHeader(key string) map[string]string {
	return map[string]string{"X-Api-Key": key}
}

func TestHealthOpenEverythingElseGated(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated me status %d, want 401", res.StatusCode)
	}
	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(body))
	}
	var me domain.User
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.Account != "alice" {
		t.Fatalf("me.account = %q, want alice", me.Account)
	}
}

func TestJWTAuthentication(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	sign := func(secret, subject string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		signed, err := tok.SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return signed
	}

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + sign(testJWTSecret, "alice"),
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt me status %d: %s", res.StatusCode, string(body))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + sign("wrong-secret", "alice"),
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad signature status %d, want 401", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + sign(testJWTSecret, "nobody"),
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown account status %d, want 401", res.StatusCode)
	}
}

func TestIssueLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"template_id": srv.Template.ID,
		"subject":     "printer on fire",
		"values":      map[string]string{"Details": "smoke everywhere"},
	}, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(body))
	}
	var created IssueResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal issue: %v", err)
	}
	if created.Reference != created.Issue.Reference("bug") {
		t.Fatalf("reference = %q", created.Reference)
	}
	issueURL := srv.URL + "/v0/issues/" + itoa(created.ID)

	res, body = doJSON(t, client, http.MethodGet, issueURL, nil, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, issueURL+"/transition", map[string]any{
		"state_id": srv.States["Assigned"].ID,
	}, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d: %s", res.StatusCode, string(body))
	}
	var moved IssueResponse
	if err := json.Unmarshal(body, &moved); err != nil {
		t.Fatalf("unmarshal moved: %v", err)
	}
	if moved.StateID != srv.States["Assigned"].ID {
		t.Fatalf("state = %d, want Assigned", moved.StateID)
	}

	res, body = doJSON(t, client, http.MethodPost, issueURL+"/comments", map[string]any{
		"body": "looking into it",
	}, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("comment status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, issueURL+"/events", nil, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(body))
	}
	var events []EventResponse
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	types := make(map[domain.EventType]bool, len(events))
	for _, ev := range events {
		types[ev.Type] = true
	}
	for _, want := range []domain.EventType{domain.EventIssueCreated, domain.EventStateChanged, domain.EventCommentPublic} {
		if !types[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	// Unknown issue: 404.
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/issues/99999", nil, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing issue status %d, want 404", res.StatusCode)
	}

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"template_id": srv.Template.ID,
		"subject":     "forbidden moves",
		"values":      map[string]string{"Details": "x"},
	}, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(body))
	}
	var created IssueResponse
	_ = json.Unmarshal(body, &created)

	// Carol holds no transition edge: 403.
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+itoa(created.ID)+"/transition", map[string]any{
		"state_id": srv.States["Assigned"].ID,
	}, apiKeyHeader(srv.CarolKey))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("denied transition status %d: %s", res.StatusCode, string(body))
	}

	// Non-admin creating users: 403.
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/users", map[string]any{
		"account": "mallory", "full_name": "Mallory",
	}, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin create user status %d, want 403", res.StatusCode)
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/users", map[string]any{
		"account": "dave", "full_name": "Dave",
	}, apiKeyHeader(srv.AdminKey))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("admin create user status %d: %s", res.StatusCode, string(body))
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"template_id": srv.Template.ID,
		"subject":     "may carol edit this",
		"values":      map[string]string{"Details": "x"},
	}, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(body))
	}
	var created IssueResponse
	_ = json.Unmarshal(body, &created)

	ask := func(key, action string) string {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/evaluate", map[string]any{
			"action":   action,
			"issue_id": created.ID,
		}, apiKeyHeader(key))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("evaluate status %d: %s", res.StatusCode, string(body))
		}
		var out EvaluateResponse
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return out.Decision
	}

	if d := ask(srv.CarolKey, "issue.view"); d != "granted" {
		t.Fatalf("carol view = %q, want granted", d)
	}
	if d := ask(srv.CarolKey, "issue.edit"); d != "denied" {
		t.Fatalf("carol edit = %q, want denied", d)
	}
	if d := ask(srv.AliceKey, "issue.edit"); d != "granted" {
		t.Fatalf("author edit = %q, want granted", d)
	}
}

func TestAPIKeySelfService(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{}, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("self key status %d: %s", res.StatusCode, string(body))
	}
	var minted APIKeyResponse
	if err := json.Unmarshal(body, &minted); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if minted.Key == "" || minted.UserID != srv.Alice.ID {
		t.Fatalf("minted key %+v", minted)
	}
	// The fresh key authenticates.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, apiKeyHeader(minted.Key))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("fresh key me status %d", res.StatusCode)
	}

	// Only admins mint for someone else.
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"user_id": srv.Carol.ID,
	}, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-user key status %d, want 403", res.StatusCode)
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"user_id": srv.Carol.ID,
	}, apiKeyHeader(srv.AdminKey))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("admin cross-user key status %d: %s", res.StatusCode, string(body))
	}
}

func TestAPIKeyRevokeOwnership(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	keyURL := srv.URL + "/v0/apikeys/" + srv.AliceKeyID

	// Carol cannot revoke alice's key; the row stays and keeps working.
	res, _ := doJSON(t, client, http.MethodDelete, keyURL, nil, apiKeyHeader(srv.CarolKey))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign revoke status %d, want 404", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("alice key after foreign revoke status %d, want 200", res.StatusCode)
	}

	// Admins revoke anyone's key; the owner revokes their own.
	_, carolKeyID := mintAPIKey(t, srv.Engine, srv.Carol.ID)
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/apikeys/"+carolKeyID, nil, apiKeyHeader(srv.AdminKey))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("admin revoke status %d, want 204", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, keyURL, nil, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("self revoke status %d, want 204", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, apiKeyHeader(srv.AliceKey))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key status %d, want 401", res.StatusCode)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
