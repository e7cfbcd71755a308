package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Shivanand-hulikatti/teamsignups/internal/export"
	"github.com/Shivanand-hulikatti/teamsignups/internal/logger"
	"github.com/Shivanand-hulikatti/teamsignups/internal/model"
	"github.com/Shivanand-hulikatti/teamsignups/internal/repository"
	"github.com/Shivanand-hulikatti/teamsignups/internal/service"
)

const testToken = "organizer-secret"

type testServer struct {
	handler  http.Handler
	dataPath string
	webRoot  string
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data", "events.json")
	store, err := repository.NewFileStore(dataPath)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	webRoot := filepath.Join(dir, "web")
	if err := os.MkdirAll(filepath.Join(webRoot, "css"), 0o755); err != nil {
		t.Fatalf("mkdir web: %v", err)
	}
	mustWrite(t, filepath.Join(webRoot, "index.html"), "<h1>TeamSignups</h1>")
	mustWrite(t, filepath.Join(webRoot, "css", "styles.css"), "body{}")
	mustWrite(t, filepath.Join(dir, "secret.txt"), "do not serve")

	svc := service.NewSignupService(store, logger.Nop(),
		service.WithMirror(export.NewMirror(filepath.Join(dir, "data", "events.csv"))),
		service.WithDriverName("file"),
	)
	h := NewEventHandler(svc, logger.Nop(), 4096)
	return testServer{
		handler:  NewRouter(h, RouterConfig{AdminToken: testToken, WebRoot: webRoot}, logger.Nop()),
		dataPath: dataPath,
		webRoot:  webRoot,
	}
}

func mustWrite(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func (s testServer) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s testServer) admin(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, target, body, AdminTokenHeader, testToken)
}

const picnicDoc = `{"events":[{"id":"e1","title":"Picnic","description":"","date":"2024-06-01",
	"slots":[{"id":"s1","name":"Grill","count":1,"claimedBy":[]}]}]}`

const joClaim = `{"firstName":"Jo","lastName":"Smith","email":"jo@x.com","phone":"555","notes":""}`

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestGetEventsEmpty(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"events":[]}` {
		t.Fatalf("body = %s", got)
	}
}

func TestPutEventsRequiresAdminToken(t *testing.T) {
	s := newTestServer(t)

	for _, headers := range [][]string{
		nil,
		{AdminTokenHeader, "wrong"},
		{"Authorization", "Bearer wrong"},
	} {
		rec := s.do(t, http.MethodPut, "/api/events", picnicDoc, headers...)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("headers %v: status = %d, want 401", headers, rec.Code)
		}
	}
	if rec := s.do(t, http.MethodGet, "/api/events", ""); !strings.Contains(rec.Body.String(), `"events":[]`) {
		t.Fatalf("unauthorized PUT changed state: %s", rec.Body.String())
	}

	rec := s.do(t, http.MethodPut, "/api/events", picnicDoc, "Authorization", "Bearer "+testToken)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestPutEventsRejectsMalformedBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", `{"events": [`, http.StatusBadRequest},
		{"missing events", `{}`, http.StatusBadRequest},
		{"unknown field", `{"events": [], "adminToken": "` + testToken + `"}`, http.StatusBadRequest},
		{"trailing data", `{"events": []} {"events": []}`, http.StatusBadRequest},
		{"invalid document", `{"events": [{"id": "", "date": "2024-06-01", "slots": []}]}`, http.StatusBadRequest},
		{"too large", `{"events": [], "pad": "` + strings.Repeat("x", 5000) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			if rec := s.admin(t, http.MethodPut, "/api/events", picnicDoc); rec.Code != http.StatusOK {
				t.Fatalf("seed status = %d", rec.Code)
			}
			rec := s.admin(t, http.MethodPut, "/api/events", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			raw, err := os.ReadFile(s.dataPath)
			if err != nil {
				t.Fatalf("read snapshot: %v", err)
			}
			if !strings.Contains(string(raw), `"Picnic"`) {
				t.Fatalf("rejected PUT changed stored state: %s", raw)
			}
			if strings.Contains(string(raw), testToken) {
				t.Fatal("admin token was persisted")
			}
		})
	}
}

func TestClaimFlow(t *testing.T) {
	s := newTestServer(t)
	if rec := s.admin(t, http.MethodPut, "/api/events", picnicDoc); rec.Code != http.StatusOK {
		t.Fatalf("seed status = %d", rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/api/events/e1/slots/s1/claims", joClaim)
	if rec.Code != http.StatusCreated {
		t.Fatalf("claim status = %d body = %s", rec.Code, rec.Body.String())
	}
	var res service.ClaimResult
	decodeBody(t, rec, &res)
	if res.Claim.PublicName != "J. Smith" || res.Remaining != 0 || res.Claim.ID == "" {
		t.Fatalf("claim result = %+v", res)
	}

	rec = s.do(t, http.MethodPost, "/api/events/e1/slots/s1/claims", joClaim)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second claim status = %d, want 409", rec.Code)
	}
	var full fullResponse
	decodeBody(t, rec, &full)
	if full.Remaining != 0 {
		t.Fatalf("remaining = %d", full.Remaining)
	}

	var doc model.Document
	decodeBody(t, s.do(t, http.MethodGet, "/api/events", ""), &doc)
	if n := len(doc.Events[0].Slots[0].ClaimedBy); n != 1 {
		t.Fatalf("claimedBy = %d, want 1", n)
	}

	// Claim removal is gated, then frees the place again.
	target := fmt.Sprintf("/api/events/e1/slots/s1/claims/%s", res.Claim.ID)
	if rec := s.do(t, http.MethodDelete, target, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("ungated remove status = %d", rec.Code)
	}
	if rec := s.admin(t, http.MethodDelete, target, ""); rec.Code != http.StatusOK {
		t.Fatalf("remove status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/events/e1/slots/s1/claims", joClaim); rec.Code != http.StatusCreated {
		t.Fatalf("claim after removal status = %d", rec.Code)
	}
}

func TestClaimErrors(t *testing.T) {
	s := newTestServer(t)
	s.admin(t, http.MethodPut, "/api/events", picnicDoc)

	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"unknown event", "/api/events/nope/slots/s1/claims", joClaim, http.StatusNotFound},
		{"unknown slot", "/api/events/e1/slots/nope/claims", joClaim, http.StatusNotFound},
		{"blank fields", "/api/events/e1/slots/s1/claims", `{"firstName":" ","lastName":"Smith"}`, http.StatusUnprocessableEntity},
		{"bad json", "/api/events/e1/slots/s1/claims", `{"firstName":`, http.StatusBadRequest},
		{"loose payload", "/api/events/e1/slots/s1/claims", `{"name":"Jo"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.target, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	rec := s.do(t, http.MethodPost, "/api/events/e1/slots/s1/claims", `{"firstName":" ","lastName":"Smith"}`)
	var vr validationResponse
	decodeBody(t, rec, &vr)
	if len(vr.Fields) != 3 {
		t.Fatalf("fields = %+v, want firstName, email and phone", vr.Fields)
	}
}

func TestCreateAndDeleteEvent(t *testing.T) {
	s := newTestServer(t)
	body := `{"title":"Bake sale","description":"Saturday","date":"2024-03-02","slots":[{"name":"Cookies","count":2}]}`

	if rec := s.do(t, http.MethodPost, "/api/events", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("ungated create status = %d", rec.Code)
	}
	rec := s.admin(t, http.MethodPost, "/api/events", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}
	var ev model.Event
	decodeBody(t, rec, &ev)
	if ev.ID == "" || len(ev.Slots) != 1 || ev.Slots[0].Count != 2 {
		t.Fatalf("event = %+v", ev)
	}

	if rec := s.admin(t, http.MethodPost, "/api/events", `{"title":"","date":"soon","slots":[]}`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid create status = %d", rec.Code)
	}

	// The gate answers the same way whether or not the event exists.
	for _, id := range []string{ev.ID, "missing"} {
		if rec := s.do(t, http.MethodDelete, "/api/events/"+id, ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("ungated delete %s status = %d", id, rec.Code)
		}
	}
	if rec := s.admin(t, http.MethodDelete, "/api/events/"+ev.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := s.admin(t, http.MethodDelete, "/api/events/"+ev.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
}

func TestCreateEventErrorStatuses(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", `{"title":`, http.StatusBadRequest},
		{"unknown field", `{"title":"x","date":"2024-03-02","slots":[],"venue":"hall"}`, http.StatusBadRequest},
		{"missing title", `{"title":" ","date":"2024-03-02","slots":[{"name":"Cookies","count":1}]}`, http.StatusUnprocessableEntity},
		{"bad date", `{"title":"Bake sale","date":"March 2","slots":[{"name":"Cookies","count":1}]}`, http.StatusUnprocessableEntity},
		{"zero capacity", `{"title":"Bake sale","date":"2024-03-02","slots":[{"name":"Cookies","count":0}]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.admin(t, http.MethodPost, "/api/events", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusUnprocessableEntity {
				var resp validationResponse
				decodeBody(t, rec, &resp)
				if len(resp.Fields) == 0 {
					t.Fatalf("no field errors in %s", rec.Body.String())
				}
			}
		})
	}
}

func TestExportCSVEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.admin(t, http.MethodPut, "/api/events", picnicDoc)
	s.do(t, http.MethodPost, "/api/events/e1/slots/s1/claims",
		`{"firstName":"Jo","lastName":"Smith","email":"jo@x.com","phone":"555","notes":"tongs, \"long\""}`)

	rec := s.do(t, http.MethodGet, "/api/events.csv", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %q", ct)
	}
	rows, err := export.ParseCSV(rec.Body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 1 || rows[0][12] != `tongs, "long"` {
		t.Fatalf("rows = %q", rows)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPatch, "/api/events", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "method not allowed") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestStatusAndHealth(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	rec := s.do(t, http.MethodGet, "/api/status", "")
	var st service.StorageStatus
	decodeBody(t, rec, &st)
	if rec.Code != http.StatusOK || !st.Online || st.Driver != "file" {
		t.Fatalf("status %d %+v", rec.Code, st)
	}

	mustWrite(t, s.dataPath, "{broken")
	rec = s.do(t, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status with corrupt data = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/events", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("list with corrupt data = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodOptions, "/api/events", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), AdminTokenHeader) {
		t.Fatalf("allow headers = %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

// brokenService fails every call as if storage were down.
type brokenService struct{ SignupService }

func (brokenService) ClaimSlot(context.Context, string, string, model.Claimant) (*service.ClaimResult, error) {
	return nil, fmt.Errorf("claim slot: %w", repository.ErrStorageUnavailable)
}

func TestStorageFailureIsNotLeaked(t *testing.T) {
	h := NewEventHandler(brokenService{}, logger.Nop(), 0)
	r := NewRouter(h, RouterConfig{AdminToken: testToken, WebRoot: t.TempDir()}, logger.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/events/e1/slots/s1/claims", strings.NewReader(joClaim))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "storage unavailable") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
}

func TestAdminGateWithoutConfiguredToken(t *testing.T) {
	called := false
	gate := AdminGate("")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	req := httptest.NewRequest(http.MethodPut, "/api/events", nil)
	req.Header.Set(AdminTokenHeader, "")
	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || called {
		t.Fatalf("status = %d called = %v", rec.Code, called)
	}
}
