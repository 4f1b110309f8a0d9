package app

import (
	"context"
	"database/sql"
	"net/http"
	"testing"

	"archboard/api/internal/store"
)

func decisionFixture(status string) *fakeStore {
	return &fakeStore{
		getDecisionFn: func(_ context.Context, pid, did string) (store.Decision, error) {
			if did != "d1" {
				return store.Decision{}, sql.ErrNoRows
			}
			return store.Decision{ID: "d1", ProjectID: pid, Title: "Kitchen finish", Status: status, PhaseID: "concept"}, nil
		},
		listDecisionVersionsFn: func(context.Context, string) ([]store.DecisionVersion, error) {
			return []store.DecisionVersion{
				{ID: "dv2", DecisionID: "d1", Version: 2},
				{ID: "dv1", DecisionID: "d1", Version: 1},
			}, nil
		},
	}
}

func TestApproveLatestVersion(t *testing.T) {
	fs := decisionFixture("pending")
	var from, to string
	var audit store.AuditEntry
	fs.recordApprovalFn = func(_ context.Context, a store.Approval, f, n string, entry store.AuditEntry) (store.Approval, error) {
		from, to, audit = f, n, entry
		a.CreatedAt = fixedNow
		return a, nil
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()

	rr, body := doJSON(t, handler, http.MethodPost, "/api/projects/p1/decisions/d1/approve", tokenFor(t, svc, "c1", "client"),
		map[string]any{"versionId": "dv2", "action": "approve", "comment": " looks good "})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if from != "pending" || to != "approved" {
		t.Fatalf("expected pending -> approved, got %s -> %s", from, to)
	}
	if audit.Action != "approval_approve" || audit.DecisionID != "d1" || audit.ProjectID != "p1" {
		t.Fatalf("unexpected audit entry %+v", audit)
	}
	approval := body["approval"].(map[string]any)
	if approval["comment"] != "looks good" || approval["versionId"] != "dv2" {
		t.Fatalf("unexpected approval %v", approval)
	}
}

func TestApproveStaleVersion(t *testing.T) {
	fs := decisionFixture("pending")
	fs.recordApprovalFn = func(context.Context, store.Approval, string, string, store.AuditEntry) (store.Approval, error) {
		t.Fatal("stale approval must not be recorded")
		return store.Approval{}, nil
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()

	rr, body := doJSON(t, handler, http.MethodPost, "/api/projects/p1/decisions/d1/approve", tokenFor(t, svc, "c1", "client"),
		map[string]any{"versionId": "dv1", "action": "approve"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if body["code"] != "STALE_VERSION" {
		t.Fatalf("unexpected code %v", body["code"])
	}
	details := body["details"].(map[string]any)
	if details["latestVersionId"] != "dv2" || details["latestVersion"] != float64(2) {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestAskQuestionOnOlderVersionKeepsStatus(t *testing.T) {
	fs := decisionFixture("approved")
	var from, to string
	fs.recordApprovalFn = func(_ context.Context, a store.Approval, f, n string, _ store.AuditEntry) (store.Approval, error) {
		from, to = f, n
		return a, nil
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()

	// Architects cannot approve but may ask questions.
	rr, _ := doJSON(t, handler, http.MethodPost, "/api/projects/p1/decisions/d1/approve", tokenFor(t, svc, "a1", "architect"),
		map[string]any{"versionId": "dv1", "approvalAction": "ask_question", "comment": "Which supplier?"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if from != "approved" || to != "approved" {
		t.Fatalf("expected status unchanged, got %s -> %s", from, to)
	}
}

func TestApproveRejections(t *testing.T) {
	cases := []struct {
		name   string
		status string
		role   string
		body   map[string]any
		want   int
		code   string
	}{
		{"architect cannot approve", "pending", "architect", map[string]any{"versionId": "dv2", "action": "approve"}, http.StatusForbidden, "FORBIDDEN"},
		{"draft cannot be approved", "draft", "client", map[string]any{"versionId": "dv2", "action": "approve"}, http.StatusConflict, "INVALID_TRANSITION"},
		{"approved cannot request changes", "approved", "client", map[string]any{"versionId": "dv2", "action": "request_change"}, http.StatusConflict, "INVALID_TRANSITION"},
		{"unknown action", "pending", "client", map[string]any{"versionId": "dv2", "action": "veto"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown version", "pending", "client", map[string]any{"versionId": "dv9", "action": "approve"}, http.StatusNotFound, "NOT_FOUND"},
		{"missing version", "pending", "client", map[string]any{"action": "approve"}, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(decisionFixture(tc.status), &fakeGit{})
			handler := NewHTTPServer(svc, "").Handler()
			rr, body := doJSON(t, handler, http.MethodPost, "/api/projects/p1/decisions/d1/approve", tokenFor(t, svc, "u1", tc.role), tc.body)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
			if body["code"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["code"])
			}
		})
	}
}

func TestApproveConcurrentTransitionConflict(t *testing.T) {
	fs := decisionFixture("pending")
	fs.recordApprovalFn = func(context.Context, store.Approval, string, string, store.AuditEntry) (store.Approval, error) {
		return store.Approval{}, store.ErrConflict
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()

	rr, body := doJSON(t, handler, http.MethodPost, "/api/projects/p1/decisions/d1/approve", tokenFor(t, svc, "c1", "client"),
		map[string]any{"versionId": "dv2", "action": "request_change"})
	if rr.Code != http.StatusConflict || body["code"] != "INVALID_TRANSITION" {
		t.Fatalf("expected INVALID_TRANSITION, got %d %v", rr.Code, body)
	}
}

func TestListDecisionsValidatesFilters(t *testing.T) {
	var got store.DecisionFilter
	fs := &fakeStore{
		listDecisionsFn: func(_ context.Context, filter store.DecisionFilter) ([]store.Decision, int, error) {
			got = filter
			return []store.Decision{{ID: "d1", Title: "Roof", Status: "draft"}}, 41, nil
		},
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()
	token := tokenFor(t, svc, "a1", "architect")

	rr, body := doJSON(t, handler, http.MethodGet, "/api/projects/p1/decisions?status=draft&page=3&pageSize=20&sortOrder=ASC", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.ProjectID != "p1" || got.Status != "draft" || got.SortBy != "date" || got.SortOrder != "asc" {
		t.Fatalf("unexpected filter %+v", got)
	}
	if got.Limit != 20 || got.Offset != 40 {
		t.Fatalf("expected limit 20 offset 40, got %d %d", got.Limit, got.Offset)
	}
	if body["total"] != float64(41) || len(body["items"].([]any)) != 1 {
		t.Fatalf("unexpected page %v", body)
	}

	for _, query := range []string{"status=closed", "phase=moon", "sortBy=price", "sortOrder=up", "costImpact=negative", "page=abc"} {
		rr, _ := doJSON(t, handler, http.MethodGet, "/api/projects/p1/decisions?"+query, token, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestListDecisionsAcrossProjectsScopesToViewer(t *testing.T) {
	var got store.DecisionFilter
	fs := &fakeStore{
		listDecisionsFn: func(_ context.Context, filter store.DecisionFilter) ([]store.Decision, int, error) {
			got = filter
			return nil, 0, nil
		},
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()

	rr, body := doJSON(t, handler, http.MethodGet, "/api/decisions?pageSize=1000", tokenFor(t, svc, "a1", "architect"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.ViewerID != "a1" || got.ProjectID != "" || got.Limit != maxDecisionPageSize {
		t.Fatalf("unexpected filter %+v", got)
	}
	if items, ok := body["items"].([]any); !ok || len(items) != 0 {
		t.Fatalf("expected an empty items array, got %v", body["items"])
	}
}

func TestDecisionLogRedirect(t *testing.T) {
	handler := NewHTTPServer(newTestService(&fakeStore{}, &fakeGit{}), "").Handler()

	for _, path := range []string{"/decision-log?status=draft", "/api/decision-log?status=draft"} {
		rr, _ := doJSON(t, handler, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusPermanentRedirect {
			t.Fatalf("%s: expected 308, got %d", path, rr.Code)
		}
		if loc := rr.Header().Get("Location"); loc != "/api/decisions?status=draft" {
			t.Fatalf("%s: unexpected location %q", path, loc)
		}
	}
}

func TestHiddenProjectIsNotFound(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			return store.Project{ID: id, Name: "Private", CreatedBy: "someone-else"}, nil
		},
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()

	rr, _ := doJSON(t, handler, http.MethodGet, "/api/projects/p1/decisions/d1", tokenFor(t, svc, "a1", "architect"), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestFirmClientApprovesArchitectProject(t *testing.T) {
	fs := decisionFixture("pending")
	fs.getProjectFn = func(_ context.Context, id string) (store.Project, error) {
		return store.Project{ID: id, Name: "Harbor House", Status: "active", CreatedBy: "a1", FirmID: "firm_1"}, nil
	}
	recorded := 0
	fs.recordApprovalFn = func(_ context.Context, a store.Approval, _, _ string, _ store.AuditEntry) (store.Approval, error) {
		recorded++
		return a, nil
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()
	body := map[string]any{"versionId": "dv2", "action": "approve"}

	rr, _ := doJSON(t, handler, http.MethodPost, "/api/projects/p1/decisions/d1/approve", tokenInFirm(t, svc, "c1", "client", "firm_1"), body)
	if rr.Code != http.StatusOK {
		t.Fatalf("same firm: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr, _ = doJSON(t, handler, http.MethodPost, "/api/projects/p1/decisions/d1/approve", tokenInFirm(t, svc, "c2", "client", "firm_2"), body)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("other firm: expected 404, got %d", rr.Code)
	}
	rr, _ = doJSON(t, handler, http.MethodPost, "/api/projects/p1/decisions/d1/approve", tokenInFirm(t, svc, "c3", "client", ""), body)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("no firm: expected 404, got %d", rr.Code)
	}
	if recorded != 1 {
		t.Fatalf("expected one recorded approval, got %d", recorded)
	}
}

func TestCreateDecisionValidatesOptions(t *testing.T) {
	var created store.Decision
	var audit store.AuditEntry
	fs := &fakeStore{
		createDecisionFn: func(_ context.Context, d store.Decision, entry store.AuditEntry) error {
			created, audit = d, entry
			return nil
		},
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()
	token := tokenFor(t, svc, "a1", "architect")

	rr, body := doJSON(t, handler, http.MethodPost, "/api/projects/p1/decisions", token, map[string]any{
		"title": "Facade material",
		"options": []map[string]any{
			{"label": "Brick"},
			{"label": "Timber", "isRecommended": true},
		},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if created.Status != "draft" || created.PhaseID != "kickoff" || len(created.Options) != 2 {
		t.Fatalf("unexpected decision %+v", created)
	}
	if created.RecommendedOptionID != created.Options[1].ID {
		t.Fatalf("expected second option recommended, got %q", created.RecommendedOptionID)
	}
	if audit.Action != "decision_created" || body["status"] != "draft" {
		t.Fatalf("unexpected audit %+v or body %v", audit, body)
	}

	bad := []map[string]any{
		{"description": "no title"},
		{"title": "x", "phaseId": "moon"},
		{"title": "x", "options": []map[string]any{{"label": ""}}},
		{"title": "x", "options": []map[string]any{{"label": "a", "isRecommended": true}, {"label": "b", "isRecommended": true}}},
	}
	for i, payload := range bad {
		rr, _ := doJSON(t, handler, http.MethodPost, "/api/projects/p1/decisions", token, payload)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, rr.Code)
		}
	}

	rr, _ = doJSON(t, handler, http.MethodPost, "/api/projects/p1/decisions", tokenFor(t, svc, "c1", "client"), map[string]any{"title": "x"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected clients to be forbidden, got %d", rr.Code)
	}
}

func TestUpdateDecisionRequiresEditableStatus(t *testing.T) {
	svc := newTestService(decisionFixture("pending"), &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()

	rr, body := doJSON(t, handler, http.MethodPatch, "/api/projects/p1/decisions/d1", tokenFor(t, svc, "a1", "architect"), map[string]any{"title": "New"})
	if rr.Code != http.StatusConflict || body["code"] != "NOT_EDITABLE" {
		t.Fatalf("expected NOT_EDITABLE, got %d %v", rr.Code, body)
	}
}

func TestPublishDecision(t *testing.T) {
	fs := decisionFixture("changes_requested")
	var published store.DecisionVersion
	fs.publishDecisionFn = func(_ context.Context, v store.DecisionVersion, _ store.AuditEntry) (store.DecisionVersion, error) {
		v.Version = 3
		v.PublishedAt = fixedNow
		published = v
		return v, nil
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()
	token := tokenFor(t, svc, "a1", "architect")

	rr, body := doJSON(t, handler, http.MethodPost, "/api/projects/p1/decisions/d1/publish", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body["status"] != "pending" || published.Title != "Kitchen finish" || published.PublishedBy != "a1" {
		t.Fatalf("unexpected publish result %v %+v", body, published)
	}

	svc = newTestService(decisionFixture("approved"), &fakeGit{})
	handler = NewHTTPServer(svc, "").Handler()
	rr, body = doJSON(t, handler, http.MethodPost, "/api/projects/p1/decisions/d1/publish", token, nil)
	if rr.Code != http.StatusConflict || body["code"] != "INVALID_TRANSITION" {
		t.Fatalf("expected INVALID_TRANSITION, got %d %v", rr.Code, body)
	}
}

func TestDownloadWithoutExporter(t *testing.T) {
	svc := newTestService(decisionFixture("pending"), &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()
	token := tokenFor(t, svc, "c1", "client")

	rr, _ := doJSON(t, handler, http.MethodGet, "/api/projects/p1/decisions/d1/versions/dv2/download?format=rtf", token, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown format, got %d", rr.Code)
	}
	rr, body := doJSON(t, handler, http.MethodGet, "/api/projects/p1/decisions/d1/versions/dv2/download", token, nil)
	if rr.Code != http.StatusServiceUnavailable || body["code"] != "EXPORT_UNAVAILABLE" {
		t.Fatalf("expected EXPORT_UNAVAILABLE, got %d %v", rr.Code, body)
	}
}
