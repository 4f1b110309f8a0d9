package app

import (
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	"archboard/api/internal/store"
)

func TestTimelineFallsBackToPlaceholderPhases(t *testing.T) {
	fs := &fakeStore{
		listMilestonesFn: func(context.Context, string, store.MilestoneFilter) ([]store.Milestone, error) {
			return []store.Milestone{{ID: "m1", Name: "Survey", PhaseID: "kickoff", DueDate: fixedNow, Status: "upcoming"}}, nil
		},
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()

	rr, body := doJSON(t, handler, http.MethodGet, "/api/projects/p1/timeline", tokenFor(t, svc, "c1", "client"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	phases := body["phases"].([]any)
	if len(phases) != 7 {
		t.Fatalf("expected seven placeholder phases, got %d", len(phases))
	}
	first := phases[0].(map[string]any)
	if first["id"] != "" || first["phaseId"] != "kickoff" || first["label"] != "Kickoff" || first["percentComplete"] != float64(0) {
		t.Fatalf("unexpected placeholder %v", first)
	}
	milestones := body["milestones"].([]any)
	if len(milestones) != 1 || milestones[0].(map[string]any)["dueDate"] != "2025-03-10" {
		t.Fatalf("unexpected milestones %v", milestones)
	}
	if checkpoints := body["decisionCheckpoints"].([]any); len(checkpoints) != 0 {
		t.Fatalf("expected no checkpoints, got %v", checkpoints)
	}
}

func TestUpdatePhaseValidatesAndMerges(t *testing.T) {
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	var saved store.ProjectPhase
	fs := &fakeStore{
		listPhasesFn: func(context.Context, string) ([]store.ProjectPhase, error) {
			return []store.ProjectPhase{{ID: "ph1", ProjectID: "p1", PhaseID: "concept", Label: "Concept", OrderIndex: 1, PercentComplete: 20, StartDate: &start}}, nil
		},
		upsertPhaseFn: func(_ context.Context, p store.ProjectPhase) error {
			saved = p
			return nil
		},
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()
	token := tokenFor(t, svc, "a1", "architect")

	rr, _ := doJSON(t, handler, http.MethodPut, "/api/projects/p1/timeline/phases/concept", token, map[string]any{"percentComplete": 60, "endDate": "2025-02-28"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if saved.ID != "ph1" || saved.PercentComplete != 60 || saved.StartDate == nil || !saved.StartDate.Equal(start) {
		t.Fatalf("expected merged phase, got %+v", saved)
	}
	if saved.EndDate == nil || saved.EndDate.Format("2006-01-02") != "2025-02-28" {
		t.Fatalf("unexpected end date %v", saved.EndDate)
	}

	cases := []struct {
		path string
		body map[string]any
	}{
		{"/api/projects/p1/timeline/phases/concept", map[string]any{"percentComplete": 101}},
		{"/api/projects/p1/timeline/phases/concept", map[string]any{"percentComplete": -1}},
		{"/api/projects/p1/timeline/phases/moon", map[string]any{"percentComplete": 10}},
		{"/api/projects/p1/timeline/phases/concept", map[string]any{"endDate": "2024-12-31"}},
		{"/api/projects/p1/timeline/phases/concept", map[string]any{"startDate": "06/01/2025"}},
	}
	for _, tc := range cases {
		rr, body := doJSON(t, handler, http.MethodPatch, tc.path, token, tc.body)
		if rr.Code != http.StatusBadRequest || body["code"] != "VALIDATION_ERROR" {
			t.Fatalf("%s %v: expected VALIDATION_ERROR, got %d %v", tc.path, tc.body, rr.Code, body)
		}
	}

	rr, _ = doJSON(t, handler, http.MethodPut, "/api/projects/p1/timeline/phases/concept", tokenFor(t, svc, "c1", "client"), map[string]any{"percentComplete": 50})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected clients to be forbidden, got %d", rr.Code)
	}
}

func TestListMilestonesFilter(t *testing.T) {
	var got store.MilestoneFilter
	fs := &fakeStore{
		listMilestonesFn: func(_ context.Context, _ string, f store.MilestoneFilter) ([]store.Milestone, error) {
			got = f
			return nil, nil
		},
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()
	token := tokenFor(t, svc, "c1", "client")

	cases := []struct {
		filter string
		want   store.MilestoneFilter
	}{
		{"", store.MilestoneFilter{}},
		{"all", store.MilestoneFilter{}},
		{"overdue", store.MilestoneFilter{Status: "overdue"}},
		{"schematic", store.MilestoneFilter{PhaseID: "schematic"}},
	}
	for _, tc := range cases {
		got = store.MilestoneFilter{Status: "unset"}
		rr, body := doJSON(t, handler, http.MethodGet, "/api/projects/p1/timeline/milestones?filter="+tc.filter, token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", tc.filter, rr.Code)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %+v, got %+v", tc.filter, tc.want, got)
		}
		if _, ok := body["milestones"].([]any); !ok {
			t.Fatalf("%q: expected a milestones array, got %v", tc.filter, body)
		}
	}

	rr, _ := doJSON(t, handler, http.MethodGet, "/api/projects/p1/timeline/milestones?filter=someday", token, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown filter, got %d", rr.Code)
	}
}

func TestCreateMilestone(t *testing.T) {
	var created store.Milestone
	fs := &fakeStore{
		createMilestoneFn: func(_ context.Context, m store.Milestone) error {
			created = m
			return nil
		},
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()
	token := tokenFor(t, svc, "a1", "architect")

	rr, body := doJSON(t, handler, http.MethodPost, "/api/projects/p1/timeline/milestones", token, map[string]any{
		"phaseId": "dd", "name": " Detail set ", "dueDate": "2025-06-30",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if created.Name != "Detail set" || created.Status != "upcoming" || created.ProjectID != "p1" || body["id"] != created.ID {
		t.Fatalf("unexpected milestone %+v body %v", created, body)
	}

	for _, payload := range []map[string]any{
		{"name": "x", "dueDate": "2025-06-30"},
		{"phaseId": "dd", "dueDate": "2025-06-30"},
		{"phaseId": "dd", "name": "x", "dueDate": "tomorrow"},
		{"phaseId": "attic", "name": "x", "dueDate": "2025-06-30"},
	} {
		rr, _ := doJSON(t, handler, http.MethodPost, "/api/projects/p1/timeline/milestones", token, payload)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%v: expected 400, got %d", payload, rr.Code)
		}
	}
}

func TestRescheduleOverdueMilestone(t *testing.T) {
	var updated store.Milestone
	fs := &fakeStore{
		getMilestoneFn: func(_ context.Context, pid, mid string) (store.Milestone, error) {
			if mid != "m1" {
				return store.Milestone{}, sql.ErrNoRows
			}
			return store.Milestone{ID: mid, ProjectID: pid, Name: "Permit filing", Status: "overdue", DueDate: fixedNow.AddDate(0, 0, -5)}, nil
		},
		updateMilestoneFn: func(_ context.Context, m store.Milestone) error {
			updated = m
			return nil
		},
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()
	token := tokenFor(t, svc, "a1", "architect")

	cases := []struct {
		due    string
		status string
	}{
		{"2025-03-20", "upcoming"},
		{"2025-03-10", "upcoming"},
		{"2025-03-01", "overdue"},
	}
	for _, tc := range cases {
		rr, body := doJSON(t, handler, http.MethodPost, "/api/projects/p1/timeline/milestones/m1/reschedule", token, map[string]any{"dueDate": tc.due})
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", tc.due, rr.Code, rr.Body.String())
		}
		if body["status"] != tc.status || updated.Status != tc.status {
			t.Fatalf("%s: expected %s, got %v / %s", tc.due, tc.status, body["status"], updated.Status)
		}
		if updated.DueDate.Format("2006-01-02") != tc.due {
			t.Fatalf("%s: unexpected due date %s", tc.due, updated.DueDate)
		}
	}

	rr, _ := doJSON(t, handler, http.MethodPost, "/api/projects/p1/timeline/milestones/m9/reschedule", token, map[string]any{"dueDate": "2025-04-01"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown milestone, got %d", rr.Code)
	}
	rr, _ = doJSON(t, handler, http.MethodPost, "/api/projects/p1/timeline/milestones/m1/reschedule", token, map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a due date, got %d", rr.Code)
	}
}

func TestAddCheckpointRequiresDecision(t *testing.T) {
	var saved store.DecisionCheckpoint
	fs := decisionFixture("draft")
	fs.upsertCheckpointFn = func(_ context.Context, c store.DecisionCheckpoint) error {
		saved = c
		return nil
	}
	svc := newTestService(fs, &fakeGit{})
	handler := NewHTTPServer(svc, "").Handler()
	token := tokenFor(t, svc, "a1", "architect")

	rr, _ := doJSON(t, handler, http.MethodPost, "/api/projects/p1/timeline/checkpoints", token, map[string]any{"decisionId": "d1", "phaseId": "schematic", "orderIndex": 2})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if saved.DecisionID != "d1" || saved.PhaseID != "schematic" || saved.OrderIndex != 2 || saved.ProjectID != "p1" {
		t.Fatalf("unexpected checkpoint %+v", saved)
	}

	rr, _ = doJSON(t, handler, http.MethodPost, "/api/projects/p1/timeline/checkpoints", token, map[string]any{"decisionId": "missing", "phaseId": "schematic"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown decision, got %d", rr.Code)
	}
}
