package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"archboard/api/internal/auth"
	"archboard/api/internal/config"
	"archboard/api/internal/gitrepo"
	"archboard/api/internal/store"

	"go.uber.org/zap"
)

type fakeStore struct {
	pingFn                 func(context.Context) error
	getUserByEmailFn       func(context.Context, string) (store.User, error)
	getUserByIDFn          func(context.Context, string) (store.User, error)
	getInviteFn            func(context.Context, string) (store.Invite, error)
	saveRefreshSessionFn   func(context.Context, string, string, time.Time) error
	lookupRefreshSessionFn func(context.Context, string) (store.User, error)
	revokeRefreshFn        func(context.Context, string) error
	revokeAccessTokenFn    func(context.Context, string, string, time.Time) error
	isRevokedFn            func(context.Context, string) (bool, error)

	getProjectFn         func(context.Context, string) (store.Project, error)
	createProjectFn      func(context.Context, store.Project, []store.ProjectPhase) error
	dashboardProjectsFn  func(context.Context, string, int) ([]store.DashboardProject, error)
	pendingDecisionsFn   func(context.Context, string, int) ([]store.PendingDecision, error)
	recentActivityFn     func(context.Context, string, int) ([]store.Activity, error)
	upcomingMilestonesFn func(context.Context, string, time.Time, time.Time, int) ([]store.UpcomingMilestone, error)

	listPhasesFn       func(context.Context, string) ([]store.ProjectPhase, error)
	upsertPhaseFn      func(context.Context, store.ProjectPhase) error
	listMilestonesFn   func(context.Context, string, store.MilestoneFilter) ([]store.Milestone, error)
	getMilestoneFn     func(context.Context, string, string) (store.Milestone, error)
	createMilestoneFn  func(context.Context, store.Milestone) error
	updateMilestoneFn  func(context.Context, store.Milestone) error
	listCheckpointsFn  func(context.Context, string) ([]store.DecisionCheckpoint, error)
	upsertCheckpointFn func(context.Context, store.DecisionCheckpoint) error

	listDecisionsFn        func(context.Context, store.DecisionFilter) ([]store.Decision, int, error)
	getDecisionFn          func(context.Context, string, string) (store.Decision, error)
	createDecisionFn       func(context.Context, store.Decision, store.AuditEntry) error
	updateDecisionFn       func(context.Context, store.Decision, store.AuditEntry) error
	publishDecisionFn      func(context.Context, store.DecisionVersion, store.AuditEntry) (store.DecisionVersion, error)
	listDecisionVersionsFn func(context.Context, string) ([]store.DecisionVersion, error)
	recordApprovalFn       func(context.Context, store.Approval, string, string, store.AuditEntry) (store.Approval, error)
	listAuditEntriesFn     func(context.Context, string) ([]store.AuditEntry, error)

	listTemplatesFn      func(context.Context, store.TemplateFilter) ([]store.Template, int, error)
	getTemplateFn        func(context.Context, string) (store.Template, error)
	createTemplateFn     func(context.Context, store.Template, store.TemplateVersion) (store.Template, error)
	updateTemplateFn     func(context.Context, store.Template, int, *store.TemplateVersion) (store.Template, error)
	deleteTemplateFn     func(context.Context, string) error
	getTemplateVersionFn func(context.Context, string, int) (store.TemplateVersion, error)
	applyTemplateFn      func(context.Context, store.ApplyPlan) error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{ID: id, DisplayName: "Test User", Role: "architect"}, nil
}
func (f *fakeStore) CreateUser(context.Context, store.User) error             { return nil }
func (f *fakeStore) VerifyUserEmail(context.Context, string) error            { return nil }
func (f *fakeStore) UpdateUserPassword(context.Context, string, string) error { return nil }
func (f *fakeStore) CreatePasswordReset(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) ConsumePasswordReset(context.Context, string) (string, error) {
	return "", sql.ErrNoRows
}
func (f *fakeStore) CreateFirmSignupRequest(context.Context, store.FirmSignupRequest) error {
	return nil
}
func (f *fakeStore) GetFirmSignupRequest(context.Context, string) (store.FirmSignupRequest, error) {
	return store.FirmSignupRequest{}, sql.ErrNoRows
}
func (f *fakeStore) CompleteFirmSignup(context.Context, string, store.Firm, store.User) error {
	return nil
}
func (f *fakeStore) CreateInvite(context.Context, store.Invite) error { return nil }
func (f *fakeStore) GetInvite(ctx context.Context, token string) (store.Invite, error) {
	if f.getInviteFn != nil {
		return f.getInviteFn(ctx, token)
	}
	return store.Invite{}, sql.ErrNoRows
}
func (f *fakeStore) AcceptInvite(context.Context, string, store.User) error { return nil }

func (f *fakeStore) SaveRefreshSession(ctx context.Context, hash, userID string, exp time.Time) error {
	if f.saveRefreshSessionFn != nil {
		return f.saveRefreshSessionFn(ctx, hash, userID, exp)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, hash string) (store.User, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, hash)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, hash string) error {
	if f.revokeRefreshFn != nil {
		return f.revokeRefreshFn(ctx, hash)
	}
	return nil
}
func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti, userID string, exp time.Time) error {
	if f.revokeAccessTokenFn != nil {
		return f.revokeAccessTokenFn(ctx, jti, userID, exp)
	}
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isRevokedFn != nil {
		return f.isRevokedFn(ctx, jti)
	}
	return false, nil
}

func (f *fakeStore) ListProjects(context.Context, string, int) ([]store.Project, error) {
	return []store.Project{}, nil
}
func (f *fakeStore) GetProject(ctx context.Context, id string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, id)
	}
	return store.Project{ID: id, Name: "Harbor House", Status: "active", CreatedBy: "a1", FirmID: testFirm}, nil
}
func (f *fakeStore) CreateProject(ctx context.Context, p store.Project, phases []store.ProjectPhase) error {
	if f.createProjectFn != nil {
		return f.createProjectFn(ctx, p, phases)
	}
	return nil
}
func (f *fakeStore) UpdateProject(context.Context, string, string, string) error { return nil }
func (f *fakeStore) DashboardProjects(ctx context.Context, viewer string, limit int) ([]store.DashboardProject, error) {
	if f.dashboardProjectsFn != nil {
		return f.dashboardProjectsFn(ctx, viewer, limit)
	}
	return nil, nil
}
func (f *fakeStore) PendingDecisions(ctx context.Context, viewer string, limit int) ([]store.PendingDecision, error) {
	if f.pendingDecisionsFn != nil {
		return f.pendingDecisionsFn(ctx, viewer, limit)
	}
	return nil, nil
}
func (f *fakeStore) RecentActivity(ctx context.Context, viewer string, limit int) ([]store.Activity, error) {
	if f.recentActivityFn != nil {
		return f.recentActivityFn(ctx, viewer, limit)
	}
	return nil, nil
}
func (f *fakeStore) UpcomingMilestones(ctx context.Context, viewer string, from, to time.Time, limit int) ([]store.UpcomingMilestone, error) {
	if f.upcomingMilestonesFn != nil {
		return f.upcomingMilestonesFn(ctx, viewer, from, to, limit)
	}
	return nil, nil
}

func (f *fakeStore) ListPhases(ctx context.Context, pid string) ([]store.ProjectPhase, error) {
	if f.listPhasesFn != nil {
		return f.listPhasesFn(ctx, pid)
	}
	return nil, nil
}
func (f *fakeStore) UpsertPhase(ctx context.Context, phase store.ProjectPhase) error {
	if f.upsertPhaseFn != nil {
		return f.upsertPhaseFn(ctx, phase)
	}
	return nil
}
func (f *fakeStore) ListMilestones(ctx context.Context, pid string, filter store.MilestoneFilter) ([]store.Milestone, error) {
	if f.listMilestonesFn != nil {
		return f.listMilestonesFn(ctx, pid, filter)
	}
	return nil, nil
}
func (f *fakeStore) GetMilestone(ctx context.Context, pid, mid string) (store.Milestone, error) {
	if f.getMilestoneFn != nil {
		return f.getMilestoneFn(ctx, pid, mid)
	}
	return store.Milestone{}, sql.ErrNoRows
}
func (f *fakeStore) CreateMilestone(ctx context.Context, m store.Milestone) error {
	if f.createMilestoneFn != nil {
		return f.createMilestoneFn(ctx, m)
	}
	return nil
}
func (f *fakeStore) UpdateMilestone(ctx context.Context, m store.Milestone) error {
	if f.updateMilestoneFn != nil {
		return f.updateMilestoneFn(ctx, m)
	}
	return nil
}
func (f *fakeStore) DeleteMilestone(context.Context, string, string) error { return nil }
func (f *fakeStore) ListCheckpoints(ctx context.Context, pid string) ([]store.DecisionCheckpoint, error) {
	if f.listCheckpointsFn != nil {
		return f.listCheckpointsFn(ctx, pid)
	}
	return nil, nil
}
func (f *fakeStore) UpsertCheckpoint(ctx context.Context, c store.DecisionCheckpoint) error {
	if f.upsertCheckpointFn != nil {
		return f.upsertCheckpointFn(ctx, c)
	}
	return nil
}
func (f *fakeStore) DeleteCheckpoint(context.Context, string, string) error { return nil }

func (f *fakeStore) ListDecisions(ctx context.Context, filter store.DecisionFilter) ([]store.Decision, int, error) {
	if f.listDecisionsFn != nil {
		return f.listDecisionsFn(ctx, filter)
	}
	return nil, 0, nil
}
func (f *fakeStore) GetDecision(ctx context.Context, pid, did string) (store.Decision, error) {
	if f.getDecisionFn != nil {
		return f.getDecisionFn(ctx, pid, did)
	}
	return store.Decision{}, sql.ErrNoRows
}
func (f *fakeStore) CreateDecision(ctx context.Context, d store.Decision, audit store.AuditEntry) error {
	if f.createDecisionFn != nil {
		return f.createDecisionFn(ctx, d, audit)
	}
	return nil
}
func (f *fakeStore) UpdateDecision(ctx context.Context, d store.Decision, audit store.AuditEntry) error {
	if f.updateDecisionFn != nil {
		return f.updateDecisionFn(ctx, d, audit)
	}
	return nil
}
func (f *fakeStore) PublishDecision(ctx context.Context, v store.DecisionVersion, audit store.AuditEntry) (store.DecisionVersion, error) {
	if f.publishDecisionFn != nil {
		return f.publishDecisionFn(ctx, v, audit)
	}
	v.Version = 1
	return v, nil
}
func (f *fakeStore) ListDecisionVersions(ctx context.Context, did string) ([]store.DecisionVersion, error) {
	if f.listDecisionVersionsFn != nil {
		return f.listDecisionVersionsFn(ctx, did)
	}
	return nil, nil
}
func (f *fakeStore) GetDecisionVersion(context.Context, string, string) (store.DecisionVersion, error) {
	return store.DecisionVersion{}, sql.ErrNoRows
}
func (f *fakeStore) RecordApproval(ctx context.Context, a store.Approval, from, to string, audit store.AuditEntry) (store.Approval, error) {
	if f.recordApprovalFn != nil {
		return f.recordApprovalFn(ctx, a, from, to, audit)
	}
	a.CreatedAt = time.Now()
	return a, nil
}
func (f *fakeStore) ListApprovals(context.Context, string) ([]store.Approval, error) { return nil, nil }
func (f *fakeStore) ListAuditEntries(ctx context.Context, did string) ([]store.AuditEntry, error) {
	if f.listAuditEntriesFn != nil {
		return f.listAuditEntriesFn(ctx, did)
	}
	return nil, nil
}
func (f *fakeStore) ListRelatedItems(context.Context, string) ([]store.RelatedItem, error) {
	return nil, nil
}
func (f *fakeStore) InsertRelatedItem(context.Context, store.RelatedItem) error { return nil }

func (f *fakeStore) ListTemplates(ctx context.Context, filter store.TemplateFilter) ([]store.Template, int, error) {
	if f.listTemplatesFn != nil {
		return f.listTemplatesFn(ctx, filter)
	}
	return nil, 0, nil
}
func (f *fakeStore) GetTemplate(ctx context.Context, id string) (store.Template, error) {
	if f.getTemplateFn != nil {
		return f.getTemplateFn(ctx, id)
	}
	return store.Template{}, sql.ErrNoRows
}
func (f *fakeStore) CreateTemplate(ctx context.Context, t store.Template, first store.TemplateVersion) (store.Template, error) {
	if f.createTemplateFn != nil {
		return f.createTemplateFn(ctx, t, first)
	}
	t.CurrentVersion = first.Version
	return t, nil
}
func (f *fakeStore) UpdateTemplate(ctx context.Context, t store.Template, read int, next *store.TemplateVersion) (store.Template, error) {
	if f.updateTemplateFn != nil {
		return f.updateTemplateFn(ctx, t, read, next)
	}
	return t, nil
}
func (f *fakeStore) DeleteTemplate(ctx context.Context, id string) error {
	if f.deleteTemplateFn != nil {
		return f.deleteTemplateFn(ctx, id)
	}
	return nil
}
func (f *fakeStore) ListTemplateVersions(context.Context, string) ([]store.TemplateVersion, error) {
	return nil, nil
}
func (f *fakeStore) GetTemplateVersion(ctx context.Context, id string, version int) (store.TemplateVersion, error) {
	if f.getTemplateVersionFn != nil {
		return f.getTemplateVersionFn(ctx, id, version)
	}
	return store.TemplateVersion{}, sql.ErrNoRows
}
func (f *fakeStore) ApplyTemplate(ctx context.Context, plan store.ApplyPlan) error {
	if f.applyTemplateFn != nil {
		return f.applyTemplateFn(ctx, plan)
	}
	return nil
}

type fakeGit struct {
	commits []int
	content map[int]gitrepo.Content
}

func (f *fakeGit) CommitVersion(_ string, version int, content gitrepo.Content, _ string) (gitrepo.CommitInfo, error) {
	f.commits = append(f.commits, version)
	if f.content == nil {
		f.content = map[int]gitrepo.Content{}
	}
	f.content[version] = content
	return gitrepo.CommitInfo{Hash: "c0ffee", Message: "Version"}, nil
}

func (f *fakeGit) GetVersionContent(_ string, version int) (gitrepo.Content, error) {
	content, ok := f.content[version]
	if !ok {
		return gitrepo.Content{}, gitrepo.ErrVersionNotFound
	}
	return content, nil
}

func (f *fakeGit) History(string, int) ([]gitrepo.CommitInfo, error) {
	return []gitrepo.CommitInfo{{Hash: "c0ffee"}}, nil
}

var fixedNow = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

func newTestService(fs *fakeStore, fg *fakeGit) *Service {
	svc := New(config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
	}, fs, fg, WithLogger(zap.NewNop()))
	svc.now = func() time.Time { return fixedNow }
	return svc
}

const testFirm = "firm_1"

// tokenFor issues an access token for a member of testFirm with the given
// role.
func tokenFor(t *testing.T, svc *Service, userID, role string) string {
	t.Helper()
	return tokenInFirm(t, svc, userID, role, testFirm)
}

func tokenInFirm(t *testing.T, svc *Service, userID, role, firmID string) string {
	t.Helper()
	claims := auth.NewClaims(userID, "User "+userID, userID+"@example.com", role, "jti-"+userID, time.Hour)
	claims.Firm = firmID
	token, err := auth.IssueToken([]byte(svc.cfg.JWTSecret), claims)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var decoded map[string]any
	if rr.Body.Len() > 0 {
		_ = json.Unmarshal(rr.Body.Bytes(), &decoded)
	}
	return rr, decoded
}

func TestSessionFromTokenRejectsRevokedToken(t *testing.T) {
	fs := &fakeStore{
		isRevokedFn: func(_ context.Context, jti string) (bool, error) {
			return jti == "jti-u1", nil
		},
	}
	svc := newTestService(fs, &fakeGit{})

	if _, err := svc.SessionFromToken(context.Background(), tokenFor(t, svc, "u1", "architect")); err == nil {
		t.Fatal("expected revoked token to be rejected")
	}
	session, err := svc.SessionFromToken(context.Background(), tokenFor(t, svc, "u2", "client"))
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if session.UserID != "u2" || session.Role != "client" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	var revoked, saved []string
	fs := &fakeStore{
		lookupRefreshSessionFn: func(_ context.Context, hash string) (store.User, error) {
			if hash != auth.HashToken("old-token") {
				return store.User{}, sql.ErrNoRows
			}
			return store.User{ID: "u1"}, nil
		},
		revokeRefreshFn: func(_ context.Context, hash string) error {
			revoked = append(revoked, hash)
			return nil
		},
		saveRefreshSessionFn: func(_ context.Context, hash, userID string, _ time.Time) error {
			saved = append(saved, hash)
			return nil
		},
	}
	svc := newTestService(fs, &fakeGit{})

	session, err := svc.Refresh(context.Background(), "old-token")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if session.RefreshToken == "" || session.RefreshToken == "old-token" {
		t.Fatalf("expected a new refresh token, got %q", session.RefreshToken)
	}
	if len(revoked) != 1 || revoked[0] != auth.HashToken("old-token") {
		t.Fatalf("expected old token revoked, got %v", revoked)
	}
	if len(saved) != 1 || saved[0] != auth.HashToken(session.RefreshToken) {
		t.Fatalf("expected new token saved hashed, got %v", saved)
	}

	if _, err := svc.Refresh(context.Background(), "unknown"); err == nil {
		t.Fatal("expected unknown refresh token to fail")
	} else if status, _, _, _ := mapError(err); status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestOverviewAggregatesProjects(t *testing.T) {
	due := fixedNow.AddDate(0, 0, 3)
	fs := &fakeStore{
		dashboardProjectsFn: func(context.Context, string, int) ([]store.DashboardProject, error) {
			return []store.DashboardProject{
				{
					Project: store.Project{ID: "p1", Name: "Harbor House", Status: "active", UpdatedAt: fixedNow},
					Phases: []store.ProjectPhase{
						{PhaseID: "kickoff", Label: "Kickoff", PercentComplete: 100},
						{PhaseID: "concept", Label: "Concept", PercentComplete: 50},
						{PhaseID: "schematic", Label: "Schematic", PercentComplete: 0},
					},
					PendingApprovals: 2,
				},
				{Project: store.Project{ID: "p2", Name: "Empty", Status: "on_hold", UpdatedAt: fixedNow}},
			}, nil
		},
		upcomingMilestonesFn: func(_ context.Context, _ string, from, to time.Time, _ int) ([]store.UpcomingMilestone, error) {
			if to.Sub(from) != 14*24*time.Hour {
				t.Fatalf("expected a 14 day window, got %s", to.Sub(from))
			}
			return []store.UpcomingMilestone{{ID: "m1", Name: "Site visit", ProjectID: "p1", DueDate: due}}, nil
		},
	}
	svc := newTestService(fs, &fakeGit{})

	overview, err := svc.Overview(context.Background(), Session{UserID: "u1", Role: "architect"})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	projects := overview["projects"].([]map[string]any)
	if projects[0]["phase"] != "Concept" || projects[0]["progress"] != 50 || projects[0]["pendingApprovals"] != 2 {
		t.Fatalf("unexpected first project %+v", projects[0])
	}
	if projects[1]["phase"] != "Kickoff" || projects[1]["progress"] != 0 {
		t.Fatalf("unexpected empty project %+v", projects[1])
	}
	meetings := overview["upcomingMeetings"].([]map[string]any)
	if len(meetings) != 1 || meetings[0]["start"] != "2025-03-13" {
		t.Fatalf("unexpected meetings %+v", meetings)
	}
}
