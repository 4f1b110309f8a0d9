package api

import (
	"context"

	"archboard/api/internal/client/baas"
)

const (
	fnLogin        = "auth-login"
	fnSignUp       = "auth-signup"
	fnSession      = "auth-session"
	fnRefresh      = "auth-refresh"
	fnLogout       = "auth-logout"
	fnInviteVerify = "auth-invite-verify"
	fnDashboard    = "dashboard"
	fnDecisionLog  = "decision-log"
	fnTemplates    = "templates-library"
	fnTimeline     = "timeline"
)

type functionBackend struct {
	fn *baas.Client
}

// invoke sends action plus the flattened fields to function name.
func (b *functionBackend) invoke(ctx context.Context, name, action string, out any, fields ...any) error {
	body, err := envelope(action, fields...)
	if err != nil {
		return err
	}
	return b.fn.Invoke(ctx, name, body, out)
}

type projectRef struct {
	ProjectID string `json:"projectId"`
}

type decisionRef struct {
	ProjectID  string `json:"projectId"`
	DecisionID string `json:"decisionId"`
}

type templateRef struct {
	TemplateID string `json:"templateId"`
}

type milestoneRef struct {
	ProjectID   string `json:"projectId"`
	MilestoneID string `json:"milestoneId"`
}

type success struct {
	Success bool `json:"success"`
}

// Auth

func (b *functionBackend) SignIn(ctx context.Context, in LoginRequest) (*AuthResponse, error) {
	var out AuthResponse
	if err := b.invoke(ctx, fnLogin, "", &out, in); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) SignUp(ctx context.Context, in SignUpRequest) (*AuthResponse, error) {
	var out AuthResponse
	if err := b.invoke(ctx, fnSignUp, "", &out, in); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) FirmSignup(ctx context.Context, in FirmSignupRequest) (*AuthResponse, error) {
	var out AuthResponse
	if err := b.invoke(ctx, fnSignUp, "", &out, in); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) CompleteFirmSignup(ctx context.Context, token, password string) (*AuthResponse, error) {
	var out AuthResponse
	body := map[string]string{"token": token, "password": password}
	if err := b.invoke(ctx, fnSignUp, "complete", &out, body); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) SignOut(ctx context.Context, refreshToken string) error {
	return b.invoke(ctx, fnLogout, "", nil, map[string]string{"refresh_token": refreshToken})
}

func (b *functionBackend) Session(ctx context.Context) (*Session, error) {
	var out sessionEnvelope
	if err := b.invoke(ctx, fnSession, "", &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

func (b *functionBackend) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	var out AuthResponse
	if err := b.invoke(ctx, fnRefresh, "", &out, map[string]string{"refresh_token": refreshToken}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) VerifyInvite(ctx context.Context, token string) (*InviteStatus, error) {
	var out InviteStatus
	if err := b.invoke(ctx, fnInviteVerify, "", &out, map[string]string{"token": token}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	if err := b.invoke(ctx, fnDashboard, "getOverview", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decisions

func (b *functionBackend) ListDecisions(ctx context.Context, q DecisionQuery) (*DecisionPage, error) {
	var out DecisionPage
	if err := b.invoke(ctx, fnDecisionLog, "list", &out, q); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) GetDecision(ctx context.Context, projectID, decisionID string) (*Decision, error) {
	var out Decision
	if err := b.invoke(ctx, fnDecisionLog, "get", &out, decisionRef{projectID, decisionID}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) DecisionDetail(ctx context.Context, projectID, decisionID string) (*DecisionDetail, error) {
	var out DecisionDetail
	if err := b.invoke(ctx, fnDecisionLog, "detail", &out, decisionRef{projectID, decisionID}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) CreateDecision(ctx context.Context, projectID string, in DecisionDraft) (*Decision, error) {
	var out Decision
	if err := b.invoke(ctx, fnDecisionLog, "create", &out, projectRef{projectID}, in); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) UpdateDecision(ctx context.Context, projectID, decisionID string, in DecisionDraft) (*Decision, error) {
	var out Decision
	if err := b.invoke(ctx, fnDecisionLog, "update", &out, decisionRef{projectID, decisionID}, in); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) PublishDecision(ctx context.Context, projectID, decisionID string) (*PublishResult, error) {
	var out PublishResult
	if err := b.invoke(ctx, fnDecisionLog, "publish", &out, decisionRef{projectID, decisionID}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) Approve(ctx context.Context, in ApprovalRequest) (*ApprovalResult, error) {
	var out ApprovalResult
	if err := b.invoke(ctx, fnDecisionLog, "approve", &out, in); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) Download(ctx context.Context, in DownloadRequest) (*DownloadLink, error) {
	var out DownloadLink
	if err := b.invoke(ctx, fnDecisionLog, "download", &out, in); err != nil {
		return nil, err
	}
	return &out, nil
}

// Templates

func (b *functionBackend) ListTemplates(ctx context.Context, q TemplateQuery) (*TemplatePage, error) {
	var out TemplatePage
	if err := b.invoke(ctx, fnTemplates, "list", &out, q); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) GetTemplate(ctx context.Context, templateID string) (*TemplateDetail, error) {
	var out TemplateDetail
	if err := b.invoke(ctx, fnTemplates, "get", &out, templateRef{templateID}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) CreateTemplate(ctx context.Context, in TemplateDraft) (*Template, error) {
	var out Template
	if err := b.invoke(ctx, fnTemplates, "create", &out, in); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) UpdateTemplate(ctx context.Context, templateID string, in TemplateDraft) (*Template, error) {
	var out Template
	if err := b.invoke(ctx, fnTemplates, "update", &out, templateRef{templateID}, in); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) DeleteTemplate(ctx context.Context, templateID string) error {
	return b.invoke(ctx, fnTemplates, "delete", nil, templateRef{templateID})
}

func (b *functionBackend) TemplateVersions(ctx context.Context, templateID string) ([]TemplateVersion, error) {
	var out struct {
		Versions []TemplateVersion `json:"versions"`
	}
	if err := b.invoke(ctx, fnTemplates, "listVersions", &out, templateRef{templateID}); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

func (b *functionBackend) ApplyTemplate(ctx context.Context, in ApplyRequest) (*ApplyResult, error) {
	var out ApplyResult
	if err := b.invoke(ctx, fnTemplates, "apply", &out, in); err != nil {
		return nil, err
	}
	return &out, nil
}

// Timeline

func (b *functionBackend) Timeline(ctx context.Context, projectID string) (*Timeline, error) {
	var out Timeline
	if err := b.invoke(ctx, fnTimeline, "getTimeline", &out, projectRef{projectID}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *functionBackend) UpdatePhase(ctx context.Context, projectID string, in PhaseUpdate) error {
	return b.invoke(ctx, fnTimeline, "updatePhase", &success{}, projectRef{projectID}, in)
}

func (b *functionBackend) ListMilestones(ctx context.Context, projectID, filter string) ([]Milestone, error) {
	var out struct {
		Milestones []Milestone `json:"milestones"`
	}
	body := map[string]string{"projectId": projectID, "filter": filter}
	if err := b.invoke(ctx, fnTimeline, "listMilestones", &out, body); err != nil {
		return nil, err
	}
	return out.Milestones, nil
}

func (b *functionBackend) CreateMilestone(ctx context.Context, projectID string, in MilestoneDraft) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := b.invoke(ctx, fnTimeline, "createMilestone", &out, projectRef{projectID}, in); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (b *functionBackend) UpdateMilestone(ctx context.Context, projectID, milestoneID string, in MilestoneDraft) error {
	return b.invoke(ctx, fnTimeline, "updateMilestone", &success{}, milestoneRef{projectID, milestoneID}, in)
}

func (b *functionBackend) DeleteMilestone(ctx context.Context, projectID, milestoneID string) error {
	return b.invoke(ctx, fnTimeline, "deleteMilestone", &success{}, milestoneRef{projectID, milestoneID})
}

func (b *functionBackend) Reschedule(ctx context.Context, projectID, milestoneID, dueDate string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := b.invoke(ctx, fnTimeline, "reschedule", &out, milestoneRef{projectID, milestoneID}, map[string]string{"dueDate": dueDate}); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (b *functionBackend) AddCheckpoint(ctx context.Context, projectID string, in CheckpointRequest) error {
	return b.invoke(ctx, fnTimeline, "addCheckpoint", &success{}, projectRef{projectID}, in)
}

func (b *functionBackend) RemoveCheckpoint(ctx context.Context, projectID, decisionID string) error {
	return b.invoke(ctx, fnTimeline, "removeCheckpoint", &success{}, decisionRef{projectID, decisionID})
}
