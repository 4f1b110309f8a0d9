package api

import (
	"context"
	"net/url"
	"strconv"

	"archboard/api/internal/client/rest"
)

type restBackend struct {
	c *rest.Client
}

func esc(s string) string {
	return url.PathEscape(s)
}

type sessionEnvelope struct {
	Session *Session `json:"session"`
}

// Auth

func (b *restBackend) SignIn(ctx context.Context, in LoginRequest) (*AuthResponse, error) {
	var out AuthResponse
	if err := b.c.Post(ctx, "/auth/login", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) SignUp(ctx context.Context, in SignUpRequest) (*AuthResponse, error) {
	var out AuthResponse
	if err := b.c.Post(ctx, "/auth/signup", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) FirmSignup(ctx context.Context, in FirmSignupRequest) (*AuthResponse, error) {
	var out AuthResponse
	if err := b.c.Post(ctx, "/auth/signup", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) CompleteFirmSignup(ctx context.Context, token, password string) (*AuthResponse, error) {
	var out AuthResponse
	body := map[string]string{"token": token, "password": password}
	if err := b.c.Post(ctx, "/auth/signup/complete", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) SignOut(ctx context.Context, refreshToken string) error {
	return b.c.Post(ctx, "/auth/logout", map[string]string{"refresh_token": refreshToken}, nil)
}

func (b *restBackend) Session(ctx context.Context) (*Session, error) {
	var out sessionEnvelope
	if err := b.c.Get(ctx, "/auth/session", &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

func (b *restBackend) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	var out AuthResponse
	if err := b.c.Post(ctx, "/auth/refresh", map[string]string{"refresh_token": refreshToken}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) VerifyInvite(ctx context.Context, token string) (*InviteStatus, error) {
	var out InviteStatus
	if err := b.c.Get(ctx, "/auth/invite/verify?token="+url.QueryEscape(token), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	if err := b.c.Get(ctx, "/dashboard", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decisions

func decisionQueryString(q DecisionQuery) string {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set("status", q.Status)
	set("phase", q.Phase)
	set("assignee", q.Assignee)
	set("costImpact", q.CostImpact)
	set("search", q.Search)
	set("sortBy", q.SortBy)
	set("sortOrder", q.SortOrder)
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if encoded := v.Encode(); encoded != "" {
		return "?" + encoded
	}
	return ""
}

func decisionPath(projectID, decisionID string) string {
	return "/projects/" + esc(projectID) + "/decisions/" + esc(decisionID)
}

func (b *restBackend) ListDecisions(ctx context.Context, q DecisionQuery) (*DecisionPage, error) {
	path := "/decisions"
	if q.ProjectID != "" {
		path = "/projects/" + esc(q.ProjectID) + "/decisions"
	}
	var out DecisionPage
	if err := b.c.Get(ctx, path+decisionQueryString(q), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) GetDecision(ctx context.Context, projectID, decisionID string) (*Decision, error) {
	var out Decision
	if err := b.c.Get(ctx, decisionPath(projectID, decisionID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) DecisionDetail(ctx context.Context, projectID, decisionID string) (*DecisionDetail, error) {
	var out DecisionDetail
	if err := b.c.Get(ctx, decisionPath(projectID, decisionID)+"/detail", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) CreateDecision(ctx context.Context, projectID string, in DecisionDraft) (*Decision, error) {
	var out Decision
	if err := b.c.Post(ctx, "/projects/"+esc(projectID)+"/decisions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) UpdateDecision(ctx context.Context, projectID, decisionID string, in DecisionDraft) (*Decision, error) {
	var out Decision
	if err := b.c.Patch(ctx, decisionPath(projectID, decisionID), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) PublishDecision(ctx context.Context, projectID, decisionID string) (*PublishResult, error) {
	var out PublishResult
	if err := b.c.Post(ctx, decisionPath(projectID, decisionID)+"/publish", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) Approve(ctx context.Context, in ApprovalRequest) (*ApprovalResult, error) {
	body := map[string]string{
		"versionId":      in.VersionID,
		"approvalAction": in.Action,
		"comment":        in.Comment,
	}
	var out ApprovalResult
	if err := b.c.Post(ctx, decisionPath(in.ProjectID, in.DecisionID)+"/approve", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) Download(ctx context.Context, in DownloadRequest) (*DownloadLink, error) {
	path := decisionPath(in.ProjectID, in.DecisionID) + "/versions/" + esc(in.VersionID) + "/download"
	if in.Format != "" {
		path += "?format=" + url.QueryEscape(in.Format)
	}
	var out DownloadLink
	if err := b.c.Get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Templates

func templateQueryString(q TemplateQuery) string {
	v := url.Values{}
	for key, value := range map[string]string{
		"search": q.Search, "type": q.Type, "status": q.Status, "sortBy": q.SortBy, "sortOrder": q.SortOrder,
	} {
		if value != "" {
			v.Set(key, value)
		}
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if encoded := v.Encode(); encoded != "" {
		return "?" + encoded
	}
	return ""
}

func (b *restBackend) ListTemplates(ctx context.Context, q TemplateQuery) (*TemplatePage, error) {
	var out TemplatePage
	if err := b.c.Get(ctx, "/templates"+templateQueryString(q), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) GetTemplate(ctx context.Context, templateID string) (*TemplateDetail, error) {
	var out TemplateDetail
	if err := b.c.Get(ctx, "/templates/"+esc(templateID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) CreateTemplate(ctx context.Context, in TemplateDraft) (*Template, error) {
	var out Template
	if err := b.c.Post(ctx, "/templates", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) UpdateTemplate(ctx context.Context, templateID string, in TemplateDraft) (*Template, error) {
	var out Template
	if err := b.c.Patch(ctx, "/templates/"+esc(templateID), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) DeleteTemplate(ctx context.Context, templateID string) error {
	return b.c.Delete(ctx, "/templates/"+esc(templateID), nil)
}

func (b *restBackend) TemplateVersions(ctx context.Context, templateID string) ([]TemplateVersion, error) {
	var out struct {
		Versions []TemplateVersion `json:"versions"`
	}
	if err := b.c.Get(ctx, "/templates/"+esc(templateID)+"/versions", &out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

func (b *restBackend) ApplyTemplate(ctx context.Context, in ApplyRequest) (*ApplyResult, error) {
	var out ApplyResult
	if err := b.c.Post(ctx, "/templates/apply", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Timeline

func timelinePath(projectID string) string {
	return "/projects/" + esc(projectID) + "/timeline"
}

func (b *restBackend) Timeline(ctx context.Context, projectID string) (*Timeline, error) {
	var out Timeline
	if err := b.c.Get(ctx, timelinePath(projectID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *restBackend) UpdatePhase(ctx context.Context, projectID string, in PhaseUpdate) error {
	return b.c.Put(ctx, timelinePath(projectID)+"/phases/"+esc(in.PhaseID), in, nil)
}

func (b *restBackend) ListMilestones(ctx context.Context, projectID, filter string) ([]Milestone, error) {
	path := timelinePath(projectID) + "/milestones"
	if filter != "" {
		path += "?filter=" + url.QueryEscape(filter)
	}
	var out struct {
		Milestones []Milestone `json:"milestones"`
	}
	if err := b.c.Get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Milestones, nil
}

func (b *restBackend) CreateMilestone(ctx context.Context, projectID string, in MilestoneDraft) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := b.c.Post(ctx, timelinePath(projectID)+"/milestones", in, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (b *restBackend) UpdateMilestone(ctx context.Context, projectID, milestoneID string, in MilestoneDraft) error {
	return b.c.Patch(ctx, timelinePath(projectID)+"/milestones/"+esc(milestoneID), in, nil)
}

func (b *restBackend) DeleteMilestone(ctx context.Context, projectID, milestoneID string) error {
	return b.c.Delete(ctx, timelinePath(projectID)+"/milestones/"+esc(milestoneID), nil)
}

func (b *restBackend) Reschedule(ctx context.Context, projectID, milestoneID, dueDate string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	path := timelinePath(projectID) + "/milestones/" + esc(milestoneID) + "/reschedule"
	if err := b.c.Post(ctx, path, map[string]string{"dueDate": dueDate}, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (b *restBackend) AddCheckpoint(ctx context.Context, projectID string, in CheckpointRequest) error {
	return b.c.Post(ctx, timelinePath(projectID)+"/checkpoints", in, nil)
}

func (b *restBackend) RemoveCheckpoint(ctx context.Context, projectID, decisionID string) error {
	return b.c.Delete(ctx, timelinePath(projectID)+"/checkpoints/"+esc(decisionID), nil)
}
