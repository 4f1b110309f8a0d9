// Package api exposes the feature operations over either calling convention:
// plain REST against /api or remote functions against /functions/v1.
package api

import (
	"context"
	"encoding/json"
	"fmt"

	"archboard/api/internal/client/baas"
	"archboard/api/internal/client/rest"
)

// ErrUnauthorized matches 401 failures from either backend.
var ErrUnauthorized = rest.ErrUnauthorized

// Backend is the full set of remote operations the client needs. Both
// implementations return the same shapes.
type Backend interface {
	SignIn(ctx context.Context, in LoginRequest) (*AuthResponse, error)
	SignUp(ctx context.Context, in SignUpRequest) (*AuthResponse, error)
	FirmSignup(ctx context.Context, in FirmSignupRequest) (*AuthResponse, error)
	CompleteFirmSignup(ctx context.Context, token, password string) (*AuthResponse, error)
	SignOut(ctx context.Context, refreshToken string) error
	Session(ctx context.Context) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error)
	VerifyInvite(ctx context.Context, token string) (*InviteStatus, error)

	Overview(ctx context.Context) (*Overview, error)

	ListDecisions(ctx context.Context, q DecisionQuery) (*DecisionPage, error)
	GetDecision(ctx context.Context, projectID, decisionID string) (*Decision, error)
	DecisionDetail(ctx context.Context, projectID, decisionID string) (*DecisionDetail, error)
	CreateDecision(ctx context.Context, projectID string, in DecisionDraft) (*Decision, error)
	UpdateDecision(ctx context.Context, projectID, decisionID string, in DecisionDraft) (*Decision, error)
	PublishDecision(ctx context.Context, projectID, decisionID string) (*PublishResult, error)
	Approve(ctx context.Context, in ApprovalRequest) (*ApprovalResult, error)
	Download(ctx context.Context, in DownloadRequest) (*DownloadLink, error)

	ListTemplates(ctx context.Context, q TemplateQuery) (*TemplatePage, error)
	GetTemplate(ctx context.Context, templateID string) (*TemplateDetail, error)
	CreateTemplate(ctx context.Context, in TemplateDraft) (*Template, error)
	UpdateTemplate(ctx context.Context, templateID string, in TemplateDraft) (*Template, error)
	DeleteTemplate(ctx context.Context, templateID string) error
	TemplateVersions(ctx context.Context, templateID string) ([]TemplateVersion, error)
	ApplyTemplate(ctx context.Context, in ApplyRequest) (*ApplyResult, error)

	Timeline(ctx context.Context, projectID string) (*Timeline, error)
	UpdatePhase(ctx context.Context, projectID string, in PhaseUpdate) error
	ListMilestones(ctx context.Context, projectID, filter string) ([]Milestone, error)
	CreateMilestone(ctx context.Context, projectID string, in MilestoneDraft) (string, error)
	UpdateMilestone(ctx context.Context, projectID, milestoneID string, in MilestoneDraft) error
	DeleteMilestone(ctx context.Context, projectID, milestoneID string) error
	Reschedule(ctx context.Context, projectID, milestoneID, dueDate string) (string, error)
	AddCheckpoint(ctx context.Context, projectID string, in CheckpointRequest) error
	RemoveCheckpoint(ctx context.Context, projectID, decisionID string) error
}

// New picks the calling convention once: remote functions when the managed
// backend is configured, REST otherwise.
func New(restClient *rest.Client, fn *baas.Client) Backend {
	if fn != nil {
		return &functionBackend{fn: fn}
	}
	return &restBackend{c: restClient}
}

// IsFunctionBackend reports which convention b uses.
func IsFunctionBackend(b Backend) bool {
	_, ok := b.(*functionBackend)
	return ok
}

// envelope flattens fields into a function body next to the action name.
func envelope(action string, fields ...any) (map[string]any, error) {
	body := map[string]any{}
	for _, f := range fields {
		if f == nil {
			continue
		}
		raw, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", action, err)
		}
		var part map[string]any
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, fmt.Errorf("encode %s body: %w", action, err)
		}
		for k, v := range part {
			body[k] = v
		}
	}
	if action != "" {
		body["action"] = action
	}
	return body, nil
}
