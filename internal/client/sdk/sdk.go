// Package sdk is the client the CLI talks to. It composes the selected
// backend with the session manager and the query cache: tokens are persisted
// on successful sign-in, reads are cached under logical keys, and mutations
// invalidate the keys they affect.
package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"archboard/api/internal/client/api"
	"archboard/api/internal/client/forms"
	"archboard/api/internal/client/listing"
	"archboard/api/internal/client/query"
	"archboard/api/internal/client/session"

	"go.uber.org/zap"
)

var ErrNotSignedIn = errors.New("not signed in")

const (
	keyDecisions = "decisions"
	keyTemplates = "templates"
	keyTimeline  = "timeline"
	keyDashboard = "dashboard"
)

type Client struct {
	backend api.Backend
	session *session.Manager
	cache   *query.Cache
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*Client)

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(backend api.Backend, sess *session.Manager, cache *query.Cache, opts ...Option) *Client {
	c := &Client{backend: backend, session: sess, cache: cache, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() *session.Manager { return c.session }

func (c *Client) FunctionMode() bool { return api.IsFunctionBackend(c.backend) }

func (c *Client) invalidate(prefixes ...query.Key) {
	for _, p := range prefixes {
		c.cache.Invalidate(p...)
	}
}

// persist stores the tokens of a successful auth response. Responses without
// a session (pending verification) leave the stored state alone.
func (c *Client) persist(resp *api.AuthResponse) error {
	if resp == nil || resp.Session == nil || resp.Session.AccessToken == "" {
		return nil
	}
	if err := c.session.SetTokens(resp.Session.AccessToken, resp.Session.RefreshToken); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	c.cache.Invalidate()
	return nil
}

// Auth

func (c *Client) SignIn(ctx context.Context, in api.LoginRequest) (*api.AuthResponse, error) {
	if err := forms.Check(in); err != nil {
		return nil, err
	}
	resp, err := c.backend.SignIn(ctx, in)
	if err != nil {
		return nil, err
	}
	return resp, c.persist(resp)
}

func (c *Client) SignUp(ctx context.Context, in api.SignUpRequest) (*api.AuthResponse, error) {
	if err := forms.Check(in); err != nil {
		return nil, err
	}
	resp, err := c.backend.SignUp(ctx, in)
	if err != nil {
		return nil, err
	}
	return resp, c.persist(resp)
}

func (c *Client) FirmSignup(ctx context.Context, in api.FirmSignupRequest) (*api.AuthResponse, error) {
	if err := forms.Check(in); err != nil {
		return nil, err
	}
	return c.backend.FirmSignup(ctx, in)
}

func (c *Client) CompleteFirmSignup(ctx context.Context, token, password string) (*api.AuthResponse, error) {
	resp, err := c.backend.CompleteFirmSignup(ctx, token, password)
	if err != nil {
		return nil, err
	}
	return resp, c.persist(resp)
}

// SignOut revokes the session remotely and always forgets it locally, even
// when the remote call fails.
func (c *Client) SignOut(ctx context.Context) error {
	remoteErr := c.backend.SignOut(ctx, c.session.RefreshToken())
	clearErr := c.session.Clear()
	c.cache.Invalidate()
	if remoteErr != nil {
		c.log.Warn("remote sign-out failed", zap.Error(remoteErr))
	}
	return errors.Join(remoteErr, clearErr)
}

// Session returns the signed-in session, or nil without a request when no
// access token is stored.
func (c *Client) Session(ctx context.Context) (*api.Session, error) {
	if c.session.AccessToken() == "" {
		return nil, nil
	}
	return c.backend.Session(ctx)
}

func (c *Client) Refresh(ctx context.Context) (*api.AuthResponse, error) {
	token := c.session.RefreshToken()
	if token == "" {
		return nil, ErrNotSignedIn
	}
	resp, err := c.backend.Refresh(ctx, token)
	if err != nil {
		return nil, err
	}
	return resp, c.persist(resp)
}

func (c *Client) VerifyInvite(ctx context.Context, token string) (*api.InviteStatus, error) {
	return c.backend.VerifyInvite(ctx, token)
}

// Dashboard

// Overview falls back to the placeholder overview when loading fails for any
// reason other than a missing or expired session.
func (c *Client) Overview(ctx context.Context) (*api.Overview, error) {
	ov, err := query.Fetch(ctx, c.cache, query.Key{keyDashboard, "overview"}, c.backend.Overview)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return nil, err
		}
		c.log.Warn("dashboard unavailable, showing placeholder", zap.Error(err))
		return PlaceholderOverview(c.now()), nil
	}
	return ov, nil
}

// Decisions

func queryKey(v any) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

func (c *Client) ListDecisions(ctx context.Context, q api.DecisionQuery) (*api.DecisionPage, error) {
	key := query.Key{keyDecisions, q.ProjectID, "list", queryKey(q)}
	page, err := query.Fetch(ctx, c.cache, key, func(ctx context.Context) (*api.DecisionPage, error) {
		return c.backend.ListDecisions(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return normalizeDecisions(page, q), nil
}

func decisionFilter(q api.DecisionQuery) listing.DecisionFilter {
	return listing.DecisionFilter{
		Status:     q.Status,
		Phase:      q.Phase,
		Assignee:   q.Assignee,
		CostImpact: q.CostImpact,
		Search:     q.Search,
	}
}

// normalizeDecisions filters, sorts and pages locally when the backend
// returned items outside the query. A clean page keeps its paging but is
// still put in the requested order.
func normalizeDecisions(page *api.DecisionPage, q api.DecisionQuery) *api.DecisionPage {
	f := decisionFilter(q)
	clean := q.PageSize <= 0 || len(page.Items) <= q.PageSize
	for _, d := range page.Items {
		if !clean {
			break
		}
		clean = listing.MatchDecision(d, f)
	}
	if clean {
		if q.SortBy == "" {
			return page
		}
		sorted := *page
		sorted.Items = listing.SortDecisions(page.Items, q.SortBy, q.SortOrder)
		return &sorted
	}
	items := listing.FilterDecisions(page.Items, f)
	items = listing.SortDecisions(items, q.SortBy, q.SortOrder)
	return &api.DecisionPage{
		Items:    listing.Paginate(items, q.Page, q.PageSize),
		Total:    len(items),
		Page:     max(q.Page, 1),
		PageSize: q.PageSize,
	}
}

func (c *Client) GetDecision(ctx context.Context, projectID, decisionID string) (*api.Decision, error) {
	return query.Fetch(ctx, c.cache, query.Key{keyDecisions, projectID, "item", decisionID}, func(ctx context.Context) (*api.Decision, error) {
		return c.backend.GetDecision(ctx, projectID, decisionID)
	})
}

func (c *Client) DecisionDetail(ctx context.Context, projectID, decisionID string) (*api.DecisionDetail, error) {
	return query.Fetch(ctx, c.cache, query.Key{keyDecisions, projectID, "detail", decisionID}, func(ctx context.Context) (*api.DecisionDetail, error) {
		return c.backend.DecisionDetail(ctx, projectID, decisionID)
	})
}

func (c *Client) decisionsChanged(projectID string) {
	c.invalidate(
		query.Key{keyDecisions, projectID},
		query.Key{keyDecisions, ""},
		query.Key{keyDashboard},
		query.Key{keyTimeline, projectID},
	)
}

func (c *Client) CreateDecision(ctx context.Context, projectID string, in api.DecisionDraft) (*api.Decision, error) {
	d, err := c.backend.CreateDecision(ctx, projectID, in)
	if err != nil {
		return nil, err
	}
	c.decisionsChanged(projectID)
	return d, nil
}

func (c *Client) UpdateDecision(ctx context.Context, projectID, decisionID string, in api.DecisionDraft) (*api.Decision, error) {
	d, err := c.backend.UpdateDecision(ctx, projectID, decisionID, in)
	if err != nil {
		return nil, err
	}
	c.decisionsChanged(projectID)
	return d, nil
}

func (c *Client) PublishDecision(ctx context.Context, projectID, decisionID string) (*api.PublishResult, error) {
	res, err := c.backend.PublishDecision(ctx, projectID, decisionID)
	if err != nil {
		return nil, err
	}
	c.decisionsChanged(projectID)
	return res, nil
}

func (c *Client) Approve(ctx context.Context, in api.ApprovalRequest) (*api.ApprovalResult, error) {
	if err := forms.Check(in); err != nil {
		return nil, err
	}
	res, err := c.backend.Approve(ctx, in)
	if err != nil {
		return nil, err
	}
	c.decisionsChanged(in.ProjectID)
	return res, nil
}

func (c *Client) Download(ctx context.Context, in api.DownloadRequest) (*api.DownloadLink, error) {
	return c.backend.Download(ctx, in)
}

// Templates

func (c *Client) ListTemplates(ctx context.Context, q api.TemplateQuery) (*api.TemplatePage, error) {
	page, err := query.Fetch(ctx, c.cache, query.Key{keyTemplates, "list", queryKey(q)}, func(ctx context.Context) (*api.TemplatePage, error) {
		return c.backend.ListTemplates(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return normalizeTemplates(page, q), nil
}

func normalizeTemplates(page *api.TemplatePage, q api.TemplateQuery) *api.TemplatePage {
	f := listing.TemplateFilter{Search: q.Search, Type: q.Type, Status: q.Status}
	clean := q.PageSize <= 0 || len(page.Items) <= q.PageSize
	for _, t := range page.Items {
		if !clean {
			break
		}
		clean = listing.MatchTemplate(t, f)
	}
	if clean {
		if q.SortBy == "" {
			return page
		}
		sorted := *page
		sorted.Items = listing.SortTemplates(page.Items, q.SortBy, q.SortOrder)
		return &sorted
	}
	items := listing.SortTemplates(listing.FilterTemplates(page.Items, f), q.SortBy, q.SortOrder)
	return &api.TemplatePage{
		Items:    listing.Paginate(items, q.Page, q.PageSize),
		Total:    len(items),
		Page:     max(q.Page, 1),
		PageSize: q.PageSize,
	}
}

func (c *Client) GetTemplate(ctx context.Context, templateID string) (*api.TemplateDetail, error) {
	return query.Fetch(ctx, c.cache, query.Key{keyTemplates, "item", templateID}, func(ctx context.Context) (*api.TemplateDetail, error) {
		return c.backend.GetTemplate(ctx, templateID)
	})
}

func (c *Client) TemplateVersions(ctx context.Context, templateID string) ([]api.TemplateVersion, error) {
	return query.Fetch(ctx, c.cache, query.Key{keyTemplates, "versions", templateID}, func(ctx context.Context) ([]api.TemplateVersion, error) {
		return c.backend.TemplateVersions(ctx, templateID)
	})
}

func (c *Client) CreateTemplate(ctx context.Context, in api.TemplateDraft) (*api.Template, error) {
	if err := forms.Check(forms.TemplateEditorFromDraft(in)); err != nil {
		return nil, err
	}
	t, err := c.backend.CreateTemplate(ctx, in)
	if err != nil {
		return nil, err
	}
	c.invalidate(query.Key{keyTemplates})
	return t, nil
}

func (c *Client) UpdateTemplate(ctx context.Context, templateID string, in api.TemplateDraft) (*api.Template, error) {
	t, err := c.backend.UpdateTemplate(ctx, templateID, in)
	if err != nil {
		return nil, err
	}
	c.invalidate(query.Key{keyTemplates})
	return t, nil
}

func (c *Client) DeleteTemplate(ctx context.Context, templateID string) error {
	if err := c.backend.DeleteTemplate(ctx, templateID); err != nil {
		return err
	}
	c.invalidate(query.Key{keyTemplates})
	return nil
}

// ApplyTemplate validates the wizard before sending anything.
func (c *Client) ApplyTemplate(ctx context.Context, in api.ApplyRequest) (*api.ApplyResult, error) {
	if err := forms.Check(forms.ApplyWizardFrom(in)); err != nil {
		return nil, err
	}
	res, err := c.backend.ApplyTemplate(ctx, in)
	if err != nil {
		return nil, err
	}
	c.invalidate(
		query.Key{keyTemplates},
		query.Key{keyDashboard},
		query.Key{keyTimeline, res.ProjectID},
		query.Key{keyDecisions, res.ProjectID},
		query.Key{keyDecisions, ""},
	)
	return res, nil
}

// Timeline

// Timeline falls back to the placeholder timeline when loading fails for any
// reason other than a missing or expired session.
func (c *Client) Timeline(ctx context.Context, projectID string) (*api.Timeline, error) {
	tl, err := query.Fetch(ctx, c.cache, query.Key{keyTimeline, projectID}, func(ctx context.Context) (*api.Timeline, error) {
		return c.backend.Timeline(ctx, projectID)
	})
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return nil, err
		}
		c.log.Warn("timeline unavailable, showing placeholder", zap.String("project", projectID), zap.Error(err))
		return PlaceholderTimeline(projectID), nil
	}
	return tl, nil
}

func (c *Client) ListMilestones(ctx context.Context, projectID, filter string) ([]api.Milestone, error) {
	return query.Fetch(ctx, c.cache, query.Key{keyTimeline, projectID, "milestones", filter}, func(ctx context.Context) ([]api.Milestone, error) {
		return c.backend.ListMilestones(ctx, projectID, filter)
	})
}

func (c *Client) timelineChanged(projectID string) {
	c.invalidate(query.Key{keyTimeline, projectID}, query.Key{keyDashboard})
}

func (c *Client) UpdatePhase(ctx context.Context, projectID string, in api.PhaseUpdate) error {
	if err := c.backend.UpdatePhase(ctx, projectID, in); err != nil {
		return err
	}
	c.timelineChanged(projectID)
	return nil
}

func (c *Client) CreateMilestone(ctx context.Context, projectID string, in api.MilestoneDraft) (string, error) {
	form := forms.Milestone{}
	if in.Name != nil {
		form.Name = *in.Name
	}
	if in.PhaseID != nil {
		form.PhaseID = *in.PhaseID
	}
	if in.DueDate != nil {
		form.DueDate = *in.DueDate
	}
	if err := forms.Check(form); err != nil {
		return "", err
	}
	id, err := c.backend.CreateMilestone(ctx, projectID, in)
	if err != nil {
		return "", err
	}
	c.timelineChanged(projectID)
	return id, nil
}

func (c *Client) UpdateMilestone(ctx context.Context, projectID, milestoneID string, in api.MilestoneDraft) error {
	if err := c.backend.UpdateMilestone(ctx, projectID, milestoneID, in); err != nil {
		return err
	}
	c.timelineChanged(projectID)
	return nil
}

func (c *Client) DeleteMilestone(ctx context.Context, projectID, milestoneID string) error {
	if err := c.backend.DeleteMilestone(ctx, projectID, milestoneID); err != nil {
		return err
	}
	c.timelineChanged(projectID)
	return nil
}

func (c *Client) Reschedule(ctx context.Context, projectID, milestoneID, dueDate string) (string, error) {
	status, err := c.backend.Reschedule(ctx, projectID, milestoneID, dueDate)
	if err != nil {
		return "", err
	}
	c.timelineChanged(projectID)
	return status, nil
}

func (c *Client) AddCheckpoint(ctx context.Context, projectID string, in api.CheckpointRequest) error {
	if err := c.backend.AddCheckpoint(ctx, projectID, in); err != nil {
		return err
	}
	c.timelineChanged(projectID)
	return nil
}

func (c *Client) RemoveCheckpoint(ctx context.Context, projectID, decisionID string) error {
	if err := c.backend.RemoveCheckpoint(ctx, projectID, decisionID); err != nil {
		return err
	}
	c.timelineChanged(projectID)
	return nil
}
