package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"archboard/api/internal/blobstore"
	"archboard/api/internal/domain"
	"archboard/api/internal/events"
	"archboard/api/internal/export"
	"archboard/api/internal/metrics"
	"archboard/api/internal/rbac"
	"archboard/api/internal/search"
	"archboard/api/internal/store"
	"archboard/api/internal/util"
)

const (
	defaultDecisionPageSize = 50
	maxDecisionPageSize     = 200
	exportURLTTL            = 15 * time.Minute
)

type DecisionListInput struct {
	ProjectID  string `json:"projectId"`
	Status     string `json:"status"`
	Phase      string `json:"phase"`
	Assignee   string `json:"assignee"`
	CostImpact string `json:"costImpact"`
	Search     string `json:"search"`
	SortBy     string `json:"sortBy"`
	SortOrder  string `json:"sortOrder"`
	Page       int    `json:"page"`
	PageSize   int    `json:"pageSize"`
}

type OptionInput struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	Description   string   `json:"description"`
	ImageURL      string   `json:"imageUrl"`
	CostDelta     *float64 `json:"costDelta"`
	IsRecommended bool     `json:"isRecommended"`
}

type DecisionInput struct {
	Title        *string        `json:"title"`
	Description  *string        `json:"description"`
	PhaseID      *string        `json:"phaseId"`
	AssigneeID   *string        `json:"assigneeId"`
	CostDelta    *float64       `json:"costDelta"`
	ThumbnailURL *string        `json:"thumbnailUrl"`
	Options      *[]OptionInput `json:"options"`
}

// ApproveInput accepts the approval verb as approvalAction (function surface)
// or action (REST).
type ApproveInput struct {
	ProjectID      string `json:"projectId"`
	DecisionID     string `json:"decisionId"`
	VersionID      string `json:"versionId"`
	ApprovalAction string `json:"approvalAction"`
	Action         string `json:"action"`
	Comment        string `json:"comment"`
}

type DownloadInput struct {
	ProjectID  string `json:"projectId"`
	DecisionID string `json:"decisionId"`
	VersionID  string `json:"versionId"`
	Format     string `json:"format"`
}

type RelatedInput struct {
	Kind  string `json:"kind"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

var decisionSortFields = map[string]bool{"date": true, "status": true, "cost": true, "title": true, "phase": true}

func decisionPayload(d store.Decision) map[string]any {
	options := d.Options
	if options == nil {
		options = []store.DecisionOption{}
	}
	return map[string]any{
		"id":                  d.ID,
		"projectId":           d.ProjectID,
		"title":               d.Title,
		"description":         d.Description,
		"status":              d.Status,
		"phaseId":             d.PhaseID,
		"assigneeId":          d.AssigneeID,
		"costDelta":           d.CostDelta,
		"recommendedOptionId": d.RecommendedOptionID,
		"thumbnailUrl":        d.ThumbnailURL,
		"options":             options,
		"publishedAt":         formatTime(d.PublishedAt),
		"approvedAt":          formatTime(d.ApprovedAt),
		"createdAt":           d.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":           d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func versionPayload(v store.DecisionVersion) map[string]any {
	return map[string]any{
		"id":          v.ID,
		"decisionId":  v.DecisionID,
		"version":     v.Version,
		"title":       v.Title,
		"description": v.Description,
		"costDelta":   v.CostDelta,
		"options":     v.Options,
		"publishedBy": v.PublishedBy,
		"publishedAt": v.PublishedAt.UTC().Format(time.RFC3339),
	}
}

func approvalPayload(a store.Approval) map[string]any {
	return map[string]any{
		"id":         a.ID,
		"decisionId": a.DecisionID,
		"versionId":  a.VersionID,
		"userId":     a.UserID,
		"userName":   a.UserName,
		"action":     a.Action,
		"comment":    a.Comment,
		"createdAt":  a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func auditPayload(a store.AuditEntry) map[string]any {
	return map[string]any{
		"id":        a.ID,
		"action":    a.Action,
		"userId":    a.UserID,
		"userName":  a.UserName,
		"timestamp": a.CreatedAt.UTC().Format(time.RFC3339),
		"metadata":  a.Metadata,
	}
}

func relatedPayload(r store.RelatedItem) map[string]any {
	return map[string]any{
		"id":         r.ID,
		"decisionId": r.DecisionID,
		"type":       r.Kind,
		"title":      r.Title,
		"url":        r.URL,
	}
}

func (s *Service) newAudit(session Session, projectID, decisionID, action string, metadata map[string]any) store.AuditEntry {
	return store.AuditEntry{
		ID:         util.NewID("aud"),
		ProjectID:  projectID,
		DecisionID: decisionID,
		Action:     action,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Metadata:   metadata,
	}
}

func normalizeDecisionList(in DecisionListInput) (store.DecisionFilter, error) {
	filter := store.DecisionFilter{
		ProjectID:  strings.TrimSpace(in.ProjectID),
		Status:     strings.TrimSpace(in.Status),
		Phase:      strings.TrimSpace(in.Phase),
		Assignee:   strings.TrimSpace(in.Assignee),
		CostImpact: strings.TrimSpace(in.CostImpact),
		Search:     strings.TrimSpace(in.Search),
		SortBy:     strings.TrimSpace(in.SortBy),
		SortOrder:  strings.ToLower(strings.TrimSpace(in.SortOrder)),
	}
	if filter.Status != "" && filter.Status != "all" && !domain.IsDecisionStatus(filter.Status) {
		return filter, validationError("unknown status filter")
	}
	if filter.Phase != "" && filter.Phase != "all" && !domain.IsPhase(filter.Phase) {
		return filter, validationError("unknown phase filter")
	}
	switch filter.CostImpact {
	case "", "any", "none", "positive":
	default:
		return filter, validationError("costImpact must be any, none or positive")
	}
	if filter.SortBy == "" {
		filter.SortBy = "date"
	}
	if !decisionSortFields[filter.SortBy] {
		return filter, validationError("sortBy must be date, status, cost, title or phase")
	}
	switch filter.SortOrder {
	case "":
		filter.SortOrder = "desc"
	case "asc", "desc":
	default:
		return filter, validationError("sortOrder must be asc or desc")
	}
	return filter, nil
}

func pageBounds(page, pageSize, def, max int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = def
	}
	if pageSize > max {
		pageSize = max
	}
	return page, pageSize
}

// ListDecisions returns one page of a project's decisions. With crossProject
// the project id may be empty and every visible project is searched.
func (s *Service) ListDecisions(ctx context.Context, session Session, in DecisionListInput, crossProject bool) (map[string]any, error) {
	filter, err := normalizeDecisionList(in)
	if err != nil {
		return nil, err
	}
	if filter.ProjectID == "" && !crossProject {
		return nil, validationError("projectId is required")
	}
	if filter.ProjectID != "" {
		if _, err := s.visibleProject(ctx, session, filter.ProjectID); err != nil {
			return nil, err
		}
	} else {
		filter.ViewerID = session.UserID
	}

	page, pageSize := pageBounds(in.Page, in.PageSize, defaultDecisionPageSize, maxDecisionPageSize)
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	decisions, total, err := s.store.ListDecisions(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(decisions))
	for _, d := range decisions {
		items = append(items, decisionPayload(d))
	}
	return map[string]any{"items": items, "total": total, "page": page, "pageSize": pageSize}, nil
}

func (s *Service) loadDecision(ctx context.Context, session Session, projectID, decisionID string) (store.Project, store.Decision, error) {
	project, err := s.visibleProject(ctx, session, projectID)
	if err != nil {
		return store.Project{}, store.Decision{}, err
	}
	if strings.TrimSpace(decisionID) == "" {
		return store.Project{}, store.Decision{}, validationError("decisionId is required")
	}
	decision, err := s.store.GetDecision(ctx, project.ID, strings.TrimSpace(decisionID))
	if err != nil {
		if isNotFound(err) {
			return store.Project{}, store.Decision{}, notFound("Decision")
		}
		return store.Project{}, store.Decision{}, err
	}
	return project, decision, nil
}

func (s *Service) GetDecision(ctx context.Context, session Session, projectID, decisionID string) (map[string]any, error) {
	_, decision, err := s.loadDecision(ctx, session, projectID, decisionID)
	if err != nil {
		return nil, err
	}
	return decisionPayload(decision), nil
}

func (s *Service) DecisionDetail(ctx context.Context, session Session, projectID, decisionID string) (map[string]any, error) {
	_, decision, err := s.loadDecision(ctx, session, projectID, decisionID)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListDecisionVersions(ctx, decision.ID)
	if err != nil {
		return nil, err
	}
	audit, err := s.store.ListAuditEntries(ctx, decision.ID)
	if err != nil {
		return nil, err
	}
	related, err := s.store.ListRelatedItems(ctx, decision.ID)
	if err != nil {
		return nil, err
	}

	versionItems := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		versionItems = append(versionItems, versionPayload(v))
	}
	auditItems := make([]map[string]any, 0, len(audit))
	for _, a := range audit {
		auditItems = append(auditItems, auditPayload(a))
	}
	relatedItems := make([]map[string]any, 0, len(related))
	for _, r := range related {
		relatedItems = append(relatedItems, relatedPayload(r))
	}
	return map[string]any{
		"decision":     decisionPayload(decision),
		"versions":     versionItems,
		"auditLog":     auditItems,
		"relatedItems": relatedItems,
	}, nil
}

// buildOptions validates option input and returns the options with the id of
// the recommended one.
func buildOptions(in []OptionInput) ([]store.DecisionOption, string, error) {
	options := make([]store.DecisionOption, 0, len(in))
	recommended := ""
	for i, o := range in {
		label := strings.TrimSpace(o.Label)
		if label == "" {
			return nil, "", validationError(fmt.Sprintf("options[%d].label is required", i))
		}
		id := strings.TrimSpace(o.ID)
		if id == "" {
			id = util.NewID("opt")
		}
		if o.IsRecommended {
			if recommended != "" {
				return nil, "", validationError("only one option can be recommended")
			}
			recommended = id
		}
		options = append(options, store.DecisionOption{
			ID:            id,
			Label:         label,
			Description:   strings.TrimSpace(o.Description),
			ImageURL:      strings.TrimSpace(o.ImageURL),
			CostDelta:     o.CostDelta,
			IsRecommended: o.IsRecommended,
			OrderIndex:    i,
		})
	}
	return options, recommended, nil
}

// applyDecisionInput copies the supplied fields onto d.
func applyDecisionInput(d *store.Decision, in DecisionInput) error {
	if in.Title != nil {
		d.Title = strings.TrimSpace(*in.Title)
	}
	if d.Title == "" {
		return validationError("title is required")
	}
	if in.Description != nil {
		d.Description = strings.TrimSpace(*in.Description)
	}
	if in.PhaseID != nil {
		d.PhaseID = strings.TrimSpace(*in.PhaseID)
	}
	if d.PhaseID == "" {
		d.PhaseID = domain.PhaseOrder[0]
	}
	if !domain.IsPhase(d.PhaseID) {
		return validationError("unknown phase")
	}
	if in.AssigneeID != nil {
		d.AssigneeID = strings.TrimSpace(*in.AssigneeID)
	}
	if in.CostDelta != nil {
		d.CostDelta = in.CostDelta
	}
	if in.ThumbnailURL != nil {
		d.ThumbnailURL = strings.TrimSpace(*in.ThumbnailURL)
	}
	if in.Options != nil {
		options, recommended, err := buildOptions(*in.Options)
		if err != nil {
			return err
		}
		d.Options = options
		d.RecommendedOptionID = recommended
	}
	return nil
}

func (s *Service) CreateDecision(ctx context.Context, session Session, projectID string, in DecisionInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	project, err := s.visibleProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	decision := store.Decision{
		ID:        util.NewID("dec"),
		ProjectID: project.ID,
		Status:    domain.DecisionDraft,
		CreatedBy: session.UserID,
		CreatedAt: now,
		UpdatedAt: now,
		Options:   []store.DecisionOption{},
	}
	if err := applyDecisionInput(&decision, in); err != nil {
		return nil, err
	}
	audit := s.newAudit(session, project.ID, decision.ID, "decision_created", map[string]any{"title": decision.Title})
	if err := s.store.CreateDecision(ctx, decision, audit); err != nil {
		return nil, err
	}
	s.search.IndexDecision(search.DecisionRecordFrom(decision, project))
	return decisionPayload(decision), nil
}

func (s *Service) UpdateDecision(ctx context.Context, session Session, projectID, decisionID string, in DecisionInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	project, decision, err := s.loadDecision(ctx, session, projectID, decisionID)
	if err != nil {
		return nil, err
	}
	if !domain.Editable(decision.Status) {
		return nil, domainError(http.StatusConflict, "NOT_EDITABLE", "Only draft or changes_requested decisions can be edited", map[string]any{"status": decision.Status})
	}
	if err := applyDecisionInput(&decision, in); err != nil {
		return nil, err
	}
	audit := s.newAudit(session, project.ID, decision.ID, "decision_updated", nil)
	if err := s.store.UpdateDecision(ctx, decision, audit); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, conflict("NOT_EDITABLE", "Decision is no longer editable")
		}
		return nil, err
	}
	decision.UpdatedAt = s.now().UTC()
	s.search.IndexDecision(search.DecisionRecordFrom(decision, project))
	return decisionPayload(decision), nil
}

// PublishDecision snapshots the decision as its next immutable version and
// sends it to the client for approval.
func (s *Service) PublishDecision(ctx context.Context, session Session, projectID, decisionID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	project, decision, err := s.loadDecision(ctx, session, projectID, decisionID)
	if err != nil {
		return nil, err
	}
	if !domain.Editable(decision.Status) {
		return nil, invalidTransition(decision.Status, "publish")
	}

	version := store.DecisionVersion{
		ID:          util.NewID("dv"),
		DecisionID:  decision.ID,
		Title:       decision.Title,
		Description: decision.Description,
		CostDelta:   decision.CostDelta,
		Options:     decision.Options,
		PublishedBy: session.UserID,
	}
	audit := s.newAudit(session, project.ID, decision.ID, "decision_published", nil)
	version, err = s.store.PublishDecision(ctx, version, audit)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, invalidTransition(decision.Status, "publish")
		}
		return nil, err
	}

	decision.Status = domain.DecisionPending
	s.search.IndexDecision(search.DecisionRecordFrom(decision, project))
	s.emit(ctx, events.DecisionPublished, project.ID, session.UserID, map[string]any{
		"decisionId": decision.ID,
		"versionId":  version.ID,
		"version":    version.Version,
	})
	return map[string]any{"success": true, "status": decision.Status, "version": versionPayload(version)}, nil
}

func invalidTransition(status, action string) *DomainError {
	return domainError(http.StatusConflict, "INVALID_TRANSITION",
		fmt.Sprintf("Cannot %s a decision in status %s", strings.ReplaceAll(action, "_", " "), status),
		map[string]any{"status": status, "action": action})
}

var approvalRoutingKeys = map[string]string{
	domain.ActionApprove:       events.DecisionApproved,
	domain.ActionESigned:       events.DecisionApproved,
	domain.ActionRequestChange: events.DecisionChangesRequested,
	domain.ActionAskQuestion:   events.DecisionQuestion,
}

// Approve records a client response against a published version and applies
// the resulting status transition.
func (s *Service) Approve(ctx context.Context, session Session, in ApproveInput) (map[string]any, error) {
	action := firstNonBlank(in.ApprovalAction, in.Action)
	if action == "" || strings.TrimSpace(in.VersionID) == "" {
		return nil, validationError("projectId, decisionId, versionId and approvalAction are required")
	}
	if !domain.IsApprovalAction(action) {
		return nil, validationError("approvalAction must be approve, request_change, ask_question or e_signed")
	}
	needed := rbac.ActionApprove
	if action == domain.ActionAskQuestion {
		needed = rbac.ActionRead
	}
	if err := s.require(session, needed); err != nil {
		return nil, err
	}

	project, decision, err := s.loadDecision(ctx, session, in.ProjectID, in.DecisionID)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListDecisionVersions(ctx, decision.ID)
	if err != nil {
		return nil, err
	}
	versionID := strings.TrimSpace(in.VersionID)
	found := false
	for _, v := range versions {
		if v.ID == versionID {
			found = true
			break
		}
	}
	if !found {
		return nil, notFound("Version")
	}
	if action != domain.ActionAskQuestion && versions[0].ID != versionID {
		return nil, domainError(http.StatusConflict, "STALE_VERSION", "A newer version of this decision has been published",
			map[string]any{"latestVersionId": versions[0].ID, "latestVersion": versions[0].Version})
	}

	next, ok := domain.NextDecisionStatus(decision.Status, action)
	if !ok {
		return nil, invalidTransition(decision.Status, action)
	}

	approval := store.Approval{
		ID:         util.NewID("apr"),
		DecisionID: decision.ID,
		VersionID:  versionID,
		UserID:     session.UserID,
		UserName:   firstNonBlank(session.UserName, session.Email, "User"),
		Action:     action,
		Comment:    strings.TrimSpace(in.Comment),
	}
	audit := s.newAudit(session, project.ID, decision.ID, "approval_"+action, map[string]any{
		"versionId": versionID,
		"from":      decision.Status,
		"to":        next,
	})
	approval, err = s.store.RecordApproval(ctx, approval, decision.Status, next, audit)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, invalidTransition(decision.Status, action)
		}
		return nil, err
	}

	metrics.RecordApproval(action)
	if next != decision.Status {
		decision.Status = next
		s.search.IndexDecision(search.DecisionRecordFrom(decision, project))
	}
	s.emit(ctx, approvalRoutingKeys[action], project.ID, session.UserID, map[string]any{
		"decisionId": decision.ID,
		"versionId":  versionID,
		"status":     decision.Status,
		"comment":    approval.Comment,
	})
	return map[string]any{"success": true, "approval": approvalPayload(approval)}, nil
}

// Download renders a version and returns a short-lived URL to the file.
func (s *Service) Download(ctx context.Context, session Session, in DownloadInput) (map[string]any, error) {
	format, ok := export.ParseFormat(strings.ToLower(strings.TrimSpace(in.Format)))
	if !ok {
		return nil, validationError("format must be pdf, docx or html")
	}
	if strings.TrimSpace(in.VersionID) == "" {
		return nil, validationError("projectId, decisionId and versionId are required")
	}
	if _, _, err := s.loadDecision(ctx, session, in.ProjectID, in.DecisionID); err != nil {
		return nil, err
	}
	if s.exporter == nil || s.blobs == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Exports are not configured", nil)
	}

	result, err := s.exporter.Export(ctx, export.Request{
		ProjectID:  strings.TrimSpace(in.ProjectID),
		DecisionID: strings.TrimSpace(in.DecisionID),
		VersionID:  strings.TrimSpace(in.VersionID),
		Format:     format,
	})
	if err != nil {
		switch {
		case isNotFound(err):
			return nil, notFound("Version")
		case errors.Is(err, export.ErrDOCXDependencyMissing), errors.Is(err, export.ErrPDFDependencyMissing):
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export renderer is not installed", map[string]any{"format": format})
		case errors.Is(err, export.ErrUnsupportedFormat):
			return nil, validationError("format must be pdf, docx or html")
		}
		return nil, err
	}

	url, err := s.blobs.PutAndSign(ctx, blobstore.Object{
		Key:         util.NewID("exp"),
		Filename:    result.Filename,
		ContentType: result.MimeType,
		Data:        result.Data,
	}, exportURLTTL)
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": url, "format": result.Format, "filename": result.Filename}, nil
}

type objectReader interface {
	Get(key string) (blobstore.Object, error)
}

// ExportObject serves an export held in process memory.
func (s *Service) ExportObject(key string) (blobstore.Object, error) {
	reader, ok := s.blobs.(objectReader)
	if !ok {
		return blobstore.Object{}, notFound("Export")
	}
	obj, err := reader.Get(key)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return blobstore.Object{}, notFound("Export")
		}
		return blobstore.Object{}, err
	}
	return obj, nil
}

func (s *Service) AddRelatedItem(ctx context.Context, session Session, projectID, decisionID string, in RelatedInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	_, decision, err := s.loadDecision(ctx, session, projectID, decisionID)
	if err != nil {
		return nil, err
	}
	kind := firstNonBlank(in.Kind, in.Type)
	if !domain.IsRelatedKind(kind) {
		return nil, validationError("kind must be drawing, task or meeting_note")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, validationError("title is required")
	}
	item := store.RelatedItem{
		ID:         util.NewID("rel"),
		DecisionID: decision.ID,
		Kind:       kind,
		Title:      title,
		URL:        strings.TrimSpace(in.URL),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertRelatedItem(ctx, item); err != nil {
		return nil, err
	}
	return relatedPayload(item), nil
}
