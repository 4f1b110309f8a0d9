package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"archboard/api/internal/domain"
	"archboard/api/internal/events"
	"archboard/api/internal/gitrepo"
	"archboard/api/internal/metrics"
	"archboard/api/internal/rbac"
	"archboard/api/internal/search"
	"archboard/api/internal/store"
	"archboard/api/internal/util"

	"go.uber.org/zap"
)

const (
	defaultTemplatePageSize = 20
	maxTemplatePageSize     = 100
	defaultOffsetStepDays   = 14
)

type TemplateListInput struct {
	Search    string `json:"search"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	SortBy    string `json:"sortBy"`
	SortOrder string `json:"sortOrder"`
	Page      int    `json:"page"`
	PageSize  int    `json:"pageSize"`
}

type TemplateInput struct {
	Title           *string               `json:"title"`
	Description     *string               `json:"description"`
	Type            *string               `json:"type"`
	Status          *string               `json:"status"`
	Milestones      *[]MilestoneStubInput `json:"milestones"`
	DecisionStubs   *[]DecisionStubInput  `json:"decision_stubs"`
	ExpectedVersion *int                  `json:"expectedVersion"`
}

// MilestoneStubInput is a submitted milestone stub. A missing order_index
// takes the stub's position in the list.
type MilestoneStubInput struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	PhaseID       string `json:"phase_id"`
	OrderIndex    *int   `json:"order_index"`
	DueOffsetDays *int   `json:"due_offset_days"`
}

type DecisionStubInput struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	OrderIndex  *int   `json:"order_index"`
}

type ApplyInput struct {
	TemplateID  string `json:"templateId"`
	ProjectName string `json:"projectName"`
	ProjectID   string `json:"projectId"`
	StartDate   string `json:"startDate"`
}

func templatePayload(t store.Template) map[string]any {
	return map[string]any{
		"id":              t.ID,
		"user_id":         t.UserID,
		"title":           t.Title,
		"description":     t.Description,
		"status":          t.Status,
		"type":            t.Type,
		"usage_count":     t.UsageCount,
		"current_version": t.CurrentVersion,
		"created_at":      t.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":      t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func templateVersionPayload(v store.TemplateVersion) map[string]any {
	milestones := v.Milestones
	if milestones == nil {
		milestones = []store.MilestoneStub{}
	}
	stubs := v.DecisionStubs
	if stubs == nil {
		stubs = []store.DecisionStub{}
	}
	return map[string]any{
		"id":             v.ID,
		"template_id":    v.TemplateID,
		"version":        v.Version,
		"title":          v.Title,
		"description":    v.Description,
		"milestones":     milestones,
		"decision_stubs": stubs,
		"commit_hash":    v.CommitHash,
		"created_at":     v.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Service) ListTemplates(ctx context.Context, session Session, in TemplateListInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	filter := store.TemplateFilter{
		Search:    strings.TrimSpace(in.Search),
		Type:      strings.TrimSpace(in.Type),
		Status:    strings.TrimSpace(in.Status),
		SortBy:    strings.TrimSpace(in.SortBy),
		SortOrder: strings.ToLower(strings.TrimSpace(in.SortOrder)),
	}
	if filter.Type != "" && filter.Type != "all" && !domain.IsTemplateType(filter.Type) {
		return nil, validationError("type must be project or decision_set")
	}
	if filter.Status != "" && filter.Status != "all" && !domain.IsTemplateStatus(filter.Status) {
		return nil, validationError("status must be draft, active or archived")
	}
	switch filter.SortBy {
	case "":
		filter.SortBy = "updated_at"
	case "title", "updated_at", "usage_count":
	default:
		return nil, validationError("sortBy must be title, updated_at or usage_count")
	}
	if filter.SortOrder != "" && filter.SortOrder != "asc" && filter.SortOrder != "desc" {
		return nil, validationError("sortOrder must be asc or desc")
	}

	page, pageSize := pageBounds(in.Page, in.PageSize, defaultTemplatePageSize, maxTemplatePageSize)
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	templates, total, err := s.store.ListTemplates(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(templates))
	for _, t := range templates {
		items = append(items, templatePayload(t))
	}
	return map[string]any{"items": items, "total": total, "page": page, "pageSize": pageSize}, nil
}

func (s *Service) loadTemplate(ctx context.Context, templateID string) (store.Template, error) {
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		return store.Template{}, validationError("templateId is required")
	}
	t, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		if isNotFound(err) {
			return store.Template{}, notFound("Template")
		}
		return store.Template{}, err
	}
	return t, nil
}

func (s *Service) GetTemplate(ctx context.Context, session Session, templateID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	t, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	var current any
	v, err := s.store.GetTemplateVersion(ctx, t.ID, t.CurrentVersion)
	switch {
	case err == nil:
		current = templateVersionPayload(v)
	case !isNotFound(err):
		return nil, err
	}
	return map[string]any{"template": templatePayload(t), "currentVersion": current}, nil
}

// normalizeStubs validates stubs, fills missing ids and defaults a missing
// order_index to the stub's position. Explicit indexes, zero included, are
// kept.
func normalizeStubs(milestones []MilestoneStubInput, decisions []DecisionStubInput) ([]store.MilestoneStub, []store.DecisionStub, error) {
	outM := make([]store.MilestoneStub, 0, len(milestones))
	for i, in := range milestones {
		m := store.MilestoneStub{
			ID:            strings.TrimSpace(in.ID),
			Name:          strings.TrimSpace(in.Name),
			PhaseID:       strings.TrimSpace(in.PhaseID),
			OrderIndex:    i,
			DueOffsetDays: in.DueOffsetDays,
		}
		if m.Name == "" {
			return nil, nil, validationError(fmt.Sprintf("milestones[%d].name is required", i))
		}
		if m.PhaseID != "" && !domain.IsPhase(m.PhaseID) {
			return nil, nil, validationError(fmt.Sprintf("milestones[%d].phase_id is not a known phase", i))
		}
		if m.DueOffsetDays != nil && *m.DueOffsetDays < 0 {
			return nil, nil, validationError(fmt.Sprintf("milestones[%d].due_offset_days cannot be negative", i))
		}
		if in.OrderIndex != nil {
			if *in.OrderIndex < 0 {
				return nil, nil, validationError(fmt.Sprintf("milestones[%d].order_index cannot be negative", i))
			}
			m.OrderIndex = *in.OrderIndex
		}
		if m.ID == "" {
			m.ID = util.NewID("mst")
		}
		outM = append(outM, m)
	}
	outD := make([]store.DecisionStub, 0, len(decisions))
	for i, in := range decisions {
		d := store.DecisionStub{
			ID:          strings.TrimSpace(in.ID),
			Title:       strings.TrimSpace(in.Title),
			Description: strings.TrimSpace(in.Description),
			OrderIndex:  i,
		}
		if d.Title == "" {
			return nil, nil, validationError(fmt.Sprintf("decision_stubs[%d].title is required", i))
		}
		if in.OrderIndex != nil {
			if *in.OrderIndex < 0 {
				return nil, nil, validationError(fmt.Sprintf("decision_stubs[%d].order_index cannot be negative", i))
			}
			d.OrderIndex = *in.OrderIndex
		}
		if d.ID == "" {
			d.ID = util.NewID("dst")
		}
		outD = append(outD, d)
	}
	return outM, outD, nil
}

// commitSnapshot records content in the template's snapshot repository and
// returns the commit hash.
func (s *Service) commitSnapshot(templateID string, version int, content gitrepo.Content, author string) (string, error) {
	if s.git == nil {
		return "", nil
	}
	info, err := s.git.CommitVersion(templateID, version, content, author)
	if err != nil {
		return "", fmt.Errorf("commit template snapshot: %w", err)
	}
	return info.Hash, nil
}

func (s *Service) CreateTemplate(ctx context.Context, session Session, in TemplateInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionManageTemplates); err != nil {
		return nil, err
	}
	t := store.Template{
		ID:     util.NewID("tpl"),
		UserID: session.UserID,
		Type:   domain.TemplateTypeProject,
		Status: domain.TemplateDraft,
	}
	if in.Title != nil {
		t.Title = strings.TrimSpace(*in.Title)
	}
	if t.Title == "" {
		return nil, validationError("title is required")
	}
	if in.Description != nil {
		t.Description = strings.TrimSpace(*in.Description)
	}
	if in.Type != nil && strings.TrimSpace(*in.Type) != "" {
		t.Type = strings.TrimSpace(*in.Type)
	}
	if !domain.IsTemplateType(t.Type) {
		return nil, validationError("type must be project or decision_set")
	}
	if in.Status != nil && strings.TrimSpace(*in.Status) != "" {
		t.Status = strings.TrimSpace(*in.Status)
	}
	if !domain.IsTemplateStatus(t.Status) {
		return nil, validationError("status must be draft, active or archived")
	}

	var milestoneIn []MilestoneStubInput
	var stubIn []DecisionStubInput
	if in.Milestones != nil {
		milestoneIn = *in.Milestones
	}
	if in.DecisionStubs != nil {
		stubIn = *in.DecisionStubs
	}
	milestones, stubs, err := normalizeStubs(milestoneIn, stubIn)
	if err != nil {
		return nil, err
	}

	first := store.TemplateVersion{
		ID:            util.NewID("tv"),
		TemplateID:    t.ID,
		Version:       1,
		Title:         t.Title,
		Description:   t.Description,
		Milestones:    milestones,
		DecisionStubs: stubs,
		CreatedBy:     session.UserID,
	}
	first.CommitHash, err = s.commitSnapshot(t.ID, 1, gitrepo.ContentFromVersion(first), session.UserName)
	if err != nil {
		return nil, err
	}
	created, err := s.store.CreateTemplate(ctx, t, first)
	if err != nil {
		return nil, err
	}
	s.search.IndexTemplate(search.TemplateRecordFrom(created))
	return templatePayload(created), nil
}

// UpdateTemplate applies a partial edit. Content changes append a version;
// status or type changes alone only touch the template row.
func (s *Service) UpdateTemplate(ctx context.Context, session Session, templateID string, in TemplateInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionManageTemplates); err != nil {
		return nil, err
	}
	t, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if in.ExpectedVersion != nil && *in.ExpectedVersion != t.CurrentVersion {
		return nil, versionConflict(t.CurrentVersion)
	}

	current, err := s.store.GetTemplateVersion(ctx, t.ID, t.CurrentVersion)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	before := gitrepo.ContentFromVersion(current)
	after := before
	after.Title = t.Title
	after.Description = t.Description

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, validationError("title cannot be blank")
		}
		t.Title = title
		after.Title = title
	}
	if in.Description != nil {
		t.Description = strings.TrimSpace(*in.Description)
		after.Description = t.Description
	}
	if in.Type != nil {
		if !domain.IsTemplateType(strings.TrimSpace(*in.Type)) {
			return nil, validationError("type must be project or decision_set")
		}
		t.Type = strings.TrimSpace(*in.Type)
	}
	if in.Status != nil {
		if !domain.IsTemplateStatus(strings.TrimSpace(*in.Status)) {
			return nil, validationError("status must be draft, active or archived")
		}
		t.Status = strings.TrimSpace(*in.Status)
	}
	if in.Milestones != nil || in.DecisionStubs != nil {
		var milestoneIn []MilestoneStubInput
		var stubIn []DecisionStubInput
		if in.Milestones != nil {
			milestoneIn = *in.Milestones
		}
		if in.DecisionStubs != nil {
			stubIn = *in.DecisionStubs
		}
		milestones, stubs, err := normalizeStubs(milestoneIn, stubIn)
		if err != nil {
			return nil, err
		}
		if in.Milestones != nil {
			after.Milestones = milestones
		}
		if in.DecisionStubs != nil {
			after.DecisionStubs = stubs
		}
	}

	readVersion := t.CurrentVersion
	var next *store.TemplateVersion
	if gitrepo.HasChanges(before, after) {
		v := store.TemplateVersion{
			ID:            util.NewID("tv"),
			TemplateID:    t.ID,
			Version:       readVersion + 1,
			Title:         after.Title,
			Description:   after.Description,
			Milestones:    after.Milestones,
			DecisionStubs: after.DecisionStubs,
			CreatedBy:     session.UserID,
		}
		v.CommitHash, err = s.commitSnapshot(t.ID, v.Version, after, session.UserName)
		if err != nil {
			return nil, err
		}
		next = &v
	}

	updated, err := s.store.UpdateTemplate(ctx, t, readVersion, next)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, versionConflict(readVersion)
		}
		if isNotFound(err) {
			return nil, notFound("Template")
		}
		return nil, err
	}
	s.search.IndexTemplate(search.TemplateRecordFrom(updated))
	return templatePayload(updated), nil
}

func versionConflict(current int) *DomainError {
	return domainError(http.StatusConflict, "VERSION_CONFLICT", "Template was modified by someone else",
		map[string]any{"currentVersion": current})
}

func (s *Service) DeleteTemplate(ctx context.Context, session Session, templateID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionManageTemplates); err != nil {
		return nil, err
	}
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		return nil, validationError("templateId is required")
	}
	if err := s.store.DeleteTemplate(ctx, templateID); err != nil {
		if isNotFound(err) {
			return nil, notFound("Template")
		}
		return nil, err
	}
	s.search.DeleteTemplate(templateID)
	return map[string]any{"deleted": true}, nil
}

func (s *Service) ListTemplateVersions(ctx context.Context, session Session, templateID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		return nil, validationError("templateId is required")
	}
	versions, err := s.store.ListTemplateVersions(ctx, templateID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		items = append(items, templateVersionPayload(v))
	}
	return map[string]any{"versions": items}, nil
}

// versionContent reads a snapshot from the repository, falling back to the
// stored version row for templates created before snapshots existed.
func (s *Service) versionContent(ctx context.Context, templateID string, version int) (gitrepo.Content, error) {
	if s.git != nil {
		content, err := s.git.GetVersionContent(templateID, version)
		if err == nil {
			return content, nil
		}
		if !errors.Is(err, gitrepo.ErrVersionNotFound) {
			return gitrepo.Content{}, err
		}
	}
	v, err := s.store.GetTemplateVersion(ctx, templateID, version)
	if err != nil {
		if isNotFound(err) {
			return gitrepo.Content{}, notFound("Version")
		}
		return gitrepo.Content{}, err
	}
	return gitrepo.ContentFromVersion(v), nil
}

func (s *Service) DiffTemplateVersions(ctx context.Context, session Session, templateID string, from, to int) (map[string]any, error) {
	if err := s.require(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if from < 1 || to < 1 {
		return nil, validationError("versions must be positive integers")
	}
	t, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	before, err := s.versionContent(ctx, t.ID, from)
	if err != nil {
		return nil, err
	}
	after, err := s.versionContent(ctx, t.ID, to)
	if err != nil {
		return nil, err
	}
	return map[string]any{"from": from, "to": to, "changes": gitrepo.DiffFields(before, after)}, nil
}

func (s *Service) TemplateHistory(ctx context.Context, session Session, templateID string, limit int) (map[string]any, error) {
	if err := s.require(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	t, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	commits := []gitrepo.CommitInfo{}
	if s.git != nil {
		commits, err = s.git.History(t.ID, limit)
		if err != nil {
			return nil, err
		}
	}
	return map[string]any{"templateId": t.ID, "commits": commits}, nil
}

// ApplyTemplate materialises the template's current version into a new or
// existing project.
func (s *Service) ApplyTemplate(ctx context.Context, session Session, in ApplyInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.ProjectName)
	if name == "" {
		return nil, validationError("projectName is required")
	}
	t, err := s.loadTemplate(ctx, in.TemplateID)
	if err != nil {
		return nil, err
	}
	if t.Status == domain.TemplateArchived {
		return nil, conflict("TEMPLATE_ARCHIVED", "Archived templates cannot be applied")
	}

	start := s.now().UTC().Truncate(24 * time.Hour)
	if strings.TrimSpace(in.StartDate) != "" {
		start, err = parseDate(in.StartDate)
		if err != nil {
			return nil, validationError("startDate must be YYYY-MM-DD")
		}
	}

	version, err := s.store.GetTemplateVersion(ctx, t.ID, t.CurrentVersion)
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("Version")
		}
		return nil, err
	}

	now := s.now().UTC()
	plan := store.ApplyPlan{TemplateID: t.ID}
	mode := "existing_project"
	if projectID := strings.TrimSpace(in.ProjectID); projectID != "" {
		project, err := s.visibleProject(ctx, session, projectID)
		if err != nil {
			return nil, err
		}
		plan.Project = project
	} else {
		mode = "new_project"
		plan.CreateProject = true
		plan.Project = store.Project{
			ID:        util.NewID("prj"),
			Name:      name,
			Status:    domain.ProjectActive,
			CreatedBy: session.UserID,
			FirmID:    session.FirmID,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	plan.Phases = defaultPhases(plan.Project.ID)

	for _, stub := range version.Milestones {
		offset := defaultOffsetStepDays * (stub.OrderIndex + 1)
		if stub.DueOffsetDays != nil {
			offset = *stub.DueOffsetDays
		}
		plan.Milestones = append(plan.Milestones, store.Milestone{
			ID:         util.NewID("ms"),
			ProjectID:  plan.Project.ID,
			PhaseID:    firstNonBlank(stub.PhaseID, domain.PhaseOrder[0]),
			Name:       stub.Name,
			DueDate:    start.AddDate(0, 0, offset),
			Status:     domain.MilestoneUpcoming,
			OrderIndex: stub.OrderIndex,
		})
	}
	for _, stub := range version.DecisionStubs {
		plan.Decisions = append(plan.Decisions, store.Decision{
			ID:          util.NewID("dec"),
			ProjectID:   plan.Project.ID,
			Title:       stub.Title,
			Description: stub.Description,
			Status:      domain.DecisionDraft,
			PhaseID:     domain.PhaseOrder[0],
			CreatedBy:   session.UserID,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	plan.Audit = s.newAudit(session, plan.Project.ID, "", "template_applied", map[string]any{
		"templateId": t.ID,
		"version":    version.Version,
		"milestones": len(plan.Milestones),
		"decisions":  len(plan.Decisions),
	})

	if err := s.store.ApplyTemplate(ctx, plan); err != nil {
		if isNotFound(err) {
			return nil, notFound("Template")
		}
		return nil, err
	}

	metrics.RecordTemplateApply(mode)
	if plan.CreateProject {
		s.search.IndexProject(search.ProjectRecordFrom(plan.Project))
	}
	for _, d := range plan.Decisions {
		s.search.IndexDecision(search.DecisionRecordFrom(d, plan.Project))
	}
	s.emit(ctx, events.TemplateApplied, plan.Project.ID, session.UserID, map[string]any{
		"templateId": t.ID,
		"version":    version.Version,
		"milestones": len(plan.Milestones),
		"decisions":  len(plan.Decisions),
	})
	s.logger.Info("template applied",
		zap.String("template_id", t.ID),
		zap.String("project_id", plan.Project.ID),
		zap.String("mode", mode))

	return map[string]any{
		"projectId":  plan.Project.ID,
		"applied":    true,
		"milestones": len(plan.Milestones),
		"decisions":  len(plan.Decisions),
	}, nil
}
