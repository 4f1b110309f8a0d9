package app

import (
	"context"
	"strings"
	"time"

	"archboard/api/internal/domain"
	"archboard/api/internal/rbac"
	"archboard/api/internal/search"
	"archboard/api/internal/store"
	"archboard/api/internal/util"
)

const projectListLimit = 100

type ProjectInput struct {
	Name   *string `json:"name"`
	Status *string `json:"status"`
}

func projectPayload(p store.Project) map[string]any {
	return map[string]any{
		"id":        p.ID,
		"name":      p.Name,
		"status":    p.Status,
		"createdBy": p.CreatedBy,
		"firmId":    p.FirmID,
		"createdAt": p.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt": p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// defaultPhases returns the seven lifecycle phases at 0% for a new project.
func defaultPhases(projectID string) []store.ProjectPhase {
	phases := make([]store.ProjectPhase, 0, len(domain.PhaseOrder))
	for i, id := range domain.PhaseOrder {
		phases = append(phases, store.ProjectPhase{
			ID:         util.NewID("ph"),
			ProjectID:  projectID,
			PhaseID:    id,
			Label:      domain.PhaseLabel(id),
			OrderIndex: i,
		})
	}
	return phases
}

// canSeeProject reports whether the caller may see p: shared projects, their
// own, and projects of their firm.
func canSeeProject(session Session, p store.Project) bool {
	if p.CreatedBy == "" || p.CreatedBy == session.UserID {
		return true
	}
	return p.FirmID != "" && p.FirmID == session.FirmID
}

// visibleProject loads a project the caller may see. Projects outside the
// caller's reach are reported as missing.
func (s *Service) visibleProject(ctx context.Context, session Session, projectID string) (store.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return store.Project{}, validationError("projectId is required")
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		if isNotFound(err) {
			return store.Project{}, notFound("Project")
		}
		return store.Project{}, err
	}
	if !canSeeProject(session, project) {
		return store.Project{}, notFound("Project")
	}
	return project, nil
}

func (s *Service) ListProjects(ctx context.Context, session Session) (map[string]any, error) {
	projects, err := s.store.ListProjects(ctx, session.UserID, projectListLimit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		items = append(items, projectPayload(p))
	}
	return map[string]any{"items": items}, nil
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, err := s.visibleProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	return projectPayload(project), nil
}

func (s *Service) CreateProject(ctx context.Context, session Session, in ProjectInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	name := ""
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
	}
	if name == "" {
		return nil, validationError("name is required")
	}
	status := domain.ProjectActive
	if in.Status != nil && strings.TrimSpace(*in.Status) != "" {
		status = strings.TrimSpace(*in.Status)
	}
	if !domain.IsProjectStatus(status) {
		return nil, validationError("status must be one of active, on_hold, completed")
	}

	now := s.now().UTC()
	project := store.Project{
		ID:        util.NewID("prj"),
		Name:      name,
		Status:    status,
		CreatedBy: session.UserID,
		FirmID:    session.FirmID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateProject(ctx, project, defaultPhases(project.ID)); err != nil {
		return nil, err
	}
	s.search.IndexProject(search.ProjectRecordFrom(project))
	return projectPayload(project), nil
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID string, in ProjectInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	project, err := s.visibleProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, validationError("name cannot be blank")
		}
		project.Name = name
	}
	if in.Status != nil {
		status := strings.TrimSpace(*in.Status)
		if !domain.IsProjectStatus(status) {
			return nil, validationError("status must be one of active, on_hold, completed")
		}
		project.Status = status
	}
	if err := s.store.UpdateProject(ctx, project.ID, project.Name, project.Status); err != nil {
		return nil, err
	}
	project.UpdatedAt = s.now().UTC()
	s.search.IndexProject(search.ProjectRecordFrom(project))
	return projectPayload(project), nil
}

type SearchInput struct {
	Query  string
	Type   string
	Limit  int
	Offset int
}

// Search runs a scoped full-text query across decisions, templates and
// projects.
func (s *Service) Search(ctx context.Context, session Session, in SearchInput) (map[string]any, error) {
	rtyp, ok := search.ParseResultType(strings.TrimSpace(in.Type))
	if !ok {
		return nil, validationError("type must be decision, template or project")
	}
	limit := in.Limit
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	offset := in.Offset
	if offset < 0 {
		offset = 0
	}
	if s.search == nil {
		return map[string]any{"results": []search.Result{}, "total": 0, "query": in.Query}, nil
	}
	resp := s.search.Search(ctx, search.Query{
		Text:       strings.TrimSpace(in.Query),
		FilterType: rtyp,
		ViewerID:   session.UserID,
		ViewerFirm: session.FirmID,
		Limit:      limit,
		Offset:     offset,
	})
	return map[string]any{"results": resp.Results, "total": resp.Total, "query": resp.Query}, nil
}
