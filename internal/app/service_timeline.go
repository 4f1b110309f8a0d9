package app

import (
	"context"
	"strings"
	"time"

	"archboard/api/internal/domain"
	"archboard/api/internal/rbac"
	"archboard/api/internal/store"
	"archboard/api/internal/util"
)

type PhaseInput struct {
	PhaseID         string  `json:"phaseId"`
	PercentComplete *int    `json:"percentComplete"`
	StartDate       *string `json:"startDate"`
	EndDate         *string `json:"endDate"`
}

type MilestoneInput struct {
	MilestoneID string  `json:"milestoneId"`
	PhaseID     *string `json:"phaseId"`
	Name        *string `json:"name"`
	DueDate     *string `json:"dueDate"`
	AssigneeID  *string `json:"assigneeId"`
	DecisionID  *string `json:"decisionId"`
	Status      *string `json:"status"`
	OrderIndex  *int    `json:"orderIndex"`
}

type CheckpointInput struct {
	DecisionID string `json:"decisionId"`
	PhaseID    string `json:"phaseId"`
	OrderIndex *int   `json:"orderIndex"`
}

func phasePayload(p store.ProjectPhase) map[string]any {
	var updatedAt any
	if !p.UpdatedAt.IsZero() {
		updatedAt = p.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"id":              p.ID,
		"projectId":       p.ProjectID,
		"phaseId":         p.PhaseID,
		"label":           firstNonBlank(p.Label, domain.PhaseLabel(p.PhaseID)),
		"orderIndex":      p.OrderIndex,
		"percentComplete": p.PercentComplete,
		"startDate":       formatDate(p.StartDate),
		"endDate":         formatDate(p.EndDate),
		"updatedAt":       updatedAt,
	}
}

func milestonePayload(m store.Milestone) map[string]any {
	return map[string]any{
		"id":           m.ID,
		"projectId":    m.ProjectID,
		"phaseId":      m.PhaseID,
		"name":         m.Name,
		"dueDate":      m.DueDate.Format(domain.DateLayout),
		"assigneeId":   m.AssigneeID,
		"assigneeName": m.AssigneeName,
		"status":       m.Status,
		"decisionId":   m.DecisionID,
		"orderIndex":   m.OrderIndex,
		"createdAt":    m.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":    m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func checkpointPayload(c store.DecisionCheckpoint) map[string]any {
	return map[string]any{
		"id":             c.ID,
		"projectId":      c.ProjectID,
		"decisionId":     c.DecisionID,
		"decisionTitle":  c.DecisionTitle,
		"decisionStatus": c.DecisionStatus,
		"phaseId":        c.PhaseID,
		"orderIndex":     c.OrderIndex,
	}
}

// placeholderPhases stands in for projects that have no phase rows yet. The
// ids stay empty so clients can tell they were never saved.
func placeholderPhases(projectID string) []store.ProjectPhase {
	phases := defaultPhases(projectID)
	for i := range phases {
		phases[i].ID = ""
	}
	return phases
}

func (s *Service) GetTimeline(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, err := s.visibleProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	phases, err := s.store.ListPhases(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if len(phases) == 0 {
		phases = placeholderPhases(project.ID)
	}
	milestones, err := s.store.ListMilestones(ctx, project.ID, store.MilestoneFilter{})
	if err != nil {
		return nil, err
	}
	checkpoints, err := s.store.ListCheckpoints(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	phaseItems := make([]map[string]any, 0, len(phases))
	for _, p := range phases {
		phaseItems = append(phaseItems, phasePayload(p))
	}
	milestoneItems := make([]map[string]any, 0, len(milestones))
	for _, m := range milestones {
		milestoneItems = append(milestoneItems, milestonePayload(m))
	}
	checkpointItems := make([]map[string]any, 0, len(checkpoints))
	for _, c := range checkpoints {
		checkpointItems = append(checkpointItems, checkpointPayload(c))
	}
	return map[string]any{
		"projectId":           project.ID,
		"projectName":         project.Name,
		"phases":              phaseItems,
		"milestones":          milestoneItems,
		"decisionCheckpoints": checkpointItems,
	}, nil
}

// optionalDate parses a nullable date field. An empty string clears it.
func optionalDate(value *string, field string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	t, err := parseDate(*value)
	if err != nil {
		return nil, validationError(field + " must be YYYY-MM-DD")
	}
	return &t, nil
}

func (s *Service) UpdatePhase(ctx context.Context, session Session, projectID string, in PhaseInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	phaseID := strings.TrimSpace(in.PhaseID)
	if !domain.IsPhase(phaseID) {
		return nil, validationError("phaseId must be one of " + strings.Join(domain.PhaseOrder, ", "))
	}
	if in.PercentComplete != nil && (*in.PercentComplete < 0 || *in.PercentComplete > 100) {
		return nil, validationError("percentComplete must be between 0 and 100")
	}
	project, err := s.visibleProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}

	phases, err := s.store.ListPhases(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	phase := store.ProjectPhase{
		ID:         util.NewID("ph"),
		ProjectID:  project.ID,
		PhaseID:    phaseID,
		Label:      domain.PhaseLabel(phaseID),
		OrderIndex: domain.PhaseIndex(phaseID),
	}
	for _, p := range phases {
		if p.PhaseID == phaseID {
			phase = p
			break
		}
	}

	if in.PercentComplete != nil {
		phase.PercentComplete = *in.PercentComplete
	}
	if in.StartDate != nil {
		if phase.StartDate, err = optionalDate(in.StartDate, "startDate"); err != nil {
			return nil, err
		}
	}
	if in.EndDate != nil {
		if phase.EndDate, err = optionalDate(in.EndDate, "endDate"); err != nil {
			return nil, err
		}
	}
	if phase.StartDate != nil && phase.EndDate != nil && phase.StartDate.After(*phase.EndDate) {
		return nil, validationError("startDate must not be after endDate")
	}

	if err := s.store.UpsertPhase(ctx, phase); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

// ListMilestones accepts a filter that is empty, "all", a milestone status or
// a phase id.
func (s *Service) ListMilestones(ctx context.Context, session Session, projectID, filter string) (map[string]any, error) {
	project, err := s.visibleProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	var f store.MilestoneFilter
	switch filter = strings.TrimSpace(filter); {
	case filter == "" || filter == "all":
	case domain.IsMilestoneStatus(filter):
		f.Status = filter
	case domain.IsPhase(filter):
		f.PhaseID = filter
	default:
		return nil, validationError("filter must be all, a milestone status or a phase id")
	}
	milestones, err := s.store.ListMilestones(ctx, project.ID, f)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(milestones))
	for _, m := range milestones {
		items = append(items, milestonePayload(m))
	}
	return map[string]any{"milestones": items}, nil
}

func (s *Service) CreateMilestone(ctx context.Context, session Session, projectID string, in MilestoneInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	project, err := s.visibleProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	var phaseID, name, due string
	if in.PhaseID != nil {
		phaseID = strings.TrimSpace(*in.PhaseID)
	}
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
	}
	if in.DueDate != nil {
		due = strings.TrimSpace(*in.DueDate)
	}
	if phaseID == "" || name == "" || due == "" {
		return nil, validationError("projectId, phaseId, name and dueDate are required")
	}
	if !domain.IsPhase(phaseID) {
		return nil, validationError("unknown phase")
	}
	dueDate, err := parseDate(due)
	if err != nil {
		return nil, validationError("dueDate must be YYYY-MM-DD")
	}

	m := store.Milestone{
		ID:        util.NewID("ms"),
		ProjectID: project.ID,
		PhaseID:   phaseID,
		Name:      name,
		DueDate:   dueDate,
		Status:    domain.MilestoneUpcoming,
	}
	if in.AssigneeID != nil {
		m.AssigneeID = strings.TrimSpace(*in.AssigneeID)
	}
	if in.DecisionID != nil {
		m.DecisionID = strings.TrimSpace(*in.DecisionID)
	}
	if in.OrderIndex != nil {
		m.OrderIndex = *in.OrderIndex
	}
	if err := s.store.CreateMilestone(ctx, m); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "id": m.ID}, nil
}

func (s *Service) loadMilestone(ctx context.Context, projectID, milestoneID string) (store.Milestone, error) {
	milestoneID = strings.TrimSpace(milestoneID)
	if milestoneID == "" {
		return store.Milestone{}, validationError("milestoneId is required")
	}
	m, err := s.store.GetMilestone(ctx, projectID, milestoneID)
	if err != nil {
		if isNotFound(err) {
			return store.Milestone{}, notFound("Milestone")
		}
		return store.Milestone{}, err
	}
	return m, nil
}

func (s *Service) UpdateMilestone(ctx context.Context, session Session, projectID string, in MilestoneInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	project, err := s.visibleProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	m, err := s.loadMilestone(ctx, project.ID, in.MilestoneID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, validationError("name cannot be blank")
		}
		m.Name = name
	}
	if in.PhaseID != nil {
		if !domain.IsPhase(strings.TrimSpace(*in.PhaseID)) {
			return nil, validationError("unknown phase")
		}
		m.PhaseID = strings.TrimSpace(*in.PhaseID)
	}
	if in.DueDate != nil {
		due, err := parseDate(*in.DueDate)
		if err != nil {
			return nil, validationError("dueDate must be YYYY-MM-DD")
		}
		m.DueDate = due
	}
	if in.Status != nil {
		if !domain.IsMilestoneStatus(strings.TrimSpace(*in.Status)) {
			return nil, validationError("status must be upcoming, in_progress, completed or overdue")
		}
		m.Status = strings.TrimSpace(*in.Status)
	}
	if in.AssigneeID != nil {
		m.AssigneeID = strings.TrimSpace(*in.AssigneeID)
	}
	if in.DecisionID != nil {
		m.DecisionID = strings.TrimSpace(*in.DecisionID)
	}
	if in.OrderIndex != nil {
		m.OrderIndex = *in.OrderIndex
	}

	if err := s.store.UpdateMilestone(ctx, m); err != nil {
		if isNotFound(err) {
			return nil, notFound("Milestone")
		}
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (s *Service) DeleteMilestone(ctx context.Context, session Session, projectID, milestoneID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	project, err := s.visibleProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(milestoneID) == "" {
		return nil, validationError("milestoneId is required")
	}
	if err := s.store.DeleteMilestone(ctx, project.ID, strings.TrimSpace(milestoneID)); err != nil {
		if isNotFound(err) {
			return nil, notFound("Milestone")
		}
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

// Reschedule moves a milestone's due date. An overdue milestone moved into the
// future becomes upcoming again.
func (s *Service) Reschedule(ctx context.Context, session Session, projectID, milestoneID, dueDate string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if strings.TrimSpace(dueDate) == "" {
		return nil, validationError("milestoneId and dueDate are required")
	}
	due, err := parseDate(dueDate)
	if err != nil {
		return nil, validationError("dueDate must be YYYY-MM-DD")
	}
	project, err := s.visibleProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	m, err := s.loadMilestone(ctx, project.ID, milestoneID)
	if err != nil {
		return nil, err
	}
	m.DueDate = due
	today := s.now().UTC().Truncate(24 * time.Hour)
	if m.Status == domain.MilestoneOverdue && !due.Before(today) {
		m.Status = domain.MilestoneUpcoming
	}
	if err := s.store.UpdateMilestone(ctx, m); err != nil {
		if isNotFound(err) {
			return nil, notFound("Milestone")
		}
		return nil, err
	}
	return map[string]any{"success": true, "status": m.Status}, nil
}

func (s *Service) AddCheckpoint(ctx context.Context, session Session, projectID string, in CheckpointInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	phaseID := strings.TrimSpace(in.PhaseID)
	if !domain.IsPhase(phaseID) {
		return nil, validationError("phaseId must be one of " + strings.Join(domain.PhaseOrder, ", "))
	}
	_, decision, err := s.loadDecision(ctx, session, projectID, in.DecisionID)
	if err != nil {
		return nil, err
	}
	c := store.DecisionCheckpoint{
		ID:         util.NewID("chk"),
		ProjectID:  decision.ProjectID,
		DecisionID: decision.ID,
		PhaseID:    phaseID,
	}
	if in.OrderIndex != nil {
		c.OrderIndex = *in.OrderIndex
	}
	if err := s.store.UpsertCheckpoint(ctx, c); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (s *Service) RemoveCheckpoint(ctx context.Context, session Session, projectID, decisionID string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	project, err := s.visibleProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(decisionID) == "" {
		return nil, validationError("decisionId is required")
	}
	if err := s.store.DeleteCheckpoint(ctx, project.ID, strings.TrimSpace(decisionID)); err != nil {
		if isNotFound(err) {
			return nil, notFound("Checkpoint")
		}
		return nil, err
	}
	return map[string]any{"success": true}, nil
}
