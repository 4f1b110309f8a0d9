package app

import (
	"context"
	"math"
	"time"

	"archboard/api/internal/domain"
	"archboard/api/internal/store"
)

const (
	dashboardProjectLimit = 20
	dashboardListLimit    = 10
	upcomingWindow        = 14 * 24 * time.Hour
)

// Overview aggregates the dashboard for the caller: visible projects with
// their current phase and progress, pending approvals, recent activity and
// milestones due in the next two weeks.
func (s *Service) Overview(ctx context.Context, session Session) (map[string]any, error) {
	projects, err := s.store.DashboardProjects(ctx, session.UserID, dashboardProjectLimit)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.PendingDecisions(ctx, session.UserID, dashboardListLimit)
	if err != nil {
		return nil, err
	}
	activity, err := s.store.RecentActivity(ctx, session.UserID, dashboardListLimit)
	if err != nil {
		return nil, err
	}
	today := s.now().UTC().Truncate(24 * time.Hour)
	upcoming, err := s.store.UpcomingMilestones(ctx, session.UserID, today, today.Add(upcomingWindow), dashboardListLimit)
	if err != nil {
		return nil, err
	}

	projectItems := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		projectItems = append(projectItems, map[string]any{
			"id":               p.ID,
			"name":             p.Name,
			"status":           p.Status,
			"phase":            currentPhaseLabel(p.Phases),
			"progress":         projectProgress(p.Phases),
			"pendingApprovals": p.PendingApprovals,
			"updatedAt":        p.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	pendingItems := make([]map[string]any, 0, len(pending))
	for _, d := range pending {
		pendingItems = append(pendingItems, map[string]any{
			"id":          d.ID,
			"projectId":   d.ProjectID,
			"projectName": d.ProjectName,
			"title":       d.Title,
			"status":      d.Status,
		})
	}

	activityItems := make([]map[string]any, 0, len(activity))
	for _, a := range activity {
		activityItems = append(activityItems, map[string]any{
			"action":    a.Action,
			"project":   a.ProjectName,
			"projectId": a.ProjectID,
			"time":      a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	meetings := make([]map[string]any, 0, len(upcoming))
	for _, m := range upcoming {
		meetings = append(meetings, map[string]any{
			"id":        m.ID,
			"title":     m.Name,
			"start":     m.DueDate.Format(domain.DateLayout),
			"projectId": m.ProjectID,
		})
	}

	return map[string]any{
		"projects":         projectItems,
		"pendingApprovals": pendingItems,
		"activity":         activityItems,
		"upcomingMeetings": meetings,
	}, nil
}

// currentPhaseLabel is the first phase that is not complete, or the last
// phase when every phase is done.
func currentPhaseLabel(phases []store.ProjectPhase) string {
	if len(phases) == 0 {
		return domain.PhaseLabel(domain.PhaseOrder[0])
	}
	for _, ph := range phases {
		if ph.PercentComplete < 100 {
			return firstNonBlank(ph.Label, domain.PhaseLabel(ph.PhaseID))
		}
	}
	last := phases[len(phases)-1]
	return firstNonBlank(last.Label, domain.PhaseLabel(last.PhaseID))
}

func projectProgress(phases []store.ProjectPhase) int {
	if len(phases) == 0 {
		return 0
	}
	total := 0
	for _, ph := range phases {
		total += ph.PercentComplete
	}
	return int(math.Round(float64(total) / float64(len(phases))))
}
