package sdk

import (
	"time"

	"archboard/api/internal/client/api"
	"archboard/api/internal/domain"
)

// PlaceholderOverview is shown when the dashboard cannot be loaded.
func PlaceholderOverview(now time.Time) *api.Overview {
	return &api.Overview{
		Projects: []api.ProjectSummary{
			{ID: "1", Name: "Riverside Residence", Status: "active", Phase: "DD", Progress: 80, PendingApprovals: 2},
			{ID: "2", Name: "Commerce Tower", Status: "active", Phase: "CA", Progress: 45},
			{ID: "3", Name: "Park View Loft", Status: "active", Phase: "Schematic", Progress: 100, PendingApprovals: 1},
		},
		PendingApprovals: []api.PendingApproval{
			{ID: "d1", ProjectID: "1", ProjectName: "Riverside Residence", Title: "Kitchen fixture selection", Status: "pending"},
			{ID: "d2", ProjectID: "1", ProjectName: "Riverside Residence", Title: "Exterior material approval", Status: "pending"},
		},
		Activity: []api.Activity{
			{Action: "Approval received", Project: "Riverside Residence", ProjectID: "1", Time: "2 hours ago"},
			{Action: "Decision published", Project: "Park View Loft", ProjectID: "3", Time: "5 hours ago"},
			{Action: "New comment", Project: "Commerce Tower", ProjectID: "2", Time: "1 day ago"},
		},
		UpcomingMeetings: []api.Meeting{
			{ID: "m1", Title: "Design review", Start: now.Add(24 * time.Hour).UTC().Format(time.RFC3339), ProjectID: "1"},
			{ID: "m2", Title: "Client sign-off", Start: now.Add(48 * time.Hour).UTC().Format(time.RFC3339), ProjectID: "3"},
		},
		Placeholder: true,
	}
}

var placeholderProgress = map[string]int{
	"kickoff":   100,
	"concept":   100,
	"schematic": 100,
	"dd":        80,
}

// PlaceholderTimeline is shown when a project's timeline cannot be loaded:
// every phase, no milestones and no checkpoints.
func PlaceholderTimeline(projectID string) *api.Timeline {
	phases := make([]api.Phase, 0, len(domain.PhaseOrder))
	for i, id := range domain.PhaseOrder {
		phases = append(phases, api.Phase{
			ProjectID:       projectID,
			PhaseID:         id,
			Label:           domain.PhaseLabel(id),
			OrderIndex:      i,
			PercentComplete: placeholderProgress[id],
		})
	}
	return &api.Timeline{
		ProjectID:           projectID,
		ProjectName:         "Project",
		Phases:              phases,
		Milestones:          []api.Milestone{},
		DecisionCheckpoints: []api.Checkpoint{},
		Placeholder:         true,
	}
}
