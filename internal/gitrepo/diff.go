package gitrepo

import (
	"fmt"
	"strconv"

	"archboard/api/internal/store"
)

// FieldChange is one entry of a version diff. Field is "title",
// "description", "milestones[<id>]" or "decision_stubs[<id>]".
type FieldChange struct {
	Field  string `json:"field"`
	Change string `json:"change"` // added, removed, modified
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// DiffFields compares two snapshots. Stubs are matched by id; output follows
// the order of to, with removals last.
func DiffFields(from, to Content) []FieldChange {
	changes := make([]FieldChange, 0)
	if from.Title != to.Title {
		changes = append(changes, FieldChange{Field: "title", Change: "modified", Before: from.Title, After: to.Title})
	}
	if from.Description != to.Description {
		changes = append(changes, FieldChange{Field: "description", Change: "modified", Before: from.Description, After: to.Description})
	}

	before := make(map[string]store.MilestoneStub, len(from.Milestones))
	for _, m := range from.Milestones {
		before[m.ID] = m
	}
	for _, m := range to.Milestones {
		field := "milestones[" + m.ID + "]"
		old, ok := before[m.ID]
		delete(before, m.ID)
		switch {
		case !ok:
			changes = append(changes, FieldChange{Field: field, Change: "added", After: describeMilestone(m)})
		case describeMilestone(old) != describeMilestone(m):
			changes = append(changes, FieldChange{Field: field, Change: "modified", Before: describeMilestone(old), After: describeMilestone(m)})
		}
	}
	for _, m := range from.Milestones {
		if _, gone := before[m.ID]; gone {
			changes = append(changes, FieldChange{Field: "milestones[" + m.ID + "]", Change: "removed", Before: describeMilestone(m)})
		}
	}

	beforeStubs := make(map[string]store.DecisionStub, len(from.DecisionStubs))
	for _, d := range from.DecisionStubs {
		beforeStubs[d.ID] = d
	}
	for _, d := range to.DecisionStubs {
		field := "decision_stubs[" + d.ID + "]"
		old, ok := beforeStubs[d.ID]
		delete(beforeStubs, d.ID)
		switch {
		case !ok:
			changes = append(changes, FieldChange{Field: field, Change: "added", After: describeStub(d)})
		case describeStub(old) != describeStub(d):
			changes = append(changes, FieldChange{Field: field, Change: "modified", Before: describeStub(old), After: describeStub(d)})
		}
	}
	for _, d := range from.DecisionStubs {
		if _, gone := beforeStubs[d.ID]; gone {
			changes = append(changes, FieldChange{Field: "decision_stubs[" + d.ID + "]", Change: "removed", Before: describeStub(d)})
		}
	}
	return changes
}

// HasChanges reports whether to differs from from in any versioned field.
func HasChanges(from, to Content) bool {
	return len(DiffFields(from, to)) > 0
}

func describeMilestone(m store.MilestoneStub) string {
	offset := "default"
	if m.DueOffsetDays != nil {
		offset = strconv.Itoa(*m.DueOffsetDays) + "d"
	}
	phase := m.PhaseID
	if phase == "" {
		phase = "kickoff"
	}
	return fmt.Sprintf("%s (phase %s, #%d, offset %s)", m.Name, phase, m.OrderIndex, offset)
}

func describeStub(d store.DecisionStub) string {
	if d.Description == "" {
		return fmt.Sprintf("%s (#%d)", d.Title, d.OrderIndex)
	}
	return fmt.Sprintf("%s (#%d): %s", d.Title, d.OrderIndex, d.Description)
}
