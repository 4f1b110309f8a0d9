// Package domain holds the fixed vocabularies shared by the API server and the
// client SDK: project phases, workflow statuses and approval actions.
package domain

// PhaseOrder is the fixed project lifecycle, in order.
var PhaseOrder = []string{"kickoff", "concept", "schematic", "dd", "permitting", "ca", "handover"}

var phaseLabels = map[string]string{
	"kickoff":    "Kickoff",
	"concept":    "Concept",
	"schematic":  "Schematic",
	"dd":         "DD",
	"permitting": "Permitting",
	"ca":         "CA",
	"handover":   "Handover",
}

// PhaseLabel returns the display label for a phase id, or the id itself when
// unknown.
func PhaseLabel(phaseID string) string {
	if label, ok := phaseLabels[phaseID]; ok {
		return label
	}
	return phaseID
}

// PhaseIndex returns the position of phaseID in PhaseOrder, or len(PhaseOrder)
// for unknown ids so they sort last.
func PhaseIndex(phaseID string) int {
	for i, id := range PhaseOrder {
		if id == phaseID {
			return i
		}
	}
	return len(PhaseOrder)
}

func IsPhase(phaseID string) bool {
	_, ok := phaseLabels[phaseID]
	return ok
}

const (
	RoleAdmin     = "admin"
	RoleArchitect = "architect"
	RoleClient    = "client"
)

// NormalizeRole maps unknown or empty roles to RoleClient.
func NormalizeRole(role string) string {
	switch role {
	case RoleAdmin, RoleArchitect, RoleClient:
		return role
	}
	return RoleClient
}

const (
	ProjectActive    = "active"
	ProjectOnHold    = "on_hold"
	ProjectCompleted = "completed"
)

func IsProjectStatus(s string) bool {
	return s == ProjectActive || s == ProjectOnHold || s == ProjectCompleted
}

const (
	DecisionDraft            = "draft"
	DecisionPending          = "pending"
	DecisionApproved         = "approved"
	DecisionChangesRequested = "changes_requested"
)

func IsDecisionStatus(s string) bool {
	switch s {
	case DecisionDraft, DecisionPending, DecisionApproved, DecisionChangesRequested:
		return true
	}
	return false
}

// Editable reports whether a decision in status s may still have its content
// changed.
func Editable(status string) bool {
	return status == DecisionDraft || status == DecisionChangesRequested
}

const (
	ActionApprove       = "approve"
	ActionRequestChange = "request_change"
	ActionAskQuestion   = "ask_question"
	ActionESigned       = "e_signed"
)

func IsApprovalAction(a string) bool {
	switch a {
	case ActionApprove, ActionRequestChange, ActionAskQuestion, ActionESigned:
		return true
	}
	return false
}

// NextDecisionStatus applies an approval action to a decision status. ok is
// false when the action is not allowed from the current status.
func NextDecisionStatus(current, action string) (next string, ok bool) {
	switch action {
	case ActionAskQuestion:
		return current, true
	case ActionApprove, ActionESigned:
		if current == DecisionPending {
			return DecisionApproved, true
		}
	case ActionRequestChange:
		if current == DecisionPending {
			return DecisionChangesRequested, true
		}
	}
	return current, false
}

const (
	MilestoneUpcoming   = "upcoming"
	MilestoneInProgress = "in_progress"
	MilestoneCompleted  = "completed"
	MilestoneOverdue    = "overdue"
)

func IsMilestoneStatus(s string) bool {
	switch s {
	case MilestoneUpcoming, MilestoneInProgress, MilestoneCompleted, MilestoneOverdue:
		return true
	}
	return false
}

const (
	TemplateDraft    = "draft"
	TemplateActive   = "active"
	TemplateArchived = "archived"

	TemplateTypeProject     = "project"
	TemplateTypeDecisionSet = "decision_set"
)

func IsTemplateStatus(s string) bool {
	return s == TemplateDraft || s == TemplateActive || s == TemplateArchived
}

func IsTemplateType(s string) bool {
	return s == TemplateTypeProject || s == TemplateTypeDecisionSet
}

const (
	RelatedDrawing     = "drawing"
	RelatedTask        = "task"
	RelatedMeetingNote = "meeting_note"
)

func IsRelatedKind(s string) bool {
	return s == RelatedDrawing || s == RelatedTask || s == RelatedMeetingNote
}

// DateLayout is the wire format for calendar dates (due dates, phase ranges).
const DateLayout = "2006-01-02"
