package rbac

import "archboard/api/internal/domain"

type Role string
type Action string

const (
	RoleClient    Role = domain.RoleClient
	RoleArchitect Role = domain.RoleArchitect
	RoleAdmin     Role = domain.RoleAdmin
)

const (
	ActionRead            Action = "read"
	ActionWrite           Action = "write"
	ActionApprove         Action = "approve"
	ActionManageTemplates Action = "manage_templates"
	ActionInvite          Action = "invite"
	ActionAdmin           Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleArchitect:
		return action == ActionRead || action == ActionWrite || action == ActionManageTemplates || action == ActionInvite
	case RoleClient:
		return action == ActionRead || action == ActionApprove
	default:
		return false
	}
}

// Normalize maps unknown roles to the least privileged one.
func Normalize(role string) Role {
	return Role(domain.NormalizeRole(role))
}
