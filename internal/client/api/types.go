package api

import "time"

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type Session struct {
	User         User   `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
}

// AuthResponse covers login, signup and refresh. Session is nil when the
// account still needs email verification or the firm sign-up is pending.
type AuthResponse struct {
	Session              *Session `json:"session,omitempty"`
	UserID               string   `json:"userId,omitempty"`
	Message              string   `json:"message,omitempty"`
	DevVerificationToken string   `json:"devVerificationToken,omitempty"`
	DevSignupToken       string   `json:"devSignupToken,omitempty"`
}

type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"remember_me"`
}

type SignUpRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	Name        string `json:"name,omitempty" validate:"omitempty,max=120"`
	InviteToken string `json:"invite_token,omitempty"`
}

// FirmSignupRequest is sent as company_name/admin_email/admin_name.
type FirmSignupRequest struct {
	Company    string `json:"company_name" validate:"required,notblank"`
	AdminEmail string `json:"admin_email" validate:"required,email"`
	AdminName  string `json:"admin_name" validate:"required,notblank"`
}

type InviteStatus struct {
	Valid bool   `json:"valid"`
	Email string `json:"email,omitempty"`
}

// Dashboard

type ProjectSummary struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	Phase            string `json:"phase"`
	Progress         int    `json:"progress"`
	PendingApprovals int    `json:"pendingApprovals"`
	UpdatedAt        string `json:"updatedAt"`
}

type PendingApproval struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName"`
	Title       string `json:"title"`
	Status      string `json:"status"`
}

type Activity struct {
	Action    string `json:"action"`
	Project   string `json:"project"`
	ProjectID string `json:"projectId"`
	Time      string `json:"time"`
}

type Meeting struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Start     string `json:"start"`
	ProjectID string `json:"projectId"`
}

type Overview struct {
	Projects         []ProjectSummary  `json:"projects"`
	PendingApprovals []PendingApproval `json:"pendingApprovals"`
	Activity         []Activity        `json:"activity"`
	UpcomingMeetings []Meeting         `json:"upcomingMeetings"`
	Placeholder      bool              `json:"-"`
}

// Decision log

type DecisionOption struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	Description   string   `json:"description,omitempty"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	CostDelta     *float64 `json:"costDelta,omitempty"`
	IsRecommended bool     `json:"isRecommended"`
	OrderIndex    int      `json:"orderIndex"`
}

type Decision struct {
	ID                  string           `json:"id"`
	ProjectID           string           `json:"projectId"`
	Title               string           `json:"title"`
	Description         string           `json:"description"`
	Status              string           `json:"status"`
	PhaseID             string           `json:"phaseId"`
	AssigneeID          string           `json:"assigneeId"`
	CostDelta           *float64         `json:"costDelta"`
	RecommendedOptionID string           `json:"recommendedOptionId"`
	ThumbnailURL        string           `json:"thumbnailUrl"`
	Options             []DecisionOption `json:"options"`
	PublishedAt         *time.Time       `json:"publishedAt"`
	ApprovedAt          *time.Time       `json:"approvedAt"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

type DecisionVersion struct {
	ID          string           `json:"id"`
	DecisionID  string           `json:"decisionId"`
	Version     int              `json:"version"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	CostDelta   *float64         `json:"costDelta"`
	Options     []DecisionOption `json:"options"`
	PublishedBy string           `json:"publishedBy"`
	PublishedAt time.Time        `json:"publishedAt"`
}

type Approval struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decisionId"`
	VersionID  string    `json:"versionId"`
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	Action     string    `json:"action"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"createdAt"`
}

type AuditEntry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	UserID    string         `json:"userId"`
	UserName  string         `json:"userName"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

type RelatedItem struct {
	ID         string `json:"id"`
	DecisionID string `json:"decisionId"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	URL        string `json:"url"`
}

type DecisionDetail struct {
	Decision     Decision          `json:"decision"`
	Versions     []DecisionVersion `json:"versions"`
	AuditLog     []AuditEntry      `json:"auditLog"`
	RelatedItems []RelatedItem     `json:"relatedItems"`
}

// DecisionQuery holds the list filters. An empty ProjectID lists across every
// visible project.
type DecisionQuery struct {
	ProjectID  string `json:"projectId,omitempty"`
	Status     string `json:"status,omitempty"`
	Phase      string `json:"phase,omitempty"`
	Assignee   string `json:"assignee,omitempty"`
	CostImpact string `json:"costImpact,omitempty"`
	Search     string `json:"search,omitempty"`
	SortBy     string `json:"sortBy,omitempty"`
	SortOrder  string `json:"sortOrder,omitempty"`
	Page       int    `json:"page,omitempty"`
	PageSize   int    `json:"pageSize,omitempty"`
}

type DecisionPage struct {
	Items    []Decision `json:"items"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"pageSize"`
}

type OptionDraft struct {
	ID            string   `json:"id,omitempty"`
	Label         string   `json:"label"`
	Description   string   `json:"description,omitempty"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	CostDelta     *float64 `json:"costDelta,omitempty"`
	IsRecommended bool     `json:"isRecommended"`
}

// DecisionDraft is a create or partial update; nil fields are left alone.
type DecisionDraft struct {
	Title        *string        `json:"title,omitempty"`
	Description  *string        `json:"description,omitempty"`
	PhaseID      *string        `json:"phaseId,omitempty"`
	AssigneeID   *string        `json:"assigneeId,omitempty"`
	CostDelta    *float64       `json:"costDelta,omitempty"`
	ThumbnailURL *string        `json:"thumbnailUrl,omitempty"`
	Options      *[]OptionDraft `json:"options,omitempty"`
}

type PublishResult struct {
	Success bool            `json:"success"`
	Status  string          `json:"status"`
	Version DecisionVersion `json:"version"`
}

type ApprovalRequest struct {
	ProjectID  string `json:"projectId" validate:"required"`
	DecisionID string `json:"decisionId" validate:"required"`
	VersionID  string `json:"versionId" validate:"required"`
	Action     string `json:"approvalAction" validate:"required,oneof=approve request_change ask_question e_signed"`
	Comment    string `json:"comment,omitempty"`
}

type ApprovalResult struct {
	Success  bool     `json:"success"`
	Approval Approval `json:"approval"`
}

type DownloadRequest struct {
	ProjectID  string `json:"projectId"`
	DecisionID string `json:"decisionId"`
	VersionID  string `json:"versionId"`
	Format     string `json:"format,omitempty"`
}

type DownloadLink struct {
	URL      string `json:"url"`
	Format   string `json:"format"`
	Filename string `json:"filename"`
}

// Templates

type MilestoneStub struct {
	ID            string `json:"id,omitempty" yaml:"id,omitempty"`
	Name          string `json:"name" yaml:"name" validate:"required,notblank"`
	PhaseID       string `json:"phase_id,omitempty" yaml:"phase_id,omitempty" validate:"omitempty,phase"`
	OrderIndex    int    `json:"order_index" yaml:"order_index"`
	DueOffsetDays *int   `json:"due_offset_days,omitempty" yaml:"due_offset_days,omitempty" validate:"omitempty,min=0"`
}

type DecisionStub struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Title       string `json:"title" yaml:"title" validate:"required,notblank"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	OrderIndex  int    `json:"order_index" yaml:"order_index"`
}

type Template struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Status         string    `json:"status"`
	Type           string    `json:"type"`
	UsageCount     int       `json:"usage_count"`
	CurrentVersion int       `json:"current_version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type TemplateVersion struct {
	ID            string          `json:"id"`
	TemplateID    string          `json:"template_id"`
	Version       int             `json:"version"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Milestones    []MilestoneStub `json:"milestones"`
	DecisionStubs []DecisionStub  `json:"decision_stubs"`
	CommitHash    string          `json:"commit_hash"`
	CreatedAt     time.Time       `json:"created_at"`
}

type TemplateDetail struct {
	Template       Template         `json:"template"`
	CurrentVersion *TemplateVersion `json:"currentVersion"`
}

type TemplateQuery struct {
	Search    string `json:"search,omitempty"`
	Type      string `json:"type,omitempty"`
	Status    string `json:"status,omitempty"`
	SortBy    string `json:"sortBy,omitempty"`
	SortOrder string `json:"sortOrder,omitempty"`
	Page      int    `json:"page,omitempty"`
	PageSize  int    `json:"pageSize,omitempty"`
}

type TemplatePage struct {
	Items    []Template `json:"items"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"pageSize"`
}

// TemplateDraft is a create or partial update. Sending Milestones or
// DecisionStubs (or a new title/description) records a new version.
type TemplateDraft struct {
	Title           *string          `json:"title,omitempty" yaml:"title,omitempty"`
	Description     *string          `json:"description,omitempty" yaml:"description,omitempty"`
	Type            *string          `json:"type,omitempty" yaml:"type,omitempty"`
	Status          *string          `json:"status,omitempty" yaml:"status,omitempty"`
	Milestones      *[]MilestoneStub `json:"milestones,omitempty" yaml:"milestones,omitempty"`
	DecisionStubs   *[]DecisionStub  `json:"decision_stubs,omitempty" yaml:"decision_stubs,omitempty"`
	ExpectedVersion *int             `json:"expectedVersion,omitempty" yaml:"expected_version,omitempty"`
}

type ApplyRequest struct {
	TemplateID  string `json:"templateId"`
	ProjectName string `json:"projectName,omitempty"`
	ProjectID   string `json:"projectId,omitempty"`
	StartDate   string `json:"startDate,omitempty"`
}

type ApplyResult struct {
	ProjectID  string `json:"projectId"`
	Applied    bool   `json:"applied"`
	Milestones int    `json:"milestones"`
	Decisions  int    `json:"decisions"`
}

// Timeline

type Phase struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"projectId"`
	PhaseID         string  `json:"phaseId"`
	Label           string  `json:"label"`
	OrderIndex      int     `json:"orderIndex"`
	PercentComplete int     `json:"percentComplete"`
	StartDate       *string `json:"startDate"`
	EndDate         *string `json:"endDate"`
}

type Milestone struct {
	ID           string `json:"id"`
	ProjectID    string `json:"projectId"`
	PhaseID      string `json:"phaseId"`
	Name         string `json:"name"`
	DueDate      string `json:"dueDate"`
	AssigneeID   string `json:"assigneeId"`
	AssigneeName string `json:"assigneeName"`
	Status       string `json:"status"`
	DecisionID   string `json:"decisionId"`
	OrderIndex   int    `json:"orderIndex"`
}

type Checkpoint struct {
	ID             string `json:"id"`
	ProjectID      string `json:"projectId"`
	DecisionID     string `json:"decisionId"`
	DecisionTitle  string `json:"decisionTitle"`
	DecisionStatus string `json:"decisionStatus"`
	PhaseID        string `json:"phaseId"`
	OrderIndex     int    `json:"orderIndex"`
}

type Timeline struct {
	ProjectID           string       `json:"projectId"`
	ProjectName         string       `json:"projectName"`
	Phases              []Phase      `json:"phases"`
	Milestones          []Milestone  `json:"milestones"`
	DecisionCheckpoints []Checkpoint `json:"decisionCheckpoints"`
	Placeholder         bool         `json:"-"`
}

type PhaseUpdate struct {
	PhaseID         string  `json:"phaseId"`
	PercentComplete *int    `json:"percentComplete,omitempty"`
	StartDate       *string `json:"startDate,omitempty"`
	EndDate         *string `json:"endDate,omitempty"`
}

type MilestoneDraft struct {
	PhaseID    *string `json:"phaseId,omitempty"`
	Name       *string `json:"name,omitempty"`
	DueDate    *string `json:"dueDate,omitempty"`
	AssigneeID *string `json:"assigneeId,omitempty"`
	DecisionID *string `json:"decisionId,omitempty"`
	Status     *string `json:"status,omitempty"`
	OrderIndex *int    `json:"orderIndex,omitempty"`
}

type CheckpointRequest struct {
	DecisionID string `json:"decisionId"`
	PhaseID    string `json:"phaseId"`
	OrderIndex *int   `json:"orderIndex,omitempty"`
}
