package store

import "time"

type User struct {
	ID                    string
	Email                 string
	DisplayName           string
	PasswordHash          string
	Role                  string
	FirmID                string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
}

type Firm struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type FirmSignupRequest struct {
	ID          string
	CompanyName string
	AdminEmail  string
	AdminName   string
	Token       string
	Status      string
	CreatedAt   time.Time
}

type Invite struct {
	Token      string
	Email      string
	FirmID     string
	Role       string
	InvitedBy  string
	ExpiresAt  time.Time
	AcceptedAt *time.Time
}

type Project struct {
	ID        string
	Name      string
	Status    string
	CreatedBy string
	// FirmID shares the project with every member of the firm.
	FirmID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ProjectPhase struct {
	ID              string
	ProjectID       string
	PhaseID         string
	Label           string
	OrderIndex      int
	PercentComplete int
	StartDate       *time.Time
	EndDate         *time.Time
	UpdatedAt       time.Time
}

type Milestone struct {
	ID           string
	ProjectID    string
	PhaseID      string
	Name         string
	DueDate      time.Time
	AssigneeID   string
	AssigneeName string
	Status       string
	DecisionID   string
	OrderIndex   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type DecisionCheckpoint struct {
	ID             string
	ProjectID      string
	DecisionID     string
	DecisionTitle  string
	DecisionStatus string
	PhaseID        string
	OrderIndex     int
}

type Decision struct {
	ID                  string
	ProjectID           string
	Title               string
	Description         string
	Status              string
	PhaseID             string
	AssigneeID          string
	CostDelta           *float64
	RecommendedOptionID string
	ThumbnailURL        string
	PublishedAt         *time.Time
	ApprovedAt          *time.Time
	CreatedBy           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Options             []DecisionOption
}

// DecisionOption is stored as a row and also embedded in version snapshots,
// hence the JSON tags.
type DecisionOption struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	Description   string   `json:"description,omitempty"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	CostDelta     *float64 `json:"costDelta,omitempty"`
	IsRecommended bool     `json:"isRecommended"`
	OrderIndex    int      `json:"orderIndex"`
}

type DecisionVersion struct {
	ID          string
	DecisionID  string
	Version     int
	Title       string
	Description string
	CostDelta   *float64
	Options     []DecisionOption
	PublishedBy string
	PublishedAt time.Time
}

type Approval struct {
	ID         string
	DecisionID string
	VersionID  string
	UserID     string
	UserName   string
	Action     string
	Comment    string
	CreatedAt  time.Time
}

type AuditEntry struct {
	ID         string
	ProjectID  string
	DecisionID string
	Action     string
	UserID     string
	UserName   string
	Metadata   map[string]any
	CreatedAt  time.Time
}

type RelatedItem struct {
	ID         string
	DecisionID string
	Kind       string
	Title      string
	URL        string
	CreatedAt  time.Time
}

type Template struct {
	ID             string
	UserID         string
	Title          string
	Description    string
	Status         string
	Type           string
	UsageCount     int
	CurrentVersion int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type MilestoneStub struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	PhaseID       string `json:"phase_id,omitempty"`
	OrderIndex    int    `json:"order_index"`
	DueOffsetDays *int   `json:"due_offset_days,omitempty"`
}

type DecisionStub struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	OrderIndex  int    `json:"order_index"`
}

type TemplateVersion struct {
	ID            string
	TemplateID    string
	Version       int
	Title         string
	Description   string
	Milestones    []MilestoneStub
	DecisionStubs []DecisionStub
	CommitHash    string
	CreatedBy     string
	CreatedAt     time.Time
}

type DecisionFilter struct {
	ProjectID  string
	ViewerID   string // cross-project listing: projects visible to this user
	Status     string
	Phase      string
	Assignee   string
	CostImpact string // any, none, positive
	Search     string
	SortBy     string // date, status, cost, title, phase
	SortOrder  string // asc, desc
	Limit      int
	Offset     int
}

type TemplateFilter struct {
	Search    string
	Type      string
	Status    string
	SortBy    string // title, updated_at, usage_count
	SortOrder string
	Limit     int
	Offset    int
}

// ApplyPlan is everything a template application writes, executed in one
// transaction by ApplyTemplate.
type ApplyPlan struct {
	TemplateID    string
	Project       Project
	CreateProject bool
	Phases        []ProjectPhase
	Milestones    []Milestone
	Decisions     []Decision
	Audit         AuditEntry
}

type DashboardProject struct {
	Project
	Phases           []ProjectPhase
	PendingApprovals int
}

type PendingDecision struct {
	ID          string
	ProjectID   string
	ProjectName string
	Title       string
	Status      string
	UpdatedAt   time.Time
}

type Activity struct {
	Action      string
	ProjectID   string
	ProjectName string
	CreatedAt   time.Time
}

type UpcomingMilestone struct {
	ID        string
	Name      string
	ProjectID string
	DueDate   time.Time
}
