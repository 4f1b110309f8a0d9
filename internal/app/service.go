package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"archboard/api/internal/auth"
	"archboard/api/internal/authpw"
	"archboard/api/internal/blobstore"
	"archboard/api/internal/config"
	"archboard/api/internal/domain"
	"archboard/api/internal/email"
	"archboard/api/internal/events"
	"archboard/api/internal/export"
	"archboard/api/internal/gitrepo"
	"archboard/api/internal/rbac"
	"archboard/api/internal/search"
	"archboard/api/internal/store"
	"archboard/api/internal/util"

	"go.uber.org/zap"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	FirmID       string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	authpw.UserStore
	sessionStore

	Ping(context.Context) error

	ListProjects(context.Context, string, int) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	CreateProject(context.Context, store.Project, []store.ProjectPhase) error
	UpdateProject(context.Context, string, string, string) error
	DashboardProjects(context.Context, string, int) ([]store.DashboardProject, error)
	PendingDecisions(context.Context, string, int) ([]store.PendingDecision, error)
	RecentActivity(context.Context, string, int) ([]store.Activity, error)
	UpcomingMilestones(context.Context, string, time.Time, time.Time, int) ([]store.UpcomingMilestone, error)

	ListPhases(context.Context, string) ([]store.ProjectPhase, error)
	UpsertPhase(context.Context, store.ProjectPhase) error
	ListMilestones(context.Context, string, store.MilestoneFilter) ([]store.Milestone, error)
	GetMilestone(context.Context, string, string) (store.Milestone, error)
	CreateMilestone(context.Context, store.Milestone) error
	UpdateMilestone(context.Context, store.Milestone) error
	DeleteMilestone(context.Context, string, string) error
	ListCheckpoints(context.Context, string) ([]store.DecisionCheckpoint, error)
	UpsertCheckpoint(context.Context, store.DecisionCheckpoint) error
	DeleteCheckpoint(context.Context, string, string) error

	ListDecisions(context.Context, store.DecisionFilter) ([]store.Decision, int, error)
	GetDecision(context.Context, string, string) (store.Decision, error)
	CreateDecision(context.Context, store.Decision, store.AuditEntry) error
	UpdateDecision(context.Context, store.Decision, store.AuditEntry) error
	PublishDecision(context.Context, store.DecisionVersion, store.AuditEntry) (store.DecisionVersion, error)
	ListDecisionVersions(context.Context, string) ([]store.DecisionVersion, error)
	GetDecisionVersion(context.Context, string, string) (store.DecisionVersion, error)
	RecordApproval(context.Context, store.Approval, string, string, store.AuditEntry) (store.Approval, error)
	ListApprovals(context.Context, string) ([]store.Approval, error)
	ListAuditEntries(context.Context, string) ([]store.AuditEntry, error)
	ListRelatedItems(context.Context, string) ([]store.RelatedItem, error)
	InsertRelatedItem(context.Context, store.RelatedItem) error

	ListTemplates(context.Context, store.TemplateFilter) ([]store.Template, int, error)
	GetTemplate(context.Context, string) (store.Template, error)
	CreateTemplate(context.Context, store.Template, store.TemplateVersion) (store.Template, error)
	UpdateTemplate(context.Context, store.Template, int, *store.TemplateVersion) (store.Template, error)
	DeleteTemplate(context.Context, string) error
	ListTemplateVersions(context.Context, string) ([]store.TemplateVersion, error)
	GetTemplateVersion(context.Context, string, int) (store.TemplateVersion, error)
	ApplyTemplate(context.Context, store.ApplyPlan) error
}

// sessionStore holds refresh sessions and revoked access tokens. Postgres
// implements it; Redis replaces it when configured.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type templateRepo interface {
	CommitVersion(string, int, gitrepo.Content, string) (gitrepo.CommitInfo, error)
	GetVersionContent(string, int) (gitrepo.Content, error)
	History(string, int) ([]gitrepo.CommitInfo, error)
}

type exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendInviteEmail(to, inviterName, role, inviteURL string) error
	SendFirmSignupEmail(to, adminName, company, completeURL string) error
}

type pinger interface {
	Ping(context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	git      templateRepo
	authpw   *authpw.Service
	search   *search.Service
	exporter exporter
	blobs    blobstore.Store
	bus      *events.Bus
	mail     mailer
	limiter  *loginLimiter
	redis    pinger
	logger   *zap.Logger
	now      func() time.Time

	// emailLimiter throttles one account regardless of client address.
	emailLimiter *loginLimiter
}

type Option func(*Service)

// WithSessionStore moves refresh sessions and token revocation out of
// Postgres. The store is also pinged by the readiness check.
func WithSessionStore(sessions sessionStore) Option {
	return func(s *Service) {
		s.sessions = sessions
		if p, ok := sessions.(pinger); ok {
			s.redis = p
		}
		if c, ok := sessions.(attemptCounter); ok {
			s.limiter.counter = c
			s.emailLimiter.counter = c
		}
	}
}

func WithSearch(svc *search.Service) Option {
	return func(s *Service) { s.search = svc }
}

func WithExports(exp exporter, blobs blobstore.Store) Option {
	return func(s *Service) {
		s.exporter = exp
		s.blobs = blobs
	}
}

func WithEvents(bus *events.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

func WithMailer(m mailer) Option {
	return func(s *Service) { s.mail = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(cfg config.Config, dataStore dataStore, git templateRepo, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		git:      git,
		authpw:   authpw.NewService(dataStore),
		mail:     email.NewService(email.Config{}),
		limiter:  newLoginLimiter(cfg.LoginRatePerMin, nil),
		logger:   zap.NewNop(),
		now:      time.Now,

		emailLimiter: newLoginLimiter(cfg.LoginEmailRatePerMin, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessions checks the external session store. It returns false when
// sessions live in Postgres.
func (s *Service) PingSessions(ctx context.Context) (bool, error) {
	if s.redis == nil {
		return false, nil
	}
	return true, s.redis.Ping(ctx)
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) require(session Session, action rbac.Action) error {
	if !s.Can(session.Role, action) {
		return forbidden()
	}
	return nil
}

func (s *Service) issueSession(ctx context.Context, user store.User, refreshTTL time.Duration) (Session, error) {
	jti := util.NewID("jti")
	claims := auth.NewClaims(user.ID, user.DisplayName, user.Email, user.Role, jti, s.cfg.AccessTTL)
	claims.Firm = user.FirmID
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	if refreshTTL <= 0 {
		refreshTTL = s.cfg.RefreshTTL
	}
	refresh := util.NewID("rft") + util.NewToken()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, s.now().Add(refreshTTL)); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		FirmID:       user.FirmID,
		JTI:          jti,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// SessionFromToken validates an access token. Identity comes from the claims;
// only the revocation list is consulted.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    claims.Subject,
		UserName:  claims.Name,
		Email:     claims.Email,
		Role:      claims.Role,
		FirmID:    claims.Firm,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh rotates a refresh token: the old one is revoked before the new
// session is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Session{}, validationError("Refresh token required")
	}
	hash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		if isNotFound(err) {
			return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid refresh token", nil)
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		if isNotFound(err) {
			return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid refresh token", nil)
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user, 0)
}

// Logout never fails: revocation errors are logged only.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.UserID, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.String("user_id", session.UserID), zap.Error(err))
		}
	}
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session", zap.String("user_id", session.UserID), zap.Error(err))
		}
	}
}

func sessionPayload(session Session, includeRefresh bool) map[string]any {
	payload := map[string]any{
		"user": map[string]any{
			"id":    session.UserID,
			"email": session.Email,
			"name":  session.UserName,
			"role":  session.Role,
		},
		"access_token": session.Token,
		"expires_at":   session.ExpiresAt.Unix(),
	}
	if includeRefresh && session.RefreshToken != "" {
		payload["refresh_token"] = session.RefreshToken
	}
	return payload
}

// emit publishes a domain event when a bus is configured.
func (s *Service) emit(ctx context.Context, routingKey, projectID, actorID string, data map[string]any) {
	s.bus.Emit(ctx, routingKey, projectID, actorID, data)
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(domain.DateLayout)
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseDate(value string) (time.Time, error) {
	return time.Parse(domain.DateLayout, strings.TrimSpace(value))
}
