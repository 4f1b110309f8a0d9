package app

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"archboard/api/internal/authpw"
	"archboard/api/internal/domain"
	"archboard/api/internal/rbac"

	"go.uber.org/zap"
)

type LoginInput struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// SignUpInput covers both sign-up forms: a firm request carries the three
// company fields, a user sign-up carries credentials.
type SignUpInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	InviteToken string `json:"invite_token"`

	CompanyName string `json:"company_name"`
	AdminEmail  string `json:"admin_email"`
	AdminName   string `json:"admin_name"`
}

func (in SignUpInput) isFirmRequest() bool {
	return strings.TrimSpace(in.CompanyName) != "" || strings.TrimSpace(in.AdminEmail) != "" || strings.TrimSpace(in.AdminName) != ""
}

type InviteInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func mapAuthError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrMissingCredentials):
		return validationError("Email and password are required")
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid login credentials", nil)
	case errors.Is(err, authpw.ErrEmailNotVerified):
		return domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	case errors.Is(err, authpw.ErrEmailTaken):
		return conflict("EMAIL_EXISTS", "Email already registered")
	case errors.Is(err, authpw.ErrWeakPassword):
		return validationError("Password must be at least 8 characters")
	case errors.Is(err, authpw.ErrInvalidToken):
		return domainError(http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token", nil)
	case errors.Is(err, authpw.ErrMissingFirmFields):
		return validationError("Company name, admin email and admin name are required")
	}
	return err
}

// Login checks credentials and issues a session. remember_me stretches the
// refresh token lifetime.
func (s *Service) Login(ctx context.Context, in LoginInput, clientKey string) (map[string]any, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, validationError("Email and password are required")
	}
	if !s.limiter.Allow(ctx, clientKey+"|"+email) || !s.emailLimiter.Allow(ctx, "email:"+email) {
		return nil, domainError(http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Too many login attempts, try again later", nil)
	}

	user, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: email, Password: in.Password})
	if err != nil {
		return nil, mapAuthError(err)
	}

	ttl := s.cfg.RefreshTTL
	if in.RememberMe && s.cfg.RememberMeTTL > 0 {
		ttl = s.cfg.RememberMeTTL
	}
	session, err := s.issueSession(ctx, user, ttl)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session": sessionPayload(session, true)}, nil
}

func (s *Service) SignUp(ctx context.Context, in SignUpInput) (map[string]any, error) {
	if in.isFirmRequest() {
		return s.requestFirmSignup(ctx, in)
	}

	resp, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:       in.Email,
		Password:    in.Password,
		DisplayName: in.Name,
		InviteToken: in.InviteToken,
	})
	if err != nil {
		return nil, mapAuthError(err)
	}

	if !resp.RequiresEmailVerify {
		session, err := s.issueSession(ctx, resp.User, 0)
		if err != nil {
			return nil, err
		}
		return map[string]any{"session": sessionPayload(session, true)}, nil
	}

	response := map[string]any{
		"userId":  resp.User.ID,
		"message": "Check your email to verify your account.",
	}
	if s.SMTPConfigured() {
		link := s.siteLink("/verify-email", resp.VerificationToken)
		if err := s.mail.SendVerificationEmail(resp.User.Email, resp.User.DisplayName, link); err != nil {
			s.logger.Warn("send verification email", zap.String("user_id", resp.User.ID), zap.Error(err))
		}
	} else {
		response["devVerificationToken"] = resp.VerificationToken
	}
	return response, nil
}

func (s *Service) requestFirmSignup(ctx context.Context, in SignUpInput) (map[string]any, error) {
	req, err := s.authpw.RequestFirmSignup(ctx, authpw.FirmSignupRequest{
		CompanyName: in.CompanyName,
		AdminEmail:  in.AdminEmail,
		AdminName:   in.AdminName,
	})
	if err != nil {
		return nil, mapAuthError(err)
	}
	response := map[string]any{"message": "Check your email to complete sign-up."}
	if s.SMTPConfigured() {
		link := s.siteLink("/signup/complete", req.Token)
		if err := s.mail.SendFirmSignupEmail(req.AdminEmail, req.AdminName, req.CompanyName, link); err != nil {
			s.logger.Warn("send firm signup email", zap.String("request_id", req.ID), zap.Error(err))
		}
	} else {
		response["devSignupToken"] = req.Token
	}
	return response, nil
}

// CompleteFirmSignup creates the firm and its admin, then signs the admin in.
func (s *Service) CompleteFirmSignup(ctx context.Context, token, password string) (map[string]any, error) {
	if strings.TrimSpace(token) == "" {
		return nil, validationError("Token is required")
	}
	admin, err := s.authpw.CompleteFirmSignup(ctx, strings.TrimSpace(token), password)
	if err != nil {
		return nil, mapAuthError(err)
	}
	session, err := s.issueSession(ctx, admin, 0)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session": sessionPayload(session, true)}, nil
}

func (s *Service) SessionInfo(session Session) map[string]any {
	return map[string]any{"session": sessionPayload(session, false)}
}

func (s *Service) VerifyInvite(ctx context.Context, token string) (map[string]any, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, validationError("Token is required")
	}
	invite, ok, err := s.authpw.VerifyInvite(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{"valid": false}, nil
	}
	return map[string]any{"valid": true, "email": invite.Email}, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	return mapAuthError(s.authpw.VerifyEmail(ctx, token))
}

// RequestPasswordReset always reports success; the dev token is only present
// when the email exists and SMTP is off.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (map[string]any, error) {
	token, user, err := s.authpw.RequestPasswordReset(ctx, email)
	if err != nil {
		return nil, err
	}
	response := map[string]any{"message": "If an account exists, a reset email has been sent"}
	if token == "" {
		return response, nil
	}
	if s.SMTPConfigured() {
		if err := s.mail.SendPasswordResetEmail(user.Email, user.DisplayName, s.siteLink("/reset-password", token)); err != nil {
			s.logger.Warn("send reset email", zap.String("user_id", user.ID), zap.Error(err))
		}
	} else {
		response["devResetToken"] = token
	}
	return response, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	return mapAuthError(s.authpw.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, NewPassword: newPassword}))
}

// CreateInvite issues an invite into the caller's firm. Only admins may
// invite admins.
func (s *Service) CreateInvite(ctx context.Context, session Session, in InviteInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionInvite); err != nil {
		return nil, err
	}
	role := domain.NormalizeRole(strings.TrimSpace(in.Role))
	if role == domain.RoleAdmin && !s.Can(session.Role, rbac.ActionAdmin) {
		return nil, forbidden()
	}
	inviter, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Email) == "" {
		return nil, validationError("email is required")
	}
	invite, err := s.authpw.CreateInvite(ctx, inviter, in.Email, role, authpw.DefaultInviteTTL)
	if err != nil {
		return nil, err
	}

	response := map[string]any{
		"token":     invite.Token,
		"email":     invite.Email,
		"role":      invite.Role,
		"expiresAt": invite.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if s.SMTPConfigured() {
		if err := s.mail.SendInviteEmail(invite.Email, inviter.DisplayName, invite.Role, s.siteLink("/signup", invite.Token)); err != nil {
			s.logger.Warn("send invite email", zap.String("inviter_id", inviter.ID), zap.Error(err))
		}
	} else {
		response["devInviteToken"] = invite.Token
	}
	return response, nil
}

func (s *Service) siteLink(path, token string) string {
	return s.cfg.SiteURL + path + "?token=" + url.QueryEscape(token)
}
