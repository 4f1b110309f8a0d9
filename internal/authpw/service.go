// Package authpw provides email/password accounts: sign-up, sign-in, email
// verification, password resets, firm sign-up requests and invites.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"archboard/api/internal/auth"
	"archboard/api/internal/domain"
	"archboard/api/internal/store"
	"archboard/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrMissingFirmFields  = errors.New("company name, admin email and admin name are required")
)

const (
	minPasswordLength = 8
	verificationTTL   = 24 * time.Hour
	resetTTL          = time.Hour
	DefaultInviteTTL  = 7 * 24 * time.Hour
)

type Service struct {
	store UserStore
	now   func() time.Time
}

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error)
	CreateFirmSignupRequest(ctx context.Context, req store.FirmSignupRequest) error
	GetFirmSignupRequest(ctx context.Context, token string) (store.FirmSignupRequest, error)
	CompleteFirmSignup(ctx context.Context, token string, firm store.Firm, admin store.User) error
	CreateInvite(ctx context.Context, invite store.Invite) error
	GetInvite(ctx context.Context, token string) (store.Invite, error)
	AcceptInvite(ctx context.Context, token string, user store.User) error
}

func NewService(store UserStore) *Service {
	return &Service{store: store, now: time.Now}
}

type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
	InviteToken string
}

type SignUpResponse struct {
	User                store.User
	VerificationToken   string
	RequiresEmailVerify bool
}

// SignUp creates an account. With a valid invite the account joins the
// inviting firm with the invited role and is verified immediately; otherwise
// it must verify its email before signing in.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, ErrMissingCredentials
	}
	if len(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	user := store.User{
		ID:           util.NewID("usr"),
		Email:        email,
		DisplayName:  name,
		PasswordHash: string(hash),
		Role:         domain.RoleClient,
		CreatedAt:    s.now(),
	}

	if token := strings.TrimSpace(req.InviteToken); token != "" {
		invite, ok, err := s.VerifyInvite(ctx, token)
		if err != nil {
			return nil, err
		}
		if !ok || !strings.EqualFold(invite.Email, email) {
			return nil, ErrInvalidToken
		}
		user.FirmID = invite.FirmID
		user.Role = domain.NormalizeRole(invite.Role)
		user.IsEmailVerified = true
		if err := s.store.AcceptInvite(ctx, token, user); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, ErrInvalidToken
			}
			return nil, fmt.Errorf("accept invite: %w", err)
		}
		return &SignUpResponse{User: user}, nil
	}

	user.VerificationToken = util.NewToken()
	expires := s.now().Add(verificationTTL)
	user.VerificationExpiresAt = &expires
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &SignUpResponse{
		User:                user,
		VerificationToken:   user.VerificationToken,
		RequiresEmailVerify: true,
	}, nil
}

type SignInRequest struct {
	Email    string
	Password string
}

// SignIn checks the password before the verification flag so unverified
// accounts are only reported to callers who know the password.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return store.User{}, ErrMissingCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if !user.IsEmailVerified {
		return store.User{}, ErrEmailNotVerified
	}
	return user, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}
	if err := s.store.VerifyUserEmail(ctx, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		return fmt.Errorf("verify email: %w", err)
	}
	return nil
}

// RequestPasswordReset returns the raw reset token, or "" when the email is
// unknown so callers cannot probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.User{}, nil
		}
		return "", store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	token := util.NewToken()
	if err := s.store.CreatePasswordReset(ctx, user.ID, auth.HashToken(token), s.now().Add(resetTTL)); err != nil {
		return "", store.User{}, err
	}
	return token, user, nil
}

type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.Token == "" || req.NewPassword == "" {
		return errors.New("token and new password are required")
	}
	if len(req.NewPassword) < minPasswordLength {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	userID, err := s.store.ConsumePasswordReset(ctx, auth.HashToken(req.Token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		return fmt.Errorf("consume reset: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

type FirmSignupRequest struct {
	CompanyName string
	AdminEmail  string
	AdminName   string
}

// RequestFirmSignup records a pending firm sign-up and returns the token for
// the completion link.
func (s *Service) RequestFirmSignup(ctx context.Context, req FirmSignupRequest) (store.FirmSignupRequest, error) {
	row := store.FirmSignupRequest{
		ID:          util.NewID("fsr"),
		CompanyName: strings.TrimSpace(req.CompanyName),
		AdminEmail:  strings.ToLower(strings.TrimSpace(req.AdminEmail)),
		AdminName:   strings.TrimSpace(req.AdminName),
		Token:       util.NewToken(),
		Status:      "pending",
		CreatedAt:   s.now(),
	}
	if row.CompanyName == "" || row.AdminEmail == "" || row.AdminName == "" {
		return store.FirmSignupRequest{}, ErrMissingFirmFields
	}
	if err := s.store.CreateFirmSignupRequest(ctx, row); err != nil {
		return store.FirmSignupRequest{}, err
	}
	return row, nil
}

// CompleteFirmSignup turns a pending request into a firm with a verified
// admin account.
func (s *Service) CompleteFirmSignup(ctx context.Context, token, password string) (store.User, error) {
	if len(password) < minPasswordLength {
		return store.User{}, ErrWeakPassword
	}
	req, err := s.store.GetFirmSignupRequest(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrInvalidToken
		}
		return store.User{}, fmt.Errorf("lookup firm signup: %w", err)
	}
	if req.Status != "pending" {
		return store.User{}, ErrInvalidToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	firm := store.Firm{ID: util.NewID("firm"), Name: req.CompanyName, CreatedAt: s.now()}
	admin := store.User{
		ID:              util.NewID("usr"),
		Email:           req.AdminEmail,
		DisplayName:     req.AdminName,
		PasswordHash:    string(hash),
		Role:            domain.RoleAdmin,
		FirmID:          firm.ID,
		IsEmailVerified: true,
		CreatedAt:       s.now(),
	}
	if err := s.store.CompleteFirmSignup(ctx, token, firm, admin); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return store.User{}, ErrInvalidToken
		case errors.Is(err, store.ErrConflict):
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, err
	}
	return admin, nil
}

// CreateInvite issues an invite into the inviter's firm.
func (s *Service) CreateInvite(ctx context.Context, inviter store.User, email, role string, ttl time.Duration) (store.Invite, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return store.Invite{}, errors.New("email is required")
	}
	if ttl <= 0 {
		ttl = DefaultInviteTTL
	}
	invite := store.Invite{
		Token:     util.NewToken(),
		Email:     email,
		FirmID:    inviter.FirmID,
		Role:      domain.NormalizeRole(role),
		InvitedBy: inviter.ID,
		ExpiresAt: s.now().Add(ttl),
	}
	if err := s.store.CreateInvite(ctx, invite); err != nil {
		return store.Invite{}, err
	}
	return invite, nil
}

// VerifyInvite reports whether token names an invite that is still open.
func (s *Service) VerifyInvite(ctx context.Context, token string) (store.Invite, bool, error) {
	invite, err := s.store.GetInvite(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Invite{}, false, nil
		}
		return store.Invite{}, false, fmt.Errorf("lookup invite: %w", err)
	}
	if invite.AcceptedAt != nil || !invite.ExpiresAt.After(s.now()) {
		return invite, false, nil
	}
	return invite, true, nil
}
