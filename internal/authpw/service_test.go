package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"archboard/api/internal/auth"
	"archboard/api/internal/store"
)

// mockUserStore is an in-memory UserStore.
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string
	resets     map[string]resetRow
	firmReqs   map[string]store.FirmSignupRequest
	firms      map[string]store.Firm
	invites    map[string]store.Invite
}

type resetRow struct {
	userID    string
	expiresAt time.Time
	used      bool
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      map[string]store.User{},
		emailIndex: map[string]string{},
		resets:     map[string]resetRow{},
		firmReqs:   map[string]store.FirmSignupRequest{},
		firms:      map[string]store.Firm{},
		invites:    map[string]store.Invite{},
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if id, ok := m.emailIndex[email]; ok {
		return m.users[id], nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	if _, ok := m.emailIndex[user.Email]; ok {
		return store.ErrConflict
	}
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	for id, user := range m.users {
		if user.VerificationToken == token && token != "" {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			m.users[id] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	user := m.users[userID]
	user.PasswordHash = passwordHash
	m.users[userID] = user
	return nil
}

func (m *mockUserStore) CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	m.resets[tokenHash] = resetRow{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *mockUserStore) ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error) {
	row, ok := m.resets[tokenHash]
	if !ok || row.used || time.Now().After(row.expiresAt) {
		return "", sql.ErrNoRows
	}
	row.used = true
	m.resets[tokenHash] = row
	return row.userID, nil
}

func (m *mockUserStore) CreateFirmSignupRequest(ctx context.Context, req store.FirmSignupRequest) error {
	m.firmReqs[req.Token] = req
	return nil
}

func (m *mockUserStore) GetFirmSignupRequest(ctx context.Context, token string) (store.FirmSignupRequest, error) {
	req, ok := m.firmReqs[token]
	if !ok {
		return store.FirmSignupRequest{}, sql.ErrNoRows
	}
	return req, nil
}

func (m *mockUserStore) CompleteFirmSignup(ctx context.Context, token string, firm store.Firm, admin store.User) error {
	req := m.firmReqs[token]
	req.Status = "completed"
	m.firmReqs[token] = req
	m.firms[firm.ID] = firm
	return m.CreateUser(ctx, admin)
}

func (m *mockUserStore) CreateInvite(ctx context.Context, invite store.Invite) error {
	m.invites[invite.Token] = invite
	return nil
}

func (m *mockUserStore) GetInvite(ctx context.Context, token string) (store.Invite, error) {
	invite, ok := m.invites[token]
	if !ok {
		return store.Invite{}, sql.ErrNoRows
	}
	return invite, nil
}

func (m *mockUserStore) AcceptInvite(ctx context.Context, token string, user store.User) error {
	invite := m.invites[token]
	if invite.AcceptedAt != nil {
		return store.ErrConflict
	}
	now := time.Now()
	invite.AcceptedAt = &now
	m.invites[token] = invite
	return m.CreateUser(ctx, user)
}

func TestSignUpRequiresVerificationBeforeSignIn(t *testing.T) {
	ms := newMockUserStore()
	svc := NewService(ms)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: " Jane@Acme.com ", Password: "longenough"})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if !resp.RequiresEmailVerify || resp.VerificationToken == "" {
		t.Fatalf("expected verification token, got %+v", resp)
	}
	if resp.User.Email != "jane@acme.com" || resp.User.DisplayName != "jane" || resp.User.Role != "client" {
		t.Fatalf("unexpected user %+v", resp.User)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "jane@acme.com", Password: "longenough"}); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	user, err := svc.SignIn(ctx, SignInRequest{Email: "JANE@acme.com", Password: "longenough"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if user.ID != resp.User.ID {
		t.Fatalf("expected %s, got %s", resp.User.ID, user.ID)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "", Password: "longenough"}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.test", Password: "short"}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.test", Password: "longenough"}); err != nil {
		t.Fatalf("first SignUp failed: %v", err)
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "A@B.test", Password: "longenough"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignInRejectsWrongPasswordAndUnknownEmail(t *testing.T) {
	ms := newMockUserStore()
	svc := NewService(ms)
	ctx := context.Background()

	resp, _ := svc.SignUp(ctx, SignUpRequest{Email: "a@b.test", Password: "longenough"})
	_ = svc.VerifyEmail(ctx, resp.VerificationToken)

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "a@b.test", Password: "wrongpassword"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "nobody@b.test", Password: "longenough"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestInviteSignUpJoinsFirmVerified(t *testing.T) {
	ms := newMockUserStore()
	svc := NewService(ms)
	ctx := context.Background()

	inviter := store.User{ID: "usr_admin", FirmID: "firm_1", Role: "admin"}
	invite, err := svc.CreateInvite(ctx, inviter, "Client@Example.com", "client", 0)
	if err != nil {
		t.Fatalf("CreateInvite failed: %v", err)
	}
	if invite.Email != "client@example.com" || !invite.ExpiresAt.After(time.Now().Add(6*24*time.Hour)) {
		t.Fatalf("unexpected invite %+v", invite)
	}

	_, ok, err := svc.VerifyInvite(ctx, invite.Token)
	if err != nil || !ok {
		t.Fatalf("expected open invite, ok=%v err=%v", ok, err)
	}

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "client@example.com", Password: "longenough", DisplayName: "Cli", InviteToken: invite.Token})
	if err != nil {
		t.Fatalf("SignUp with invite failed: %v", err)
	}
	if resp.RequiresEmailVerify || !resp.User.IsEmailVerified || resp.User.FirmID != "firm_1" || resp.User.Role != "client" {
		t.Fatalf("unexpected invited user %+v", resp)
	}

	if _, ok, _ := svc.VerifyInvite(ctx, invite.Token); ok {
		t.Fatal("expected accepted invite to be closed")
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "other@example.com", Password: "longenough", InviteToken: invite.Token}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected reused invite to fail, got %v", err)
	}
}

func TestVerifyInviteUnknownAndExpired(t *testing.T) {
	ms := newMockUserStore()
	svc := NewService(ms)
	ctx := context.Background()

	if _, ok, err := svc.VerifyInvite(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected unknown invite to be invalid without error, ok=%v err=%v", ok, err)
	}
	ms.invites["old"] = store.Invite{Token: "old", Email: "x@y.test", ExpiresAt: time.Now().Add(-time.Hour)}
	if _, ok, _ := svc.VerifyInvite(ctx, "old"); ok {
		t.Fatal("expected expired invite to be invalid")
	}
}

func TestFirmSignupFlow(t *testing.T) {
	ms := newMockUserStore()
	svc := NewService(ms)
	ctx := context.Background()

	if _, err := svc.RequestFirmSignup(ctx, FirmSignupRequest{CompanyName: "Acme", AdminEmail: "a@acme.com"}); !errors.Is(err, ErrMissingFirmFields) {
		t.Fatalf("expected ErrMissingFirmFields, got %v", err)
	}
	req, err := svc.RequestFirmSignup(ctx, FirmSignupRequest{CompanyName: "Acme", AdminEmail: "a@acme.com", AdminName: "Jane"})
	if err != nil {
		t.Fatalf("RequestFirmSignup failed: %v", err)
	}
	admin, err := svc.CompleteFirmSignup(ctx, req.Token, "longenough")
	if err != nil {
		t.Fatalf("CompleteFirmSignup failed: %v", err)
	}
	if admin.Role != "admin" || !admin.IsEmailVerified || admin.FirmID == "" || admin.DisplayName != "Jane" {
		t.Fatalf("unexpected admin %+v", admin)
	}
	if _, ok := ms.firms[admin.FirmID]; !ok {
		t.Fatal("expected firm to be created")
	}
	if _, err := svc.CompleteFirmSignup(ctx, req.Token, "longenough"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected second completion to fail, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	ms := newMockUserStore()
	svc := NewService(ms)
	ctx := context.Background()

	resp, _ := svc.SignUp(ctx, SignUpRequest{Email: "a@b.test", Password: "oldpassword"})
	_ = svc.VerifyEmail(ctx, resp.VerificationToken)

	token, user, err := svc.RequestPasswordReset(ctx, "a@b.test")
	if err != nil || token == "" || user.ID != resp.User.ID {
		t.Fatalf("RequestPasswordReset: token=%q user=%+v err=%v", token, user, err)
	}
	if _, stored := ms.resets[auth.HashToken(token)]; !stored {
		t.Fatal("expected the reset token to be stored hashed")
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "newpassword"}); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "a@b.test", Password: "newpassword"}); err != nil {
		t.Fatalf("SignIn with new password failed: %v", err)
	}
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "another1"}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected reused reset token to fail, got %v", err)
	}

	unknownToken, _, err := svc.RequestPasswordReset(ctx, "ghost@b.test")
	if err != nil || unknownToken != "" {
		t.Fatalf("expected silent no-op for unknown email, token=%q err=%v", unknownToken, err)
	}
}
