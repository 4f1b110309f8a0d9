package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturingService(t *testing.T) (*Service, *capturedMail) {
	t.Helper()
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@archboard.test", FromName: "Archboard"})
	got := &capturedMail{}
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		got.addr, got.from, got.to, got.msg = addr, from, to, string(msg)
		return nil
	}
	return svc, got
}

func TestSendVerificationEmailRendersLink(t *testing.T) {
	svc, got := newCapturingService(t)
	if err := svc.SendVerificationEmail("jane@acme.com", "Jane", "https://app.test/verify?token=abc123"); err != nil {
		t.Fatalf("SendVerificationEmail failed: %v", err)
	}
	if got.addr != "smtp.example.com:587" || got.from != "noreply@archboard.test" {
		t.Fatalf("unexpected envelope %+v", got)
	}
	for _, want := range []string{
		"To: jane@acme.com",
		"From: Archboard <noreply@archboard.test>",
		"Subject: Verify your Archboard account",
		"Welcome, Jane!",
		"https://app.test/verify?token=abc123",
		"multipart/alternative",
	} {
		if !strings.Contains(got.msg, want) {
			t.Errorf("message should contain %q", want)
		}
	}
}

func TestSendPasswordResetMentionsExpiry(t *testing.T) {
	svc, got := newCapturingService(t)
	if err := svc.SendPasswordResetEmail("a@b.test", "Ada", "https://app.test/reset?token=xyz789"); err != nil {
		t.Fatalf("SendPasswordResetEmail failed: %v", err)
	}
	if !strings.Contains(got.msg, "1 hour") || !strings.Contains(got.msg, "https://app.test/reset?token=xyz789") {
		t.Fatalf("unexpected reset email:\n%s", got.msg)
	}
}

func TestSendInviteAndFirmSignupEmails(t *testing.T) {
	svc, got := newCapturingService(t)
	if err := svc.SendInviteEmail("c@client.test", "Ada", "client", "https://app.test/signup?invite=tok"); err != nil {
		t.Fatalf("SendInviteEmail failed: %v", err)
	}
	if !strings.Contains(got.msg, "Ada invited you") || !strings.Contains(got.msg, "as client") {
		t.Fatalf("unexpected invite email:\n%s", got.msg)
	}

	if err := svc.SendFirmSignupEmail("a@acme.com", "Jane", "Acme", "https://app.test/firm/complete?token=t"); err != nil {
		t.Fatalf("SendFirmSignupEmail failed: %v", err)
	}
	if !strings.Contains(got.msg, "Finish setting up Acme") || !strings.Contains(got.msg, "Hi Jane") {
		t.Fatalf("unexpected firm signup email:\n%s", got.msg)
	}
}

func TestSendWithoutConfigFails(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendVerificationEmail("a@b.test", "A", "https://x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
