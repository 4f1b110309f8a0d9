package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issuedClaims := NewClaims("usr_1", "Avery", "avery@firm.test", "architect", "jti-1", time.Hour)
	issuedClaims.Firm = "firm_1"
	issued, err := IssueToken(secret, issuedClaims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "usr_1" || claims.Name != "Avery" || claims.Role != "architect" || claims.Email != "avery@firm.test" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID != "jti-1" {
		t.Fatalf("expected jti to round-trip, got %q", claims.ID)
	}
	if claims.Firm != "firm_1" {
		t.Fatalf("expected firm to round-trip, got %q", claims.Firm)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("usr_1", "Avery", "", "client", "jti-1", -time.Minute))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsWrongSecretAndGarbage(t *testing.T) {
	issued, err := IssueToken([]byte("one"), NewClaims("usr_1", "Avery", "", "client", "jti-1", time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("two"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := ParseToken([]byte("one"), "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestIssueTokenRequiresSubjectAndID(t *testing.T) {
	if _, err := IssueToken([]byte("s"), NewClaims("", "Avery", "", "client", "jti", time.Hour)); err == nil {
		t.Fatal("expected missing subject to fail")
	}
	if _, err := IssueToken([]byte("s"), NewClaims("usr_1", "Avery", "", "client", "", time.Hour)); err == nil {
		t.Fatal("expected missing jti to fail")
	}
}

func TestHashTokenIsStableHex(t *testing.T) {
	a := HashToken("refresh")
	if a != HashToken("refresh") || len(a) != 64 || strings.Trim(a, "0123456789abcdef") != "" {
		t.Fatalf("unexpected hash %q", a)
	}
}
