package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("dec")
	if !strings.HasPrefix(id, "dec_") {
		t.Fatalf("expected dec_ prefix, got %q", id)
	}
	if len(id) != len("dec_")+32 {
		t.Fatalf("unexpected id length %d", len(id))
	}
	if NewID("dec") == id {
		t.Fatal("expected unique ids")
	}
}

func TestNewIDWithoutPrefix(t *testing.T) {
	if id := NewID(""); strings.Contains(id, "_") || len(id) != 32 {
		t.Fatalf("unexpected id %q", id)
	}
	if tok := NewToken(); len(tok) != 64 {
		t.Fatalf("expected 64 char token, got %d", len(tok))
	}
}
