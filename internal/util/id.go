package util

import (
	"strings"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewToken returns an opaque random token suitable for invites, resets and
// refresh sessions.
func NewToken() string {
	return NewID("") + NewID("")
}
