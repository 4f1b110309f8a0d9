// Package blobstore holds rendered decision exports and hands out short-lived
// download URLs for them.
package blobstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Memory.Get for unknown or expired keys.
var ErrNotFound = errors.New("blob not found")

// Object is a stored export.
type Object struct {
	Key         string
	Filename    string
	ContentType string
	Data        []byte
}

// Store persists an object and returns a URL valid for ttl.
type Store interface {
	PutAndSign(ctx context.Context, obj Object, ttl time.Duration) (string, error)
}
