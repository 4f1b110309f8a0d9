package blobstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryPutAndGet(t *testing.T) {
	store := NewMemory("http://localhost:8787/api/exports/", time.Minute)
	url, err := store.PutAndSign(context.Background(), Object{
		Key:         "exp_123",
		Filename:    "Roof-v1.html",
		ContentType: "text/html",
		Data:        []byte("<h1>Roof</h1>"),
	}, 15*time.Minute)
	if err != nil {
		t.Fatalf("PutAndSign: %v", err)
	}
	if url != "http://localhost:8787/api/exports/exp_123" {
		t.Fatalf("unexpected url %q", url)
	}
	obj, err := store.Get("exp_123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(obj.Data) != "<h1>Roof</h1>" || obj.Filename != "Roof-v1.html" {
		t.Fatalf("unexpected object %+v", obj)
	}
}

func TestMemoryExpires(t *testing.T) {
	store := NewMemory("http://x", 20*time.Millisecond)
	if _, err := store.PutAndSign(context.Background(), Object{Key: "k"}, time.Minute); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := store.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMemoryUnknownKey(t *testing.T) {
	if _, err := NewMemory("http://x", time.Minute).Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestContentDisposition(t *testing.T) {
	if got := contentDisposition("Roof v1.pdf"); got != `attachment; filename="Roof v1.pdf"` {
		t.Fatalf("got %q", got)
	}
}

var _ Store = (*Memory)(nil)
var _ Store = (*Minio)(nil)
