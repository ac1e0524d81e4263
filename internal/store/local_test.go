package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/imagepress/internal/domain"
)

func TestLocalStorePutGet(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	data := []byte("not really a jpeg")
	ref, err := s.Put(context.Background(), "photo.jpg", data, "image/jpeg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(ref, "photo-") || !strings.HasSuffix(ref, ".jpg") {
		t.Fatalf("ref = %q, want photo-<suffix>.jpg", ref)
	}

	got, contentType, err := s.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("Get returned %q, want %q", got, data)
	}
	if contentType != "image/jpeg" {
		t.Fatalf("contentType = %q, want image/jpeg", contentType)
	}
}

func TestLocalStoreUniqueRefs(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	ref1, err := s.Put(context.Background(), "photo.jpg", []byte("one"), "image/jpeg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	ref2, err := s.Put(context.Background(), "photo.jpg", []byte("two"), "image/jpeg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref1 == ref2 {
		t.Fatalf("same name produced identical refs %q", ref1)
	}

	got, _, err := s.Get(context.Background(), ref1)
	if err != nil {
		t.Fatalf("Get first: %v", err)
	}
	if string(got) != "one" {
		t.Fatalf("first artifact overwritten, got %q", got)
	}
}

func TestLocalStoreRetentionExpiry(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	ref, err := s.Put(context.Background(), "photo.png", []byte("pixels"), "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, _, err := s.Get(context.Background(), ref); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, _, err := s.Get(context.Background(), ref); !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Fatalf("Get after expiry = %v, want ErrArtifactNotFound", err)
	}

	// Expired artifact was removed on read, so it stays gone even if the
	// clock goes back.
	s.now = time.Now
	if _, _, err := s.Get(context.Background(), ref); !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Fatalf("Get after removal = %v, want ErrArtifactNotFound", err)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	for _, ref := range []string{"", "..", "../etc/passwd", "a/b.jpg", ".hidden"} {
		if _, _, err := s.Get(context.Background(), ref); !errors.Is(err, domain.ErrArtifactNotFound) {
			t.Errorf("Get(%q) = %v, want ErrArtifactNotFound", ref, err)
		}
	}
}

func TestLocalStoreSweep(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.Put(context.Background(), "old.gif", []byte{0x47}, "image/gif"); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	purged, err := s.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if purged != 0 {
		t.Fatalf("fresh sweep purged %d, want 0", purged)
	}

	s.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	purged, err = s.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if purged != 3 {
		t.Fatalf("expired sweep purged %d, want 3", purged)
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"my photo!.png", "my_photo_.png"},
		{"", "artifact"},
		{"  ", "artifact"},
	}
	for _, tt := range tests {
		if got := sanitizeToken(tt.in); got != tt.want {
			t.Errorf("sanitizeToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
