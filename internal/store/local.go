package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/imagepress/internal/domain"
)

// LocalStore keeps artifacts on the local filesystem and purges them after a
// retention window. It backs the synchronous API path.
type LocalStore struct {
	dir       string
	retention time.Duration
	now       func() time.Time
}

func NewLocalStore(dir string, retention time.Duration) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("output directory is required")
	}
	if retention <= 0 {
		retention = time.Hour
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &LocalStore{dir: dir, retention: retention, now: time.Now}, nil
}

func (s *LocalStore) Put(_ context.Context, suggestedName string, data []byte, _ string) (string, error) {
	ref := uniqueRef(suggestedName)
	if err := os.WriteFile(filepath.Join(s.dir, ref), data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", ref, err)
	}
	return ref, nil
}

func (s *LocalStore) Get(_ context.Context, ref string) ([]byte, string, error) {
	// References are single path components; anything else smells like
	// traversal.
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return nil, "", domain.ErrArtifactNotFound
	}

	full := filepath.Join(s.dir, ref)
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", domain.ErrArtifactNotFound
		}
		return nil, "", fmt.Errorf("stat artifact %s: %w", ref, err)
	}

	// Retention is enforced on read too, so an expired artifact is gone
	// even between janitor sweeps.
	if s.now().Sub(info.ModTime()) > s.retention {
		_ = os.Remove(full)
		return nil, "", domain.ErrArtifactNotFound
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", domain.ErrArtifactNotFound
		}
		return nil, "", fmt.Errorf("read artifact %s: %w", ref, err)
	}
	return data, contentTypeForRef(ref), nil
}

// Sweep removes expired artifacts and reports how many were purged.
func (s *LocalStore) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read output dir: %w", err)
	}

	cutoff := s.now().Add(-s.retention)
	purged := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				purged++
			}
		}
	}
	return purged, nil
}

// StartJanitor sweeps on a fixed interval until ctx is done.
func (s *LocalStore) StartJanitor(ctx context.Context, every time.Duration, logger *log.Logger) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := s.Sweep()
				if err != nil {
					logger.Printf("artifact sweep failed: %v", err)
					continue
				}
				if purged > 0 {
					logger.Printf("artifact sweep purged=%d", purged)
				}
			}
		}
	}()
}
