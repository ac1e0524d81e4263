package store

import (
	"context"
	"path"
	"strings"

	"github.com/dunamismax/imagepress/internal/domain"
	"github.com/dunamismax/imagepress/internal/id"
)

// BlobStore persists transformation artifacts under unique retrievable
// references. Artifacts are reachable for a bounded window only; callers
// must not assume permanence.
type BlobStore interface {
	// Put writes the artifact and returns its reference. References never
	// collide: each carries a random suffix, so concurrent writes are safe
	// without coordination.
	Put(ctx context.Context, suggestedName string, data []byte, contentType string) (string, error)

	// Get returns the artifact bytes and content type, or
	// domain.ErrArtifactNotFound once the retention window has elapsed.
	Get(ctx context.Context, ref string) ([]byte, string, error)
}

// uniqueRef turns a suggested name into a collision-free reference by
// inserting a random suffix before the extension.
func uniqueRef(suggestedName string) string {
	base := sanitizeToken(path.Base(suggestedName))
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = "artifact"
	}
	return stem + "-" + id.Short() + ext
}

// contentTypeForRef maps a reference's extension onto the MIME type it is
// served with.
func contentTypeForRef(ref string) string {
	ext := strings.TrimPrefix(path.Ext(ref), ".")
	if f := domain.NormalizeFormat(ext); f != domain.FormatNone {
		return f.ContentType()
	}
	return "application/octet-stream"
}

// sanitizeToken keeps references safe as path components.
func sanitizeToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "artifact"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
