package pipeline

import (
	"context"

	"github.com/dunamismax/imagepress/internal/domain"
)

// Codec decodes, transforms, and encodes one image. Implementations are
// selected at build time: the default is a pure-Go codec; the govips build
// tag swaps in libvips.
//
// Apply runs the pipeline steps in order: decode, orientation normalization,
// resampling (only when dims is non-nil), metadata strip or retain, encode.
// A failure at any step is local to the call.
type Codec interface {
	// Probe sniffs the source format and original pixel dimensions without a
	// full decode.
	Probe(data []byte) (domain.Format, domain.Dimensions, error)

	Apply(ctx context.Context, src []byte, dims *domain.Dimensions, plan domain.EncodePlan) (domain.Artifact, error)
}

// NewCodec returns the codec for this build. Callers own Startup/Shutdown.
func NewCodec() Codec {
	return newCodec()
}
