package pipeline

import (
	"fmt"
	"math"

	"github.com/dunamismax/imagepress/internal/domain"
)

// Resolve computes the final target dimensions for one file from its original
// size and the request. It is called once per file; the result is never
// recomputed mid-pipeline. Ratios always derive from the original dimensions,
// never from a previously resized output.
//
// When the aspect lock is on and both edges are given but disagree with the
// original ratio, width wins and height is recomputed from it.
func Resolve(origWidth, origHeight int, opts domain.Options) (domain.Dimensions, error) {
	if origWidth < 1 || origHeight < 1 {
		return domain.Dimensions{}, fmt.Errorf("source dimensions unavailable (%dx%d): %w",
			origWidth, origHeight, domain.ErrUnsatisfiableDimensions)
	}

	width, height := opts.Width, opts.Height
	if outOfRange(width) || outOfRange(height) {
		return domain.Dimensions{}, fmt.Errorf("requested %dx%d outside [%d, %d]: %w",
			width, height, domain.MinDimension, domain.MaxDimension, domain.ErrUnsatisfiableDimensions)
	}

	switch {
	case opts.LockAspect && width > 0:
		height = scaleEdge(width, origHeight, origWidth)
	case opts.LockAspect && height > 0:
		width = scaleEdge(height, origWidth, origHeight)
	default:
		// Unlocked: a missing edge falls back to the original.
		if width == 0 {
			width = origWidth
		}
		if height == 0 {
			height = origHeight
		}
	}

	if width < domain.MinDimension || width > domain.MaxDimension ||
		height < domain.MinDimension || height > domain.MaxDimension {
		return domain.Dimensions{}, fmt.Errorf("resolved %dx%d outside [%d, %d]: %w",
			width, height, domain.MinDimension, domain.MaxDimension, domain.ErrUnsatisfiableDimensions)
	}

	return domain.Dimensions{Width: width, Height: height}, nil
}

// outOfRange reports whether a requested edge (0 meaning absent) violates
// the dimension bounds.
func outOfRange(v int) bool {
	return v != 0 && (v < domain.MinDimension || v > domain.MaxDimension)
}

// scaleEdge derives the missing edge from the given one, preserving the
// original ratio. Nearest integer, ties away from zero.
func scaleEdge(given, origOther, origGiven int) int {
	return int(math.Round(float64(given) * float64(origOther) / float64(origGiven)))
}
