package pipeline

import (
	"github.com/dunamismax/imagepress/internal/domain"
)

// BuildPlans selects the output format and encoder parameters for a source
// image. It returns one plan, or two when the auto-WebP option is set: the
// native plan first, then the WebP candidate. A forced target format
// overrides the source-format policy entirely.
func BuildPlans(source domain.Format, opts domain.Options) []domain.EncodePlan {
	target := source
	if opts.ConvertTo != domain.FormatNone {
		target = opts.ConvertTo
	}

	plans := []domain.EncodePlan{planFor(target, opts)}
	if opts.AutoWebP && target != domain.FormatWebP {
		plans = append(plans, planFor(domain.FormatWebP, opts))
	}
	return plans
}

func planFor(target domain.Format, opts domain.Options) domain.EncodePlan {
	plan := domain.EncodePlan{
		Format:               target,
		NormalizeOrientation: true,
		StripMetadata:        !opts.KeepMetadata,
	}

	switch target {
	case domain.FormatJPEG:
		plan.Quality = qualityOr(opts.Quality, domain.DefaultJPEGQuality)
		plan.Progressive = true
	case domain.FormatWebP:
		plan.Quality = qualityOr(opts.Quality, domain.DefaultWebPQuality)
	case domain.FormatGIF:
		plan.Lossless = true
		plan.PaletteSize = 256
	default:
		// PNG and TIFF re-encode losslessly; quality does not apply.
		plan.Lossless = true
	}

	return plan
}

func qualityOr(quality, fallback int) int {
	if quality < 1 || quality > 100 {
		return fallback
	}
	return quality
}

// PickCandidate applies the auto-WebP selection rule: the candidate wins only
// when its byte size is at least 10% smaller than the native encode. Both
// encodes have already completed; nothing here is estimated.
func PickCandidate(native, candidate domain.Artifact) domain.Artifact {
	if len(candidate.Data) == 0 {
		return native
	}
	if len(candidate.Data)*10 <= len(native.Data)*9 {
		return candidate
	}
	return native
}
