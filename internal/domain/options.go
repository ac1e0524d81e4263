package domain

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ModeOptimize = "optimize"
	ModeResize   = "resize"

	// MinDimension and MaxDimension bound every requested or resolved edge.
	MinDimension = 1
	MaxDimension = 8000

	DefaultJPEGQuality = 82
	DefaultWebPQuality = 80
)

// Format identifies an image codec on either side of a transformation.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatTIFF Format = "tiff"
	FormatWebP Format = "webp"
	FormatNone Format = ""
)

// NormalizeFormat folds aliases onto canonical format names.
func NormalizeFormat(in string) Format {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "jpg", "jpeg":
		return FormatJPEG
	case "png":
		return FormatPNG
	case "gif":
		return FormatGIF
	case "tif", "tiff":
		return FormatTIFF
	case "webp":
		return FormatWebP
	default:
		return FormatNone
	}
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatGIF:
		return "image/gif"
	case FormatTIFF:
		return "image/tiff"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Extension returns the file extension used for stored artifacts.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatGIF:
		return "gif"
	case FormatTIFF:
		return "tiff"
	case FormatWebP:
		return "webp"
	default:
		return "png"
	}
}

// Lossy reports whether the format's standard encode path discards pixel data.
func (f Format) Lossy() bool {
	return f == FormatJPEG || f == FormatWebP
}

// Options is the flat per-request option set shared by every file in a batch.
// There is no process-wide mutable default state; defaults are applied when
// encode plans are built.
type Options struct {
	Mode         string `json:"mode"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	LockAspect   bool   `json:"lock_aspect,omitempty"`
	Quality      int    `json:"quality,omitempty"`
	KeepMetadata bool   `json:"keep_metadata,omitempty"`
	AutoWebP     bool   `json:"autowebp,omitempty"`
	ConvertTo    Format `json:"convert_to,omitempty"`
}

// WantsResample reports whether the request asks for new pixel dimensions.
// Optimize requests may still carry dimensions; resampling then runs first.
func (o Options) WantsResample() bool {
	return o.Width > 0 || o.Height > 0
}

func (o Options) Validate() error {
	mode := strings.ToLower(strings.TrimSpace(o.Mode))
	if mode != ModeOptimize && mode != ModeResize {
		return fmt.Errorf("unsupported mode: %q", o.Mode)
	}
	if mode == ModeResize && o.Width == 0 && o.Height == 0 {
		return errors.New("resize requires width or height")
	}
	// Requested dimensions are range-checked per item by the resolver, so a
	// bad edge poisons one result slot instead of aborting the batch.
	if o.Quality != 0 && (o.Quality < 1 || o.Quality > 100) {
		return fmt.Errorf("quality must be in [1, 100], got %d", o.Quality)
	}
	switch o.ConvertTo {
	case FormatNone, FormatJPEG, FormatWebP:
	default:
		return fmt.Errorf("unsupported convert_to target: %q", o.ConvertTo)
	}
	return nil
}

// Dimensions is a resolved target size. Always at least 1x1 once produced by
// the resolver; never recomputed mid-pipeline.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EncodePlan carries the output format and encoder parameters for one
// candidate encode. Produced once per candidate format.
type EncodePlan struct {
	Format               Format
	Quality              int
	Progressive          bool
	Lossless             bool
	PaletteSize          int
	NormalizeOrientation bool
	StripMetadata        bool
}

// Artifact is the encoded output of one codec pass.
type Artifact struct {
	Data   []byte
	Format Format
	Width  int
	Height int
}
