//go:build !govips || !cgo

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imagepress/internal/domain"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// stdCodec is the pure-Go codec. It decodes JPEG, PNG, GIF, TIFF, and WebP,
// and encodes everything except WebP, which needs libvips.
type stdCodec struct{}

func (stdCodec) Probe(data []byte) (domain.Format, domain.Dimensions, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return domain.FormatNone, domain.Dimensions{}, domain.DecodeError(err)
	}
	return domain.NormalizeFormat(name), domain.Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}

func (c stdCodec) Apply(ctx context.Context, src []byte, dims *domain.Dimensions, plan domain.EncodePlan) (domain.Artifact, error) {
	select {
	case <-ctx.Done():
		return domain.Artifact{}, ctx.Err()
	default:
	}

	img, srcName, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return domain.Artifact{}, domain.DecodeError(err)
	}
	srcFormat := domain.NormalizeFormat(srcName)

	if plan.NormalizeOrientation && srcFormat == domain.FormatJPEG {
		if o := jpegOrientation(src); o > 1 {
			img = applyOrientation(img, o)
		}
	}

	if dims != nil {
		bounds := img.Bounds()
		if dims.Width != bounds.Dx() || dims.Height != bounds.Dy() {
			img = imaging.Resize(img, dims.Width, dims.Height, imaging.Lanczos)
		}
	}

	data, err := c.encode(img, plan)
	if err != nil {
		return domain.Artifact{}, err
	}

	// Re-encoding drops all metadata; retention splices the source EXIF
	// block back into JPEG output. The orientation tag is reset first when
	// the rotation was baked into the pixels.
	if !plan.StripMetadata && plan.Format == domain.FormatJPEG && srcFormat == domain.FormatJPEG {
		seg := exifSegment(src)
		if plan.NormalizeOrientation {
			seg = resetOrientation(seg)
		}
		data = spliceEXIF(data, seg)
	}

	bounds := img.Bounds()
	return domain.Artifact{
		Data:   data,
		Format: plan.Format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

func (stdCodec) encode(img image.Image, plan domain.EncodePlan) ([]byte, error) {
	var buf bytes.Buffer

	switch plan.Format {
	case domain.FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: plan.Quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case domain.FormatPNG:
		encoder := png.Encoder{CompressionLevel: png.BestCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case domain.FormatGIF:
		colors := plan.PaletteSize
		if colors < 1 || colors > 256 {
			colors = 256
		}
		if err := gif.Encode(&buf, img, &gif.Options{NumColors: colors}); err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
	case domain.FormatTIFF:
		if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return nil, fmt.Errorf("encode tiff: %w", err)
		}
	case domain.FormatWebP:
		return nil, fmt.Errorf("webp encoding requires the govips build: %w", domain.ErrUnsupportedOutputFormat)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedOutputFormat, plan.Format)
	}

	return buf.Bytes(), nil
}
