//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/imagepress/internal/domain"
)

// govipsCodec routes all pixel work through libvips.
type govipsCodec struct{}

func (govipsCodec) Probe(data []byte) (domain.Format, domain.Dimensions, error) {
	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return domain.FormatNone, domain.Dimensions{}, domain.DecodeError(err)
	}
	defer img.Close()

	return formatFromImageType(img.Format()), domain.Dimensions{
		Width:  img.Width(),
		Height: img.Height(),
	}, nil
}

func (govipsCodec) Apply(ctx context.Context, src []byte, dims *domain.Dimensions, plan domain.EncodePlan) (domain.Artifact, error) {
	select {
	case <-ctx.Done():
		return domain.Artifact{}, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(src)
	if err != nil {
		return domain.Artifact{}, domain.DecodeError(err)
	}
	defer img.Close()

	if plan.NormalizeOrientation {
		if err := img.AutoRotate(); err != nil {
			return domain.Artifact{}, fmt.Errorf("normalize orientation: %w", err)
		}
	}

	if dims != nil && (img.Width() != dims.Width || img.Height() != dims.Height) {
		hscale := float64(dims.Width) / float64(img.Width())
		vscale := float64(dims.Height) / float64(img.Height())
		if err := img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
			return domain.Artifact{}, fmt.Errorf("resample image: %w", err)
		}
	}

	data, err := exportImage(img, plan)
	if err != nil {
		return domain.Artifact{}, err
	}

	return domain.Artifact{
		Data:   data,
		Format: plan.Format,
		Width:  img.Width(),
		Height: img.Height(),
	}, nil
}

func exportImage(img *vips.ImageRef, plan domain.EncodePlan) ([]byte, error) {
	switch plan.Format {
	case domain.FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = plan.Quality
		params.Interlace = plan.Progressive
		params.StripMetadata = plan.StripMetadata
		params.OptimizeCoding = true
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case domain.FormatPNG:
		params := vips.NewPngExportParams()
		params.Compression = 9
		params.StripMetadata = plan.StripMetadata
		data, _, err := img.ExportPng(params)
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case domain.FormatWebP:
		params := vips.NewWebpExportParams()
		params.Quality = plan.Quality
		params.Lossless = plan.Lossless
		params.StripMetadata = plan.StripMetadata
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	case domain.FormatGIF:
		params := vips.NewGifExportParams()
		params.StripMetadata = plan.StripMetadata
		data, _, err := img.ExportGIF(params)
		if err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
		return data, nil
	case domain.FormatTIFF:
		params := vips.NewTiffExportParams()
		params.Compression = vips.TiffCompressionDeflate
		params.StripMetadata = plan.StripMetadata
		data, _, err := img.ExportTiff(params)
		if err != nil {
			return nil, fmt.Errorf("encode tiff: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedOutputFormat, plan.Format)
	}
}

func formatFromImageType(t vips.ImageType) domain.Format {
	switch t {
	case vips.ImageTypeJPEG:
		return domain.FormatJPEG
	case vips.ImageTypePNG:
		return domain.FormatPNG
	case vips.ImageTypeGIF:
		return domain.FormatGIF
	case vips.ImageTypeTIFF:
		return domain.FormatTIFF
	case vips.ImageTypeWEBP:
		return domain.FormatWebP
	default:
		return domain.FormatNone
	}
}
