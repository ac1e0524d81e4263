//go:build !govips || !cgo

package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imagepress/internal/domain"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 29), G: uint8(y * 57), B: uint8((x + y) * 11), A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestProbeReportsFormatAndDimensions(t *testing.T) {
	src := pngBytes(t, testImage(12, 7))

	format, dims, err := stdCodec{}.Probe(src)
	if err != nil {
		t.Fatalf("probe returned error: %v", err)
	}
	if format != domain.FormatPNG {
		t.Fatalf("expected png, got %s", format)
	}
	if dims.Width != 12 || dims.Height != 7 {
		t.Fatalf("expected 12x7, got %dx%d", dims.Width, dims.Height)
	}
}

func TestProbeRejectsCorruptBytes(t *testing.T) {
	_, _, err := stdCodec{}.Probe([]byte("not an image at all"))
	if !domain.IsDecodeError(err) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestApplyPNGOptimizeIsLossless(t *testing.T) {
	src := testImage(16, 9)
	plan := BuildPlans(domain.FormatPNG, domain.Options{Mode: domain.ModeOptimize})[0]

	artifact, err := stdCodec{}.Apply(context.Background(), pngBytes(t, src), nil, plan)
	if err != nil {
		t.Fatalf("apply returned error: %v", err)
	}
	if artifact.Format != domain.FormatPNG {
		t.Fatalf("expected png output, got %s", artifact.Format)
	}

	decoded, err := png.Decode(bytes.NewReader(artifact.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !bytes.Equal(imaging.Clone(decoded).Pix, src.Pix) {
		t.Fatal("png optimize must round-trip pixel data exactly")
	}
}

func TestApplyResamplesToResolvedDimensions(t *testing.T) {
	src := jpegBytes(t, testImage(64, 48))
	plan := BuildPlans(domain.FormatJPEG, domain.Options{Mode: domain.ModeResize, Width: 32})[0]

	artifact, err := stdCodec{}.Apply(context.Background(), src, &domain.Dimensions{Width: 32, Height: 24}, plan)
	if err != nil {
		t.Fatalf("apply returned error: %v", err)
	}
	if artifact.Width != 32 || artifact.Height != 24 {
		t.Fatalf("expected 32x24 output, got %dx%d", artifact.Width, artifact.Height)
	}

	cfg, name, err := image.DecodeConfig(bytes.NewReader(artifact.Data))
	if err != nil {
		t.Fatalf("decode output config: %v", err)
	}
	if name != "jpeg" || cfg.Width != 32 || cfg.Height != 24 {
		t.Fatalf("expected 32x24 jpeg on the wire, got %dx%d %s", cfg.Width, cfg.Height, name)
	}
}

func TestApplySkipsResampleWithoutDimensions(t *testing.T) {
	src := jpegBytes(t, testImage(20, 10))
	plan := BuildPlans(domain.FormatJPEG, domain.Options{Mode: domain.ModeOptimize, Quality: 70})[0]

	artifact, err := stdCodec{}.Apply(context.Background(), src, nil, plan)
	if err != nil {
		t.Fatalf("apply returned error: %v", err)
	}
	if artifact.Width != 20 || artifact.Height != 10 {
		t.Fatalf("optimize must keep 20x10, got %dx%d", artifact.Width, artifact.Height)
	}
}

func TestApplyKeepMetadataResetsBakedOrientation(t *testing.T) {
	src := orientedJPEG(t, 6) // 4x2 pixels declared sideways
	plan := BuildPlans(domain.FormatJPEG, domain.Options{Mode: domain.ModeOptimize, KeepMetadata: true})[0]

	artifact, err := stdCodec{}.Apply(context.Background(), src, nil, plan)
	if err != nil {
		t.Fatalf("apply returned error: %v", err)
	}
	if artifact.Width != 2 || artifact.Height != 4 {
		t.Fatalf("expected rotation baked in as 2x4, got %dx%d", artifact.Width, artifact.Height)
	}
	if exifSegment(artifact.Data) == nil {
		t.Fatal("keep_metadata must retain the EXIF segment")
	}
	// The pixels are already rotated; a surviving orientation tag would make
	// viewers rotate a second time.
	if got := jpegOrientation(artifact.Data); got > 1 {
		t.Fatalf("retained EXIF still declares orientation=%d", got)
	}
}

func TestApplyStripMetadataDropsEXIF(t *testing.T) {
	src := orientedJPEG(t, 6)
	plan := BuildPlans(domain.FormatJPEG, domain.Options{Mode: domain.ModeOptimize})[0]

	artifact, err := stdCodec{}.Apply(context.Background(), src, nil, plan)
	if err != nil {
		t.Fatalf("apply returned error: %v", err)
	}
	if exifSegment(artifact.Data) != nil {
		t.Fatal("default path must strip the EXIF segment")
	}
}

func TestApplyGIFRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(10, 10)); err != nil {
		t.Fatalf("encode test png: %v", err)
	}

	// Feed a png through a gif plan; the encoder quantizes to the plan's palette.
	plan := BuildPlans(domain.FormatGIF, domain.Options{Mode: domain.ModeOptimize})[0]

	artifact, err := stdCodec{}.Apply(context.Background(), buf.Bytes(), nil, plan)
	if err != nil {
		t.Fatalf("apply returned error: %v", err)
	}
	if _, name, err := image.DecodeConfig(bytes.NewReader(artifact.Data)); err != nil || name != "gif" {
		t.Fatalf("expected decodable gif, got %q err=%v", name, err)
	}
}

func TestApplyWebPEncodeUnavailable(t *testing.T) {
	src := pngBytes(t, testImage(4, 4))
	plan := BuildPlans(domain.FormatPNG, domain.Options{Mode: domain.ModeOptimize, ConvertTo: domain.FormatWebP})[0]

	_, err := stdCodec{}.Apply(context.Background(), src, nil, plan)
	if err == nil {
		t.Fatal("expected encode error for webp without govips")
	}
	if domain.IsDecodeError(err) {
		t.Fatal("webp encode failure must not be classified as a decode error")
	}
}

func TestApplyRejectsCorruptSource(t *testing.T) {
	plan := BuildPlans(domain.FormatJPEG, domain.Options{Mode: domain.ModeOptimize})[0]
	_, err := stdCodec{}.Apply(context.Background(), []byte{0xff, 0x00, 0x13}, nil, plan)
	if !domain.IsDecodeError(err) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
