package pipeline

import (
	"testing"

	"github.com/dunamismax/imagepress/internal/domain"
)

func TestBuildPlansJPEGDefaults(t *testing.T) {
	plans := BuildPlans(domain.FormatJPEG, domain.Options{Mode: domain.ModeOptimize})
	if len(plans) != 1 {
		t.Fatalf("expected one plan, got %d", len(plans))
	}

	plan := plans[0]
	if plan.Format != domain.FormatJPEG {
		t.Fatalf("expected jpeg plan, got %s", plan.Format)
	}
	if plan.Quality != domain.DefaultJPEGQuality {
		t.Fatalf("expected default quality %d, got %d", domain.DefaultJPEGQuality, plan.Quality)
	}
	if !plan.Progressive || !plan.NormalizeOrientation || !plan.StripMetadata {
		t.Fatalf("expected progressive, orientation-normalized, stripped plan, got %+v", plan)
	}
}

func TestBuildPlansKeepMetadata(t *testing.T) {
	plans := BuildPlans(domain.FormatJPEG, domain.Options{Mode: domain.ModeOptimize, KeepMetadata: true})
	if plans[0].StripMetadata {
		t.Fatal("expected metadata retention")
	}
}

func TestBuildPlansPNGIsLossless(t *testing.T) {
	plans := BuildPlans(domain.FormatPNG, domain.Options{Mode: domain.ModeOptimize, Quality: 40})
	if !plans[0].Lossless {
		t.Fatal("expected lossless png plan")
	}
	if plans[0].Quality != 0 {
		t.Fatalf("quality must not apply to lossless png, got %d", plans[0].Quality)
	}
}

func TestBuildPlansForcedFormatOverrides(t *testing.T) {
	plans := BuildPlans(domain.FormatPNG, domain.Options{Mode: domain.ModeOptimize, ConvertTo: domain.FormatWebP})
	if len(plans) != 1 {
		t.Fatalf("expected one plan, got %d", len(plans))
	}
	if plans[0].Format != domain.FormatWebP {
		t.Fatalf("expected forced webp, got %s", plans[0].Format)
	}
	if plans[0].Quality != domain.DefaultWebPQuality {
		t.Fatalf("expected webp default quality, got %d", plans[0].Quality)
	}
}

func TestBuildPlansAutoWebP(t *testing.T) {
	plans := BuildPlans(domain.FormatJPEG, domain.Options{Mode: domain.ModeOptimize, AutoWebP: true})
	if len(plans) != 2 {
		t.Fatalf("expected native plan plus webp candidate, got %d", len(plans))
	}
	if plans[0].Format != domain.FormatJPEG || plans[1].Format != domain.FormatWebP {
		t.Fatalf("expected [jpeg webp], got [%s %s]", plans[0].Format, plans[1].Format)
	}

	// No candidate when the native target is already webp.
	plans = BuildPlans(domain.FormatWebP, domain.Options{Mode: domain.ModeOptimize, AutoWebP: true})
	if len(plans) != 1 {
		t.Fatalf("expected single webp plan, got %d", len(plans))
	}
}

func TestPickCandidateTenPercentRule(t *testing.T) {
	native := domain.Artifact{Data: make([]byte, 1000), Format: domain.FormatJPEG}

	// Exactly 10% smaller: candidate wins.
	exact := domain.Artifact{Data: make([]byte, 900), Format: domain.FormatWebP}
	if got := PickCandidate(native, exact); got.Format != domain.FormatWebP {
		t.Fatal("expected webp candidate at the 10% boundary")
	}

	// Only 9% smaller: native kept.
	closeCall := domain.Artifact{Data: make([]byte, 910), Format: domain.FormatWebP}
	if got := PickCandidate(native, closeCall); got.Format != domain.FormatJPEG {
		t.Fatal("expected native result at 9% savings")
	}

	// Failed candidate encode: native kept.
	if got := PickCandidate(native, domain.Artifact{}); got.Format != domain.FormatJPEG {
		t.Fatal("expected native result for empty candidate")
	}
}
