package orchestrator

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPlan_concrete_scenarios(t *testing.T) {
	tests := []struct {
		name   string
		ratio  float64
		w, h   int
		expect RenditionPlan
	}{
		{"16:9 into 640x360 exact fit", 1920.0 / 1080.0, 640, 360, RenditionPlan{ScaledWidth: 640, ScaledHeight: 360}},
		{"9:16 into 854x480 pads width", 0.5625, 854, 480, RenditionPlan{ScaledWidth: 270, ScaledHeight: 480, PadWidth: 584}},
		{"21:9 into 1280x720 pads height", 2560.0 / 1080.0, 1280, 720, RenditionPlan{ScaledWidth: 1280, ScaledHeight: 540, PadHeight: 180}},
		{"4:3 into 1920x1080 pads width", 4.0 / 3.0, 1920, 1080, RenditionPlan{ScaledWidth: 1440, ScaledHeight: 1080, PadWidth: 480}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.ratio, tt.w, tt.h)
			if diff := cmp.Diff(tt.expect, got); diff != "" {
				t.Errorf("Plan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlan_fits_box_and_preserves_aspect(t *testing.T) {
	ratios := []float64{0.25, 0.5625, 0.75, 1, 1.25, 4.0 / 3.0, 16.0 / 9.0, 1.85, 2.39, 4}
	for _, spec := range DefaultLadder {
		for _, r := range ratios {
			p := Plan(r, spec.Width, spec.Height)

			if p.ScaledWidth > spec.Width || p.ScaledHeight > spec.Height {
				t.Errorf("%s r=%.3f: scaled %dx%d exceeds box", spec.Name, r, p.ScaledWidth, p.ScaledHeight)
			}
			if p.ScaledWidth+p.PadWidth != spec.Width || p.ScaledHeight+p.PadHeight != spec.Height {
				t.Errorf("%s r=%.3f: scaled+pad %dx%d does not fill box", spec.Name, r,
					p.ScaledWidth+p.PadWidth, p.ScaledHeight+p.PadHeight)
			}
			if p.PadWidth != 0 && p.PadHeight != 0 {
				t.Errorf("%s r=%.3f: both pads non-zero: %+v", spec.Name, r, p)
			}

			// Rounding one dimension by at most half a pixel keeps the other
			// within one pixel of the ideal.
			if p.PadHeight > 0 || p.PadWidth == 0 {
				ideal := float64(p.ScaledWidth) / r
				if math.Abs(ideal-float64(p.ScaledHeight)) > 1 {
					t.Errorf("%s r=%.3f: height %d too far from %.2f", spec.Name, r, p.ScaledHeight, ideal)
				}
			} else {
				ideal := float64(p.ScaledHeight) * r
				if math.Abs(ideal-float64(p.ScaledWidth)) > 1 {
					t.Errorf("%s r=%.3f: width %d too far from %.2f", spec.Name, r, p.ScaledWidth, ideal)
				}
			}
		}
	}
}

func TestRenditionPlan_VideoFilter(t *testing.T) {
	got := RenditionPlan{ScaledWidth: 270, ScaledHeight: 480, PadWidth: 584}.VideoFilter(854, 480)
	want := "scale=270:480,pad=854:480:(ow-iw)/2:(oh-ih)/2:black"
	if got != want {
		t.Errorf("VideoFilter = %q, want %q", got, want)
	}
}
