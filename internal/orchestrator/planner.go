package orchestrator

import (
	"fmt"
	"math"
)

// Plan fits a frame of the given aspect ratio into a targetWidth x targetHeight
// box without cropping or distortion. The scaled frame touches the box on one
// axis; the remainder on the other axis is padding, centered by the pad filter.
func Plan(aspectRatio float64, targetWidth, targetHeight int) RenditionPlan {
	boxRatio := float64(targetWidth) / float64(targetHeight)

	if aspectRatio > boxRatio {
		scaledHeight := int(math.Round(float64(targetWidth) / aspectRatio))
		return RenditionPlan{
			ScaledWidth:  targetWidth,
			ScaledHeight: scaledHeight,
			PadHeight:    targetHeight - scaledHeight,
		}
	}

	scaledWidth := int(math.Round(float64(targetHeight) * aspectRatio))
	return RenditionPlan{
		ScaledWidth:  scaledWidth,
		ScaledHeight: targetHeight,
		PadWidth:     targetWidth - scaledWidth,
	}
}

// VideoFilter renders the plan as an ffmpeg scale-then-pad filter chain for
// the given box.
func (p RenditionPlan) VideoFilter(boxWidth, boxHeight int) string {
	return fmt.Sprintf("scale=%d:%d,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black",
		p.ScaledWidth, p.ScaledHeight, boxWidth, boxHeight)
}
