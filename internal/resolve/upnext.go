package resolve

import "github.com/streamgate-dev/streamgate/internal/config"

// Empirically tuned constants of the marker heuristic; do not alter without
// product input.
const (
	// creditsPreviewGapTolerance is the largest gap in seconds between the
	// end of the credits and the start of the preview that still counts as
	// "credits run straight into the preview". Anything larger implies an
	// unaccounted scene between them, and prompting during it would cover a
	// post-credits scene.
	creditsPreviewGapTolerance = 3

	// impliedPreviewWindow: when no preview interval exists but the credits
	// end within this many seconds of the episode end, the remainder is
	// treated as an implied preview.
	impliedPreviewWindow = 20
)

// computeEndMarker decides where the up-next prompt surfaces, given the
// configured mode, the fixed lead in seconds, the episode duration and the
// available skip intervals. The rule ordering decides whether a user is
// shown "next episode" during a post-credits scene.
func computeEndMarker(mode string, lead, duration float64, skips map[string]Interval, hasNext bool) EndMarker {
	if mode == config.UpNextDisabled || !hasNext {
		return EndMarker{Mode: MarkerOff}
	}

	fixed := EndMarker{Mode: MarkerFixed, At: duration - lead}

	credits, hasCredits := skips["credits"]
	preview, hasPreview := skips["preview"]

	if mode == config.UpNextFixed || len(skips) == 0 || (!hasCredits && !hasPreview) {
		return fixed
	}

	if !hasPreview && hasCredits && credits.End >= duration-impliedPreviewWindow {
		preview = Interval{Start: credits.End, End: duration}
		hasPreview = true
	}

	if mode == config.UpNextCredits && hasCredits && hasPreview &&
		credits.End+creditsPreviewGapTolerance >= preview.Start {
		return EndMarker{Mode: MarkerCredits, At: credits.Start}
	}

	if hasPreview {
		return EndMarker{Mode: MarkerPreview, At: preview.Start}
	}

	return fixed
}
