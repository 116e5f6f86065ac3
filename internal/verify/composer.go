package verify

import (
	"fmt"
	"math"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

const (
	PenaltyUnverified = 0.2
	UnusableThreshold = 0.8
	WarningThreshold  = 0.5

	ManualReviewMarker = "[MANUAL REVIEW REQUIRED]"
	WarningBanner      = "[WARNING] Parts of this assessment could not be verified."
)

// Finalize clamps the composed risk to [0,1]. A nil fact check means the
// check was skipped and adds nothing.
func Finalize(partial float64, fc *model.FactCheckResult) float64 {
	risk := partial
	if fc != nil && !fc.Verified {
		risk += PenaltyUnverified
	}
	return round4(math.Min(math.Max(risk, 0), 1))
}

func Classify(final float64) model.Verdict {
	switch {
	case final >= UnusableThreshold:
		return model.VerdictUnusable
	case final >= WarningThreshold:
		return model.VerdictWarning
	default:
		return model.VerdictClean
	}
}

// Decorate adds the banner or marker the verdict class requires.
func Decorate(text string, v model.Verdict, final float64) string {
	switch v {
	case model.VerdictUnusable:
		return fmt.Sprintf("%s Hallucination risk %.2f: this summary must not be used without manual review.\n\n%s", ManualReviewMarker, final, text)
	case model.VerdictWarning:
		return fmt.Sprintf("%s Hallucination risk %.2f.\n\n%s", WarningBanner, final, text)
	default:
		return text
	}
}
