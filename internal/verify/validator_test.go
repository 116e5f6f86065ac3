package verify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

const groundedSummary = "According to the NVD, CVE-2021-23337 is a command injection flaw in lodash versions <4.17.21. " +
	"Based on the CVE description, the template function evaluates attacker input. " +
	"NVD reports a CVSS base score of 7.2 and the EPSS probability is 0.945. " +
	"Threat intelligence shows public exploit code and attack reports."

func f(v float64) *float64 { return &v }

func lodashInputs() Inputs {
	return Inputs{
		CVEID:        "CVE-2021-23337",
		Package:      "lodash",
		VersionRange: "<4.17.21",
		CVSS:         f(7.2),
		EPSS:         f(0.945),
		CaseCount:    2,
	}
}

func kinds(signals []model.ValidationSignal) []string {
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		out = append(out, s.Kind)
	}
	return out
}

func TestValidateGroundedSummaryIsClean(t *testing.T) {
	signals, partial := Validate(groundedSummary, lodashInputs())
	assert.Empty(t, signals)
	assert.Equal(t, 0.0, partial)
}

func TestValidateSumsEveryRuleWithoutClamping(t *testing.T) {
	signals, partial := Validate("This might be a problem. It is probably fine.", lodashInputs())

	assert.ElementsMatch(t, []string{
		SignalMissingCVE, SignalMissingPackage, SignalMissingVersion,
		SignalCVSSNotEchoed, SignalEPSSNotEchoed, SignalFewCitations,
		SignalHedging, SignalNoCaseReference, SignalTooShort,
	}, kinds(signals))
	assert.InDelta(t, 1.65, partial, 1e-9)
}

func TestValidateScoreOutsideTolerance(t *testing.T) {
	text := strings.Replace(groundedSummary, "score of 7.2", "score of 9.8", 1)
	signals, partial := Validate(text, lodashInputs())

	require.Len(t, signals, 1)
	assert.Equal(t, SignalCVSSNotEchoed, signals[0].Kind)
	assert.Contains(t, signals[0].Message, "9.8")
	assert.Contains(t, signals[0].Message, "7.2")
	assert.InDelta(t, WeightScoreNotEchoed, partial, 1e-9)
}

func TestValidateEPSSPercentForm(t *testing.T) {
	text := strings.Replace(groundedSummary, "0.945", "94.5%", 1)
	signals, _ := Validate(text, lodashInputs())
	assert.Empty(t, signals)
}

func TestValidateForeignCVEIsAnAnomaly(t *testing.T) {
	signals, partial := Validate(groundedSummary+" A related issue is CVE-2020-8203.", lodashInputs())

	require.Len(t, signals, 1)
	assert.Equal(t, SignalForeignCVE, signals[0].Kind)
	assert.InDelta(t, WeightAnomaly, partial, 1e-9)
}

func TestValidateSkipsAbsentInputs(t *testing.T) {
	in := Inputs{CVEID: "CVE-2021-23337", VersionRange: "latest"}
	text := "According to NVD reports, CVE-2021-23337 allows command injection. Based on the CVE description it affects the template helper."
	signals, partial := Validate(text, in)
	assert.Empty(t, signals, "no package, scores or cases means those rules cannot fire")
	assert.Equal(t, 0.0, partial)
}

func TestValidateBareVersionCountsAsMention(t *testing.T) {
	text := strings.Replace(groundedSummary, "<4.17.21", "before 4.17.21", 1)
	signals, _ := Validate(text, lodashInputs())
	assert.NotContains(t, kinds(signals), SignalMissingVersion)
}

func TestContainsNumberNeedsWholeToken(t *testing.T) {
	assert.True(t, containsNumber("score 7.2.", "7.2"))
	assert.False(t, containsNumber("score 17.25", "7.2"))
	assert.False(t, containsNumber("v1.7.2", "7.2"))
}
