package verify

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

const (
	PenaltyCVEMismatch   = 0.2
	PenaltyScoreMismatch = 0.2
	PenaltyCategory      = 0.1
	PenaltyFactOverlap   = 0.1

	MaxScoreDelta     = 1.0
	MinFactOverlap    = 0.3
	HighConsensus     = 0.8
	LowConsensus      = 0.5
	maxListedConflict = 3
)

var (
	severityScoreRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)cvss(?:[:\s]*v?[234]\.[01](?:/[A-Z:/]+)?)?[^\d\n]{0,20}?(\d{1,2}(?:\.\d)?)\b`),
		regexp.MustCompile(`(?i)base score[:\s]+(?:of\s+)?(\d{1,2}(?:\.\d)?)\b`),
	}

	categoryLabelRe = regexp.MustCompile(`(?i)vulnerability type[:\s]+([^\n.;]+)`)
	categoryRe      = regexp.MustCompile(`(?i)(remote code execution|arbitrary code execution|sql injection|cross-site scripting|prototype pollution|command injection|code injection|path traversal|directory traversal|server-side request forgery|denial of service|regular expression denial of service|redos|deserialization|buffer overflow|privilege escalation|authentication bypass|information disclosure|open redirect|xml external entity|cross-site request forgery)`)

	factIndicatorRe = regexp.MustCompile(`(?i)(according to|based on|the cve description|nvd reports|threat intelligence|reported)`)
	sentenceSplitRe = regexp.MustCompile(`[.!?\n]+`)
	nonWordRe       = regexp.MustCompile(`[^a-z0-9\s-]+`)
	spaceRe         = regexp.MustCompile(`\s+`)
)

var categoryAliases = map[string]string{
	"arbitrary code execution": "remote code execution",
	"directory traversal":      "path traversal",
	"redos":                    "regular expression denial of service",
	"xss":                      "cross-site scripting",
	"ssrf":                     "server-side request forgery",
}

// Compare scores how much two independent responses about cveID agree.
func Compare(primary, secondary, cveID string) model.EnsembleComparison {
	confidence := 1.0
	discrepancies := []string{}

	if cveID != "" {
		p := containsFold(primary, cveID)
		s := containsFold(secondary, cveID)
		if p != s {
			discrepancies = append(discrepancies, fmt.Sprintf("only one response mentions %s", cveID))
			confidence -= PenaltyCVEMismatch
		}
	}

	ps, pok := SeverityScore(primary)
	ss, sok := SeverityScore(secondary)
	if pok && sok && math.Abs(ps-ss) > MaxScoreDelta+1e-9 {
		discrepancies = append(discrepancies, fmt.Sprintf("severity scores differ: %s vs %s", fmtScore(ps), fmtScore(ss)))
		confidence -= PenaltyScoreMismatch
	}

	pc, sc := Category(primary), Category(secondary)
	if pc != "" && sc != "" && pc != sc {
		discrepancies = append(discrepancies, fmt.Sprintf("vulnerability type differs: %s vs %s", pc, sc))
		confidence -= PenaltyCategory
	}

	pf, sf := FactualClaims(primary), FactualClaims(secondary)
	if len(pf) > 0 && len(sf) > 0 {
		if ratio := overlap(pf, sf); ratio < MinFactOverlap {
			discrepancies = append(discrepancies, fmt.Sprintf("factual claims overlap only %.0f%%", ratio*100))
			confidence -= PenaltyFactOverlap
		}
	}

	return model.EnsembleComparison{
		Discrepancies:       discrepancies,
		ConsensusConfidence: round4(math.Max(confidence, 0)),
	}
}

// Select applies the consensus policy to the primary response. It reports
// whether a disagreement warning was appended.
func Select(primary string, cmp model.EnsembleComparison) (string, bool) {
	if cmp.ConsensusConfidence >= LowConsensus {
		return primary, false
	}
	listed := cmp.Discrepancies
	if len(listed) > maxListedConflict {
		listed = listed[:maxListedConflict]
	}
	var sb strings.Builder
	sb.WriteString(primary)
	sb.WriteString("\n\n[WARNING] Independent AI models disagree on this assessment")
	fmt.Fprintf(&sb, " (consensus confidence %.2f).", cmp.ConsensusConfidence)
	for _, d := range listed {
		sb.WriteString("\n- ")
		sb.WriteString(d)
	}
	return sb.String(), true
}

// SeverityScore extracts the first claimed CVSS score in [0,10].
func SeverityScore(text string) (float64, bool) {
	for _, re := range severityScoreRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			v, err := strconv.ParseFloat(m[1], 64)
			if err == nil && v >= 0 && v <= 10 {
				return v, true
			}
		}
	}
	return 0, false
}

// Category returns the normalized vulnerability class named in text.
func Category(text string) string {
	if m := categoryLabelRe.FindStringSubmatch(text); m != nil {
		if c := categoryRe.FindString(m[1]); c != "" {
			return normalizeCategory(c)
		}
		return strings.ToLower(strings.TrimSpace(m[1]))
	}
	return normalizeCategory(categoryRe.FindString(text))
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if alias, ok := categoryAliases[c]; ok {
		return alias
	}
	return c
}

// FactualClaims returns the normalized set of sentences that cite a source.
func FactualClaims(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, sentence := range sentenceSplitRe.Split(text, -1) {
		if !factIndicatorRe.MatchString(sentence) {
			continue
		}
		n := strings.ToLower(sentence)
		n = nonWordRe.ReplaceAllString(n, " ")
		n = strings.TrimSpace(spaceRe.ReplaceAllString(n, " "))
		if n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}

func overlap(a, b map[string]struct{}) float64 {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	if len(small) == 0 {
		return 0
	}
	shared := 0
	for k := range small {
		if _, ok := large[k]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

func containsFold(text, needle string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(needle))
}

func fmtScore(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) }

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
