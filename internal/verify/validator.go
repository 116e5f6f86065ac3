// Package verify scores AI-generated vulnerability summaries before they are
// delivered: rule-based validation, two-model consensus, an authoritative
// score check and the final risk composition.
package verify

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

// Policy weights. Changing any of these changes the verdict thresholds
// tested in composer_test.go and validator_test.go.
const (
	WeightMissingEntity   = 0.3
	WeightScoreNotEchoed  = 0.15
	WeightFewCitations    = 0.2
	WeightHedging         = 0.1
	WeightNoCaseReference = 0.1
	WeightAnomaly         = 0.05

	MinCitations  = 3
	MinTextLength = 80
	CVSSTolerance = 0.1
	EPSSTolerance = 0.01
)

const (
	SignalMissingCVE      = "missing_cve_id"
	SignalMissingPackage  = "missing_package"
	SignalMissingVersion  = "missing_version_range"
	SignalCVSSNotEchoed   = "cvss_not_echoed"
	SignalEPSSNotEchoed   = "epss_not_echoed"
	SignalFewCitations    = "few_citations"
	SignalHedging         = "hedging_language"
	SignalNoCaseReference = "no_case_reference"
	SignalTooShort        = "response_too_short"
	SignalForeignCVE      = "unexpected_cve_id"
)

// Inputs is the supporting data a summary must be consistent with. Empty
// fields are not checked.
type Inputs struct {
	CVEID        string
	Package      string
	VersionRange string
	CVSS         *float64
	EPSS         *float64
	CaseCount    int
}

var (
	hedgingWords = []string{
		"typically", "usually", "commonly", "often", "might", "could potentially",
		"likely", "probably", "generally", "in most cases", "tends to",
	}
	hedgingRe = regexp.MustCompile(`(?i)\b(` + strings.Join(hedgingWords, "|") + `)\b`)

	citationRe = regexp.MustCompile(`(?i)\b(according to|based on|the cve description|threat (?:intelligence|data|case)s?|nvd reports?|as reported by|source:)`)

	caseKeywordRe = regexp.MustCompile(`(?i)(threat case|exploit|attack|in-the-wild|in the wild|proof[- ]of[- ]concept|\bpoc\b)`)

	cveMentionRe = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,}\b`)
	numberRe     = regexp.MustCompile(`\d+(?:\.\d+)?%?`)
	cvssLabelRe  = regexp.MustCompile(`(?i)(cvss|base score|severity score)`)
	epssLabelRe  = regexp.MustCompile(`(?i)(epss|exploit prediction|exploitation probability|probability of exploitation)`)

	genericRanges = map[string]bool{"": true, "latest": true, "all": true, "*": true, "all versions": true}
)

// Validate applies every rule to text and returns one signal per violation
// plus the unclamped sum of their weights.
func Validate(text string, in Inputs) ([]model.ValidationSignal, float64) {
	var signals []model.ValidationSignal
	add := func(kind string, w float64, msg string) {
		signals = append(signals, model.ValidationSignal{Kind: kind, Weight: w, Message: msg})
	}
	lower := strings.ToLower(text)

	if in.CVEID != "" && !strings.Contains(lower, strings.ToLower(in.CVEID)) {
		add(SignalMissingCVE, WeightMissingEntity, fmt.Sprintf("summary never mentions %s", in.CVEID))
	}
	if in.Package != "" && !strings.Contains(lower, strings.ToLower(in.Package)) {
		add(SignalMissingPackage, WeightMissingEntity, fmt.Sprintf("summary never mentions package %s", in.Package))
	}
	if !genericRanges[strings.ToLower(strings.TrimSpace(in.VersionRange))] && !mentionsVersion(lower, in.VersionRange) {
		add(SignalMissingVersion, WeightMissingEntity, fmt.Sprintf("summary never mentions affected versions %s", in.VersionRange))
	}

	if in.CVSS != nil {
		if ok, msg := echoed(text, *in.CVSS, CVSSTolerance, cvssLabelRe, false, "CVSS", "%.1f"); !ok {
			add(SignalCVSSNotEchoed, WeightScoreNotEchoed, msg)
		}
	}
	if in.EPSS != nil {
		if ok, msg := echoed(text, *in.EPSS, EPSSTolerance, epssLabelRe, true, "EPSS", "%.3f"); !ok {
			add(SignalEPSSNotEchoed, WeightScoreNotEchoed, msg)
		}
	}

	if n := len(citationRe.FindAllStringIndex(text, -1)); n < MinCitations {
		add(SignalFewCitations, WeightFewCitations, fmt.Sprintf("only %d citation phrases, want at least %d", n, MinCitations))
	}

	if words := uniqueLower(hedgingRe.FindAllString(text, -1)); len(words) > 0 {
		if len(words) > 3 {
			words = words[:3]
		}
		add(SignalHedging, WeightHedging, "hedging language: "+strings.Join(words, ", "))
	}

	if in.CaseCount > 0 && !caseKeywordRe.MatchString(text) {
		add(SignalNoCaseReference, WeightNoCaseReference, fmt.Sprintf("%d threat cases supplied but none referenced", in.CaseCount))
	}

	if len(strings.TrimSpace(text)) < MinTextLength {
		add(SignalTooShort, WeightAnomaly, "summary is suspiciously short")
	}
	if in.CVEID != "" {
		for _, id := range uniqueUpper(cveMentionRe.FindAllString(text, -1)) {
			if !strings.EqualFold(id, in.CVEID) {
				add(SignalForeignCVE, WeightAnomaly, fmt.Sprintf("summary mentions unrelated %s", id))
			}
		}
	}

	var partial float64
	for _, s := range signals {
		partial += s.Weight
	}
	return signals, partial
}

// mentionsVersion accepts the literal range or its bare version number.
func mentionsVersion(lower, versionRange string) bool {
	vr := strings.ToLower(strings.TrimSpace(versionRange))
	if strings.Contains(lower, vr) {
		return true
	}
	bare := strings.TrimLeft(vr, "<>=^~v ")
	return bare != "" && strings.Contains(lower, bare)
}

// echoed reports whether claimed appears in text. Numbers following a label
// are compared within tol; otherwise the formatted value must appear.
func echoed(text string, claimed, tol float64, label *regexp.Regexp, allowPercent bool, name, format string) (bool, string) {
	var labeled []float64
	for _, loc := range label.FindAllStringIndex(text, -1) {
		end := loc[1] + 40
		if end > len(text) {
			end = len(text)
		}
		for _, tok := range numberRe.FindAllString(text[loc[1]:end], 3) {
			v, ok := parseNumber(tok, allowPercent)
			if !ok {
				continue
			}
			labeled = append(labeled, v)
			if math.Abs(v-claimed) <= tol+1e-9 {
				return true, ""
			}
		}
	}
	want := fmt.Sprintf(format, claimed)
	if containsNumber(text, want) || containsNumber(text, strconv.FormatFloat(claimed, 'f', -1, 64)) {
		return true, ""
	}
	if allowPercent && containsNumber(text, fmt.Sprintf("%.1f%%", claimed*100)) {
		return true, ""
	}
	if len(labeled) > 0 {
		return false, fmt.Sprintf("%s stated as %s, supporting data says %s", name, strconv.FormatFloat(labeled[0], 'f', -1, 64), want)
	}
	return false, fmt.Sprintf("%s %s from supporting data not stated", name, want)
}

func parseNumber(tok string, allowPercent bool) (float64, bool) {
	pct := strings.HasSuffix(tok, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(tok, "%"), 64)
	if err != nil {
		return 0, false
	}
	if pct {
		if !allowPercent {
			return 0, false
		}
		v /= 100
	}
	return v, true
}

// containsNumber matches num as a whole number token.
func containsNumber(text, num string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], num)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(num)
		before := start == 0 || !isNumberByte(text[start-1])
		after := end == len(text) || !isDigit(text[end])
		if before && after {
			return true
		}
		idx = start + 1
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isNumberByte(b byte) bool { return isDigit(b) || b == '.' }

func uniqueLower(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		s = strings.ToLower(s)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func uniqueUpper(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		s = strings.ToUpper(s)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
