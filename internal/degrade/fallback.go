package degrade

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

const (
	FallbackSource = "fallback"
	FallbackCVSS   = 5.0
	FallbackEPSS   = 0.5
	FallbackRisk   = "Medium"
	FallbackNote   = "Manual review required due to AI failure."
)

// Every fallback below is a pure function of its input.

// MappingFallback derives a stable synthetic CVE id from the package name.
func MappingFallback(k model.NaturalKey) model.MappingResult {
	if k.IsCVE() {
		return model.MappingResult{CVEIDs: []string{k.CVEID}, Degraded: true}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(k.Package)))
	return model.MappingResult{
		CVEIDs:   []string{fmt.Sprintf("CVE-2025-%04d", h.Sum32()%10000)},
		Degraded: true,
	}
}

func CVSSFallback(cveID string) model.CVSSScore {
	score := FallbackCVSS
	return model.CVSSScore{CVEID: cveID, Score: &score, Severity: "MEDIUM", Source: FallbackSource}
}

func EPSSFallback(cveID string) model.EPSSScore {
	score := FallbackEPSS
	return model.EPSSScore{CVEID: cveID, Score: &score, Source: FallbackSource}
}

func ThreatFallback(cveID string) model.ThreatResult {
	return model.ThreatResult{CVEID: cveID, Cases: []model.ThreatCase{}, Degraded: true}
}

// AnalysisFallback is never verified; its hallucination risk is pinned at 1.
func AnalysisFallback(cveID string) model.AnalysisResult {
	return model.AnalysisResult{
		CVEID:     cveID,
		RiskLevel: FallbackRisk,
		RiskScore: 0.5,
		Recommendations: []string{
			"Upgrade package to latest.",
			"Enable heightened monitoring.",
		},
		Summary:           FallbackNote,
		HallucinationRisk: 1.0,
		Verdict:           model.VerdictUnusable,
		ManualReview:      true,
		Degraded:          true,
	}
}
