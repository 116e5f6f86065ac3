package analysis

import (
	"fmt"
	"strings"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

const systemPrompt = "You are a vulnerability analyst. Only state facts supported by the data you are given " +
	"and attribute each fact to its source."

func describe(in model.AnalysisInput, level string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CVE: %s\n", in.CVEID)
	if !in.Key.IsCVE() {
		fmt.Fprintf(&sb, "Package: %s (%s)\nAffected versions: %s\n", in.Key.Package, in.Key.Ecosystem, in.Key.VersionRange)
	}
	if s := in.Scores.CVSS.Score; s != nil {
		fmt.Fprintf(&sb, "CVSS base score: %.1f", *s)
		if in.Scores.CVSS.Version != "" {
			fmt.Fprintf(&sb, " (CVSS %s)", in.Scores.CVSS.Version)
		}
		sb.WriteString("\n")
	}
	if s := in.Scores.EPSS.Score; s != nil {
		fmt.Fprintf(&sb, "EPSS probability: %.3f\n", *s)
	}
	fmt.Fprintf(&sb, "Assessed risk level: %s\n", level)
	if len(in.Threat.Cases) == 0 {
		sb.WriteString("Threat cases: none reported\n")
	}
	for i, c := range in.Threat.Cases {
		fmt.Fprintf(&sb, "Threat case %d: %s (%s) %s\n", i+1, c.Title, c.Source, c.Summary)
	}
	return sb.String()
}

func summaryPrompt(in model.AnalysisInput, level string) string {
	return describe(in, level) + "\nWrite a concise risk summary of at most 6 sentences. " +
		"Mention the CVE id, the package and affected versions, and repeat the CVSS and EPSS values exactly. " +
		"Introduce facts with phrases such as \"According to\", \"Based on the CVE description\", " +
		"\"NVD reports\" or \"Threat intelligence\". Reference the threat cases if any are listed. " +
		"Start with a line \"Vulnerability Type: <type>\"."
}

func recommendationPrompt(in model.AnalysisInput, level string) string {
	return describe(in, level) + "\nList up to 5 concrete remediation steps, one per line, no numbering."
}

// parseRecommendations strips list markers and keeps at most five lines.
func parseRecommendations(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•0123456789.) ")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == 5 {
			break
		}
	}
	return out
}

func defaultRecommendations(level string) []string {
	switch level {
	case RiskHigh:
		return []string{"Upgrade to a fixed version immediately.", "Review logs for signs of exploitation."}
	case RiskMedium:
		return []string{"Schedule an upgrade to a fixed version.", "Enable heightened monitoring."}
	default:
		return []string{"Track the advisory and upgrade during regular maintenance."}
	}
}
