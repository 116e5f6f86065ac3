package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/ai"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

const maxThreatCases = 10

// Threat asks a search-capable model for public exploitation reports.
type Threat struct {
	ai ai.Inferencer
}

func NewThreat(inf ai.Inferencer) *Threat { return &Threat{ai: inf} }

type threatCase struct {
	Source  string `json:"source"`
	Title   string `json:"title"`
	Date    string `json:"date"`
	Summary string `json:"summary"`
}

func (t *Threat) FetchCases(ctx context.Context, k model.NaturalKey, cveID string) ([]model.ThreatCase, error) {
	if t.ai == nil {
		return nil, &Error{Collector: "threat", Err: fmt.Errorf("no inferencer configured")}
	}
	text, err := t.ai.Infer(ctx, threatPrompt(k, cveID))
	if err != nil {
		return nil, &Error{Collector: "threat", Err: err}
	}
	parsed, err := decodeCases(text)
	if err != nil {
		return nil, &Error{Collector: "threat", Err: err}
	}

	ts := now()
	cases := make([]model.ThreatCase, 0, len(parsed))
	for _, c := range parsed {
		if strings.TrimSpace(c.Title) == "" && strings.TrimSpace(c.Summary) == "" {
			continue
		}
		cases = append(cases, model.ThreatCase{
			Source:      strings.TrimSpace(c.Source),
			Title:       strings.TrimSpace(c.Title),
			Date:        strings.TrimSpace(c.Date),
			Summary:     strings.TrimSpace(c.Summary),
			CollectedAt: ts,
		})
		if len(cases) == maxThreatCases {
			break
		}
	}
	return cases, nil
}

func threatPrompt(k model.NaturalKey, cveID string) string {
	subject := cveID
	if !k.IsCVE() {
		subject = fmt.Sprintf("%s (package %s, %s ecosystem, versions %s)", cveID, k.Package, k.Ecosystem, k.VersionRange)
	}
	return "Find publicly reported exploitation cases, proof-of-concept releases or in-the-wild attacks for " +
		subject + ". Answer with a JSON array only, each element an object with keys " +
		`"source" (URL), "title", "date" (YYYY-MM-DD if known) and "summary". ` +
		"Answer [] when nothing credible has been reported."
}

// decodeCases decodes the first JSON array of cases in text. Prose, markdown
// fences and trailing citations such as [1] around the array are ignored.
func decodeCases(text string) ([]threatCase, error) {
	var lastErr error
	for off := 0; ; {
		i := strings.IndexByte(text[off:], '[')
		if i < 0 {
			break
		}
		start := off + i
		var parsed []threatCase
		err := json.NewDecoder(strings.NewReader(text[start:])).Decode(&parsed)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
		off = start + 1
	}
	if lastErr != nil {
		return nil, fmt.Errorf("decode cases: %w", lastErr)
	}
	return nil, fmt.Errorf("no json array in response")
}
