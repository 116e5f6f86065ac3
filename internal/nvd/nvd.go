// Package nvd is a small client for the NVD CVE API 2.0.
package nvd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

var (
	ErrNotFound    = errors.New("nvd: cve not found")
	ErrRateLimited = errors.New("nvd: rate limited")
)

type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nvd: unexpected status %d: %s", e.Status, e.Body)
}

type Record struct {
	CVEID       string
	Description string
	Score       *float64
	Version     string
	Vector      string
	Severity    string
	Source      string
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// New creates a client that spaces requests at least minInterval apart.
// minInterval <= 0 disables client-side throttling.
func New(baseURL, apiKey string, minInterval time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	if minInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) HasAPIKey() bool { return c.apiKey != "" }

// Lookup fetches one CVE and selects its most specific CVSS metric.
func (c *Client) Lookup(ctx context.Context, cveID string) (Record, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Record{}, err
	}
	u := c.baseURL + "?" + url.Values{"cveId": {cveID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Record{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apiKey", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("nvd request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusForbidden:
		return Record{}, ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return Record{}, ErrNotFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Record{}, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Record{}, fmt.Errorf("nvd decode: %w", err)
	}
	for _, v := range payload.Vulnerabilities {
		if strings.EqualFold(v.CVE.ID, cveID) {
			return v.CVE.record(), nil
		}
	}
	return Record{}, ErrNotFound
}

type response struct {
	Vulnerabilities []struct {
		CVE cve `json:"cve"`
	} `json:"vulnerabilities"`
}

type cve struct {
	ID           string `json:"id"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics map[string][]metric `json:"metrics"`
}

type metric struct {
	Source       string `json:"source"`
	Type         string `json:"type"`
	BaseSeverity string `json:"baseSeverity"`
	CVSSData     struct {
		Version      string   `json:"version"`
		VectorString string   `json:"vectorString"`
		BaseScore    *float64 `json:"baseScore"`
		BaseSeverity string   `json:"baseSeverity"`
	} `json:"cvssData"`
}

// newest scoring standard first
var metricOrder = []string{"cvssMetricV40", "cvssMetricV31", "cvssMetricV30", "cvssMetricV2"}

func (c cve) record() Record {
	r := Record{CVEID: c.ID}
	for _, d := range c.Descriptions {
		if d.Lang == "en" {
			r.Description = d.Value
			break
		}
	}
	for _, name := range metricOrder {
		m, ok := pickMetric(c.Metrics[name])
		if !ok {
			continue
		}
		r.Score = m.CVSSData.BaseScore
		r.Version = m.CVSSData.Version
		r.Vector = m.CVSSData.VectorString
		r.Source = m.Source
		r.Severity = m.CVSSData.BaseSeverity
		if r.Severity == "" {
			r.Severity = m.BaseSeverity
		}
		break
	}
	return r
}

// pickMetric prefers the Primary (NVD-scored) entry over CNA entries.
func pickMetric(ms []metric) (metric, bool) {
	var first *metric
	for i := range ms {
		if ms[i].CVSSData.BaseScore == nil {
			continue
		}
		if strings.EqualFold(ms[i].Type, "Primary") {
			return ms[i], true
		}
		if first == nil {
			first = &ms[i]
		}
	}
	if first == nil {
		return metric{}, false
	}
	return *first, true
}
