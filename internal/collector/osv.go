package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

const DefaultOSVURL = "https://api.osv.dev/v1/query"

var cveIDPattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

var osvEcosystems = map[string]string{
	"npm":      "npm",
	"pypi":     "PyPI",
	"pip":      "PyPI",
	"maven":    "Maven",
	"go":       "Go",
	"golang":   "Go",
	"cargo":    "crates.io",
	"crates":   "crates.io",
	"rubygems": "RubyGems",
	"gem":      "RubyGems",
	"nuget":    "NuGet",
	"composer": "Packagist",
}

// OSV maps a package to the CVE ids of the advisories that affect it.
type OSV struct {
	url  string
	http HTTPDoer
}

func NewOSV(url string, h HTTPDoer) *OSV {
	if url == "" {
		url = DefaultOSVURL
	}
	if h == nil {
		h = defaultHTTPClient()
	}
	return &OSV{url: url, http: h}
}

type osvQuery struct {
	Version   string     `json:"version,omitempty"`
	Package   osvPackage `json:"package"`
	PageToken string     `json:"page_token,omitempty"`
}

type osvPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

type osvResponse struct {
	Vulns []struct {
		ID      string   `json:"id"`
		Aliases []string `json:"aliases"`
	} `json:"vulns"`
	NextPageToken string `json:"next_page_token"`
}

func (o *OSV) FetchCVEs(ctx context.Context, k model.NaturalKey) ([]string, error) {
	eco, ok := osvEcosystems[strings.ToLower(k.Ecosystem)]
	if !ok {
		eco = k.Ecosystem
	}
	q := osvQuery{Package: osvPackage{Name: k.Package, Ecosystem: eco}}
	if isExactVersion(k.VersionRange) {
		q.Version = k.VersionRange
	}

	seen := map[string]struct{}{}
	for page := 0; page < 20; page++ {
		if err := ctxDone(ctx); err != nil {
			return nil, err
		}
		resp, err := o.query(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, v := range resp.Vulns {
			for _, id := range append([]string{v.ID}, v.Aliases...) {
				if cveIDPattern.MatchString(id) {
					seen[id] = struct{}{}
				}
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		q.PageToken = resp.NextPageToken
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (o *OSV) query(ctx context.Context, q osvQuery) (*osvResponse, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, &Error{Collector: "osv", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, readError("osv", resp)
	}
	var out osvResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Collector: "osv", Err: fmt.Errorf("decode: %w", err)}
	}
	return &out, nil
}

// isExactVersion is false for ranges ("<4.17.21", "^1.2") and "latest".
func isExactVersion(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, model.DefaultVersionRange) || strings.EqualFold(v, "all") {
		return false
	}
	return !strings.ContainsAny(v, "<>=^~*, |")
}
