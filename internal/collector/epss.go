package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
)

const DefaultEPSSURL = "https://api.first.org/data/v1/epss"

type EPSS struct {
	url  string
	http HTTPDoer
}

func NewEPSS(url string, h HTTPDoer) *EPSS {
	if url == "" {
		url = DefaultEPSSURL
	}
	if h == nil {
		h = defaultHTTPClient()
	}
	return &EPSS{url: url, http: h}
}

type epssResponse struct {
	Data []struct {
		CVE        string `json:"cve"`
		EPSS       string `json:"epss"`
		Percentile string `json:"percentile"`
	} `json:"data"`
}

func (e *EPSS) FetchEPSS(ctx context.Context, cveID string) (model.EPSSScore, error) {
	u := e.url + "?" + url.Values{"cve": {cveID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.EPSSScore{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := e.http.Do(req)
	if err != nil {
		return model.EPSSScore{}, &Error{Collector: "epss", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return model.EPSSScore{}, readError("epss", resp)
	}

	var out epssResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.EPSSScore{}, &Error{Collector: "epss", Err: fmt.Errorf("decode: %w", err)}
	}
	score := model.EPSSScore{CVEID: cveID, Source: "first.org", CollectedAt: now()}
	for _, row := range out.Data {
		if !strings.EqualFold(row.CVE, cveID) {
			continue
		}
		v, err := strconv.ParseFloat(row.EPSS, 64)
		if err != nil || v < 0 || v > 1 {
			return model.EPSSScore{}, &Error{Collector: "epss", Err: fmt.Errorf("bad epss value %q", row.EPSS)}
		}
		score.Score = &v
		if p, err := strconv.ParseFloat(row.Percentile, 64); err == nil {
			score.Percentile = &p
		}
		break
	}
	return score, nil
}
