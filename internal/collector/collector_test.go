package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/nvd"
)

func TestOSVCollectsCVEAliasesAcrossPages(t *testing.T) {
	var queries []osvQuery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q osvQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		queries = append(queries, q)
		if q.PageToken == "" {
			_, _ = w.Write([]byte(`{"vulns":[{"id":"GHSA-35jh-r3h4-6jhm","aliases":["CVE-2021-23337"]},{"id":"GHSA-p6mc-m468-83gw","aliases":["CVE-2020-8203"]}],"next_page_token":"p2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"vulns":[{"id":"GHSA-x5rq-j2xg-h7qm","aliases":["CVE-2021-23337"]},{"id":"MAL-2024-1"}]}`))
	}))
	defer srv.Close()

	k := model.NaturalKey{Package: "lodash", VersionRange: "<4.17.21", Ecosystem: "npm"}
	ids, err := NewOSV(srv.URL, nil).FetchCVEs(context.Background(), k)
	require.NoError(t, err)

	assert.Equal(t, []string{"CVE-2020-8203", "CVE-2021-23337"}, ids)
	require.Len(t, queries, 2)
	assert.Equal(t, "npm", queries[0].Package.Ecosystem)
	assert.Empty(t, queries[0].Version, "ranges are not sent as versions")
	assert.Equal(t, "p2", queries[1].PageToken)
}

func TestOSVEmptyIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q osvQuery
		_ = json.NewDecoder(r.Body).Decode(&q)
		assert.Equal(t, "PyPI", q.Package.Ecosystem)
		assert.Equal(t, "2.31.0", q.Version)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ids, err := NewOSV(srv.URL, nil).FetchCVEs(context.Background(), model.NaturalKey{Package: "requests", VersionRange: "2.31.0", Ecosystem: "pypi"})
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestOSVServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOSV(srv.URL, nil).FetchCVEs(context.Background(), model.NaturalKey{Package: "x", Ecosystem: "npm"})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusBadGateway, ce.Status)
	assert.Equal(t, "osv", ce.Collector)
}

func TestIsExactVersion(t *testing.T) {
	assert.True(t, isExactVersion("4.17.20"))
	assert.False(t, isExactVersion("<4.17.21"))
	assert.False(t, isExactVersion("^1.2.0"))
	assert.False(t, isExactVersion("latest"))
	assert.False(t, isExactVersion(">=1.0, <2.0"))
}

func TestEPSSParsesStringScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CVE-2021-44228", r.URL.Query().Get("cve"))
		_, _ = w.Write([]byte(`{"status":"OK","data":[{"cve":"CVE-2021-44228","epss":"0.943580000","percentile":"0.999890000","date":"2025-01-01"}]}`))
	}))
	defer srv.Close()

	s, err := NewEPSS(srv.URL, nil).FetchEPSS(context.Background(), "CVE-2021-44228")
	require.NoError(t, err)
	require.NotNil(t, s.Score)
	assert.InDelta(t, 0.94358, *s.Score, 1e-9)
	require.NotNil(t, s.Percentile)
	assert.Equal(t, "first.org", s.Source)
}

func TestEPSSNoDataIsPresentButEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK","data":[]}`))
	}))
	defer srv.Close()

	s, err := NewEPSS(srv.URL, nil).FetchEPSS(context.Background(), "CVE-2025-0001")
	require.NoError(t, err)
	assert.Nil(t, s.Score)
	assert.Equal(t, "CVE-2025-0001", s.CVEID)
}

func TestEPSSRejectsOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"cve":"CVE-2025-0001","epss":"1.7"}]}`))
	}))
	defer srv.Close()

	_, err := NewEPSS(srv.URL, nil).FetchEPSS(context.Background(), "CVE-2025-0001")
	assert.Error(t, err)
}

type fakeNVD struct {
	rec nvd.Record
	err error
}

func (f fakeNVD) Lookup(context.Context, string) (nvd.Record, error) { return f.rec, f.err }

func TestCVSSFromNVD(t *testing.T) {
	score := 9.8
	s, err := NewCVSS(fakeNVD{rec: nvd.Record{Score: &score, Version: "3.1", Severity: "CRITICAL"}}).FetchCVSS(context.Background(), "CVE-2022-0001")
	require.NoError(t, err)
	assert.Equal(t, 9.8, *s.Score)
	assert.Equal(t, "3.1", s.Version)

	s, err = NewCVSS(fakeNVD{err: nvd.ErrNotFound}).FetchCVSS(context.Background(), "CVE-2022-0002")
	require.NoError(t, err)
	assert.Nil(t, s.Score)

	_, err = NewCVSS(fakeNVD{err: nvd.ErrRateLimited}).FetchCVSS(context.Background(), "CVE-2022-0003")
	assert.ErrorIs(t, err, nvd.ErrRateLimited)
}

type fakeAI struct {
	text string
	err  error
	last string
}

func (f *fakeAI) Infer(_ context.Context, prompt string) (string, error) {
	f.last = prompt
	return f.text, f.err
}

func (f *fakeAI) Name() string { return "fake" }

func TestThreatParsesFencedJSON(t *testing.T) {
	inf := &fakeAI{text: "Here you go:\n```json\n[{\"source\":\"https://example.org/a\",\"title\":\"PoC released\",\"date\":\"2021-02-15\",\"summary\":\"Public exploit for template injection.\"},{\"title\":\"\",\"summary\":\"\"}]\n```"}
	cases, err := NewThreat(inf).FetchCases(context.Background(), model.NaturalKey{Package: "lodash", VersionRange: "<4.17.21", Ecosystem: "npm"}, "CVE-2021-23337")
	require.NoError(t, err)

	require.Len(t, cases, 1)
	assert.Equal(t, "PoC released", cases[0].Title)
	assert.Contains(t, inf.last, "CVE-2021-23337")
	assert.Contains(t, inf.last, "lodash")
}

func TestThreatIgnoresCitationsAroundArray(t *testing.T) {
	inf := &fakeAI{text: "Per [2], exploitation was reported:\n[{\"source\":\"https://example.org/b\",\"title\":\"In-the-wild attack\",\"summary\":\"Observed against CI servers.\"}]\nSources: [1] example.org [2] example.net"}
	cases, err := NewThreat(inf).FetchCases(context.Background(), model.NaturalKey{CVEID: "CVE-2021-44228"}, "CVE-2021-44228")
	require.NoError(t, err)

	require.Len(t, cases, 1)
	assert.Equal(t, "In-the-wild attack", cases[0].Title)
}

func TestThreatEmptyArrayIsNoCases(t *testing.T) {
	cases, err := NewThreat(&fakeAI{text: "[] [1]"}).FetchCases(context.Background(), model.NaturalKey{CVEID: "CVE-2021-1"}, "CVE-2021-1")
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestThreatErrors(t *testing.T) {
	_, err := NewThreat(&fakeAI{text: "no idea"}).FetchCases(context.Background(), model.NaturalKey{CVEID: "CVE-2021-1"}, "CVE-2021-1")
	assert.Error(t, err)

	_, err = NewThreat(&fakeAI{err: errors.New("quota")}).FetchCases(context.Background(), model.NaturalKey{CVEID: "CVE-2021-1"}, "CVE-2021-1")
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "threat", ce.Collector)
}
