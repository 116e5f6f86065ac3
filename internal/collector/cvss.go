package collector

import (
	"context"
	"errors"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/nvd"
)

// NVDLookup is implemented by *nvd.Client.
type NVDLookup interface {
	Lookup(ctx context.Context, cveID string) (nvd.Record, error)
}

type CVSS struct {
	nvd NVDLookup
}

func NewCVSS(n NVDLookup) *CVSS { return &CVSS{nvd: n} }

// FetchCVSS returns a score with a nil value when NVD knows the CVE but has
// not scored it yet, or does not know it at all.
func (c *CVSS) FetchCVSS(ctx context.Context, cveID string) (model.CVSSScore, error) {
	rec, err := c.nvd.Lookup(ctx, cveID)
	if errors.Is(err, nvd.ErrNotFound) {
		return model.CVSSScore{CVEID: cveID, Source: "nvd", CollectedAt: now()}, nil
	}
	if err != nil {
		return model.CVSSScore{}, &Error{Collector: "nvd", Err: err}
	}
	return model.CVSSScore{
		CVEID:       cveID,
		Score:       rec.Score,
		Vector:      rec.Vector,
		Version:     rec.Version,
		Severity:    rec.Severity,
		Source:      "nvd",
		CollectedAt: now(),
	}, nil
}
