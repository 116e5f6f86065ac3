// Package collector holds the concrete stage collectors: OSV for package to
// CVE mapping, NVD for CVSS, FIRST for EPSS and an AI search model for threat
// cases. Every collector returns an error on failure and never a partial
// result; the pipeline decides what to do with the error.
package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Error struct {
	Collector string
	Status    int
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Collector, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Collector, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

func readError(name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &Error{Collector: name, Status: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
}

func now() time.Time { return time.Now().UTC().Truncate(time.Second) }

// ctxDone is used by collectors that loop over paginated responses.
func ctxDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
