package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultVersionRange = "latest"
	DefaultEcosystem    = "npm"
)

var cvePattern = regexp.MustCompile(`(?i)^CVE-\d{4}-\d{4,}$`)

// IsCVEID reports whether s looks like a CVE identifier.
func IsCVEID(s string) bool {
	return cvePattern.MatchString(strings.TrimSpace(s))
}

type AnalysisRequest struct {
	Subject      string `json:"subject"`
	VersionRange string `json:"version_range"`
	Ecosystem    string `json:"ecosystem"`
	Force        bool   `json:"force"`
	SkipThreat   bool   `json:"skip_threat"`
}

// Normalize trims fields, applies defaults and upper-cases CVE subjects.
func (r AnalysisRequest) Normalize() AnalysisRequest {
	r.Subject = strings.TrimSpace(r.Subject)
	r.VersionRange = strings.TrimSpace(r.VersionRange)
	r.Ecosystem = strings.ToLower(strings.TrimSpace(r.Ecosystem))
	if IsCVEID(r.Subject) {
		r.Subject = strings.ToUpper(r.Subject)
	}
	if r.VersionRange == "" {
		r.VersionRange = DefaultVersionRange
	}
	if r.Ecosystem == "" {
		r.Ecosystem = DefaultEcosystem
	}
	return r
}

func (r AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.Subject) == "" {
		return &ValidationError{Field: "subject", Reason: "required"}
	}
	if len(r.Subject) > 214 {
		return &ValidationError{Field: "subject", Reason: "too long"}
	}
	if strings.ContainsAny(r.Subject, " \t\r\n") {
		return &ValidationError{Field: "subject", Reason: "must not contain whitespace"}
	}
	return nil
}

func (r AnalysisRequest) IsCVE() bool { return IsCVEID(r.Subject) }

func (r AnalysisRequest) Key() NaturalKey {
	if r.IsCVE() {
		return NaturalKey{CVEID: r.Subject}
	}
	return NaturalKey{Package: r.Subject, VersionRange: r.VersionRange, Ecosystem: r.Ecosystem}
}

// NaturalKey identifies a request for idempotent upserts: either the package
// triple or the CVE id alone.
type NaturalKey struct {
	Package      string `json:"package,omitempty"`
	VersionRange string `json:"version_range,omitempty"`
	Ecosystem    string `json:"ecosystem,omitempty"`
	CVEID        string `json:"cve_id,omitempty"`
}

func (k NaturalKey) IsCVE() bool { return k.Package == "" && k.CVEID != "" }

func (k NaturalKey) String() string {
	if k.IsCVE() {
		return k.CVEID
	}
	return fmt.Sprintf("%s:%s@%s", k.Ecosystem, k.Package, k.VersionRange)
}

type QueueTask struct {
	ID         string          `json:"id"`
	Payload    AnalysisRequest `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// DecodeTask parses a raw queue payload. Any structural problem is reported
// as a *ValidationError so the caller can dead-letter it without a retry.
func DecodeTask(raw []byte) (QueueTask, error) {
	var t QueueTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return QueueTask{}, &ValidationError{Field: "payload", Reason: "invalid json: " + err.Error()}
	}
	t.Payload = t.Payload.Normalize()
	if err := t.Payload.Validate(); err != nil {
		return QueueTask{}, err
	}
	return t, nil
}

type DLQEntry struct {
	Task           json.RawMessage `json:"task"`
	ErrorMsg       string          `json:"error_msg"`
	ErrorTimestamp time.Time       `json:"error_timestamp"`
	Traceback      string          `json:"traceback,omitempty"`
	WorkerID       string          `json:"worker_id,omitempty"`
}
