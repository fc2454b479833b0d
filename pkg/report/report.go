package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the terminal outcome of one inspected work item.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// OutcomeRecord captures the result for one located and inspected work
// item. Created once, never mutated; the append-only record list is the
// sole input to aggregation.
type OutcomeRecord struct {
	Code          string    `json:"code"`
	Account       string    `json:"account"`
	Status        Status    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	FailureDetail string    `json:"failure_detail,omitempty"`
}

// AccountRun carries per-account facts that live outside the record list:
// whether login never succeeded, and whether the account located none of
// its candidates.
type AccountRun struct {
	Account     string `json:"account"`
	LoginFailed bool   `json:"login_failed"`
	NoItems     bool   `json:"no_items"`
}

// Report is the full output of one run: aggregate statistics plus the raw
// record list, serialized as JSON for the upload sink.
type Report struct {
	RunID       string          `json:"run_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Summary     Summary         `json:"summary"`
	Records     []OutcomeRecord `json:"records"`
	NotFound    []string        `json:"not_found"`
}

// Marshal renders the report as indented JSON.
func (r *Report) Marshal() ([]byte, error) {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return raw, nil
}

// WriteFile persists the report under dir, named after the run ID.
func (r *Report) WriteFile(dir string) (string, error) {
	raw, err := r.Marshal()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("run-%s.json", r.RunID))
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
