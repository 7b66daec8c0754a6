package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// FailedUnit is one text unit that could not be anonymized.
type FailedUnit struct {
	Path  string `json:"path,omitempty"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// FileOutcome is the result for one input file.
type FileOutcome struct {
	Input       string       `json:"input"`
	Output      string       `json:"output,omitempty"`
	Status      string       `json:"status"`
	Units       int          `json:"units"`
	Entities    int          `json:"entities"`
	FailedUnits []FailedUnit `json:"failed_units,omitempty"`
	ErrorKind   string       `json:"error_kind,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Report aggregates a run. It contains original entity values and is
// written with owner-only permissions.
type Report struct {
	RunID         string             `json:"run_id"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
	Language      string             `json:"language"`
	SlugLength    int                `json:"slug_length"`
	Files         []FileOutcome      `json:"files"`
	EntityCounts  map[string]int     `json:"entity_counts"`
	TotalEntities int                `json:"total_entities"`
	Assignments   []types.Assignment `json:"assignments"`
}

// FailedFiles counts files that were not written.
func (r *Report) FailedFiles() int {
	n := 0
	for _, f := range r.Files {
		if f.Status != StatusOK {
			n++
		}
	}
	return n
}

func (r *Runner) report(files []FileOutcome) *Report {
	counts := r.run.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	if files == nil {
		files = []FileOutcome{}
	}
	return &Report{
		RunID:         r.runID,
		StartedAt:     r.started,
		FinishedAt:    time.Now().UTC(),
		Language:      r.run.Language(),
		SlugLength:    r.run.SlugLength(),
		Files:         files,
		EntityCounts:  counts,
		TotalEntities: total,
		Assignments:   r.run.Assignments(),
	}
}

// Write stores the report as report_<run-id>.json in dir with mode 0600 and
// returns the file path.
func (r *Report) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	path := filepath.Join(dir, "report_"+r.RunID+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
