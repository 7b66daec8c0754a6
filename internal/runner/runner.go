// Package runner anonymizes files and directories with a pool of workers
// and aggregates per-file outcomes into a run report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/anonymizer/internal/document"
	"github.com/mesh-intelligence/anonymizer/internal/engine"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// OutputPrefix is prepended to the base name of every written file.
const OutputPrefix = "anon_"

// DefaultWorkers is the pool size when Config.Workers is not positive.
const DefaultWorkers = 4

// File statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Config controls where results go and how many files run at once.
type Config struct {
	OutputDir string
	Workers   int
	Logger    *zap.Logger
}

// Runner drives one engine run over files.
type Runner struct {
	run     *engine.Run
	cfg     Config
	log     *zap.Logger
	runID   string
	started time.Time
}

// New returns a Runner for run.
func New(run *engine.Run, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "output"
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		run:   run,
		cfg:   cfg,
		log:   log.Named("runner"),
		runID: newRunID(),
	}
}

// RunID identifies the run in logs and the report file name.
func (r *Runner) RunID() string { return r.runID }

type job struct {
	input string
	rel   string // output path relative to OutputDir, before the prefix
	err   error  // discovery failure
}

// Run anonymizes every input. Directories are walked recursively for files
// with a supported extension; files named explicitly are always attempted.
// Per-file failures are recorded in the report and never stop the run; the
// returned error is reserved for cancellation.
func (r *Runner) Run(ctx context.Context, inputs []string) (*Report, error) {
	r.started = time.Now().UTC()
	jobs := r.discover(inputs)
	outcomes := make([]FileOutcome, len(jobs))

	sem := make(chan struct{}, r.cfg.Workers)
	var wg sync.WaitGroup
	var canceled error
dispatch:
	for i, j := range jobs {
		if err := ctx.Err(); err != nil {
			canceled = err
			break
		}
		select {
		case <-ctx.Done():
			canceled = ctx.Err()
			break dispatch
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, j job) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = r.processFile(ctx, j)
		}(i, j)
	}
	wg.Wait()

	var done []FileOutcome
	for i, o := range outcomes {
		if o.Input == "" {
			continue // never dispatched
		}
		done = append(done, outcomes[i])
	}
	report := r.report(done)
	if canceled == nil {
		canceled = ctx.Err()
	}
	r.log.Info("run finished",
		zap.String("run_id", r.runID),
		zap.Int("files", len(done)),
		zap.Int("failed_files", report.FailedFiles()),
		zap.Int("entities", report.TotalEntities))
	return report, canceled
}

func (r *Runner) discover(inputs []string) []job {
	var jobs []job
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			jobs = append(jobs, job{input: in, rel: filepath.Base(in), err: err})
			continue
		}
		if !info.IsDir() {
			jobs = append(jobs, job{input: in, rel: filepath.Base(in)})
			continue
		}
		err = filepath.WalkDir(in, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				jobs = append(jobs, job{input: path, rel: filepath.Base(path), err: err})
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			if _, ferr := document.FormatOf(path); ferr != nil {
				r.log.Debug("skipping unsupported file", zap.String("path", path))
				return nil
			}
			rel, rerr := filepath.Rel(in, path)
			if rerr != nil {
				rel = filepath.Base(path)
			}
			jobs = append(jobs, job{input: path, rel: rel})
			return nil
		})
		if err != nil {
			jobs = append(jobs, job{input: in, rel: filepath.Base(in), err: err})
		}
	}
	return jobs
}

// OutputPath returns where the anonymized copy of rel is written.
func OutputPath(outputDir, rel string) string {
	dir, base := filepath.Split(rel)
	return filepath.Join(outputDir, dir, OutputPrefix+base)
}

func (r *Runner) processFile(ctx context.Context, j job) FileOutcome {
	out := FileOutcome{Input: j.input, Status: StatusFailed}
	fail := func(err error) FileOutcome {
		out.Error = err.Error()
		out.ErrorKind = types.ErrorKind(err)
		r.log.Warn("file failed",
			zap.String("input", j.input),
			zap.String("kind", out.ErrorKind),
			zap.Error(err))
		return out
	}
	if j.err != nil {
		return fail(j.err)
	}

	format, err := document.FormatOf(j.input)
	if err != nil {
		return fail(err)
	}
	data, err := os.ReadFile(j.input)
	if err != nil {
		return fail(fmt.Errorf("read: %w", err))
	}
	unit, err := document.Decode(format, data)
	if err != nil {
		return fail(err)
	}

	res, err := r.run.Anonymize(ctx, j.input, unit)
	if res != nil {
		out.Units = res.Units
		out.Entities = res.Entities
		for _, ue := range res.Failed {
			out.FailedUnits = append(out.FailedUnits, FailedUnit{
				Path:  ue.Path,
				Kind:  types.ErrorKind(ue.Err),
				Error: ue.Err.Error(),
			})
		}
	}
	if err != nil {
		return fail(err)
	}
	if !res.OK() {
		// Writing the document would emit the failed units' original text.
		return fail(fmt.Errorf("%d of %d units failed: %w", len(res.Failed), res.Units, res.Failed[0].Err))
	}

	encoded, err := document.Marshal(unit)
	if err != nil {
		return fail(fmt.Errorf("encode: %w", err))
	}
	dest := OutputPath(r.cfg.OutputDir, j.rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fail(fmt.Errorf("create output dir: %w", err))
	}
	if err := os.WriteFile(dest, encoded, 0o644); err != nil {
		return fail(fmt.Errorf("write output: %w", err))
	}
	out.Output = dest
	out.Status = StatusOK
	r.log.Debug("file done", zap.String("input", j.input), zap.String("output", dest), zap.Int("entities", out.Entities))
	return out
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// IsCanceled reports whether err is a context cancellation or deadline.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
