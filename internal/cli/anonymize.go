package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/anonymizer/internal/engine"
	"github.com/mesh-intelligence/anonymizer/internal/runner"
)

type anonymizeSummary struct {
	RunID         string         `json:"run_id"`
	Report        string         `json:"report"`
	Files         int            `json:"files"`
	FailedFiles   int            `json:"failed_files"`
	TotalEntities int            `json:"total_entities"`
	EntityCounts  map[string]int `json:"entity_counts"`
}

func newAnonymizeCmd(a *app) *cobra.Command {
	var metricsFile string
	cmd := &cobra.Command{
		Use:   "anonymize <path>...",
		Short: "Anonymize files or directories",
		Long: "Anonymize every supported file (.txt .md .log .text .json .yaml .yml .xml .csv)\n" +
			"under the given paths. Results are written as anon_<name> under the output\n" +
			"directory and a run report is written to the report directory.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAnonymize(cmd, args, metricsFile)
		},
	}

	d := DefaultSettings()
	f := cmd.Flags()
	f.String("lang", d.Anonymize.Language, "language of the input")
	f.StringSlice("preserve-entities", nil, "entity types to leave untouched, e.g. IP_ADDRESS,URL")
	f.StringSlice("allow-list", nil, "terms to leave untouched")
	f.Int("slug-length", d.Anonymize.SlugLength, "slug length in hex characters (1-64)")
	f.String("output-dir", d.OutputDir, "directory for anonymized files")
	f.String("report-dir", d.ReportDir, "directory for run reports")
	f.Int("workers", d.Anonymize.Workers, "files processed concurrently")
	f.StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	bindFlag(f, "lang", "anonymize.language")
	bindFlag(f, "preserve-entities", "anonymize.preserve")
	bindFlag(f, "allow-list", "anonymize.allow_list")
	bindFlag(f, "slug-length", "anonymize.slug_length")
	bindFlag(f, "output-dir", "output_dir")
	bindFlag(f, "report-dir", "report_dir")
	bindFlag(f, "workers", "anonymize.workers")
	return cmd
}

func (a *app) runAnonymize(cmd *cobra.Command, paths []string, metricsFile string) error {
	s := a.settings
	if l := s.Anonymize.SlugLength; l < 1 || l > 64 {
		return userError(fmt.Errorf("slug length must be between 1 and 64, got %d", l))
	}

	sess, err := a.newSession(true)
	if err != nil {
		return err
	}
	defer sess.Close()

	run, err := sess.engine.Start(engine.Options{
		Language:   s.Anonymize.Language,
		Preserve:   s.Anonymize.Preserve,
		AllowList:  s.Anonymize.AllowList,
		SlugLength: s.Anonymize.SlugLength,
		Threshold:  &s.Recognizer.Threshold,
	})
	if err != nil {
		return userError(err)
	}

	r := runner.New(run, runner.Config{
		OutputDir: s.OutputDir,
		Workers:   s.Anonymize.Workers,
		Logger:    a.log,
	})
	report, runErr := r.Run(cmd.Context(), paths)
	reportPath, err := report.Write(s.ReportDir)
	if err != nil {
		return sysError(err)
	}
	if metricsFile != "" {
		if err := sess.metrics.WriteTextfile(metricsFile); err != nil {
			return sysError(fmt.Errorf("write metrics: %w", err))
		}
	}
	if runErr != nil {
		return sysError(fmt.Errorf("run interrupted: %w", runErr))
	}

	summary := anonymizeSummary{
		RunID:         report.RunID,
		Report:        reportPath,
		Files:         len(report.Files),
		FailedFiles:   report.FailedFiles(),
		TotalEntities: report.TotalEntities,
		EntityCounts:  report.EntityCounts,
	}
	out := cmd.OutOrStdout()
	if a.flags.jsonMode {
		if err := writeJSON(out, summary); err != nil {
			return sysError(err)
		}
	} else {
		fmt.Fprintf(out, "anonymized %d file(s), %d failed, %d entities\nreport: %s\n",
			summary.Files-summary.FailedFiles, summary.FailedFiles, summary.TotalEntities, reportPath)
		for _, f := range report.Files {
			if f.Status != runner.StatusOK {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s (%s)\n", f.Input, f.ErrorKind)
			}
		}
	}

	if summary.FailedFiles > 0 {
		a.log.Warn("run completed with failures",
			zap.String("run_id", report.RunID),
			zap.Int("failed_files", summary.FailedFiles))
		return errFailedUnits
	}
	return nil
}
