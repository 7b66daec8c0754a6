package runner

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mesh-intelligence/anonymizer/internal/engine"
	"github.com/mesh-intelligence/anonymizer/internal/memstore"
	"github.com/mesh-intelligence/anonymizer/internal/pseudonym"
	"github.com/mesh-intelligence/anonymizer/internal/recognizer"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

func newRun(t *testing.T, oracle recognizer.Oracle) *engine.Run {
	t.Helper()
	s := memstore.New()
	require.NoError(t, s.Attach(types.Config{Backend: types.BackendMemory}))
	t.Cleanup(func() { _ = s.Detach() })
	key, err := pseudonym.NewKey([]byte("runner-secret"))
	require.NoError(t, err)
	e, err := engine.New(engine.Config{Oracle: oracle, Store: s, Key: key})
	require.NoError(t, err)
	r, err := e.Start(engine.Options{SlugLength: 8})
	require.NoError(t, err)
	return r
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "anon_a.txt"), OutputPath("out", "a.txt"))
	assert.Equal(t, filepath.Join("out", "sub", "anon_b.json"), OutputPath("out", filepath.Join("sub", "b.json")))
}

func TestRun_DirectoryMirrorsLayout(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "output")
	writeFile(t, filepath.Join(in, "a.txt"), "mail john@example.com now\n")
	writeFile(t, filepath.Join(in, "sub", "b.json"), `{"host":"db01.example.com","port":5432}`)
	writeFile(t, filepath.Join(in, "image.bin"), "\x00\x01")

	r := New(newRun(t, nil), Config{OutputDir: out, Workers: 2})
	report, err := r.Run(context.Background(), []string{in})
	require.NoError(t, err)

	require.Len(t, report.Files, 2)
	assert.Equal(t, 0, report.FailedFiles())
	assert.Equal(t, r.RunID(), report.RunID)
	assert.Equal(t, "en", report.Language)
	assert.Equal(t, 8, report.SlugLength)
	assert.Equal(t, 1, report.EntityCounts[types.EntityEmail])
	assert.Equal(t, 1, report.EntityCounts[types.EntityHostname])
	assert.Equal(t, 2, report.TotalEntities)
	assert.Len(t, report.Assignments, 2)

	a, err := os.ReadFile(filepath.Join(out, "anon_a.txt"))
	require.NoError(t, err)
	assert.Regexp(t, `^mail \[EMAIL_ADDRESS_[0-9a-f]{8}\] now\n$`, string(a))

	b, err := os.ReadFile(filepath.Join(out, "sub", "anon_b.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(b), "db01.example.com")
	assert.Contains(t, string(b), `"port": 5432`)

	_, err = os.Stat(filepath.Join(out, "anon_image.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_FailuresDoNotAbort(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	good := filepath.Join(in, "good.txt")
	bad := filepath.Join(in, "bad.json")
	unsupported := filepath.Join(in, "notes.docx")
	broken := filepath.Join(in, "broken.txt")
	writeFile(t, good, "Alice was here")
	writeFile(t, bad, `{"a":`)
	writeFile(t, unsupported, "x")
	writeFile(t, broken, "boom Alice")

	oracle := recognizer.OracleFunc(func(_ context.Context, text, _ string) ([]types.Span, error) {
		if strings.Contains(text, "boom") {
			return nil, errors.New("oracle crashed")
		}
		return recognizer.FindAll(text, "Alice", types.EntityPerson, 0.9), nil
	})
	r := New(newRun(t, oracle), Config{OutputDir: out, Workers: 3})
	missing := filepath.Join(in, "missing.txt")
	report, err := r.Run(context.Background(), []string{good, bad, unsupported, broken, missing})
	require.NoError(t, err)

	require.Len(t, report.Files, 5)
	byInput := map[string]FileOutcome{}
	for _, f := range report.Files {
		byInput[f.Input] = f
	}
	assert.Equal(t, StatusOK, byInput[good].Status)
	assert.Equal(t, filepath.Join(out, "anon_good.txt"), byInput[good].Output)

	assert.Equal(t, StatusFailed, byInput[bad].Status)
	assert.Equal(t, "structural_mismatch", byInput[bad].ErrorKind)
	assert.Equal(t, StatusFailed, byInput[unsupported].Status)
	assert.Equal(t, "unsupported_format", byInput[unsupported].ErrorKind)
	assert.Equal(t, StatusFailed, byInput[missing].Status)

	brokenOutcome := byInput[broken]
	assert.Equal(t, StatusFailed, brokenOutcome.Status)
	assert.Equal(t, "recognition_failure", brokenOutcome.ErrorKind)
	assert.Empty(t, brokenOutcome.Output)
	require.Len(t, brokenOutcome.FailedUnits, 1)
	assert.Equal(t, "recognition_failure", brokenOutcome.FailedUnits[0].Kind)
	_, err = os.Stat(filepath.Join(out, "anon_broken.txt"))
	assert.True(t, os.IsNotExist(err), "a document with failed units is not written")

	assert.Equal(t, 4, report.FailedFiles())
}

func TestRun_Canceled(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "a.txt"), "john@example.com")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(newRun(t, nil), Config{OutputDir: t.TempDir()})
	report, err := r.Run(ctx, []string{in})
	assert.True(t, IsCanceled(err))
	require.NotNil(t, report)
	assert.Empty(t, report.Files)
}

func TestReport_Write(t *testing.T) {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "a.txt"), "john@example.com")
	r := New(newRun(t, nil), Config{OutputDir: t.TempDir()})
	report, err := r.Run(context.Background(), []string{in})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "logs")
	path, err := report.Write(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report_"+report.RunID+".json"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)
	require.Len(t, decoded.Assignments, 1)
	assert.Equal(t, "john@example.com", decoded.Assignments[0].OriginalName)
	assert.Equal(t, 1, decoded.TotalEntities)
}

func TestRun_LogsFailedFiles(t *testing.T) {
	in := t.TempDir()
	bad := filepath.Join(in, "bad.yaml")
	writeFile(t, bad, "a: [unclosed")

	core, logs := observer.New(zapcore.WarnLevel)
	r := New(newRun(t, nil), Config{OutputDir: t.TempDir(), Logger: zap.New(core)})
	_, err := r.Run(context.Background(), []string{bad})
	require.NoError(t, err)

	entries := logs.FilterMessage("file failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, bad, fields["input"])
	assert.Equal(t, "structural_mismatch", fields["kind"])
	assert.Equal(t, "runner", entries[0].LoggerName)
}
