package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// ImportResult counts the outcome of Import.
type ImportResult struct {
	Inserted  int `json:"inserted"`
	Existing  int `json:"existing"`
	Malformed int `json:"malformed"`
}

// Export writes every record as one JSON object per line. The file is
// replaced atomically (temp file, fsync, rename) with mode 0600 because it
// contains original values.
func Export(ctx context.Context, s types.EntityStore, path string) (int, error) {
	records, err := s.List(ctx, types.EntityFilter{})
	if err != nil {
		return 0, err
	}
	lines := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("encoding %s record: %w", rec.EntityType, err)
		}
		lines = append(lines, data)
	}
	if err := writeJSONL(path, lines); err != nil {
		return 0, err
	}
	return len(lines), nil
}

// Import restores records from a JSONL file. Lines that are not valid JSON
// records are skipped and counted; records whose (type, original name)
// already exists are kept unchanged.
func Import(ctx context.Context, s types.EntityStore, path string) (ImportResult, error) {
	var res ImportResult
	lines, malformed, err := readJSONL(path)
	if err != nil {
		return res, err
	}
	res.Malformed = malformed
	for _, line := range lines {
		var rec types.EntityRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			res.Malformed++
			continue
		}
		inserted, err := s.Restore(ctx, &rec)
		switch {
		case errors.Is(err, types.ErrInvalidRecord):
			res.Malformed++
		case err != nil:
			return res, err
		case inserted:
			res.Inserted++
		default:
			res.Existing++
		}
	}
	return res, nil
}

// readJSONL returns each non-empty, valid JSON line and the number of
// invalid lines it skipped.
func readJSONL(path string) ([]json.RawMessage, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var (
		records []json.RawMessage
		skipped int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			skipped++
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, skipped, nil
}

// writeJSONL atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(what string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", what, err)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail("writing record", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail("writing newline", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
