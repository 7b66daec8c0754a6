// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// sourceRoots are the trees that hold the anon packages.
var sourceRoots = []string{"cmd", "internal", "pkg"}

// pkgStat is the line count of one Go package directory.
type pkgStat struct {
	Package string `json:"package"`
	Files   int    `json:"files"`
	Prod    int    `json:"loc_prod"`
	Test    int    `json:"loc_test"`
}

// Stats prints one JSON line per package with its production and test line
// counts, followed by a "total" line.
func Stats() error {
	stats, err := packageStats(".")
	if err != nil {
		return err
	}
	total := pkgStat{Package: "total"}
	enc := json.NewEncoder(os.Stdout)
	for _, s := range stats {
		total.Files += s.Files
		total.Prod += s.Prod
		total.Test += s.Test
		if err := enc.Encode(s); err != nil {
			return err
		}
	}
	return enc.Encode(total)
}

// packageStats walks the source roots under root and returns per-directory
// counts sorted by package path. testdata directories are skipped.
func packageStats(root string) ([]pkgStat, error) {
	byDir := map[string]*pkgStat{}
	for _, top := range sourceRoots {
		err := filepath.WalkDir(filepath.Join(root, top), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == "testdata" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") {
				return nil
			}
			n, err := countLines(path)
			if err != nil {
				return fmt.Errorf("count %s: %w", path, err)
			}
			rel, err := filepath.Rel(root, filepath.Dir(path))
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			s, ok := byDir[rel]
			if !ok {
				s = &pkgStat{Package: rel}
				byDir[rel] = s
			}
			s.Files++
			if strings.HasSuffix(path, "_test.go") {
				s.Test += n
			} else {
				s.Prod += n
			}
			return nil
		})
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
	}

	out := make([]pkgStat, 0, len(byDir))
	for _, s := range byDir {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Package < out[j].Package })
	return out, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}
