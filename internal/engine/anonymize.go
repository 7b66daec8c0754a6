package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/anonymizer/internal/document"
	"github.com/mesh-intelligence/anonymizer/internal/metrics"
	"github.com/mesh-intelligence/anonymizer/internal/pseudonym"
	"github.com/mesh-intelligence/anonymizer/internal/recognizer"
	"github.com/mesh-intelligence/anonymizer/internal/spans"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// Result summarizes one anonymized document.
type Result struct {
	Units    int                // leaves processed, blank leaves excluded
	Entities int                // occurrences replaced
	Failed   []*types.UnitError // units left unchanged because they failed
}

// OK reports whether every unit succeeded.
func (r *Result) OK() bool { return len(r.Failed) == 0 }

// Anonymize rewrites every leaf of u in place. A failing leaf keeps its
// original value and is listed in Result.Failed; the other leaves continue.
// The returned error is reserved for cancellation.
func (r *Run) Anonymize(ctx context.Context, name string, u document.Unit) (*Result, error) {
	res := &Result{}
	err := document.Walk(u, func(path string, value *string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.TrimSpace(*value) == "" {
			return nil
		}
		res.Units++
		out, n, err := r.anonymizeUnit(ctx, *value)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			res.Failed = append(res.Failed, &types.UnitError{Unit: name, Path: path, Err: err})
			r.e.log.Warn("unit failed",
				zap.String("unit", name),
				zap.String("path", path),
				zap.String("kind", types.ErrorKind(err)),
				zap.Error(err))
			return nil
		}
		*value = out
		res.Entities += n
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return res, err
		}
		return res, &types.UnitError{Unit: name, Err: err}
	}
	return res, nil
}

// AnonymizeText rewrites one flat text unit. Blank text is returned as is.
func (r *Run) AnonymizeText(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	out, _, err := r.anonymizeUnit(ctx, text)
	return out, err
}

func (r *Run) anonymizeUnit(ctx context.Context, text string) (string, int, error) {
	start := time.Now()
	out, n, err := r.substitute(ctx, text)
	status := metrics.StatusOK
	if err != nil {
		status = metrics.StatusFailed
	}
	r.e.metrics.ObserveUnit(status, time.Since(start))
	return out, n, err
}

func (r *Run) substitute(ctx context.Context, text string) (string, int, error) {
	e := r.e
	modelSpans, err := e.oracle.Recognize(ctx, text, r.language)
	if err == nil {
		err = recognizer.CheckSpans(text, modelSpans)
	}
	if err != nil {
		e.metrics.RecognitionFailed(types.SourceModel)
		if !errors.Is(err, types.ErrRecognitionFailure) {
			err = fmt.Errorf("%w: oracle: %v", types.ErrRecognitionFailure, err)
		}
		return "", 0, err
	}
	patternSpans, err := e.registry.Recognize(text)
	if err != nil {
		e.metrics.RecognitionFailed("pattern")
		return "", 0, err
	}

	resolved := spans.Resolve(r.filter, modelSpans, patternSpans)
	if len(resolved) == 0 {
		return text, 0, nil
	}

	var b strings.Builder
	b.Grow(len(text))
	cursor, replaced := 0, 0
	for _, s := range resolved {
		normalized := e.fold.Normalize(s.EntityType, s.Text)
		if normalized == "" {
			continue
		}
		rec, err := e.store.GetOrCreate(ctx, e.key, s.EntityType, normalized, r.slugLength)
		if err != nil {
			return "", 0, fmt.Errorf("%s entity: %w", s.EntityType, err)
		}
		if !e.key.Verify(rec.EntityType, rec.OriginalName, rec.FullHash) {
			return "", 0, fmt.Errorf("%w: stored %s entity", types.ErrKeyMismatch, s.EntityType)
		}
		slug := rec.Slug(r.slugLength)
		b.WriteString(text[cursor:s.Start])
		b.WriteString(pseudonym.Token(s.EntityType, slug))
		cursor = s.End
		replaced++

		r.record(types.Assignment{EntityType: s.EntityType, OriginalName: rec.OriginalName, Slug: slug})
		e.metrics.AddEntity(s.EntityType)
	}
	b.WriteString(text[cursor:])
	return b.String(), replaced, nil
}
