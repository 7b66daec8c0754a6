// Package engine rewrites text units: it recognizes entities, resolves
// overlapping candidates, assigns keyed pseudonyms through the entity store
// and substitutes [TYPE_slug] tokens. It also reverses tokens.
package engine

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/anonymizer/internal/metrics"
	"github.com/mesh-intelligence/anonymizer/internal/pseudonym"
	"github.com/mesh-intelligence/anonymizer/internal/recognizer"
	"github.com/mesh-intelligence/anonymizer/internal/spans"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// DefaultThreshold is the minimum candidate confidence.
const DefaultThreshold = 0.6

// Config wires an Engine. Key and Store are required; a nil Registry means
// the built-in patterns and a nil Oracle means no statistical recognizer.
type Config struct {
	Registry *recognizer.Registry
	Oracle   recognizer.Oracle
	Store    types.EntityStore
	Key      *pseudonym.Key
	Fold     *pseudonym.FoldPolicy
	Metrics  *metrics.Run
	Logger   *zap.Logger
}

// Engine holds the process-wide collaborators. It is safe for concurrent
// use; per-run state lives in Run.
type Engine struct {
	registry *recognizer.Registry
	oracle   recognizer.Oracle
	store    types.EntityStore
	key      *pseudonym.Key
	fold     pseudonym.FoldPolicy
	metrics  *metrics.Run
	log      *zap.Logger
}

var errNoStore = errors.New("engine: entity store is required")

// New validates cfg and returns an Engine. A nil key is ErrMissingSecretKey.
func New(cfg Config) (*Engine, error) {
	if cfg.Key == nil {
		return nil, types.ErrMissingSecretKey
	}
	if cfg.Store == nil {
		return nil, errNoStore
	}
	e := &Engine{
		registry: cfg.Registry,
		oracle:   cfg.Oracle,
		store:    cfg.Store,
		key:      cfg.Key,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
	}
	if e.registry == nil {
		e.registry = recognizer.Default()
	}
	if e.oracle == nil {
		e.oracle = recognizer.Nop{}
	}
	if cfg.Fold != nil {
		e.fold = *cfg.Fold
	} else {
		e.fold = pseudonym.DefaultFoldPolicy()
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	e.log = e.log.Named("engine")
	return e, nil
}

// Options are the per-run anonymization parameters.
type Options struct {
	Language   string
	Preserve   []string // entity types left untouched
	AllowList  []string // terms left untouched
	SlugLength int      // 1..64; zero or out of range means the full hash
	Threshold  *float64 // minimum confidence; nil means DefaultThreshold
}

// SplitPreserve upper-cases entity type names and separates known types
// from unknown ones.
func SplitPreserve(names []string) (known, unknown []string) {
	for _, n := range names {
		n = strings.ToUpper(strings.TrimSpace(n))
		switch {
		case n == "":
		case types.IsEntityType(n):
			known = append(known, n)
		default:
			unknown = append(unknown, n)
		}
	}
	return known, unknown
}

// Run is one anonymization run. It collects the assignments made by every
// unit it processes and is safe for concurrent use by file workers.
type Run struct {
	e          *Engine
	language   string
	slugLength int
	filter     spans.Filter

	mu          sync.Mutex
	assignments map[types.Assignment]struct{}
	counts      map[string]int
}

// Start validates opts and begins a run. An unsupported language is
// ErrUnsupportedLanguage.
func (e *Engine) Start(opts Options) (*Run, error) {
	lang := opts.Language
	if lang == "" {
		lang = recognizer.DefaultLanguage
	}
	if err := recognizer.CheckLanguage(lang); err != nil {
		return nil, err
	}
	threshold := DefaultThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	known, unknown := SplitPreserve(opts.Preserve)
	if len(unknown) > 0 {
		e.log.Warn("ignoring unknown preserve entity types", zap.Strings("types", unknown))
	}
	return &Run{
		e:           e,
		language:    lang,
		slugLength:  pseudonym.ClampSlugLength(opts.SlugLength),
		filter:      spans.NewFilter(known, opts.AllowList, threshold),
		assignments: make(map[types.Assignment]struct{}),
		counts:      make(map[string]int),
	}, nil
}

// Language returns the run language.
func (r *Run) Language() string { return r.language }

// SlugLength returns the effective slug length.
func (r *Run) SlugLength() int { return r.slugLength }

func (r *Run) record(a types.Assignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[a] = struct{}{}
	r.counts[a.EntityType]++
}

// Assignments returns the distinct (type, original, slug) triples of the
// run, sorted by type, then original name.
func (r *Run) Assignments() []types.Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Assignment, 0, len(r.assignments))
	for a := range r.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		if out[i].OriginalName != out[j].OriginalName {
			return out[i].OriginalName < out[j].OriginalName
		}
		return out[i].Slug < out[j].Slug
	})
	return out
}

// Counts returns replaced occurrences per entity type.
func (r *Run) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}
