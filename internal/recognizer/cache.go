package recognizer

import (
	"context"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// CachedOracle memoizes successful oracle results by (language, text).
// Repeated cells and boilerplate paragraphs are common in document sets and
// the oracle is the slow path. Errors are never cached.
type CachedOracle struct {
	inner Oracle
	cache *lru.Cache[uint64, cachedResult]
}

type cachedResult struct {
	language string
	text     string
	spans    []types.Span
}

// NewCachedOracle wraps inner with an LRU of size entries.
func NewCachedOracle(inner Oracle, size int) (*CachedOracle, error) {
	c, err := lru.New[uint64, cachedResult](size)
	if err != nil {
		return nil, err
	}
	return &CachedOracle{inner: inner, cache: c}, nil
}

// Recognize serves from the cache or calls the wrapped oracle.
func (o *CachedOracle) Recognize(ctx context.Context, text, language string) ([]types.Span, error) {
	key := cacheKey(text, language)
	if hit, ok := o.cache.Get(key); ok && hit.text == text && hit.language == language {
		return cloneSpans(hit.spans), nil
	}

	spans, err := o.inner.Recognize(ctx, text, language)
	if err != nil {
		return nil, err
	}
	o.cache.Add(key, cachedResult{language: language, text: text, spans: cloneSpans(spans)})
	return spans, nil
}

// Len returns the number of cached results.
func (o *CachedOracle) Len() int { return o.cache.Len() }

func cacheKey(text, language string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(language)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(text)
	return d.Sum64()
}

func cloneSpans(in []types.Span) []types.Span {
	if in == nil {
		return nil
	}
	out := make([]types.Span, len(in))
	copy(out, in)
	return out
}
