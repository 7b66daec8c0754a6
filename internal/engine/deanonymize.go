package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/anonymizer/internal/pseudonym"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// Deanonymize resolves a token ("[TYPE_slug]", "TYPE_slug" or a bare slug)
// to its entity record. When the token names a type only records of that
// type match. The record must have been derived with the engine's key.
func (e *Engine) Deanonymize(ctx context.Context, token string) (*types.EntityRecord, error) {
	entityType, slug, err := pseudonym.ParseToken(token)
	if err != nil {
		return nil, err
	}
	rec, err := e.store.LookupByPrefix(ctx, entityType, slug)
	if err != nil {
		return nil, err
	}
	if !e.key.Verify(rec.EntityType, rec.OriginalName, rec.FullHash) {
		return nil, fmt.Errorf("%w: %s", types.ErrKeyMismatch, pseudonym.Token(rec.EntityType, slug))
	}
	return rec, nil
}

// Unresolved is a token DeanonymizeText left in place.
type Unresolved struct {
	Token string
	Err   error
}

// DeanonymizeText replaces every [TYPE_slug] token in text with its
// original value. Tokens that cannot be resolved stay as they are and are
// returned in order of appearance. Only cancellation is an error.
func (e *Engine) DeanonymizeText(ctx context.Context, text string) (string, []Unresolved, error) {
	matches := pseudonym.TokenPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text, nil, nil
	}

	var (
		b          strings.Builder
		unresolved []Unresolved
		cursor     int
	)
	cache := make(map[string]string)
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		token := text[m[0]:m[1]]
		b.WriteString(text[cursor:m[0]])
		cursor = m[1]

		original, ok := cache[token]
		if !ok {
			rec, err := e.Deanonymize(ctx, token)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return "", nil, ctxErr
				}
				unresolved = append(unresolved, Unresolved{Token: token, Err: err})
				b.WriteString(token)
				continue
			}
			original = rec.OriginalName
			cache[token] = original
		}
		b.WriteString(original)
	}
	b.WriteString(text[cursor:])
	return b.String(), unresolved, nil
}
