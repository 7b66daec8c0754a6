package pseudonym

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// TokenPattern matches a substitution token in text. Group 1 is the entity
// type, group 2 the slug.
var TokenPattern = regexp.MustCompile(`\[([A-Z][A-Z0-9_]*?)_([0-9a-f]{1,64})\]`)

var (
	typePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	slugPattern = regexp.MustCompile(`^[0-9a-f]{1,64}$`)
)

// ClampSlugLength clamps length to [1, HashLen]. Non-positive lengths mean
// the full hash.
func ClampSlugLength(length int) int {
	if length <= 0 || length > HashLen {
		return HashLen
	}
	return length
}

// Slug returns the first length characters of fullHash, clamped to
// [1, len(fullHash)].
func Slug(fullHash string, length int) string {
	if length <= 0 || length > len(fullHash) {
		return fullHash
	}
	return fullHash[:length]
}

// Token formats the substitution token [<TYPE>_<slug>].
func Token(entityType, slug string) string {
	return "[" + entityType + "_" + slug + "]"
}

// ParseToken accepts "[TYPE_slug]", "TYPE_slug" or a bare slug and returns
// the entity type (empty for a bare slug) and the lower-cased slug.
func ParseToken(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		s = s[1 : len(s)-1]
	}

	entityType := ""
	slug := s
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		entityType, slug = s[:i], s[i+1:]
		if !typePattern.MatchString(entityType) {
			return "", "", fmt.Errorf("%w: bad entity type %q", types.ErrInvalidToken, entityType)
		}
	}

	slug = strings.ToLower(slug)
	if !slugPattern.MatchString(slug) {
		return "", "", fmt.Errorf("%w: slug must be 1-64 hex characters", types.ErrInvalidToken)
	}
	return entityType, slug, nil
}
