package pseudonym

import (
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// DefaultCaseFold lists the entity types compared case-insensitively.
// Natural-language types keep their case.
var DefaultCaseFold = []string{
	types.EntityHostname,
	types.EntityURL,
	types.EntityEmail,
	types.EntityHash,
	types.EntityUUID,
	types.EntityCertSerial,
}

// FoldPolicy records which entity types are case-folded before hashing.
type FoldPolicy struct {
	fold map[string]bool
}

// NewFoldPolicy folds exactly the listed entity types. Labels are matched
// upper-cased.
func NewFoldPolicy(entityTypes []string) FoldPolicy {
	p := FoldPolicy{fold: make(map[string]bool, len(entityTypes))}
	for _, t := range entityTypes {
		p.fold[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	return p
}

// DefaultFoldPolicy returns NewFoldPolicy(DefaultCaseFold).
func DefaultFoldPolicy() FoldPolicy {
	return NewFoldPolicy(DefaultCaseFold)
}

// Folds reports whether entityType is case-folded.
func (p FoldPolicy) Folds(entityType string) bool {
	return p.fold[entityType]
}

// Types returns the folded entity types.
func (p FoldPolicy) Types() []string {
	out := make([]string, 0, len(p.fold))
	for t := range p.fold {
		out = append(out, t)
	}
	return out
}

// Normalize canonicalizes raw for entityType: NormalizeText, then case folding
// when the policy folds the type. Hostnames fold through IDNA lookup mapping.
func (p FoldPolicy) Normalize(entityType, raw string) string {
	s := NormalizeText(raw)
	if !p.fold[entityType] {
		return s
	}
	if entityType == types.EntityHostname {
		if h, err := idna.Lookup.ToUnicode(s); err == nil && h != "" {
			return h
		}
	}
	return cases.Fold().String(s)
}

// NormalizeText applies NFC, collapses whitespace runs to one space and trims.
// It is the type-independent part of normalization.
func NormalizeText(raw string) string {
	return strings.Join(strings.Fields(norm.NFC.String(raw)), " ")
}
