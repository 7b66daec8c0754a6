package types

import (
	"errors"
	"fmt"
)

// Run-fatal errors.
var (
	ErrMissingSecretKey = errors.New("secret key is not set")
)

// Per-unit errors. They fail the text unit they concern; sibling units and
// files continue.
var (
	ErrRecognitionFailure = errors.New("recognition failed")
	ErrStructuralMismatch = errors.New("document structure cannot be walked")
	ErrUnsupportedFormat  = errors.New("unsupported document format")
	ErrInvalidSpan        = errors.New("invalid span")
)

// Store errors.
var (
	ErrStoreConflict = errors.New("entity store conflict")
	ErrHashCollision = errors.New("full hash already assigned to another entity")
	ErrNotFound      = errors.New("entity not found")
	ErrInvalidRecord = errors.New("invalid entity record")
)

// Reversal errors. They are results for the caller, not crashes.
var (
	ErrSlugNotFound  = errors.New("no entity matches slug")
	ErrAmbiguousSlug = errors.New("slug matches more than one entity")
	ErrInvalidToken  = errors.New("invalid token")
	ErrKeyMismatch   = errors.New("entity was not derived with the current secret key")
)

// Input errors.
var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// UnitError attaches a failure to the text unit it concerns. Unit names the
// document (usually a file path); Path locates the node inside a structured
// document and is empty for flat text.
type UnitError struct {
	Unit string
	Path string
	Err  error
}

func (e *UnitError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Unit, e.Err)
	}
	return fmt.Sprintf("%s at %s: %v", e.Unit, e.Path, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// ErrorKind returns a stable short name for the sentinel wrapped by err, used
// in run reports and metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingSecretKey):
		return "missing_secret_key"
	case errors.Is(err, ErrRecognitionFailure):
		return "recognition_failure"
	case errors.Is(err, ErrStructuralMismatch):
		return "structural_mismatch"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrStoreConflict):
		return "store_conflict"
	case errors.Is(err, ErrHashCollision):
		return "hash_collision"
	case errors.Is(err, ErrAmbiguousSlug):
		return "ambiguous_slug"
	case errors.Is(err, ErrSlugNotFound):
		return "slug_not_found"
	case errors.Is(err, ErrKeyMismatch):
		return "key_mismatch"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	default:
		return "error"
	}
}
