package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Entity type labels. The label set is closed: recognizers and oracle
// adapters only emit these values, and substitution tokens embed them.
const (
	EntityPerson       = "PERSON"
	EntityLocation     = "LOCATION"
	EntityOrganization = "ORGANIZATION"
	EntityEmail        = "EMAIL_ADDRESS"
	EntityPhone        = "PHONE_NUMBER"
	EntityIPAddress    = "IP_ADDRESS"
	EntityURL          = "URL"
	EntityHostname     = "HOSTNAME"
	EntityHash         = "HASH"
	EntityUUID         = "UUID"
	EntityCertSerial   = "CERT_SERIAL"
	EntityCPE          = "CPE_STRING"
	EntityCertBody     = "CERT_BODY"
	EntityCreditCard   = "CREDIT_CARD"
)

var entityTypes = map[string]string{
	EntityPerson:       "Names of people",
	EntityLocation:     "Places, cities, countries",
	EntityOrganization: "Companies and institutions",
	EntityEmail:        "Email addresses",
	EntityPhone:        "Telephone numbers",
	EntityIPAddress:    "IPv4 and IPv6 addresses",
	EntityURL:          "Web addresses",
	EntityHostname:     "Host names, localhost, certificate CNs, hex host IDs",
	EntityHash:         "SHA-256 digests and colon-separated MD5 fingerprints",
	EntityUUID:         "UUIDs",
	EntityCertSerial:   "40-digit hexadecimal certificate serials",
	EntityCPE:          "CPE 2.2 platform identifiers",
	EntityCertBody:     "Base64 DER certificate bodies",
	EntityCreditCard:   "Payment card numbers",
}

// EntityTypes returns every known entity type label in sorted order.
func EntityTypes() []string {
	out := make([]string, 0, len(entityTypes))
	for t := range entityTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// IsEntityType reports whether label is a known entity type.
func IsEntityType(label string) bool {
	_, ok := entityTypes[label]
	return ok
}

// DescribeEntityType returns a short human description of the type, or "".
func DescribeEntityType(label string) string {
	return entityTypes[label]
}

// EntityRecord is one persisted mapping between a normalized original value
// and its keyed identifier. ID and FullHash never change after creation.
type EntityRecord struct {
	ID           string    `json:"id"`
	EntityType   string    `json:"entity_type"`
	OriginalName string    `json:"original_name"`
	SlugName     string    `json:"slug_name"`
	FullHash     string    `json:"full_hash"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// Slug returns the first length characters of FullHash, with length clamped
// to [1, len(FullHash)]. A non-positive length yields the full hash.
func (r *EntityRecord) Slug(length int) string {
	if length <= 0 || length > len(r.FullHash) {
		return r.FullHash
	}
	return r.FullHash[:length]
}

// EntityFilter narrows EntityStore.List. Zero values match everything.
type EntityFilter struct {
	EntityType string
	Limit      int
}

// Assignment is one (entity_type, original_name, slug) triple produced by an
// anonymization run, for reporting.
type Assignment struct {
	EntityType   string `json:"entity_type"`
	OriginalName string `json:"original_name"`
	Slug         string `json:"slug"`
}

// NormalizePrefix lower-cases a slug or full-hash prefix and checks that it
// is 1 to 64 hex digits.
func NormalizePrefix(prefix string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(prefix))
	if p == "" || len(p) > 64 {
		return "", fmt.Errorf("%w: slug %q must be 1 to 64 hex digits", ErrInvalidToken, prefix)
	}
	for i := 0; i < len(p); i++ {
		c := p[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("%w: slug %q is not hex", ErrInvalidToken, prefix)
		}
	}
	return p, nil
}

// PrepareRestore validates an imported record and fills derivable fields: a
// missing SlugName becomes the full hash and zero timestamps become now. The
// input is not modified. ID is left for the store to assign.
func PrepareRestore(rec *EntityRecord, now time.Time) (*EntityRecord, error) {
	if rec == nil || rec.EntityType == "" || rec.OriginalName == "" {
		return nil, fmt.Errorf("%w: record needs entity_type and original_name", ErrInvalidRecord)
	}
	fullHash, err := NormalizePrefix(rec.FullHash)
	if err != nil || len(fullHash) != 64 {
		return nil, fmt.Errorf("%w: full_hash of %s record must be 64 hex digits", ErrInvalidRecord, rec.EntityType)
	}
	out := *rec
	out.FullHash = fullHash
	if out.SlugName == "" {
		out.SlugName = fullHash
	}
	if out.FirstSeen.IsZero() {
		out.FirstSeen = now
	}
	if out.LastSeen.IsZero() {
		out.LastSeen = out.FirstSeen
	}
	out.FirstSeen = out.FirstSeen.UTC()
	out.LastSeen = out.LastSeen.UTC()
	return &out, nil
}
