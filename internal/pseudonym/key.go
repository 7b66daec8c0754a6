// Package pseudonym derives deterministic keyed identifiers for entities.
//
// A Key wraps the installation secret. FullHash is an HMAC-SHA256 over the
// entity type and the normalized text, so identifiers cannot be regenerated
// or guessed without the key. Slug and Token render the display form.
package pseudonym

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/crypto/scrypt"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// DefaultKeyEnv is the environment variable holding the secret.
const DefaultKeyEnv = "ANON_SECRET_KEY"

// Supported key derivation functions.
const (
	KDFNone   = "none"
	KDFScrypt = "scrypt"
)

// scrypt parameters for passphrase stretching.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// HashLen is the length of a full hash in hex characters.
const HashLen = sha256.Size * 2

// Key is the immutable secret used to derive entity identifiers. The zero
// value is not usable; construct with NewKey, DeriveKey or LoadKey.
type Key struct {
	secret []byte
}

var _ types.Hasher = (*Key)(nil)

// NewKey returns a Key over a copy of secret. An empty secret returns
// ErrMissingSecretKey.
func NewKey(secret []byte) (*Key, error) {
	if len(secret) == 0 {
		return nil, types.ErrMissingSecretKey
	}
	cp := make([]byte, len(secret))
	copy(cp, secret)
	return &Key{secret: cp}, nil
}

// DeriveKey stretches passphrase with scrypt and the given salt.
func DeriveKey(passphrase, salt []byte) (*Key, error) {
	if len(passphrase) == 0 {
		return nil, types.ErrMissingSecretKey
	}
	dk, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return &Key{secret: dk}, nil
}

// KeyOptions selects where the secret comes from and how it is stretched.
type KeyOptions struct {
	Env  string // environment variable; DefaultKeyEnv when empty
	KDF  string // KDFNone or KDFScrypt; KDFNone when empty
	Salt string // scrypt salt
}

// LoadKey reads the secret from the environment. A missing or empty variable
// is ErrMissingSecretKey, which callers treat as fatal.
func LoadKey(opts KeyOptions) (*Key, error) {
	env := opts.Env
	if env == "" {
		env = DefaultKeyEnv
	}
	secret := os.Getenv(env)
	if secret == "" {
		return nil, fmt.Errorf("%w: set %s", types.ErrMissingSecretKey, env)
	}

	switch opts.KDF {
	case "", KDFNone:
		return NewKey([]byte(secret))
	case KDFScrypt:
		return DeriveKey([]byte(secret), []byte(opts.Salt))
	default:
		return nil, fmt.Errorf("unknown kdf %q", opts.KDF)
	}
}

// FullHash returns the 64-character hex HMAC-SHA256 of
// entityType || 0x00 || normalized.
func (k *Key) FullHash(entityType, normalized string) string {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write([]byte(entityType))
	mac.Write([]byte{0})
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether fullHash was derived from (entityType, normalized)
// with this key, in constant time.
func (k *Key) Verify(entityType, normalized, fullHash string) bool {
	return hmac.Equal([]byte(k.FullHash(entityType, normalized)), []byte(fullHash))
}
