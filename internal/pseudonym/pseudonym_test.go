// Tests for key handling, normalization, hashing and token formats.
package pseudonym

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

var hexHash = regexp.MustCompile(`^[0-9a-f]{64}$`)

func mustKey(t *testing.T, secret string) *Key {
	t.Helper()
	k, err := NewKey([]byte(secret))
	require.NoError(t, err)
	return k
}

func TestNewKey_Empty(t *testing.T) {
	_, err := NewKey(nil)
	assert.ErrorIs(t, err, types.ErrMissingSecretKey)

	_, err = DeriveKey(nil, []byte("salt"))
	assert.ErrorIs(t, err, types.ErrMissingSecretKey)
}

func TestNewKey_CopiesSecret(t *testing.T) {
	secret := []byte("s3cret")
	k, err := NewKey(secret)
	require.NoError(t, err)
	before := k.FullHash(types.EntityPerson, "John Doe")

	secret[0] = 'X'
	assert.Equal(t, before, k.FullHash(types.EntityPerson, "John Doe"))
}

func TestLoadKey(t *testing.T) {
	t.Run("missing env is fatal", func(t *testing.T) {
		t.Setenv("ANON_TEST_KEY", "")
		_, err := LoadKey(KeyOptions{Env: "ANON_TEST_KEY"})
		assert.ErrorIs(t, err, types.ErrMissingSecretKey)
	})

	t.Run("raw secret", func(t *testing.T) {
		t.Setenv("ANON_TEST_KEY", "s3cret")
		k, err := LoadKey(KeyOptions{Env: "ANON_TEST_KEY"})
		require.NoError(t, err)
		assert.Equal(t, mustKey(t, "s3cret").FullHash("URL", "x"), k.FullHash("URL", "x"))
	})

	t.Run("scrypt differs from raw and is stable", func(t *testing.T) {
		t.Setenv("ANON_TEST_KEY", "s3cret")
		a, err := LoadKey(KeyOptions{Env: "ANON_TEST_KEY", KDF: KDFScrypt, Salt: "salt"})
		require.NoError(t, err)
		b, err := LoadKey(KeyOptions{Env: "ANON_TEST_KEY", KDF: KDFScrypt, Salt: "salt"})
		require.NoError(t, err)

		assert.Equal(t, a.FullHash("URL", "x"), b.FullHash("URL", "x"))
		assert.NotEqual(t, mustKey(t, "s3cret").FullHash("URL", "x"), a.FullHash("URL", "x"))
	})

	t.Run("unknown kdf", func(t *testing.T) {
		t.Setenv("ANON_TEST_KEY", "s3cret")
		_, err := LoadKey(KeyOptions{Env: "ANON_TEST_KEY", KDF: "argon"})
		assert.Error(t, err)
	})
}

func TestFullHash(t *testing.T) {
	k := mustKey(t, "s3cret")

	h := k.FullHash(types.EntityPerson, "John Doe")
	assert.Regexp(t, hexHash, h)
	assert.Len(t, h, HashLen)

	assert.Equal(t, h, k.FullHash(types.EntityPerson, "John Doe"), "deterministic")
	assert.NotEqual(t, h, k.FullHash(types.EntityOrganization, "John Doe"), "type is part of the MAC input")
	assert.NotEqual(t, h, k.FullHash(types.EntityPerson, "john doe"), "case preserved")
	assert.NotEqual(t, h, mustKey(t, "other").FullHash(types.EntityPerson, "John Doe"), "keyed")

	// The separator keeps type and text from sliding into each other.
	assert.NotEqual(t, k.FullHash("AB", "C"), k.FullHash("A", "BC"))

	assert.True(t, k.Verify(types.EntityPerson, "John Doe", h))
	assert.False(t, mustKey(t, "other").Verify(types.EntityPerson, "John Doe", h))
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"John Doe", "John Doe"},
		{"  John \t\n  Doe  ", "John Doe"},
		{"", ""},
		{"   ", ""},
		{"José", "José"},
		{"Jose\u0301", "Jos\u00e9"},
		{"a b", "a b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeText(tt.in), "NormalizeText(%q)", tt.in)
	}
}

func TestFoldPolicy(t *testing.T) {
	p := DefaultFoldPolicy()

	tests := []struct {
		name       string
		entityType string
		in         string
		want       string
	}{
		{"person keeps case", types.EntityPerson, "John  DOE", "John DOE"},
		{"organization keeps case", types.EntityOrganization, "ACME Corp", "ACME Corp"},
		{"location keeps case", types.EntityLocation, "Paris", "Paris"},
		{"hostname folds", types.EntityHostname, "WWW.Example.COM", "www.example.com"},
		{"url folds", types.EntityURL, "HTTPS://Example.com/Path", "https://example.com/path"},
		{"email folds", types.EntityEmail, "John@X.com", "john@x.com"},
		{"hash folds", types.EntityHash, "ABCDEF", "abcdef"},
		{"uuid folds", types.EntityUUID, "550E8400-E29B-41D4-A716-446655440000", "550e8400-e29b-41d4-a716-446655440000"},
		{"ip keeps case", types.EntityIPAddress, "FE80::1", "FE80::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Normalize(tt.entityType, tt.in))
		})
	}
}

func TestFoldPolicy_Custom(t *testing.T) {
	p := NewFoldPolicy([]string{" person ", "ip_address"})

	assert.True(t, p.Folds(types.EntityPerson))
	assert.True(t, p.Folds(types.EntityIPAddress))
	assert.False(t, p.Folds(types.EntityHostname))
	assert.Equal(t, "john doe", p.Normalize(types.EntityPerson, "John Doe"))
	assert.Equal(t, "Example.COM", p.Normalize(types.EntityHostname, "Example.COM"))
	assert.ElementsMatch(t, []string{"PERSON", "IP_ADDRESS"}, p.Types())
}

func TestSlug(t *testing.T) {
	full := mustKey(t, "k").FullHash("URL", "x")

	assert.Equal(t, full[:8], Slug(full, 8))
	assert.Equal(t, full[:1], Slug(full, 1))
	assert.Equal(t, full, Slug(full, 0))
	assert.Equal(t, full, Slug(full, 64))
	assert.Equal(t, full, Slug(full, 65))

	assert.Equal(t, 64, ClampSlugLength(0))
	assert.Equal(t, 64, ClampSlugLength(99))
	assert.Equal(t, 12, ClampSlugLength(12))
}

func TestToken(t *testing.T) {
	assert.Equal(t, "[EMAIL_ADDRESS_abcd1234]", Token(types.EntityEmail, "abcd1234"))

	m := TokenPattern.FindStringSubmatch("see [EMAIL_ADDRESS_abcd1234] here")
	require.Len(t, m, 3)
	assert.Equal(t, "EMAIL_ADDRESS", m[1])
	assert.Equal(t, "abcd1234", m[2])
}

func TestParseToken(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantType string
		wantSlug string
		wantErr  bool
	}{
		{"bracketed", "[PERSON_abcd1234]", "PERSON", "abcd1234", false},
		{"bracketed multi-word type", "[EMAIL_ADDRESS_0f]", "EMAIL_ADDRESS", "0f", false},
		{"bare token", "IP_ADDRESS_ff", "IP_ADDRESS", "ff", false},
		{"bare slug", "ABCD", "", "abcd", false},
		{"surrounding space", "  [HASH_01]\n", "HASH", "01", false},
		{"non-hex slug", "[PERSON_xyz]", "", "", true},
		{"empty slug", "[PERSON_]", "", "", true},
		{"lower-case type", "[person_ab]", "", "", true},
		{"too long", "[HASH_0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef0]", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotSlug, err := ParseToken(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.wantSlug, gotSlug)
		})
	}
}
