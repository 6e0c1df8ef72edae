package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Environment separates production credentials from sandbox ones.
type Environment string

const (
	EnvLive Environment = "live"
	EnvTest Environment = "test"
)

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	return e == EnvLive || e == EnvTest
}

// AllTools is the allow-list wildcard granting every registered tool.
const AllTools = "*"

// APIKey is a stored tenant credential. The raw key is never persisted; only
// its argon2id hash and a short public prefix are.
type APIKey struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	TenantID     uuid.UUID   `json:"tenant_id" db:"tenant_id"`
	Name         string      `json:"name" db:"name"`
	Prefix       string      `json:"prefix" db:"prefix"`
	KeyHash      string      `json:"-" db:"key_hash"` // Never serialized.
	AllowedTools []string    `json:"allowed_tools" db:"allowed_tools"`
	RateLimit    int         `json:"rate_limit" db:"rate_limit"`
	Environment  Environment `json:"environment" db:"environment"`
	Active       bool        `json:"active" db:"active"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	LastUsedAt   *time.Time  `json:"last_used_at,omitempty" db:"last_used_at"`
}

// AuthContext is the validated projection of an APIKey for the lifetime of a
// single call. It is built fresh on every call and never cached, so that
// revocation takes effect immediately.
type AuthContext struct {
	TenantID     uuid.UUID   `json:"tenant_id"`
	KeyID        uuid.UUID   `json:"key_id"`
	AllowedTools []string    `json:"allowed_tools"`
	RateLimit    int         `json:"rate_limit"`
	Environment  Environment `json:"environment"`
}

// AuthContextFor projects a stored key into an AuthContext.
func AuthContextFor(k APIKey) *AuthContext {
	return &AuthContext{
		TenantID:     k.TenantID,
		KeyID:        k.ID,
		AllowedTools: slices.Clone(k.AllowedTools),
		RateLimit:    k.RateLimit,
		Environment:  k.Environment,
	}
}

const (
	// keyPrefixLen is the number of random bytes used for the key prefix (8 hex chars).
	keyPrefixLen = 4
	// keySecretLen is the number of random bytes for the secret portion (32 hex chars).
	keySecretLen = 16
	// keyFormatPrefix is the static prefix for all kouba credentials.
	keyFormatPrefix = "kb_"
)

// GenerateRawKey produces a new raw credential in the format
// kb_<env>_<8-char-prefix>_<32-char-secret>. Returns the full raw key and the
// prefix separately.
func GenerateRawKey(env Environment) (rawKey, prefix string, err error) {
	if !env.Valid() {
		return "", "", fmt.Errorf("model: unknown environment %q", env)
	}

	prefixBytes := make([]byte, keyPrefixLen)
	if _, err := rand.Read(prefixBytes); err != nil {
		return "", "", fmt.Errorf("model: generate key prefix: %w", err)
	}

	secretBytes := make([]byte, keySecretLen)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("model: generate key secret: %w", err)
	}

	prefix = hex.EncodeToString(prefixBytes)
	rawKey = keyFormatPrefix + string(env) + "_" + prefix + "_" + hex.EncodeToString(secretBytes)
	return rawKey, prefix, nil
}

// ParseRawKey extracts the environment and prefix from a raw key string.
// Returns an error if the format is invalid.
func ParseRawKey(rawKey string) (env Environment, prefix string, err error) {
	if !strings.HasPrefix(rawKey, keyFormatPrefix) {
		return "", "", fmt.Errorf("model: invalid key format: missing %s prefix", keyFormatPrefix)
	}

	parts := strings.Split(rawKey[len(keyFormatPrefix):], "_")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("model: invalid key format: expected kb_<env>_<prefix>_<secret>")
	}

	env = Environment(parts[0])
	if !env.Valid() {
		return "", "", fmt.Errorf("model: invalid key format: unknown environment %q", parts[0])
	}
	return env, parts[1], nil
}

// NormalizeAllowedTools trims, de-duplicates and sorts an allow-list. A list
// containing the wildcard collapses to just the wildcard.
func NormalizeAllowedTools(tools []string) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if t == AllTools {
			return []string{AllTools}
		}
		out = append(out, t)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
