package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const saltLen = 16

// Params are the Argon2id cost parameters for credential hashing.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultParams are the production cost parameters.
var DefaultParams = Params{Time: 1, Memory: 64 * 1024, Threads: 4, KeyLen: 32}

// Hasher hashes and verifies credentials with fixed Argon2id parameters.
type Hasher struct {
	p   Params
	kdf func(password, salt []byte, time, memory uint32, threads uint8, keyLen uint32) []byte
}

// NewHasher returns a Hasher using p. Zero fields fall back to DefaultParams.
func NewHasher(p Params) *Hasher {
	if p.Time == 0 {
		p.Time = DefaultParams.Time
	}
	if p.Memory == 0 {
		p.Memory = DefaultParams.Memory
	}
	if p.Threads == 0 {
		p.Threads = DefaultParams.Threads
	}
	if p.KeyLen == 0 {
		p.KeyLen = DefaultParams.KeyLen
	}
	return &Hasher{p: p, kdf: argon2.IDKey}
}

// Hash returns "base64(salt)$base64(hash)" for rawKey.
func (h *Hasher) Hash(rawKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	sum := h.derive(rawKey, salt)
	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(sum), nil
}

// Verify checks rawKey against an encoded hash in constant time.
func (h *Hasher) Verify(rawKey, encoded string) (bool, error) {
	saltPart, hashPart, ok := strings.Cut(encoded, "$")
	if !ok {
		return false, fmt.Errorf("auth: invalid hash format")
	}
	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	expected, err := base64.StdEncoding.DecodeString(hashPart)
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}
	return subtle.ConstantTimeCompare(expected, h.derive(rawKey, salt)) == 1, nil
}

// DummyVerify burns the same Argon2id cost as a real verification. Call it on
// failure paths where no stored hash was checked, so response timing does not
// reveal whether a prefix exists.
func (h *Hasher) DummyVerify() {
	h.derive("dummy", make([]byte, saltLen))
}

func (h *Hasher) derive(rawKey string, salt []byte) []byte {
	return h.kdf([]byte(rawKey), salt, h.p.Time, h.p.Memory, h.p.Threads, h.p.KeyLen)
}
