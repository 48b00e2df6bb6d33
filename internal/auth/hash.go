package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters for new hashes. Verification reads the costs
// back out of the stored hash, so these can be raised without invalidating
// keys hashed under the old values.
const (
	hashTime    = 2
	hashMemory  = 64 * 1024 // KiB
	hashThreads = 2
	hashKeyLen  = 32
	hashSaltLen = 16
)

// HashAPIKey hashes an API key with Argon2id and returns it in PHC string
// format: $argon2id$v=19$m=...,t=...,p=...$<salt>$<hash>.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(apiKey), salt, hashTime, hashMemory, hashThreads, hashKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, hashMemory, hashTime, hashThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyAPIKey checks an API key against a PHC-encoded Argon2id hash.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, fmt.Errorf("auth: malformed API key hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("auth: malformed API key hash")
	}
	if version != argon2.Version {
		return false, fmt.Errorf("auth: unsupported argon2 version %d", version)
	}

	var memory, passes uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &passes, &threads); err != nil {
		return false, fmt.Errorf("auth: malformed API key hash")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}

	got := argon2.IDKey([]byte(apiKey), salt, passes, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// DummyVerify burns the same Argon2id work as a real verification. Called
// on auth failure paths where no stored hash was checked, so response
// timing does not reveal whether an agent_id exists.
func DummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, hashSaltLen), hashTime, hashMemory, hashThreads, hashKeyLen)
}
