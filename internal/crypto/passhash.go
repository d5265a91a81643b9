// Package crypto implements server-side password hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	saltLen             = 16
)

// HashPassword returns an encoded Argon2id hash of password with a fresh
// random salt, in the form "base64(salt)$base64(hash)".
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(key), nil
}

// VerifyPassword verifies password against an encoded hash produced by
// HashPassword. Malformed encodings verify as false.
func VerifyPassword(password, encoded string) bool {
	salt, expected, err := decode(encoded)
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

func decode(encoded string) (salt, key []byte, err error) {
	parts := strings.SplitN(encoded, "$", 2)
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("malformed password hash")
	}
	if salt, err = base64.RawStdEncoding.DecodeString(parts[0]); err != nil {
		return nil, nil, err
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[1]); err != nil {
		return nil, nil, err
	}
	return salt, key, nil
}
