package common

import (
	"crypto/rand"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const JWTSecretLength = 32

// JWTSecret is the shared secret used to sign engine API requests
type JWTSecret [JWTSecretLength]byte

// ParseJWTSecret decodes a hex encoded secret, with or without 0x prefix
func ParseJWTSecret(s string) (secret JWTSecret, err error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return secret, fmt.Errorf("%w: %w", ErrInvalidJWTSecret, err)
	}
	if len(b) != JWTSecretLength {
		return secret, fmt.Errorf("%w: %w: got %d bytes", ErrInvalidJWTSecret, ErrIncorrectLength, len(b))
	}
	copy(secret[:], b)
	return secret, nil
}

// LoadJWTSecret reads a hex encoded secret from a file
func LoadJWTSecret(path string) (JWTSecret, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return JWTSecret{}, fmt.Errorf("could not read JWT secret file: %w", err)
	}
	return ParseJWTSecret(string(data))
}

// GenerateJWTSecret returns a new random secret
func GenerateJWTSecret() (secret JWTSecret, err error) {
	if _, err = rand.Read(secret[:]); err != nil {
		return secret, err
	}
	return secret, nil
}

// WriteJWTSecretFile writes the secret as hex (without 0x prefix) to path
func WriteJWTSecretFile(path string, secret JWTSecret) error {
	return os.WriteFile(path, []byte(secret.Hex()), 0o600)
}

func (s JWTSecret) IsZero() bool {
	return s == JWTSecret{}
}

func (s JWTSecret) Hex() string {
	return strings.TrimPrefix(hexutil.Encode(s[:]), "0x")
}

// String never prints the secret itself
func (s JWTSecret) String() string {
	return "[redacted]"
}
