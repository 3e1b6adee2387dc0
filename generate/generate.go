// Package generate produces the opaque, collision-resistant values the
// authorization server hands out: client ids, client secrets, authorization
// codes, and access tokens. Strategies are selected by name so deployments
// can swap them per purpose without touching the engines.
package generate

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Strategy names accepted by New. Matching is case-insensitive after
// trimming surrounding whitespace.
const (
	// TypeUUID generates random (version 4) UUIDs.
	TypeUUID = "uuid"

	// TypeRandom generates 32 bytes of crypto/rand entropy, URL-safe
	// base64 encoded.
	TypeRandom = "random"

	// DefaultType is used when no generator type is configured.
	DefaultType = TypeUUID
)

// randomValueBytes is the entropy of a TypeRandom value.
const randomValueBytes = 32

// Generator produces one opaque string value per call. Values must have
// negligible collision probability across the lifetime of the system.
type Generator interface {
	Generate() string
}

// UnsupportedTypeError is returned by New for an unknown generator type
// name. It carries the literal name as supplied (after trimming).
type UnsupportedTypeError struct {
	Name string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("Unknown value generator type: %s", e.Name)
}

// New resolves a generator strategy by name. The name is trimmed and
// matched case-insensitively; an empty name selects DefaultType.
func New(name string) (Generator, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		trimmed = DefaultType
	}

	switch strings.ToLower(trimmed) {
	case TypeUUID:
		return uuidGenerator{}, nil
	case TypeRandom:
		return randomGenerator{}, nil
	default:
		return nil, &UnsupportedTypeError{Name: trimmed}
	}
}

// uuidGenerator produces random UUIDs.
type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

// randomGenerator produces URL-safe base64 strings from crypto/rand.
type randomGenerator struct{}

func (randomGenerator) Generate() string {
	b := make([]byte, randomValueBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the platform RNG is broken;
		// continuing would issue predictable credentials.
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
