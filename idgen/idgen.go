// Package idgen provides fixed-width unique token generation backed by nanoid.
//
// Tokens identify both entities and individual revisions. They are 32
// lowercase hex characters, which keeps them usable as plain and composite
// primary keys across every storage adapter.
package idgen

import (
	"fmt"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet defines the character set used for generated tokens.
const Alphabet = "0123456789abcdef"

// Length is the number of characters in a token.
const Length = 32

// Sentinel is the zero token used as the previous_version of a first
// revision. It is never produced by New.
const Sentinel = "00000000000000000000000000000000"

// New returns a new unique token.
func New() (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return id, nil
}

// MustNew is like New but panics on failure. Generation only fails when the
// OS entropy source is unavailable.
func MustNew() string {
	id, err := New()
	if err != nil {
		panic(err)
	}
	return id
}

// Valid reports whether s is a well-formed token: exactly Length characters,
// all drawn from Alphabet.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}
