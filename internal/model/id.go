package model

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

// Base36 character set (lowercase)
const base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"

// IDLength is the length of the random part of an ID
const IDLength = 4

// Matches prefix-xxxx, e.g. doc-ex4j.
var idRegex = regexp.MustCompile(`^[a-z]{2,4}-[0-9a-z]{4}$`)

// GenerateID creates a new random record ID with the given prefix.
// Example: doc-ex4j
func GenerateID(prefix string) (string, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return "", err
	}

	random, err := randomBase36(IDLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}

	return prefix + random, nil
}

// ValidateID checks if an ID is valid.
func ValidateID(id string) error {
	if !idRegex.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

// randomBase36 generates a random base36 string of the given length.
func randomBase36(length int) (string, error) {
	result := make([]byte, length)
	max := big.NewInt(int64(len(base36Chars)))

	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		result[i] = base36Chars[n.Int64()]
	}

	return string(result), nil
}
