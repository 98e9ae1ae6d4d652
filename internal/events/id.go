package events

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet is the character set for event and origin IDs.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// IDLength is the number of random characters in an ID.
const IDLength = 12

// NewID returns a short random ID with the given prefix.
func NewID(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, IDLength)
	if err != nil {
		return "", fmt.Errorf("events: %w", err)
	}
	return prefix + id, nil
}
