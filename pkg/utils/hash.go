package utils

import (
	"crypto/sha256"
	"fmt"
)

// HashBytes returns the hex-encoded SHA-256 of the content. Used for text
// version content hashes.
func HashBytes(input []byte) string {
	hash := sha256.Sum256(input)
	return fmt.Sprintf("%x", hash)
}

func HashString(input string) string {
	return HashBytes([]byte(input))
}
