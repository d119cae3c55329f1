package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// NormalizeText folds case and whitespace so trivially different phrasings
// of the same question produce the same cache key.
func NormalizeText(input string) string {
	return strings.Join(strings.Fields(strings.ToLower(input)), " ")
}

func HashText(input string) string {
	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", hash)
}
