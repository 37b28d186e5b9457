package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeInstruction trims and case-folds instruction text. Two
// instructions with the same normalized text are the same unit of work.
func NormalizeInstruction(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// ContentHash returns the deduplication key for an instruction.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeInstruction(text)))
	return hex.EncodeToString(sum[:])
}
