// Package fingerprint derives the content address of a contribution: a
// SHA-256 digest of its case-folded, whitespace-collapsed text. Identical
// normalized text is the only exact-duplicate signal in the system.
package fingerprint

import (
	"strings"

	"contribledger/internal/util"
)

// Normalize case-folds and collapses every whitespace run to a single space.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func Of(text string) string {
	return util.SHA256Hex([]byte(Normalize(text)))
}
