package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns an application-level id like "prod_1a2b3c4d": the given
// prefix plus the first 8 hex chars of a random uuid.
func NewID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + hex[:8]
}
