package utils

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

func Hash(s string) uint64 {
	return xxhash.Sum64String(s)
}

// Concat joins labels without a separator, the way call paths are keyed.
func Concat(labels ...string) string {
	var b strings.Builder
	for _, l := range labels {
		b.WriteString(l)
	}

	return b.String()
}
