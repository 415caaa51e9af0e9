// Package fingerprint reduces JSON payloads to canonical structural
// signatures and detects drift between observations.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// DefaultMaxDepth bounds path recursion.
const DefaultMaxDepth = 4

// maxArraySample is how many array elements contribute paths. Arrays
// are treated as homogeneous; this exact bound is load-bearing for
// drift-detection parity and must not change.
const maxArraySample = 3

// Paths extracts the structural paths of a decoded JSON value: each
// object key contributes "parent.key" and recurses, an array
// contributes "parent[]" once and recurses into at most the first
// three elements. Recursion stops beyond maxDepth. The result is
// sorted and de-duplicated.
func Paths(v any, maxDepth int) []string {
	set := make(map[string]struct{})
	extract(v, "", 0, maxDepth, set)

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func extract(v any, prefix string, depth, maxDepth int, set map[string]struct{}) {
	if depth > maxDepth {
		return
	}
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			set[p] = struct{}{}
			extract(child, p, depth+1, maxDepth, set)
		}
	case []any:
		p := "[]"
		if prefix != "" {
			p = prefix + "[]"
		}
		set[p] = struct{}{}
		n := len(val)
		if n > maxArraySample {
			n = maxArraySample
		}
		for _, child := range val[:n] {
			extract(child, p, depth+1, maxDepth, set)
		}
	}
}

// Fingerprint returns the structural hash of a decoded JSON value and
// the sorted path list it was derived from. The hash is the sha256 of
// the newline-joined sorted paths, so it is independent of input key
// order and sensitive only to shape (within the depth bound).
func Fingerprint(v any, maxDepth int) (string, []string) {
	paths := Paths(v, maxDepth)
	sum := sha256.Sum256([]byte(strings.Join(paths, "\n")))
	return hex.EncodeToString(sum[:]), paths
}
