// Package relationship derives typed edges from provider relationship
// references.
package relationship

import "strings"

// half classifies an id by its leading letter: 0 for a-m, 1 for n-z, -1 otherwise.
func half(id string) int {
	if id == "" {
		return -1
	}
	c := id[0]
	if c >= 'A' && c <= 'Z' {
		c += 'a' - 'A'
	}
	switch {
	case c >= 'a' && c <= 'm':
		return 0
	case c >= 'n' && c <= 'z':
		return 1
	default:
		return -1
	}
}

// Orient returns the (source, target) order for an unordered pair of entity
// ids. An id starting in A-M wins over one starting in N-Z; otherwise the
// lexicographically smaller id is the source. Orient(a, b) == Orient(b, a).
func Orient(a, b string) (source, target string) {
	ha, hb := half(a), half(b)
	if ha >= 0 && hb >= 0 && ha != hb {
		if ha == 0 {
			return a, b
		}
		return b, a
	}
	if b < a {
		return b, a
	}
	return a, b
}

// RelationshipType names an edge. Keys containing an underscore are already
// descriptive and are kept; others collapse to "has".
func RelationshipType(sourceTag, key, targetTag string) string {
	if strings.Contains(key, "_") {
		return sourceTag + "_" + key + "_" + targetTag
	}
	return sourceTag + "_has_" + targetTag
}
