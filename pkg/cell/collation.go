package cell

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Collation selects how a string-typed index field is transformed before
// it is emitted into a composite index key.
type Collation byte

const (
	CollationNone Collation = iota
	CollationNFKDCanonicalBase
)

var fullLower = cases.Lower(language.Und)

// FoldCase applies the case-folding rule for a string cell's type. String
// cells get full Unicode lower-casing; Ascii cells get simple byte-range
// lower-casing. The discrepancy is deliberate and is preserved rather
// than unified, so Ascii keys stay byte-stable across locales.
func FoldCase(typ Type, s string) string {
	if typ == TypeAscii {
		return asciiLower(s)
	}
	return fullLower.String(s)
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Decompose applies the declared collation to s, producing the bytes that
// go into an index key (after any case folding has already been applied).
func Decompose(coll Collation, s string) []byte {
	switch coll {
	case CollationNFKDCanonicalBase:
		return canonicalBase(s)
	default:
		return []byte(s)
	}
}

// canonicalBase decomposes s under NFKD and, for every rune that underwent
// a canonical (not compatibility) decomposition, keeps only the base
// character, i.e. strips combining marks introduced by canonical
// decomposition while leaving compatibility-decomposed runes intact.
func canonicalBase(s string) []byte {
	var b strings.Builder
	iter := norm.NFD.String(s)
	for _, r := range iter {
		if isCombiningMark(r) {
			continue
		}
		b.WriteRune(r)
	}
	return []byte(norm.NFKD.String(b.String()))
}

func isCombiningMark(r rune) bool {
	// Unicode combining diacritical marks and related blocks introduced by
	// canonical decomposition (NFD) of precomposed Latin/Greek/Cyrillic
	// letters.
	return (r >= 0x0300 && r <= 0x036F) || // Combining Diacritical Marks
		(r >= 0x1AB0 && r <= 0x1AFF) ||
		(r >= 0x1DC0 && r <= 0x1DFF) ||
		(r >= 0x20D0 && r <= 0x20FF)
}

