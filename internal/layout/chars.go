package layout

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"golang.org/x/text/unicode/norm"
)

// Fold normalizes a grapheme to the form stored in layout tables: NFC,
// lowercased. It also reports whether the grapheme started with an
// uppercase letter.
func Fold(g string) (folded string, upper bool) {
	g = norm.NFC.String(g)
	r, _ := utf8.DecodeRuneInString(g)
	if !unicode.IsUpper(r) && !unicode.IsTitle(r) {
		return g, false
	}
	return strings.ToLower(g), true
}

// FoldText applies Fold semantics to a whole string.
func FoldText(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}

// IsLetter reports whether a grapheme is alphabetic.
func IsLetter(g string) bool {
	r, _ := utf8.DecodeRuneInString(g)
	return unicode.IsLetter(r)
}

// Graphemes splits s into user-perceived characters.
func Graphemes(s string) []string {
	var out []string
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		out = append(out, gr.Str())
	}
	return out
}

func singleGrapheme(s string) bool {
	return s != "" && uniseg.GraphemeClusterCount(s) == 1
}
