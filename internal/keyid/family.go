package keyid

import (
	"strings"
	"unicode"
)

// Family identifies a script family.
type Family int

// Script families.
const (
	FamilyLatin      Family = 1
	FamilyCyrillic   Family = 2
	FamilyDevanagari Family = 3
	FamilyArabic     Family = 4
	FamilyHan        Family = 5
)

// Layout variants within their family.
const (
	LayoutQWERTY  = 1
	LayoutWorkman = 2
	LayoutColemak = 3
	LayoutDvorak  = 4

	LayoutRussian           = 1
	LayoutRussianTypewriter = 2
)

var familyNames = map[Family]string{
	FamilyLatin:      "latin",
	FamilyCyrillic:   "cyrillic",
	FamilyDevanagari: "devanagari",
	FamilyArabic:     "arabic",
	FamilyHan:        "han",
}

var familyScripts = map[Family]*unicode.RangeTable{
	FamilyLatin:      unicode.Latin,
	FamilyCyrillic:   unicode.Cyrillic,
	FamilyDevanagari: unicode.Devanagari,
	FamilyArabic:     unicode.Arabic,
	FamilyHan:        unicode.Han,
}

// detection order for FamilyOf
var scriptOrder = []Family{FamilyLatin, FamilyCyrillic, FamilyDevanagari, FamilyArabic, FamilyHan}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return "unknown"
}

// Contains reports whether r belongs to f's script.
func (f Family) Contains(r rune) bool {
	t := familyScripts[f]
	return t != nil && unicode.Is(t, r)
}

// FamilyOf returns the script family of r.
func FamilyOf(r rune) (Family, bool) {
	for _, f := range scriptOrder {
		if f.Contains(r) {
			return f, true
		}
	}
	return 0, false
}

// ParseFamily resolves a family by name.
func ParseFamily(s string) (Family, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range familyNames {
		if name == s {
			return f, true
		}
	}
	return 0, false
}
