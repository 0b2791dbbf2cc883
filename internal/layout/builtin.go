package layout

import "github.com/WinkyTy/layout-converter/internal/keyid"

// Key positions are the alphabetical ordinal of the QWERTY letter printed on
// the key, so each table below lists what the keys a..z produce.
const (
	qwertyKeys  = "abcdefghijklmnopqrstuvwxyz"
	workmanKeys = "avmhwtgypneolk;qdbsjucrxfz"
	colemakKeys = "abcsftdhuneimky;qprglvwxjz"
	dvorakKeys  = "axje.uidchtnmbrl'poygk,qf;"
	russianKeys = "фисвуапршолдьтщзйкыегмцчня"
)

var (
	englishWords = []string{"the", "and", "you", "that", "have", "with", "this", "hello"}
	russianWords = []string{"привет", "что", "это", "как", "так", "все", "только", "спасибо"}
)

// Builtins returns descriptors for the layouts shipped with the converter.
// Each call returns fresh values.
func Builtins() []Descriptor {
	return []Descriptor{
		{
			ID: "qwerty", Name: "QWERTY",
			FamilyID: int(keyid.FamilyLatin), LayoutID: keyid.LayoutQWERTY,
			Language: "en", FrequencyScore: 0.9,
			IndicativeWords: append([]string(nil), englishWords...),
			Keys:            keyTable(qwertyKeys),
		},
		{
			ID: "workman", Name: "Workman",
			FamilyID: int(keyid.FamilyLatin), LayoutID: keyid.LayoutWorkman,
			Language: "en", FrequencyScore: 0.05,
			Keys: keyTable(workmanKeys),
		},
		{
			ID: "colemak", Name: "Colemak",
			FamilyID: int(keyid.FamilyLatin), LayoutID: keyid.LayoutColemak,
			Language: "en", FrequencyScore: 0.05,
			Keys: keyTable(colemakKeys),
		},
		{
			ID: "dvorak", Name: "Dvorak",
			FamilyID: int(keyid.FamilyLatin), LayoutID: keyid.LayoutDvorak,
			Language: "en", FrequencyScore: 0.05,
			Keys: keyTable(dvorakKeys),
		},
		{
			ID: "russian", Name: "Russian",
			FamilyID: int(keyid.FamilyCyrillic), LayoutID: keyid.LayoutRussian,
			Language: "ru", FrequencyScore: 0.8,
			IndicativeWords: append([]string(nil), russianWords...),
			Keys:            keyTable(russianKeys),
		},
		{
			ID: "russian_typewriter", Name: "Russian Typewriter",
			FamilyID: int(keyid.FamilyCyrillic), LayoutID: keyid.LayoutRussianTypewriter,
			Language: "ru", FrequencyScore: 0.02,
			Keys: keyTable(russianKeys),
		},
	}
}

// Builtin returns the built-in descriptor with the given id.
func Builtin(id string) (Descriptor, bool) {
	for _, d := range Builtins() {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

func keyTable(chars string) map[int]string {
	keys := make(map[int]string, keyid.MaxPosition)
	for i, r := range []rune(chars) {
		keys[i+1] = string(r)
	}
	return keys
}
