// Package layout holds keyboard layout definitions: an immutable, bidirectional
// mapping between key identifiers and characters plus the metadata used by
// detection.
package layout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/WinkyTy/layout-converter/internal/keyid"
)

// Descriptor is the parsed, not yet validated, form of a layout. Collaborators
// such as file loaders and the store produce Descriptors; New turns one into a
// Definition.
type Descriptor struct {
	ID              string         `json:"id" yaml:"id" toml:"id"`
	Name            string         `json:"name" yaml:"name" toml:"name"`
	FamilyID        int            `json:"family_id" yaml:"family_id" toml:"family_id"`
	LayoutID        int            `json:"layout_id" yaml:"layout_id" toml:"layout_id"`
	Language        string         `json:"language,omitempty" yaml:"language,omitempty" toml:"language,omitempty"`
	FrequencyScore  float64        `json:"frequency_score" yaml:"frequency_score" toml:"frequency_score"`
	IndicativeWords []string       `json:"indicative_words,omitempty" yaml:"indicative_words,omitempty" toml:"indicative_words,omitempty"`
	Keys            map[int]string `json:"keys" yaml:"keys" toml:"-"`
}

// Definition is a loaded layout. All fields are fixed at construction, so a
// *Definition may be shared freely between goroutines.
type Definition struct {
	id        string
	name      string
	family    keyid.Family
	variant   int
	language  string
	frequency float64
	words     []string

	keyToChar map[keyid.KeyID]string
	charToKey map[string]keyid.KeyID
}

// New validates d and builds a Definition.
func New(d Descriptor) (*Definition, error) {
	id := strings.TrimSpace(d.ID)
	switch {
	case id == "":
		return nil, missingField("", "id")
	case strings.TrimSpace(d.Name) == "":
		return nil, missingField(id, "name")
	case d.FamilyID == 0:
		return nil, missingField(id, "family_id")
	case d.LayoutID == 0:
		return nil, missingField(id, "layout_id")
	case len(d.Keys) == 0:
		return nil, missingField(id, "key_mappings")
	}

	if d.FamilyID < keyid.MinFamily || d.FamilyID > keyid.MaxFamily {
		return nil, invalidField(id, "family_id", "%d outside [%d,%d]", d.FamilyID, keyid.MinFamily, keyid.MaxFamily)
	}
	if d.LayoutID < keyid.MinLayout || d.LayoutID > keyid.MaxLayout {
		return nil, invalidField(id, "layout_id", "%d outside [%d,%d]", d.LayoutID, keyid.MinLayout, keyid.MaxLayout)
	}
	if d.FrequencyScore < 0 || d.FrequencyScore > 1 {
		return nil, invalidField(id, "frequency_score", "%g outside [0,1]", d.FrequencyScore)
	}

	def := &Definition{
		id:        id,
		name:      strings.TrimSpace(d.Name),
		family:    keyid.Family(d.FamilyID),
		variant:   d.LayoutID,
		language:  strings.ToLower(strings.TrimSpace(d.Language)),
		frequency: d.FrequencyScore,
		keyToChar: make(map[keyid.KeyID]string, len(d.Keys)),
		charToKey: make(map[string]keyid.KeyID, len(d.Keys)),
	}

	for _, w := range d.IndicativeWords {
		if w = FoldText(strings.TrimSpace(w)); w != "" {
			def.words = append(def.words, w)
		}
	}

	// Sorted so that the reported duplicate is stable.
	positions := make([]int, 0, len(d.Keys))
	for p := range d.Keys {
		positions = append(positions, p)
	}
	sort.Ints(positions)

	for _, p := range positions {
		if !keyid.ValidPosition(p) {
			return nil, malformed(id, fmt.Errorf("key position %d outside [%d,%d]", p, keyid.MinPosition, keyid.MaxPosition))
		}
		raw := d.Keys[p]
		if !singleGrapheme(raw) {
			return nil, malformed(id, fmt.Errorf("key position %d: %q is not a single character", p, raw))
		}
		ch, _ := Fold(raw)
		key := keyid.Encode(d.FamilyID, d.LayoutID, p)
		if prev, dup := def.charToKey[ch]; dup {
			pp, _ := prev.Position()
			return nil, malformed(id, &InvalidMappingError{
				Layout: id,
				Key:    int(key),
				Char:   ch,
				Reason: fmt.Sprintf("character already bound to position %d", pp),
			})
		}
		def.keyToChar[key] = ch
		def.charToKey[ch] = key
	}

	if err := def.Verify(); err != nil {
		return nil, malformed(id, err)
	}
	return def, nil
}

// MustNew is New for static tables; it panics on error.
func MustNew(d Descriptor) *Definition {
	def, err := New(d)
	if err != nil {
		panic(err)
	}
	return def
}

// Verify checks that the key and character tables are mutual inverses and
// that every key belongs to this layout. It returns *InvalidMappingError on
// the first violation.
func (d *Definition) Verify() error {
	if len(d.keyToChar) != len(d.charToKey) {
		return &InvalidMappingError{Layout: d.id, Reason: fmt.Sprintf("%d keys but %d characters", len(d.keyToChar), len(d.charToKey))}
	}
	for k, ch := range d.keyToChar {
		c, err := keyid.Decode(k)
		if err != nil {
			return &InvalidMappingError{Layout: d.id, Key: int(k), Char: ch, Reason: err.Error()}
		}
		if keyid.Family(c.Family) != d.family || c.Layout != d.variant {
			return &InvalidMappingError{Layout: d.id, Key: int(k), Char: ch, Reason: "key belongs to another layout"}
		}
		if back, ok := d.charToKey[ch]; !ok || back != k {
			return &InvalidMappingError{Layout: d.id, Key: int(k), Char: ch, Reason: "character does not map back to key"}
		}
	}
	for ch, k := range d.charToKey {
		if fwd, ok := d.keyToChar[k]; !ok || fwd != ch {
			return &InvalidMappingError{Layout: d.id, Key: int(k), Char: ch, Reason: "key does not map back to character"}
		}
	}
	return nil
}

func (d *Definition) ID() string { return d.id }
func (d *Definition) Name() string { return d.name }
func (d *Definition) Family() keyid.Family { return d.family }
func (d *Definition) Variant() int { return d.variant }
func (d *Definition) Language() string { return d.language }
func (d *Definition) FrequencyScore() float64 { return d.frequency }

// IndicativeWords returns a copy of the folded indicative vocabulary.
func (d *Definition) IndicativeWords() []string {
	return append([]string(nil), d.words...)
}

// Len returns the number of populated key positions.
func (d *Definition) Len() int {
	return len(d.keyToChar)
}

// KeyFor returns the key producing the folded character ch.
func (d *Definition) KeyFor(ch string) (keyid.KeyID, bool) {
	k, ok := d.charToKey[ch]
	return k, ok
}

// CharFor returns the character produced by key.
func (d *Definition) CharFor(key keyid.KeyID) (string, bool) {
	ch, ok := d.keyToChar[key]
	return ch, ok
}

// CharAt returns the character at a key position of this layout.
func (d *Definition) CharAt(position int) (string, bool) {
	return d.CharFor(keyid.Encode(int(d.family), d.variant, position))
}

// Covers reports whether the folded character ch is on this layout.
func (d *Definition) Covers(ch string) bool {
	_, ok := d.charToKey[ch]
	return ok
}

// Descriptor returns a mutable copy of the layout in Descriptor form.
func (d *Definition) Descriptor() Descriptor {
	keys := make(map[int]string, len(d.keyToChar))
	for k, ch := range d.keyToChar {
		p, _ := k.Position()
		keys[p] = ch
	}
	return Descriptor{
		ID:              d.id,
		Name:            d.name,
		FamilyID:        int(d.family),
		LayoutID:        d.variant,
		Language:        d.language,
		FrequencyScore:  d.frequency,
		IndicativeWords: d.IndicativeWords(),
		Keys:            keys,
	}
}
