// Package keyid implements the packed key identifier used to address a
// physical key independently of the layout currently occupying it.
//
// A key identifier carries three decimal fields:
//
//	id = family*1000 + layout*100 + position
//
// where family is the script family (Latin, Cyrillic, ...), layout is the
// variant within that family (QWERTY, Workman, ...) and position is the
// alphabetic key ordinal, A=1 through Z=26. Two layouts interoperate by
// decoding a key from one and re-encoding its position with the other's
// family and variant, with no intermediate canonical layout.
package keyid

import (
	"errors"
	"fmt"
)

// Field ranges.
const (
	MinFamily   = 1
	MaxFamily   = 9
	MinLayout   = 1
	MaxLayout   = 9
	MinPosition = 1
	MaxPosition = 26
)

// ErrInvalidKeyID is returned when an identifier does not decode into
// in-range fields.
var ErrInvalidKeyID = errors.New("invalid key id")

// KeyID is a packed key identifier.
type KeyID int

// Components is a decoded KeyID.
type Components struct {
	Family   int
	Layout   int
	Position int
}

// Encode packs the three fields into a KeyID. It performs no range checks:
// out-of-range inputs still yield a deterministic value, which Decode will
// later reject.
func Encode(family, layout, position int) KeyID {
	return KeyID(family*1000 + layout*100 + position)
}

// Decode unpacks id. It is the exact inverse of Encode for in-range fields
// and returns ErrInvalidKeyID for anything else.
func Decode(id KeyID) (Components, error) {
	if id < 0 {
		return Components{}, fmt.Errorf("%w: %d", ErrInvalidKeyID, int(id))
	}
	c := Components{
		Family:   int(id) / 1000,
		Layout:   int(id) % 1000 / 100,
		Position: int(id) % 100,
	}
	if !c.Valid() {
		return Components{}, fmt.Errorf("%w: %d", ErrInvalidKeyID, int(id))
	}
	return c, nil
}

// Valid reports whether every field is within range.
func (c Components) Valid() bool {
	return c.Family >= MinFamily && c.Family <= MaxFamily &&
		c.Layout >= MinLayout && c.Layout <= MaxLayout &&
		ValidPosition(c.Position)
}

// Valid reports whether id decodes cleanly.
func (id KeyID) Valid() bool {
	_, err := Decode(id)
	return err == nil
}

// Position returns the key position of id, or false if id is invalid.
func (id KeyID) Position() (int, bool) {
	c, err := Decode(id)
	if err != nil {
		return 0, false
	}
	return c.Position, true
}

func (id KeyID) String() string {
	return fmt.Sprintf("%04d", int(id))
}

// ValidPosition reports whether p is an alphabetic key ordinal.
func ValidPosition(p int) bool {
	return p >= MinPosition && p <= MaxPosition
}

// CharToPosition maps a Latin letter, in either case, to its key position.
// Any other rune reports false.
func CharToPosition(r rune) (int, bool) {
	switch {
	case r >= 'a' && r <= 'z':
		return int(r-'a') + 1, true
	case r >= 'A' && r <= 'Z':
		return int(r-'A') + 1, true
	}
	return 0, false
}

// PositionToChar maps a key position to its lowercase Latin letter.
func PositionToChar(p int) (rune, bool) {
	if !ValidPosition(p) {
		return 0, false
	}
	return rune('a' + p - 1), true
}
