package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WinkyTy/layout-converter/internal/layout"
)

func descriptor(id string, variant int, chars string) layout.Descriptor {
	keys := make(map[int]string)
	for i, r := range []rune(chars) {
		keys[i+1] = string(r)
	}
	return layout.Descriptor{ID: id, Name: id, FamilyID: 1, LayoutID: variant, Keys: keys}
}

func TestLoadBuiltins(t *testing.T) {
	r := New()
	require.NoError(t, LoadBuiltins(r))

	assert.Equal(t, []string{"qwerty", "workman", "colemak", "dvorak", "russian", "russian_typewriter"}, r.List())
	assert.Equal(t, 6, r.Len())

	def, ok := r.Get("russian")
	require.True(t, ok)
	assert.Equal(t, "ru", def.Language())
}

func TestLoadReplaceKeepsSlot(t *testing.T) {
	r := New()
	require.NoError(t, r.LoadDescriptor("", descriptor("a", 1, "abc")))
	require.NoError(t, r.LoadDescriptor("", descriptor("b", 2, "abc")))

	old, _ := r.Get("a")
	require.NoError(t, r.LoadDescriptor("a", descriptor("a", 3, "xyz")))

	assert.Equal(t, []string{"a", "b"}, r.List())
	cur, _ := r.Get("a")
	assert.Equal(t, 3, cur.Variant())

	// Holders of the previous definition still see the old tables.
	assert.Equal(t, 1, old.Variant())
	assert.True(t, old.Covers("a"))
}

func TestLoadRejects(t *testing.T) {
	r := New()

	err := r.Load("", layout.MustNew(descriptor("a", 1, "abc")))
	assert.ErrorIs(t, err, layout.ErrMissingField)

	err = r.Load("x", nil)
	assert.ErrorIs(t, err, layout.ErrMissingField)

	err = r.LoadDescriptor("dup", descriptor("dup", 1, "aba"))
	assert.ErrorIs(t, err, layout.ErrMalformedMapping)

	assert.Zero(t, r.Len())
}

func TestLookupNotFound(t *testing.T) {
	r := New()
	require.NoError(t, LoadBuiltins(r))

	_, err := r.Lookup("dvorka")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLayoutNotFound))

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "dvorak", nf.Suggestion)
	assert.Contains(t, err.Error(), `did you mean "dvorak"`)

	_, err = r.Lookup("klingon-xyz")
	require.True(t, errors.As(err, &nf))
	assert.Empty(t, nf.Suggestion)

	def, err := r.Lookup("qwerty")
	require.NoError(t, err)
	assert.Equal(t, "qwerty", def.ID())
}

func TestRemoveAndClear(t *testing.T) {
	r := New()
	require.NoError(t, LoadBuiltins(r))

	assert.True(t, r.Remove("colemak"))
	assert.False(t, r.Remove("colemak"))
	assert.NotContains(t, r.List(), "colemak")
	assert.Equal(t, 5, r.Len())

	snap := r.Snapshot()
	require.Len(t, snap, 5)
	assert.Equal(t, "qwerty", snap[0].ID)
	assert.Equal(t, "dvorak", snap[2].ID)

	r.Clear()
	assert.Zero(t, r.Len())
	assert.Empty(t, r.List())
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	require.NoError(t, LoadBuiltins(r))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("custom%d", i)
			_ = r.LoadDescriptor(id, descriptor(id, 9, "qwe"))
			r.Remove(id)
		}(i)
		go func() {
			defer wg.Done()
			for _, e := range r.Snapshot() {
				assert.NoError(t, e.Layout.Verify())
			}
			_, _ = r.Lookup("qwerty")
		}()
	}
	wg.Wait()
	assert.Equal(t, 6, r.Len())
}
