package convert

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WinkyTy/layout-converter/internal/layout"
	"github.com/WinkyTy/layout-converter/internal/registry"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	reg := registry.New()
	require.NoError(t, registry.LoadBuiltins(reg))
	return New(reg, Options{Concurrency: 2})
}

func TestConvert(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name     string
		text     string
		from, to string
		want     string
	}{
		{"workman", "hello", "qwerty", "workman", "ywoo;"},
		{"case preserved", "Hello", "qwerty", "workman", "Ywoo;"},
		{"pass through", "a1 b!", "qwerty", "workman", "a1 v!"},
		{"empty", "", "qwerty", "workman", ""},
		{"to russian", "ghbdtn", "qwerty", "russian", "привет"},
		{"from russian", "привет", "russian", "qwerty", "ghbdtn"},
		{"cyrillic uppercase", "Ghbdtn", "qwerty", "russian", "Привет"},
		{"dvorak", "hello", "qwerty", "dvorak", "d.nnr"},
		{"russian variants", "привет", "russian", "russian_typewriter", "привет"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := e.Convert(tc.text, tc.from, tc.to)
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Text)
		})
	}
}

func TestConvertIdentity(t *testing.T) {
	e := newEngine(t)
	ids := e.reg.List()
	require.Len(t, ids, 6)

	for _, id := range ids {
		for _, text := range []string{"Hello, мир!", "ghbdtn", "", "a1 b!;'"} {
			res, err := e.Convert(text, id, id)
			require.NoError(t, err)
			assert.Equal(t, text, res.Text, "%s -> %s", id, id)
			assert.Equal(t, text, res.Original)
			assert.Equal(t, 1.0, res.Confidence)
		}
	}
}

func TestConvertRoundTrip(t *testing.T) {
	e := newEngine(t)
	text := "The quick brown fox jumps over the lazy dog"

	for _, to := range []string{"workman", "colemak", "dvorak", "russian"} {
		there, err := e.Convert(text, "qwerty", to)
		require.NoError(t, err)
		assert.Equal(t, 1.0, there.Confidence)
		back, err := e.Convert(there.Text, to, "qwerty")
		require.NoError(t, err)
		assert.Equal(t, text, back.Text, "qwerty -> %s", to)
	}
}

func TestConvertConfidence(t *testing.T) {
	reg := registry.New()
	require.NoError(t, registry.LoadBuiltins(reg))
	require.NoError(t, reg.LoadDescriptor("partial", layout.Descriptor{
		ID: "partial", Name: "Partial", FamilyID: 1, LayoutID: 9,
		Keys: map[int]string{1: "x"},
	}))
	e := New(reg, Options{})

	res, err := e.Convert("ab!", "qwerty", "partial")
	require.NoError(t, err)
	assert.Equal(t, "xb!", res.Text)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Resolved)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)

	res, err = e.Convert("123", "qwerty", "partial")
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestConvertUnknownLayout(t *testing.T) {
	e := newEngine(t)

	_, err := e.Convert("hello", "qwerty", "nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrLayoutNotFound))

	_, err = e.Convert("hello", "nonexistent", "nonexistent")
	assert.ErrorIs(t, err, registry.ErrLayoutNotFound)

	res, err := e.Convert("hello", "qwerty", "nonexistent")
	res, err = Lenient("hello", res, err)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
}

func TestConvertBatch(t *testing.T) {
	e := newEngine(t)
	texts := []string{"hello", "ghbdtn", "", "Hello"}

	res, err := e.ConvertBatch(context.Background(), texts, "qwerty", "workman")
	require.NoError(t, err)
	require.Len(t, res, len(texts))
	assert.Equal(t, "ywoo;", res[0].Text)
	assert.Equal(t, "", res[2].Text)
	assert.Equal(t, "Ywoo;", res[3].Text)

	_, err = e.ConvertBatch(context.Background(), texts, "qwerty", "missing")
	assert.ErrorIs(t, err, registry.ErrLayoutNotFound)
}

func TestConvertBatchCancelled(t *testing.T) {
	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ConvertBatch(ctx, []string{"a", "b", "c"}, "qwerty", "workman")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConvertDefinitions(t *testing.T) {
	q, _ := layout.Builtin("qwerty")
	r, _ := layout.Builtin("russian")

	res := Convert("ghbdtn", layout.MustNew(q), layout.MustNew(r))
	assert.Equal(t, "привет", res.Text)
	assert.Equal(t, "qwerty", res.From)
}
