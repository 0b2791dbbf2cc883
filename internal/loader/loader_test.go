package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WinkyTy/layout-converter/internal/layout"
	"github.com/WinkyTy/layout-converter/internal/registry"
)

const jsonLayout = `{
  "id": "mini",
  "name": "Mini",
  "family_id": 1,
  "layout_id": 7,
  "language": "en",
  "frequency_score": 0.2,
  "common_words": ["xyz"],
  "key_mappings": {"1": "x", "1702": "y", "c": "z"}
}`

const tomlLayout = `
id = "mini-toml"
name = "Mini TOML"
family_id = 2
layout_id = 3
frequency_score = 0.1
indicative_words = ["фыв"]

[mapping]
a = "ф"
"2" = "ы"
`

const yamlLayout = `
id: mini-yaml
name: Mini YAML
family_id: 1
layout_id: 8
key_mappings:
  1: q
  2: ";"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFormats(t *testing.T) {
	d, err := Parse([]byte(jsonLayout), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "mini", d.ID)
	assert.Equal(t, map[int]string{1: "x", 2: "y", 3: "z"}, d.Keys)
	assert.Equal(t, []string{"xyz"}, d.IndicativeWords)
	assert.InDelta(t, 0.2, d.FrequencyScore, 1e-9)

	d, err = Parse([]byte(tomlLayout), FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, 2, d.FamilyID)
	assert.Equal(t, map[int]string{1: "ф", 2: "ы"}, d.Keys)

	d, err = Parse([]byte(yamlLayout), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "mini-yaml", d.ID)
	assert.Equal(t, map[int]string{1: "q", 2: ";"}, d.Keys)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		kind  layout.Kind
		field string
	}{
		{"not json", `{`, layout.KindUnreadable, ""},
		{"missing name", `{"id":"a","family_id":1,"layout_id":1,"key_mappings":{"1":"a"}}`, layout.KindMissingField, "name"},
		{"missing mapping", `{"id":"a","name":"A","family_id":1,"layout_id":1}`, layout.KindMissingField, "key_mappings"},
		{"family type", `{"id":"a","name":"A","family_id":"x","layout_id":1,"key_mappings":{"1":"a"}}`, layout.KindInvalidField, "family_id"},
		{"family range", `{"id":"a","name":"A","family_id":12,"layout_id":1,"key_mappings":{"1":"a"}}`, layout.KindInvalidField, "family_id"},
		{"frequency range", `{"id":"a","name":"A","family_id":1,"layout_id":1,"frequency_score":2,"key_mappings":{"1":"a"}}`, layout.KindInvalidField, "frequency_score"},
		{"bad key", `{"id":"a","name":"A","family_id":1,"layout_id":1,"key_mappings":{"??":"a"}}`, layout.KindMalformedMapping, ""},
		{"foreign key id", `{"id":"a","name":"A","family_id":1,"layout_id":1,"key_mappings":{"2101":"a"}}`, layout.KindMalformedMapping, ""},
		{"duplicate position", `{"id":"a","name":"A","family_id":1,"layout_id":1,"key_mappings":{"1":"a","a":"b"}}`, layout.KindMalformedMapping, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc), FormatJSON)
			require.Error(t, err)
			assert.Equal(t, tc.kind, layout.KindOf(err), "error: %v", err)
			if tc.field != "" {
				var le *layout.LoadError
				require.ErrorAs(t, err, &le)
				assert.Equal(t, tc.field, le.Field)
			}
		})
	}
}

func TestParseRepeatedKeys(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		doc    string
	}{
		{"json mapping", FormatJSON, `{"id":"a","name":"A","family_id":1,"layout_id":1,"key_mappings":{"8":"y","8":"z"}}`},
		{"json nested twice", FormatJSON, `{"id":"a","name":"A","family_id":1,"layout_id":1,"key_mappings":{"1":"a"},"key_mappings":{"2":"b"}}`},
		{"yaml mapping", FormatYAML, "id: a\nname: A\nfamily_id: 1\nlayout_id: 1\nkey_mappings:\n  8: y\n  8: z\n"},
		{"toml mapping", FormatTOML, "id = \"a\"\nname = \"A\"\nfamily_id = 1\nlayout_id = 1\n\n[key_mappings]\n8 = \"y\"\n8 = \"z\"\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc), tc.format)
			require.Error(t, err)
			assert.Equal(t, layout.KindMalformedMapping, layout.KindOf(err), "error: %v", err)
			assert.ErrorIs(t, err, layout.ErrMalformedMapping)
		})
	}

	var le *layout.LoadError
	_, err := Parse([]byte(tests[0].doc), FormatJSON)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "key_mappings", le.Field)
	assert.Contains(t, err.Error(), `"8"`)
}

func TestMarshalRoundTrip(t *testing.T) {
	d, ok := layout.Builtin("dvorak")
	require.True(t, ok)

	for _, f := range []Format{FormatJSON, FormatTOML, FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			data, err := Marshal(d, f)
			require.NoError(t, err)

			got, err := Parse(data, f)
			require.NoError(t, err)
			assert.Equal(t, d.Keys, got.Keys)
			assert.Equal(t, d.ID, got.ID)
			assert.Equal(t, d.FrequencyScore, got.FrequencyScore)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mini.json", jsonLayout)

	def, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mini", def.ID())
	assert.True(t, def.Covers("y"))

	_, err = LoadFile(filepath.Join(dir, "absent.json"))
	assert.ErrorIs(t, err, layout.ErrUnreadable)

	bad := writeFile(t, dir, "bad.json", `{"id":"bad","family_id":1,"layout_id":1,"key_mappings":{"1":"a"}}`)
	_, err = LoadFile(bad)
	var le *layout.LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, bad, le.Source)
	assert.ErrorIs(t, err, layout.ErrMissingField)

	_, err = LoadFile(writeFile(t, dir, "notes.txt", "hi"))
	assert.ErrorIs(t, err, layout.ErrUnreadable)
}

func TestInstallDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", jsonLayout)
	writeFile(t, dir, "b.toml", tomlLayout)
	writeFile(t, dir, "c.yml", yamlLayout)
	writeFile(t, dir, "d.json", `{"id":"broken"}`)
	writeFile(t, dir, "README.md", "ignored")

	reg := registry.New()
	ids, err := InstallDir(reg, dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, layout.ErrMissingField)
	assert.Equal(t, []string{"mini", "mini-toml", "mini-yaml"}, ids)
	assert.Equal(t, 3, reg.Len())

	_, ok := reg.Get("broken")
	assert.False(t, ok)
}

func TestInstall(t *testing.T) {
	reg := registry.New()
	path := writeFile(t, t.TempDir(), "mini.yaml", yamlLayout)

	id, err := Install(reg, path)
	require.NoError(t, err)
	assert.Equal(t, "mini-yaml", id)
	assert.Equal(t, []string{"mini-yaml"}, reg.List())
}
