// Package loader reads keyboard layout files (JSON, TOML or YAML) and
// installs them into a registry.
package loader

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/WinkyTy/layout-converter/internal/keyid"
	"github.com/WinkyTy/layout-converter/internal/layout"
	"github.com/WinkyTy/layout-converter/internal/registry"
)

// Format is a layout file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFor picks a format from a file extension.
func FormatFor(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".toml":
		return FormatTOML, true
	case ".yaml", ".yml":
		return FormatYAML, true
	}
	return "", false
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "toml":
		return FormatTOML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown layout format %q", s)
}

//go:embed layout.schema.json
var schemaJSON []byte

const schemaURL = "layout-v1.schema.json"

var layoutSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("add layout schema: %v", err))
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("compile layout schema: %v", err))
	}
	return schema
}

// document is the on-disk layout shape. Both spellings of the word list and
// the key table are accepted.
type document struct {
	ID              string            `json:"id" yaml:"id" toml:"id"`
	Name            string            `json:"name" yaml:"name" toml:"name"`
	FamilyID        int               `json:"family_id" yaml:"family_id" toml:"family_id"`
	LayoutID        int               `json:"layout_id" yaml:"layout_id" toml:"layout_id"`
	Language        string            `json:"language,omitempty" yaml:"language,omitempty" toml:"language,omitempty"`
	FrequencyScore  float64           `json:"frequency_score" yaml:"frequency_score" toml:"frequency_score"`
	IndicativeWords []string          `json:"indicative_words,omitempty" yaml:"indicative_words,omitempty" toml:"indicative_words,omitempty"`
	CommonWords     []string          `json:"common_words,omitempty" yaml:"common_words,omitempty" toml:"common_words,omitempty"`
	KeyMappings     map[string]string `json:"key_mappings,omitempty" yaml:"key_mappings,omitempty" toml:"key_mappings,omitempty"`
	Mapping         map[string]string `json:"mapping,omitempty" yaml:"mapping,omitempty" toml:"mapping,omitempty"`
}

// Parse decodes and validates a layout document. The result still has to go
// through layout.New.
func Parse(data []byte, format Format) (layout.Descriptor, error) {
	generic, err := decodeGeneric(data, format)
	if err != nil {
		var dup *duplicateKeyError
		if errors.As(err, &dup) {
			return layout.Descriptor{}, &layout.LoadError{Kind: layout.KindMalformedMapping, Field: dup.field(), Err: err}
		}
		return layout.Descriptor{}, &layout.LoadError{Kind: layout.KindUnreadable, Err: err}
	}
	if err := layoutSchema.Validate(generic); err != nil {
		return layout.Descriptor{}, schemaError(generic, err)
	}

	// The generic value is plain JSON by now, whatever the input format.
	raw, err := json.Marshal(generic)
	if err != nil {
		return layout.Descriptor{}, &layout.LoadError{Kind: layout.KindUnreadable, Err: err}
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return layout.Descriptor{}, &layout.LoadError{Kind: layout.KindInvalidField, Err: err}
	}
	return doc.descriptor()
}

func decodeGeneric(data []byte, format Format) (any, error) {
	var v any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
		// Unmarshal keeps the last of repeated object keys.
		if err := walkJSON(json.NewDecoder(bytes.NewReader(data)), ""); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
		return v, nil
	case FormatTOML:
		m := make(map[string]any)
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", asDuplicateKey(err))
		}
		v = m
	case FormatYAML:
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", asDuplicateKey(err))
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	// Re-encode so numbers and map keys look the way a JSON decoder
	// would have produced them.
	raw, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", format, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize %s: %w", format, err)
	}
	return out, nil
}

// duplicateKeyError reports an object key that appears twice in one
// object. Path is the slash-separated location of the object.
type duplicateKeyError struct {
	Path string
	Key  string
	Err  error
}

func (e *duplicateKeyError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("key %q repeated in %s", e.Key, e.Path)
}

func (e *duplicateKeyError) Unwrap() error { return e.Err }

func (e *duplicateKeyError) field() string {
	field, _, _ := strings.Cut(strings.TrimPrefix(e.Path, "/"), "/")
	return field
}

// asDuplicateKey recognizes the repeated-key errors of the TOML and YAML
// decoders.
func asDuplicateKey(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "already defined") || strings.Contains(msg, "already been defined") {
		return &duplicateKeyError{Err: err}
	}
	return err
}

// walkJSON consumes one value from dec and fails on the first object that
// repeats a key.
func walkJSON(dec *json.Decoder, path string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	switch delim {
	case '{':
		seen := make(map[string]bool)
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ := tok.(string)
			if seen[key] {
				if path == "" {
					path = "/"
				}
				return &duplicateKeyError{Path: path, Key: key}
			}
			seen[key] = true
			if err := walkJSON(dec, path+"/"+key); err != nil {
				return err
			}
		}
	case '[':
		for i := 0; dec.More(); i++ {
			if err := walkJSON(dec, path+"/"+strconv.Itoa(i)); err != nil {
				return err
			}
		}
	}
	_, err = dec.Token()
	return err
}

// stringKeys converts YAML's map[any]any (produced for integer keys such as
// positions) into map[string]any.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = stringKeys(val)
		}
		return m
	case map[string]any:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = stringKeys(val)
		}
		return t
	}
	return v
}

var quotedName = regexp.MustCompile(`['"]([^'"]+)['"]`)

// schemaError maps the first failing leaf of a schema validation to a load
// error kind.
func schemaError(doc any, err error) error {
	id := ""
	if m, ok := doc.(map[string]any); ok {
		id, _ = m["id"].(string)
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &layout.LoadError{Kind: layout.KindInvalidField, Layout: id, Err: err}
	}
	leaf := firstLeaf(ve)

	if strings.HasSuffix(leaf.KeywordLocation, "/required") {
		field := "key_mappings"
		if !strings.Contains(leaf.KeywordLocation, "/anyOf/") {
			if m := quotedName.FindStringSubmatch(leaf.Message); m != nil {
				field = m[1]
			}
		}
		return &layout.LoadError{Kind: layout.KindMissingField, Layout: id, Field: field}
	}

	field := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if i := strings.IndexByte(field, '/'); i >= 0 {
		field = field[:i]
	}
	return &layout.LoadError{
		Kind:   layout.KindInvalidField,
		Layout: id,
		Field:  field,
		Err:    errors.New(leaf.Message),
	}
}

func firstLeaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func (d document) descriptor() (layout.Descriptor, error) {
	desc := layout.Descriptor{
		ID:              d.ID,
		Name:            d.Name,
		FamilyID:        d.FamilyID,
		LayoutID:        d.LayoutID,
		Language:        d.Language,
		FrequencyScore:  d.FrequencyScore,
		IndicativeWords: append(append([]string(nil), d.IndicativeWords...), d.CommonWords...),
		Keys:            make(map[int]string, len(d.KeyMappings)+len(d.Mapping)),
	}

	for _, table := range []map[string]string{d.KeyMappings, d.Mapping} {
		// Sorted so that the reported duplicate is stable.
		names := make([]string, 0, len(table))
		for name := range table {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			pos, err := parseKey(name, d.FamilyID, d.LayoutID)
			if err != nil {
				return layout.Descriptor{}, &layout.LoadError{Kind: layout.KindMalformedMapping, Layout: d.ID, Err: err}
			}
			if prev, dup := desc.Keys[pos]; dup {
				return layout.Descriptor{}, &layout.LoadError{
					Kind:   layout.KindMalformedMapping,
					Layout: d.ID,
					Err:    fmt.Errorf("key %q: position %d already mapped to %q", name, pos, prev),
				}
			}
			desc.Keys[pos] = table[name]
		}
	}
	return desc, nil
}

// parseKey accepts a key position ("8"), a full key id ("1108") or the
// QWERTY letter printed on the key ("h").
func parseKey(name string, family, variant int) (int, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		if p, ok := keyid.CharToPosition(r); ok {
			return p, nil
		}
	}

	n, err := strconv.Atoi(name)
	if err != nil {
		return 0, fmt.Errorf("key %q is not a position, key id or letter", name)
	}
	if keyid.ValidPosition(n) {
		return n, nil
	}

	c, err := keyid.Decode(keyid.KeyID(n))
	if err != nil {
		return 0, fmt.Errorf("key %q: %w", name, err)
	}
	if c.Family != family || c.Layout != variant {
		return 0, fmt.Errorf("key %q belongs to family %d layout %d", name, c.Family, c.Layout)
	}
	return c.Position, nil
}

// Marshal encodes a layout in the given format, keyed by position.
func Marshal(d layout.Descriptor, format Format) ([]byte, error) {
	doc := document{
		ID:              d.ID,
		Name:            d.Name,
		FamilyID:        d.FamilyID,
		LayoutID:        d.LayoutID,
		Language:        d.Language,
		FrequencyScore:  d.FrequencyScore,
		IndicativeWords: d.IndicativeWords,
		KeyMappings:     make(map[string]string, len(d.Keys)),
	}
	for p, ch := range d.Keys {
		doc.KeyMappings[strconv.Itoa(p)] = ch
	}

	switch format {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, fmt.Errorf("encode TOML: %w", err)
		}
		return buf.Bytes(), nil
	case FormatYAML:
		return yaml.Marshal(doc)
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

// LoadFile reads, validates and builds the layout in path.
func LoadFile(path string) (*layout.Definition, error) {
	format, ok := FormatFor(path)
	if !ok {
		return nil, layout.Unreadable(path, fmt.Errorf("unsupported extension %q", filepath.Ext(path)))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, layout.Unreadable(path, err)
	}

	d, err := Parse(data, format)
	if err != nil {
		return nil, withSource(err, path)
	}
	def, err := layout.New(d)
	if err != nil {
		return nil, withSource(err, path)
	}
	return def, nil
}

func withSource(err error, path string) error {
	var le *layout.LoadError
	if errors.As(err, &le) && le.Source == "" {
		le.Source = path
	}
	return err
}

// LoadDir loads every layout file directly inside dir, in name order. Files
// that fail are reported together; the rest are still returned.
func LoadDir(dir string) ([]*layout.Definition, error) {
	paths, err := layoutFiles(dir)
	if err != nil {
		return nil, err
	}

	var (
		defs []*layout.Definition
		errs []error
	)
	for _, path := range paths {
		def, err := LoadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, errors.Join(errs...)
}

func layoutFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, layout.Unreadable(dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := FormatFor(e.Name()); ok {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Install loads path into reg under the layout's own id.
func Install(reg *registry.Registry, path string) (string, error) {
	def, err := LoadFile(path)
	if err != nil {
		return "", err
	}
	if err := reg.Load(def.ID(), def); err != nil {
		return "", withSource(err, path)
	}
	return def.ID(), nil
}

// InstallDir installs every layout file in dir and returns the ids loaded.
func InstallDir(reg *registry.Registry, dir string) ([]string, error) {
	defs, err := LoadDir(dir)
	var ids []string
	for _, def := range defs {
		if lerr := reg.Load(def.ID(), def); lerr != nil {
			err = errors.Join(err, lerr)
			continue
		}
		ids = append(ids, def.ID())
	}
	return ids, err
}
