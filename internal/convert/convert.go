// Package convert rewrites text typed on one keyboard layout as if it had
// been typed on another.
//
// Conversion addresses keys directly: a character is looked up in the source
// layout, its key position is re-encoded with the target layout's family and
// variant, and the target character at that position is emitted. Characters a
// layout does not cover pass through unchanged.
package convert

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/WinkyTy/layout-converter/internal/keyid"
	"github.com/WinkyTy/layout-converter/internal/layout"
	"github.com/WinkyTy/layout-converter/internal/registry"
)

// Result is the outcome of one conversion.
type Result struct {
	Original   string  `json:"original"`
	Text       string  `json:"text"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	Confidence float64 `json:"confidence"`
	// Attempted counts graphemes found on the source layout; Resolved counts
	// those that also had a character on the target.
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
}

// Options tunes an Engine.
type Options struct {
	// Concurrency bounds ConvertBatch fan-out. Zero means GOMAXPROCS.
	Concurrency int
}

// Engine converts text between layouts held in a registry.
type Engine struct {
	reg  *registry.Registry
	opts Options
}

// New creates an Engine over reg.
func New(reg *registry.Registry, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	return &Engine{reg: reg, opts: opts}
}

// Convert rewrites text from layout from to layout to. Both ids must be
// registered; an unknown id yields an error matching
// registry.ErrLayoutNotFound and no partial output.
func (e *Engine) Convert(text, from, to string) (Result, error) {
	src, dst, err := e.resolve(from, to)
	if err != nil {
		return Result{}, err
	}
	return convert(text, from, to, src, dst), nil
}

// ConvertBatch converts each text independently. Results are in input order.
func (e *Engine) ConvertBatch(ctx context.Context, texts []string, from, to string) ([]Result, error) {
	src, dst, err := e.resolve(from, to)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, text := range texts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = convert(text, from, to, src, dst)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch convert: %w", err)
	}
	return results, nil
}

func (e *Engine) resolve(from, to string) (*layout.Definition, *layout.Definition, error) {
	src, err := e.reg.Lookup(from)
	if err != nil {
		return nil, nil, fmt.Errorf("source: %w", err)
	}
	dst, err := e.reg.Lookup(to)
	if err != nil {
		return nil, nil, fmt.Errorf("target: %w", err)
	}
	return src, dst, nil
}

// Convert is a one-off conversion between two definitions, bypassing any
// registry.
func Convert(text string, src, dst *layout.Definition) Result {
	return convert(text, src.ID(), dst.ID(), src, dst)
}

func convert(text, from, to string, src, dst *layout.Definition) Result {
	res := Result{Original: text, From: from, To: to, Confidence: 1}
	if from == to || text == "" {
		res.Text = text
		return res
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, g := range layout.Graphemes(text) {
		out, attempted, resolved := convertGrapheme(g, src, dst)
		if attempted {
			res.Attempted++
		}
		if resolved {
			res.Resolved++
		}
		b.WriteString(out)
	}
	res.Text = b.String()
	if res.Attempted > 0 {
		res.Confidence = float64(res.Resolved) / float64(res.Attempted)
	}
	return res
}

func convertGrapheme(g string, src, dst *layout.Definition) (out string, attempted, resolved bool) {
	folded, upper := layout.Fold(g)
	key, ok := src.KeyFor(folded)
	if !ok {
		return g, false, false
	}
	pos, ok := key.Position()
	if !ok {
		return g, true, false
	}
	ch, ok := dst.CharFor(keyid.Encode(int(dst.Family()), dst.Variant(), pos))
	if !ok {
		return g, true, false
	}
	if upper {
		ch = strings.ToUpper(ch)
	}
	return ch, true, true
}

// Lenient treats an unknown layout as a no-op: it returns the input text
// unchanged with zero confidence. Other errors pass through.
func Lenient(text string, res Result, err error) (Result, error) {
	if errors.Is(err, registry.ErrLayoutNotFound) {
		return Result{Original: text, Text: text}, nil
	}
	return res, err
}
