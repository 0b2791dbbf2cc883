// Package detect guesses which registered keyboard layout a piece of text was
// typed on.
package detect

import (
	"sort"
	"strings"

	"github.com/WinkyTy/layout-converter/internal/convert"
	"github.com/WinkyTy/layout-converter/internal/keyid"
	"github.com/WinkyTy/layout-converter/internal/layout"
	"github.com/WinkyTy/layout-converter/internal/registry"
)

// Config holds the scoring weights.
type Config struct {
	CoverageWeight   float64 `toml:"coverage_weight" json:"coverage_weight" yaml:"coverage_weight"`
	VocabularyWeight float64 `toml:"vocabulary_weight" json:"vocabulary_weight" yaml:"vocabulary_weight"`
	ScriptBonus      float64 `toml:"script_bonus" json:"script_bonus" yaml:"script_bonus"`
	PriorWeight      float64 `toml:"prior_weight" json:"prior_weight" yaml:"prior_weight"`
	HintBonus        float64 `toml:"hint_bonus" json:"hint_bonus" yaml:"hint_bonus"`

	// Threshold drops layouts scoring at or below it.
	Threshold float64 `toml:"threshold" json:"threshold" yaml:"threshold"`
	// MaxResults truncates the ranking when positive.
	MaxResults int `toml:"max_results" json:"max_results" yaml:"max_results"`
}

// DefaultConfig returns the standard weights.
func DefaultConfig() Config {
	return Config{
		CoverageWeight:   1,
		VocabularyWeight: 1,
		ScriptBonus:      0.5,
		PriorWeight:      0.1,
		HintBonus:        0.05,
		Threshold:        0.1,
	}
}

// Signals are the unweighted components of a score.
type Signals struct {
	Coverage   float64 `json:"coverage"`
	Vocabulary float64 `json:"vocabulary"`
	Script     bool    `json:"script"`
	Hint       bool    `json:"hint"`
}

// Score ranks one layout.
type Score struct {
	LayoutID string  `json:"layout_id"`
	Score    float64 `json:"score"`
	Signals  Signals `json:"signals"`
}

// Report is a ranking plus ready-made conversions between every ordered
// pair of detected layouts.
type Report struct {
	Text        string           `json:"text"`
	Scores      []Score          `json:"scores"`
	Conversions []convert.Result `json:"conversions,omitempty"`
}

// Scorer ranks registered layouts against input text.
type Scorer struct {
	reg *registry.Registry
	cfg Config
}

// New creates a Scorer over reg.
func New(reg *registry.Registry, cfg Config) *Scorer {
	return &Scorer{reg: reg, cfg: cfg}
}

// Config returns the scorer's weights.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Detect ranks layouts for text, best first. Ties keep registration order.
// hint is an optional language tag.
func (s *Scorer) Detect(text, hint string) []Score {
	if text == "" {
		return nil
	}
	in := analyze(text)
	hint = strings.ToLower(strings.TrimSpace(hint))

	var scores []Score
	for _, e := range s.reg.Snapshot() {
		sc := s.score(in, e.Layout, hint)
		if sc.Score <= s.cfg.Threshold {
			continue
		}
		sc.LayoutID = e.ID
		scores = append(scores, sc)
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
	if s.cfg.MaxResults > 0 && len(scores) > s.cfg.MaxResults {
		scores = scores[:s.cfg.MaxResults]
	}
	return scores
}

// Report runs Detect and, when at least two layouts qualify, converts text
// between every ordered pair of them, grouped by source in score order.
func (s *Scorer) Report(text, hint string) Report {
	rep := Report{Text: text, Scores: s.Detect(text, hint)}
	if len(rep.Scores) < 2 {
		return rep
	}

	defs := make([]*layout.Definition, len(rep.Scores))
	for i, sc := range rep.Scores {
		defs[i], _ = s.reg.Get(sc.LayoutID)
	}
	for i, src := range defs {
		for j, dst := range defs {
			if i == j || src == nil || dst == nil {
				continue
			}
			res := convert.Convert(text, src, dst)
			res.From, res.To = rep.Scores[i].LayoutID, rep.Scores[j].LayoutID
			rep.Conversions = append(rep.Conversions, res)
		}
	}
	return rep
}

// input is text pre-processed once for all layouts.
type input struct {
	folded  string
	letters []string
	scripts map[keyid.Family]bool
}

func analyze(text string) input {
	in := input{
		folded:  layout.FoldText(text),
		scripts: make(map[keyid.Family]bool),
	}
	for _, g := range layout.Graphemes(text) {
		if !layout.IsLetter(g) {
			continue
		}
		f, _ := layout.Fold(g)
		in.letters = append(in.letters, f)
	}
	for _, r := range text {
		if fam, ok := keyid.FamilyOf(r); ok {
			in.scripts[fam] = true
		}
	}
	return in
}

func (s *Scorer) score(in input, def *layout.Definition, hint string) Score {
	var sig Signals

	if len(in.letters) > 0 {
		covered := 0
		for _, l := range in.letters {
			if def.Covers(l) {
				covered++
			}
		}
		sig.Coverage = float64(covered) / float64(len(in.letters))
	}

	if words := def.IndicativeWords(); len(words) > 0 {
		found := 0
		for _, w := range words {
			if strings.Contains(in.folded, w) {
				found++
			}
		}
		sig.Vocabulary = float64(found) / float64(len(words))
	}

	sig.Script = in.scripts[def.Family()]
	// Hints only apply to text with letters.
	sig.Hint = hint != "" && len(in.letters) > 0 && hint == def.Language()

	total := sig.Coverage*s.cfg.CoverageWeight +
		sig.Vocabulary*s.cfg.VocabularyWeight +
		def.FrequencyScore()*s.cfg.PriorWeight
	if sig.Script {
		total += s.cfg.ScriptBonus
	}
	if sig.Hint {
		total += s.cfg.HintBonus
	}
	return Score{Score: total, Signals: sig}
}
