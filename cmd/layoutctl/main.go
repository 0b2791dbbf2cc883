// layoutctl converts text between keyboard layouts, detects the layout a
// text was typed in, and manages layout definitions.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/WinkyTy/layout-converter/internal/config"
	"github.com/WinkyTy/layout-converter/internal/convert"
	"github.com/WinkyTy/layout-converter/internal/detect"
	"github.com/WinkyTy/layout-converter/internal/layout"
	"github.com/WinkyTy/layout-converter/internal/loader"
	"github.com/WinkyTy/layout-converter/internal/logging"
	"github.com/WinkyTy/layout-converter/internal/registry"
	"github.com/WinkyTy/layout-converter/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// cli carries the state shared by every command.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	layoutDirs stringList
	noStore    bool

	cfg    *config.Config
	logger *logging.Logger
}

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}

	fs := flag.NewFlagSet("layoutctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&c.configPath, "config", "", "path to config file")
	fs.Var(&c.layoutDirs, "layouts", "extra layout directory (repeatable)")
	fs.BoolVar(&c.noStore, "no-store", false, "ignore the layout database")
	fs.Usage = func() { c.usage() }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if fs.NArg() < 1 {
		c.usage()
		return 1
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	switch cmd {
	case "convert":
		err = c.cmdConvert(rest)
	case "detect":
		err = c.cmdDetect(rest)
	case "layouts":
		err = c.cmdLayouts(rest)
	case "validate":
		err = c.cmdValidate(rest)
	case "import":
		err = c.cmdImport(rest)
	case "export":
		err = c.cmdExport(rest)
	case "help", "-h", "--help":
		c.usage()
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		c.usage()
		return 1
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case !errors.Is(err, errReported):
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return 1
}

// errReported means the command already printed its failures.
var errReported = errors.New("failures reported")

func (c *cli) usage() {
	fmt.Fprintln(c.stderr, `layoutctl - keyboard layout converter

Usage: layoutctl [options] <command> [args]

Commands:
  convert -from <id> -to <id> [text...]   Convert text (stdin lines if no text)
  detect [-hint <lang>] [-report] <text>  Rank the layouts text was typed in
  layouts [-json]                         List available layouts
  validate <file>...                      Check layout files
  import <file|dir>...                    Store layouts in the layout database
  export [-format json|toml|yaml] <id>    Print a layout definition
  help                                    Show this help message

Options:
  -config <path>   Path to config file
  -layouts <dir>   Extra layout directory (repeatable)
  -no-store        Ignore the layout database`)
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg

	logCfg, err := cfg.Logging.LoggerConfig()
	if err != nil {
		return err
	}
	// Diagnostics only; the command output goes to stdout.
	logCfg.Output = "stderr"
	logCfg.Writer = c.stderr
	logCfg.Component = "layoutctl"
	if logCfg.Level < logging.LevelWarn {
		logCfg.Level = logging.LevelWarn
	}
	c.logger, err = logging.New(logCfg)
	return err
}

// registry assembles the layouts the daemon would serve: built-ins, then
// stored layouts, then layout files, later sources replacing earlier ones.
func (c *cli) registry() (*registry.Registry, error) {
	if c.cfg == nil {
		if err := c.setup(); err != nil {
			return nil, err
		}
	}

	reg := registry.New()
	if c.cfg.Layouts.Builtins {
		if err := registry.LoadBuiltins(reg); err != nil {
			return nil, err
		}
	}

	if c.cfg.Storage.Enabled && !c.noStore {
		if _, err := os.Stat(c.cfg.DatabasePath()); err == nil {
			st, err := store.Open(c.cfg.DatabasePath())
			if err != nil {
				return nil, err
			}
			defer st.Close()
			if _, err := st.LoadAll(context.Background(), reg); err != nil {
				c.logger.Warn("some stored layouts were skipped", "error", err)
			}
		}
	}

	dirs := append(c.cfg.LayoutDirs(), c.layoutDirs...)
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if _, err := loader.InstallDir(reg, dir); err != nil {
			c.logger.Warn("some layout files were skipped", "dir", dir, "error", err)
		}
	}
	return reg, nil
}

func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) cmdConvert(args []string) error {
	fs := c.newFlagSet("convert")
	from := fs.String("from", "qwerty", "source layout id")
	to := fs.String("to", "", "target layout id")
	lenient := fs.Bool("lenient", false, "print unknown-layout input unchanged instead of failing")
	jsonOut := fs.Bool("json", false, "print results as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *to == "" {
		return errors.New("convert: -to is required")
	}

	reg, err := c.registry()
	if err != nil {
		return err
	}
	lenientMode := *lenient || c.cfg.Conversion.Lenient
	engine := convert.New(reg, convert.Options{Concurrency: c.cfg.Conversion.Concurrency})

	var texts []string
	if fs.NArg() > 0 {
		texts = []string{strings.Join(fs.Args(), " ")}
	} else {
		sc := bufio.NewScanner(c.stdin)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			texts = append(texts, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read input: %w", err)
		}
	}

	results, err := engine.ConvertBatch(context.Background(), texts, *from, *to)
	if err != nil && lenientMode && errors.Is(err, registry.ErrLayoutNotFound) {
		c.logger.Warn("unknown layout, printing input unchanged", "error", err)
		results = make([]convert.Result, len(texts))
		for i, text := range texts {
			results[i], _ = convert.Lenient(text, convert.Result{}, err)
		}
		err = nil
	}
	if err != nil {
		return err
	}

	if *jsonOut {
		return writeJSON(c.stdout, results)
	}
	for _, res := range results {
		fmt.Fprintln(c.stdout, res.Text)
	}
	return nil
}

func (c *cli) cmdDetect(args []string) error {
	fs := c.newFlagSet("detect")
	hint := fs.String("hint", "", "language hint, e.g. en or ru")
	report := fs.Bool("report", false, "also print conversions between the detected layouts")
	maxResults := fs.Int("max", -1, "maximum number of layouts to show (default from config)")
	jsonOut := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("detect: text is required")
	}
	text := strings.Join(fs.Args(), " ")

	reg, err := c.registry()
	if err != nil {
		return err
	}
	dc := detectConfig(c.cfg.Detection)
	if *maxResults >= 0 {
		dc.MaxResults = *maxResults
	}
	scorer := detect.New(reg, dc)

	var rep detect.Report
	if *report {
		rep = scorer.Report(text, *hint)
	} else {
		rep = detect.Report{Text: text, Scores: scorer.Detect(text, *hint)}
	}

	if *jsonOut {
		return writeJSON(c.stdout, rep)
	}
	if len(rep.Scores) == 0 {
		fmt.Fprintln(c.stdout, "No layout matched.")
		return nil
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LAYOUT\tSCORE\tCOVERAGE\tVOCABULARY")
	for _, s := range rep.Scores {
		fmt.Fprintf(tw, "%s\t%.3f\t%.2f\t%.2f\n", s.LayoutID, s.Score, s.Signals.Coverage, s.Signals.Vocabulary)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(rep.Conversions) > 0 {
		fmt.Fprintln(c.stdout)
		for _, conv := range rep.Conversions {
			fmt.Fprintf(c.stdout, "%s -> %s: %s\n", conv.From, conv.To, conv.Text)
		}
	}
	return nil
}

func (c *cli) cmdLayouts(args []string) error {
	fs := c.newFlagSet("layouts")
	jsonOut := fs.Bool("json", false, "print layouts as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg, err := c.registry()
	if err != nil {
		return err
	}

	entries := reg.Snapshot()
	if *jsonOut {
		out := make([]any, 0, len(entries))
		for _, e := range entries {
			d := e.Layout.Descriptor()
			d.ID = e.ID
			out = append(out, d)
		}
		return writeJSON(c.stdout, out)
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tFAMILY\tVARIANT\tLANGUAGE\tKEYS")
	for _, e := range entries {
		def := e.Layout
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%d\n", e.ID, def.Name(), def.Family(), def.Variant(), def.Language(), def.Len())
	}
	return tw.Flush()
}

func (c *cli) cmdValidate(args []string) error {
	fs := c.newFlagSet("validate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("validate: at least one file is required")
	}

	failed := 0
	for _, path := range fs.Args() {
		def, err := loader.LoadFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(c.stdout, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(c.stdout, "ok   %s (%s, %d keys)\n", path, def.ID(), def.Len())
	}
	if failed > 0 {
		fmt.Fprintf(c.stderr, "%d of %d files failed validation\n", failed, fs.NArg())
		return errReported
	}
	return nil
}

func (c *cli) cmdImport(args []string) error {
	fs := c.newFlagSet("import")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("import: at least one file or directory is required")
	}
	if err := c.setup(); err != nil {
		return err
	}
	if !c.cfg.Storage.Enabled || c.noStore {
		return errors.New("import: layout storage is disabled")
	}

	st, err := store.Open(c.cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	var errs []error
	imported := 0
	for _, path := range fs.Args() {
		defs, err := loadPath(path)
		if err != nil {
			errs = append(errs, err)
		}
		for _, def := range defs {
			if err := st.SaveLayout(ctx, def.Descriptor(), path); err != nil {
				errs = append(errs, fmt.Errorf("save %s: %w", def.ID(), err))
				continue
			}
			imported++
			fmt.Fprintf(c.stdout, "imported %s\n", def.ID())
		}
	}
	fmt.Fprintf(c.stdout, "%d layouts imported into %s\n", imported, c.cfg.DatabasePath())
	return errors.Join(errs...)
}

// loadPath loads a single layout file or every layout file in a directory.
func loadPath(path string) ([]*layout.Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, layout.Unreadable(path, err)
	}
	if info.IsDir() {
		return loader.LoadDir(path)
	}
	def, err := loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return []*layout.Definition{def}, nil
}

func (c *cli) cmdExport(args []string) error {
	fs := c.newFlagSet("export")
	format := fs.String("format", "json", "output format: json, toml or yaml")
	output := fs.String("o", "", "write to file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("export: exactly one layout id is required")
	}
	f, err := loader.ParseFormat(*format)
	if err != nil {
		return err
	}

	reg, err := c.registry()
	if err != nil {
		return err
	}
	def, err := reg.Lookup(fs.Arg(0))
	if err != nil {
		return err
	}
	d := def.Descriptor()
	d.ID = fs.Arg(0)

	data, err := loader.Marshal(d, f)
	if err != nil {
		return err
	}
	if *output == "" {
		_, err = c.stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", *output, err)
	}
	fmt.Fprintf(c.stdout, "wrote %s\n", *output)
	return nil
}

func detectConfig(d config.DetectionConfig) detect.Config {
	return detect.Config{
		CoverageWeight:   d.CoverageWeight,
		VocabularyWeight: d.VocabularyWeight,
		ScriptBonus:      d.ScriptBonus,
		PriorWeight:      d.PriorWeight,
		HintBonus:        d.HintBonus,
		Threshold:        d.Threshold,
		MaxResults:       d.MaxResults,
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
