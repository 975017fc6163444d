package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/inhies/go-bytesize"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"mm_go/pkg/config"
	"mm_go/pkg/scenario"
)

var (
	configFile = flag.String("config", "", "GC configuration file (YAML)")
	evalDoc    = flag.String("e", "", "Run a scenario given on the command line")
	verbose    = flag.Bool("v", false, "Verbose output (debug logging)")
	noColor    = flag.Bool("no-color", false, "Disable colored output")
)

const (
	colorReset = "\x1b[0m"
	colorGreen = "\x1b[32m"
	colorRed   = "\x1b[31m"
	colorBold  = "\x1b[1m"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "mm_go - Mark-and-sweep heap scenario runner\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [scenario.yaml]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s chain.yaml                      # Run a scenario file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config gc.yaml -v chain.yaml   # With limits and debug logs\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s < chain.yaml                    # Read the scenario from stdin\n", os.Args[0])
	}
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	level := cfg.GC.LogLevel
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	input, name, err := readInput()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", name, err)
		os.Exit(1)
	}
	if strings.TrimSpace(string(input)) == "" {
		flag.Usage()
		os.Exit(2)
	}

	s, err := scenario.Parse(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in %s: %v\n", name, err)
		os.Exit(1)
	}
	if s.Name == "" {
		s.Name = name
	}

	res, err := scenario.Run(s, scenario.Options{Config: cfg.GC, Logger: logger})
	out := newReport()
	if res != nil {
		out.print(res)
	}
	if err != nil {
		out.status(false, err.Error())
		os.Exit(1)
	}
	out.status(true, "ok")
}

// readInput returns the scenario document and a name for messages
func readInput() ([]byte, string, error) {
	if *evalDoc != "" {
		return []byte(*evalDoc), "<expr>", nil
	}
	if flag.NArg() > 0 {
		data, err := os.ReadFile(flag.Arg(0))
		return data, flag.Arg(0), err
	}
	data, err := io.ReadAll(os.Stdin)
	return data, "<stdin>", err
}

type report struct {
	w     io.Writer
	color bool
}

func newReport() *report {
	fd := os.Stdout.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	if tty && !*noColor {
		return &report{w: colorable.NewColorableStdout(), color: true}
	}
	return &report{w: os.Stdout}
}

func (r *report) paint(code, s string) string {
	if !r.color {
		return s
	}
	return code + s + colorReset
}

func (r *report) print(res *scenario.Result) {
	fmt.Fprintf(r.w, "%s\n", r.paint(colorBold, "scenario "+res.Name))
	for i, st := range res.Collections {
		fmt.Fprintf(r.w, "  gc #%d: published %d, marked %d, swept %d (%d finalized), reclaimed %s of %s in %s\n",
			i+1, st.Published, st.Marked, st.Swept, st.Finalized,
			bytesize.New(float64(st.BytesReclaimed)), bytesize.New(float64(st.BytesBefore)), st.Duration)
	}
	fmt.Fprintf(r.w, "  alive:     %s\n", strings.Join(res.Alive, " "))
	fmt.Fprintf(r.w, "  finalized: %s\n", strings.Join(res.Finalized, " "))
	fmt.Fprintf(r.w, "  heap:      %s\n", bytesize.New(float64(res.HeapBytes)))
}

func (r *report) status(ok bool, msg string) {
	if ok {
		fmt.Fprintf(r.w, "%s\n", r.paint(colorGreen, msg))
		return
	}
	fmt.Fprintf(r.w, "%s\n", r.paint(colorRed, "FAIL: "+msg))
}
