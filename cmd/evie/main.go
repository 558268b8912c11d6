// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

//go:build !js
// +build !js

package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
	"github.com/tliron/commonlog"

	"github.com/ozanh/evie"
	"github.com/ozanh/evie/config"
	"github.com/ozanh/evie/encoder"
	"github.com/ozanh/evie/token"

	_ "github.com/tliron/commonlog/simple"
)

const (
	title         = "evie"
	promptPrefix  = ">>> "
	promptPrefix2 = "... "
)

// Exit codes, see sysexits.h.
const (
	exitOK      = 0
	exitUsage   = 64
	exitDataErr = 65
	exitSoftErr = 70
	exitIOErr   = 74
	exitConfig  = 78
)

var log = commonlog.GetLogger("evie")

var suggestions []suggest
var initialSuggLen int

// Sentinel errors for repl.
var (
	errExit  = errors.New("exit")
	errReset = errors.New("reset")
)

type suggest struct {
	text        string
	description string
	typ         string
}

type repl struct {
	eval        *evie.Eval
	out         io.Writer
	commands    map[string]func(string) error
	script      *bytes.Buffer
	lastResult  string
	lastType    string
	isMultiline bool
}

func newREPL(cfg *config.Config, stdout io.Writer) *repl {
	if stdout == nil {
		stdout = os.Stdout
	}

	vopts := cfg.VMOptions(stdout)
	vopts.Stdout = stdout

	r := &repl{
		eval:   evie.NewEval(cfg.CompilerOptions(stdout), vopts),
		out:    stdout,
		script: bytes.NewBuffer(nil),
	}
	r.setGlobalSuggestions()

	r.commands = map[string]func(string) error{
		".commands":     r.cmdCommands,
		".natives":      r.cmdNatives,
		".keywords":     r.cmdKeywords,
		".globals":      r.cmdGlobals,
		".return":       r.cmdReturn,
		".heap":         r.cmdHeap,
		".gc":           r.cmdGC,
		".memory_stats": r.cmdMemoryStats,
		".reset":        func(string) error { return errReset },
		".exit":         func(string) error { return errExit },
	}
	return r
}

func (r *repl) cmdCommands(_ string) error {
	suggs, pad := r.rangeSuggestions(
		func(s suggest) bool { return s.typ == "" },
	)
	r.printSuggestions(suggs, pad)
	return nil
}

func (r *repl) cmdNatives(_ string) error {
	suggs, pad := r.rangeSuggestions(
		func(s suggest) bool { return s.typ == "native" },
	)
	r.printSuggestions(suggs, pad)
	return nil
}

func (r *repl) cmdKeywords(_ string) error {
	suggs, pad := r.rangeSuggestions(
		func(s suggest) bool { return s.typ == "keyword" },
	)
	r.printSuggestions(suggs, pad)
	return nil
}

func (*repl) rangeSuggestions(filter func(suggest) bool) ([]suggest, int) {
	var suggs []suggest
	var maxtext int
	for _, v := range suggestions {
		if !filter(v) {
			continue
		}
		suggs = append(suggs, v)
		if maxtext < len(v.text) {
			maxtext = len(v.text)
		}
	}
	return suggs, maxtext
}

func (r *repl) printSuggestions(suggs []suggest, maxtext int) {
	for _, cmd := range suggs {
		_, _ = fmt.Fprintf(r.out, "%s", cmd.text)
		if len(cmd.description) > 0 {
			_, _ = fmt.Fprintf(r.out, "%s", strings.Repeat(" ", maxtext-len(cmd.text)))
			_, _ = fmt.Fprintf(r.out, "\t%v", cmd.description)
		}
		_, _ = fmt.Fprintln(r.out)
	}
}

func (r *repl) globalNames() []string {
	if r.eval.VM == nil {
		return nil
	}
	names := r.eval.VM.GlobalNames()
	sort.Strings(names)
	return names
}

func (r *repl) cmdGlobals(_ string) error {
	_, _ = fmt.Fprintf(r.out, "%v\n", r.globalNames())
	return nil
}

func (r *repl) cmdReturn(_ string) error {
	if r.lastType == "" {
		_, _ = fmt.Fprintln(r.out, "<nil>")
		return nil
	}
	_, _ = fmt.Fprintf(r.out, "TypeName:%s, Value:%s\n", r.lastType, r.lastResult)
	return nil
}

func (r *repl) cmdHeap(_ string) error {
	s := r.eval.Heap().Stats()
	_, _ = fmt.Fprintf(r.out, "Allocated = %s", humanize.IBytes(uint64(s.BytesAllocated)))
	_, _ = fmt.Fprintf(r.out, "\tNextGC = %s", humanize.IBytes(uint64(s.NextGC)))
	_, _ = fmt.Fprintf(r.out, "\tObjects = %s", humanize.Comma(int64(s.Objects)))
	_, _ = fmt.Fprintf(r.out, "\tCollections = %s", humanize.Comma(int64(s.Collections)))
	_, _ = fmt.Fprintf(r.out, "\tFreed = %s\n", humanize.Comma(int64(s.Freed)))
	return nil
}

func (r *repl) cmdGC(_ string) error {
	h := r.eval.Heap()
	before := h.Stats()
	h.Collect()
	after := h.Stats()
	_, _ = fmt.Fprintf(r.out, "collected %s objects, %s\n",
		humanize.Comma(int64(after.Freed-before.Freed)),
		humanize.IBytes(uint64(before.BytesAllocated-after.BytesAllocated)))
	return nil
}

func (r *repl) cmdMemoryStats(_ string) error {
	// writeMemStats writes the formatted current, total and OS memory
	// being used. As well as the number of garbage collection cycles completed.
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	_, _ = fmt.Fprintf(r.out, "Go Memory Stats see: "+
		"https://golang.org/pkg/runtime/#MemStats\n\n")
	_, _ = fmt.Fprintf(r.out, "HeapAlloc = %s", humanize.IBytes(m.HeapAlloc))
	_, _ = fmt.Fprintf(r.out, "\tHeapObjects = %s", humanize.Comma(int64(m.HeapObjects)))
	_, _ = fmt.Fprintf(r.out, "\tSys = %s", humanize.IBytes(m.Sys))
	_, _ = fmt.Fprintf(r.out, "\tNumGC = %v\n", m.NumGC)
	return nil
}

func (r *repl) writeString(msg string) {
	_, _ = fmt.Fprint(r.out, msg)
	_, _ = fmt.Fprintln(r.out)
}

func (r *repl) execute(line string) error {
	switch {
	case !r.isMultiline && line == "":
		return nil
	case !r.isMultiline && len(line) > 0 && line[0] == '.':
		cmd := strings.Fields(line)[0]
		if fn, ok := r.commands[cmd]; ok {
			return fn(line)
		}
	case strings.HasSuffix(line, "\\"):
		r.isMultiline = true
		r.script.WriteString(line[:len(line)-1])
		r.script.WriteString("\n")
		return nil
	}

	r.script.WriteString(line)

	r.executeScript()

	r.isMultiline = false
	r.setGlobalSuggestions()
	r.script.Reset()
	return nil
}

// withSemicolon terminates a statement typed without its trailing semicolon.
func withSemicolon(script []byte) []byte {
	trimmed := bytes.TrimRight(script, " \t\r\n")
	if n := len(trimmed); n == 0 || trimmed[n-1] == ';' || trimmed[n-1] == '}' {
		return script
	}
	return append(trimmed[:len(trimmed):len(trimmed)], ';')
}

func (r *repl) executeScript() {
	v, err := r.eval.Run(withSemicolon(r.script.Bytes()))
	if err != nil {
		r.lastResult, r.lastType = "", ""
		r.writeString(fmt.Sprintf("\n!   %s", errorString(err)))
		return
	}

	r.lastResult = r.eval.ValueString(v)
	r.lastType = r.eval.Heap().TypeName(v)
	if s, ok := r.eval.Heap().AsString(v); ok {
		r.writeString(fmt.Sprintf("\n⇦   %q", s))
		return
	}
	r.writeString(fmt.Sprintf("\n⇦   %s", r.lastResult))
}

func (r *repl) setGlobalSuggestions() {
	suggestions = suggestions[:initialSuggLen]

	natives := make(map[string]bool)
	for _, n := range evie.DefaultNatives() {
		natives[n.Name] = true
	}
	for _, name := range r.globalNames() {
		if natives[name] {
			continue
		}
		suggestions = append(suggestions,
			suggest{
				text:        name,
				description: "global",
				typ:         "global",
			},
		)
	}
}

func (r *repl) prefix() string {
	if r.isMultiline {
		return promptPrefix2
	}
	return promptPrefix
}

func (r *repl) printInfo() {
	_, _ = fmt.Fprintln(r.out, "Copyright (c) 2020-2023 Ozan Hacıbekiroğlu")
	_, _ = fmt.Fprintln(r.out, "https://github.com/ozanh/evie License: MIT",
		"Build:", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintln(r.out, "Write .commands to list available commands")
	_, _ = fmt.Fprintln(r.out, "Press Ctrl+D or write .exit command to exit")
	_, _ = fmt.Fprintln(r.out)
}

func (r *repl) run(history io.Reader) error {
	defer r.eval.Close()

	line := liner.NewLiner()
	defer line.Close()

	line.SetMultiLineMode(true)
	line.SetCompleter(complete)
	_, err := line.ReadHistory(history)
	if err != nil {
		err = &evie.Error{Message: "failed history read", Cause: err}
		return err
	}
	r.printInfo()

	var str string

	for err == nil {
		str, err = line.Prompt(r.prefix())
		if err != nil {
			if err == io.EOF {
				err = nil
				break
			}
			err = &evie.Error{Message: "prompt error", Cause: err}
			break
		}
		err = r.execute(str)
		if err == nil {
			if !r.isMultiline && len(str) > 0 {
				if v := strings.TrimSpace(str); len(v) > 0 {
					line.AppendHistory(v)
				}
			}
		}
	}
	return err
}

func complete(line string) (completions []string) {
	var contains []string
	for _, v := range suggestions {
		if strings.HasPrefix(v.text, line) {
			completions = append(completions, v.text)
		} else if strings.Contains(v.text, line) {
			contains = append(contains, v.text)
		}
	}
	completions = append(completions, contains...)
	return
}

func initSuggestions() {
	suggestions = []suggest{
		// Commands
		{text: ".commands", description: "Print REPL commands"},
		{text: ".natives", description: "Print Natives"},
		{text: ".keywords", description: "Print Keywords"},
		{text: ".globals", description: "Print Globals"},
		{text: ".return", description: "Print Last Result"},
		{text: ".heap", description: "Print Heap Stats"},
		{text: ".gc", description: "Run Garbage Collector"},
		{text: ".memory_stats", description: "Print Go Memory Stats"},
		{text: ".reset", description: "Reset"},
		{text: ".exit", description: "Exit"},
	}

	for _, n := range evie.DefaultNatives() {
		suggestions = append(suggestions,
			suggest{
				text:        n.Name,
				description: fmt.Sprintf("Native Function/%d", n.Arity),
				typ:         "native",
			},
		)
	}

	for _, tok := range token.Keywords() {
		suggestions = append(suggestions, suggest{
			text: tok.String(),
			typ:  "keyword",
		})
	}
	initialSuggLen = len(suggestions)
}

type options struct {
	filePath   string
	configPath string
	output     string
	disasm     bool
	verbose    int
	timeout    time.Duration
	trace      map[string]bool
}

var errTooManyArgs = errors.New("too many arguments")

func parseFlags(flagset *flag.FlagSet, args []string) (*options, error) {
	opts := &options{trace: make(map[string]bool)}

	var trace string
	flagset.StringVar(&trace, "trace", "",
		`Comma separated units: -trace parser,compiler,vm,gc`)
	flagset.DurationVar(&opts.timeout, "timeout", 0,
		"Program timeout. It is applicable if a script file is provided and "+
			"must be non-zero duration")
	flagset.IntVar(&opts.verbose, "v", 0,
		"Log verbosity, 1 for info and 2 for debug messages")
	flagset.StringVar(&opts.output, "o", "",
		"Compile the script to the given bytecode file instead of running it")
	flagset.BoolVar(&opts.disasm, "disasm", false,
		"Print the disassembled bytecode instead of running it")
	flagset.StringVar(&opts.configPath, "config", "",
		"Configuration file, "+config.FileName+
			" is searched from the script directory upwards if not set")

	flagset.Usage = func() {
		_, _ = fmt.Fprint(flagset.Output(),
			"Usage: evie [flags] [script file]\n\n",
			"If script file is not provided, REPL terminal application is started\n",
			"Use - to read from stdin, files with ", encoder.FileExt,
			" extension are loaded as bytecode\n",
			"\nFlags:\n",
		)
		flagset.PrintDefaults()
	}

	if err := flagset.Parse(args); err != nil {
		return nil, err
	}

	for _, unit := range strings.Split(trace, ",") {
		unit = strings.TrimSpace(unit)
		switch unit {
		case "":
		case "parser", "compiler", "vm", "gc":
			opts.trace[unit] = true
		default:
			err := fmt.Errorf("unknown trace unit %q", unit)
			_, _ = fmt.Fprintln(flagset.Output(), err)
			flagset.Usage()
			return nil, err
		}
	}

	switch flagset.NArg() {
	case 0:
	case 1:
		opts.filePath = flagset.Arg(0)
	default:
		_, _ = fmt.Fprintln(flagset.Output(), errTooManyArgs)
		flagset.Usage()
		return nil, errTooManyArgs
	}
	return opts, nil
}

func loadConfig(opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		dir := "."
		if opts.filePath != "" && opts.filePath != "-" {
			dir = filepath.Dir(opts.filePath)
		}
		cfg, err = config.FindAndLoad(dir)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Path != "" {
		log.Infof("configuration loaded from %s", cfg.Path)
	}

	if opts.trace["parser"] {
		cfg.Compiler.TraceParser = true
	}
	if opts.trace["compiler"] {
		cfg.Compiler.Trace = true
	}
	if opts.trace["vm"] {
		cfg.VM.Trace = true
	}
	if opts.trace["gc"] {
		cfg.GC.Trace = true
	}
	return cfg, nil
}

// shebang2Slashes turns a leading shebang line into a line comment.
func shebang2Slashes(script []byte) {
	if len(script) > 1 && script[0] == '#' && script[1] == '!' {
		script[0], script[1] = '/', '/'
	}
}

func readScript(path string, stdin io.Reader) ([]byte, error) {
	var (
		script []byte
		err    error
	)
	if path == "-" {
		script, err = io.ReadAll(stdin)
	} else {
		script, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	shebang2Slashes(script)
	return script, nil
}

func loadBytecode(
	path string,
	stdin io.Reader,
	cfg *config.Config,
	traceOut io.Writer,
) (*evie.Bytecode, int, error) {
	if path != "-" && filepath.Ext(path) == encoder.FileExt {
		f, err := os.Open(path)
		if err != nil {
			return nil, exitIOErr, err
		}
		defer f.Close()

		heap := evie.NewHeap(cfg.HeapOptions(traceOut))
		bc, err := encoder.DecodeBytecodeFrom(f, heap)
		if err != nil {
			return nil, exitCode(err), err
		}
		log.Infof("bytecode loaded from %s", path)
		return bc, exitOK, nil
	}

	script, err := readScript(path, stdin)
	if err != nil {
		return nil, exitIOErr, err
	}
	start := time.Now()
	bc, err := evie.Compile(script, cfg.CompilerOptions(traceOut))
	if err != nil {
		return nil, exitCode(err), err
	}
	log.Infof("compiled %s (%s) in %s",
		path, humanize.Bytes(uint64(len(script))), time.Since(start))
	return bc, exitOK, nil
}

func writeBytecode(bc *evie.Bytecode, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err = encoder.EncodeBytecodeTo(bc, &buf); err == nil {
		_, err = buf.WriteTo(f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	log.Infof("bytecode written to %s (%s)", path, humanize.Bytes(uint64(buf.Len())))
	return nil
}

// executeBytecode runs bc in a new VM. The VM cannot be interrupted, so the
// run is abandoned if ctx is done first.
func executeBytecode(
	ctx context.Context,
	bc *evie.Bytecode,
	vopts evie.VMOptions,
) error {
	vm := evie.NewVM(bc, vopts).SetRecover(true)

	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err = vm.Run()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	vm.Close()
	s := bc.Heap.Stats()
	log.Debugf("heap: %s allocated, %s objects, %d collections",
		humanize.IBytes(uint64(s.BytesAllocated)), humanize.Comma(int64(s.Objects)),
		s.Collections)
	return err
}

func executeFile(
	ctx context.Context,
	opts *options,
	cfg *config.Config,
	stdin io.Reader,
	stdout io.Writer,
) (int, error) {
	bc, code, err := loadBytecode(opts.filePath, stdin, cfg, stdout)
	if err != nil {
		return code, err
	}
	defer bc.Release()

	switch {
	case opts.disasm:
		bc.Fprint(stdout)
		return exitOK, nil
	case opts.output != "":
		if err := writeBytecode(bc, opts.output); err != nil {
			return exitIOErr, err
		}
		return exitOK, nil
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	vopts := cfg.VMOptions(stdout)
	vopts.Stdout = stdout
	if err := executeBytecode(ctx, bc, vopts); err != nil {
		return exitCode(err), err
	}
	return exitOK, nil
}

func exitCode(err error) int {
	var list evie.ErrorList
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &list):
		return exitDataErr
	case errors.Is(err, evie.ErrOutOfMemory),
		errors.Is(err, evie.ErrVMPoisoned),
		errors.Is(err, context.DeadlineExceeded):
		return exitSoftErr
	}
	var rerr *evie.RuntimeError
	if errors.As(err, &rerr) {
		return exitSoftErr
	}
	// decoding errors
	return exitDataErr
}

func errorString(err error) string {
	var list evie.ErrorList
	if errors.As(err, &list) {
		msgs := make([]string, len(list))
		for i, e := range list {
			msgs[i] = e.Error()
		}
		return strings.Join(msgs, "\n")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout: " + err.Error()
	}
	return fmt.Sprintf("%+v", err)
}

func isTerminal(v interface{}) bool {
	f, ok := v.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func setTerminalTitle(title string) {
	if runtime.GOOS == "windows" {
		return
	}

	titleBytes := bytes.ReplaceAll([]byte(title), []byte{0x13}, []byte{})
	titleBytes = bytes.ReplaceAll(titleBytes, []byte{0x07}, []byte{})

	_, _ = os.Stdout.Write([]byte{0x1b, ']', '2', ';'})
	_, _ = os.Stdout.Write(titleBytes)
	_, _ = os.Stdout.Write([]byte{0x07})
}

func runREPL(cfg *config.Config) error {
	initSuggestions()
	setTerminalTitle(title)

	const history = "var a = 1;\n" +
		"fun add(a, b) { return a + b; }\n" +
		"print add(2, 3);\n" +
		"for (var i = 0; i < 3; i = i + 1) print i;\n" +
		"class Point { init(x, y) { this.x = x; this.y = y; } }\n" +
		"var p = Point(1, 2); p.x + p.y;\n" +
		"clock();\n"

	for {
		hist := strings.NewReader(history)

		err := newREPL(cfg, os.Stdout).run(hist)
		switch err {
		case errReset:
			log.Info("session reset")
			continue
		case errExit:
			return nil
		}
		return err
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flagset := flag.NewFlagSet(title, flag.ContinueOnError)
	flagset.SetOutput(stderr)

	opts, err := parseFlags(flagset, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	commonlog.Configure(opts.verbose, nil)

	if opts.filePath == "" && !isTerminal(stdin) {
		opts.filePath = "-"
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return exitConfig
	}

	if opts.filePath != "" {
		code, err := executeFile(context.Background(), opts, cfg, stdin, stdout)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, errorString(err))
		}
		return code
	}

	if !isTerminal(stdout) {
		_, _ = fmt.Fprintln(stderr, "not a terminal")
		return 1
	}
	if err := runREPL(cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "%+v\n", err)
		return 1
	}
	return exitOK
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
