// htrieshell is an interactive CLI for exploring htrie store files.
//
// Usage:
//
//	htrieshell <store-file>              Open an existing store, or create
//	                                      one if it does not exist yet
//
// Flags (only consulted when creating a new store):
//
//	--extent-size       Extent growth size in bytes (default: 2MiB)
//	--small-block-size   Small (single-block) record size in bytes
//	--fragment-block-size Fragment block size in bytes
//	--config             Path to a JSON-with-comments config file supplying
//	                      any of the above not set on the command line
//	                      (see ExampleConfig below)
//
// Commands (in REPL):
//
//	put <key> <value>       Store value under key (key is a decimal uint64)
//	get <key>                Retrieve the value stored under key
//	del <key>                Remove key
//	walk [limit]             List up to limit live entries
//	bulk <count>             Insert N entries at random keys
//	seq <count> [start]      Insert N sequential entries
//	bench <count>            Benchmark put+get performance
//	info                     Show store info
//	help                     Show this help
//	exit / quit / q          Exit
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	atomicfile "github.com/natefinch/atomic"

	"github.com/mappedkv/htrie/pkg/htrie"
	"github.com/peterh/liner"
	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

// fileConfig is the shape of the optional --config file. Fields left at
// their zero value fall back to htrie's own defaults.
type fileConfig struct {
	ExtentSize        uint32 `json:"extentSize"`
	SmallBlockSize    uint32 `json:"smallBlockSize"`
	FragmentBlockSize uint32 `json:"fragmentBlockSize"`
	MaxFileSize       uint64 `json:"maxFileSize"`
}

// ExampleConfig documents the --config file shape; htrieshell itself never
// reads this constant, it exists for `htrieshell --help`-adjacent docs.
const ExampleConfig = `{
  // bytes the file grows by each time it runs out of space
  "extentSize": 2097152,
  "smallBlockSize": 256,
  "fragmentBlockSize": 2048,
}`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("htrieshell", pflag.ContinueOnError)

	extentSize := fs.Uint32("extent-size", 0, "extent growth size in bytes (new store only)")
	smallBlockSize := fs.Uint32("small-block-size", 0, "small record block size in bytes (new store only)")
	fragmentBlockSize := fs.Uint32("fragment-block-size", 0, "fragment block size in bytes (new store only)")
	maxFileSize := fs.Uint64("max-file-size", 0, "cap on file growth in bytes, 0 for unbounded")
	configPath := fs.String("config", "", "path to a JSON-with-comments config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: htrieshell [flags] <store-file>\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("missing store file path")
	}
	path := fs.Arg(0)

	opts := htrie.Options{
		Path:              path,
		ExtentSize:        *extentSize,
		SmallBlockSize:    *smallBlockSize,
		FragmentBlockSize: *fragmentBlockSize,
		MaxFileSize:       *maxFileSize,
	}

	if *configPath != "" {
		if err := applyFileConfig(&opts, *configPath); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	_, statErr := os.Stat(path)
	isNewStore := statErr != nil

	store, err := htrie.Open(opts)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	if isNewStore {
		fmt.Printf("created new store at %s\n", path)
	}

	repl := &REPL{store: store, path: path}
	return repl.Run()
}

// applyFileConfig overlays non-zero fields from path onto opts. Flags
// already set on the command line are left untouched by the caller's own
// precedence (flags are parsed first; this only fills zero fields).
func applyFileConfig(opts *htrie.Options, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	var cfg fileConfig
	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}

	if opts.ExtentSize == 0 {
		opts.ExtentSize = cfg.ExtentSize
	}
	if opts.SmallBlockSize == 0 {
		opts.SmallBlockSize = cfg.SmallBlockSize
	}
	if opts.FragmentBlockSize == 0 {
		opts.FragmentBlockSize = cfg.FragmentBlockSize
	}
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = cfg.MaxFileSize
	}
	return nil
}

// REPL is the interactive command loop.
type REPL struct {
	store *htrie.Store
	path  string
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".htrieshell_history")
}

func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("htrieshell - %s\n", r.path)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("htrie> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()
			return nil
		case "help", "?":
			r.printHelp()
		case "put":
			r.cmdPut(args)
		case "get":
			r.cmdGet(args)
		case "del", "delete":
			r.cmdDelete(args)
		case "walk", "scan", "ls", "list":
			r.cmdWalk(args)
		case "bulk":
			r.cmdBulk(args)
		case "seq":
			r.cmdSeq(args)
		case "bench":
			r.cmdBench(args)
		case "info":
			r.cmdInfo()
		case "clear", "cls":
			fmt.Print("\033[H\033[2J")
		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()
	return nil
}

func (r *REPL) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	var buf bytes.Buffer
	if _, err := r.liner.WriteHistory(&buf); err != nil {
		return
	}
	_ = atomicfile.WriteFile(path, &buf)
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"put", "get", "del", "delete", "walk", "scan", "ls", "list",
		"bulk", "seq", "bench", "info", "clear", "cls",
		"help", "exit", "quit", "q",
	}
	var out []string
	lower := strings.ToLower(line)
	for _, c := range commands {
		if strings.HasPrefix(c, lower) {
			out = append(out, c)
		}
	}
	return out
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  put <key> <value>     Store value (text) under key (decimal uint64)")
	fmt.Println("  get <key>             Retrieve the value stored under key")
	fmt.Println("  del <key>             Remove key")
	fmt.Println("  walk [limit]          List up to limit live entries")
	fmt.Println("  bulk <count>          Insert N random entries")
	fmt.Println("  seq <count> [start]   Insert N sequential entries")
	fmt.Println("  bench <count>         Benchmark put+get performance")
	fmt.Println("  info                  Show store info")
	fmt.Println("  help                  Show this help")
	fmt.Println("  exit / quit / q       Exit")
}

func parseKeyArg(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: put <key> <value>")
		return
	}
	key, err := parseKeyArg(args[0])
	if err != nil {
		fmt.Printf("Error parsing key: %v\n", err)
		return
	}
	value := strings.Join(args[1:], " ")

	if _, err := r.store.EntryCreate(key, []byte(value)); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("OK: put %d\n", key)
}

func (r *REPL) cmdGet(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: get <key>")
		return
	}
	key, err := parseKeyArg(args[0])
	if err != nil {
		fmt.Printf("Error parsing key: %v\n", err)
		return
	}

	it, err := r.store.RecGet(key)
	if errors.Is(err, htrie.ErrKeyAbsent) {
		fmt.Println("(not found)")
		return
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("%s\n", it.Data())
	more := 0
	for {
		ok, err := r.store.RecNext(it)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		if !ok {
			break
		}
		fmt.Printf("%s\n", it.Data())
		more++
	}
	if more > 0 {
		fmt.Printf("(%d more record(s) sharing this key)\n", more)
	}
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: del <key>")
		return
	}
	key, err := parseKeyArg(args[0])
	if err != nil {
		fmt.Printf("Error parsing key: %v\n", err)
		return
	}

	err = r.store.EntryRemove(key)
	if errors.Is(err, htrie.ErrKeyAbsent) {
		fmt.Printf("OK: %d did not exist\n", key)
		return
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("OK: deleted %d\n", key)
}

func (r *REPL) cmdWalk(args []string) {
	limit := 20
	if len(args) >= 1 {
		var err error
		limit, err = strconv.Atoi(args[0])
		if err != nil {
			fmt.Printf("Error parsing limit: %v\n", err)
			return
		}
	}

	count := 0
	err := r.store.EntryWalk(func(key uint64, data []byte) bool {
		count++
		fmt.Printf("%3d. %d  %q\n", count, key, data)
		return count < limit
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if count == 0 {
		fmt.Println("(empty)")
	}
}

func (r *REPL) cmdBulk(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: bulk <count>")
		return
	}
	count, err := strconv.Atoi(args[0])
	if err != nil || count < 1 {
		fmt.Println("Error: count must be a positive integer")
		return
	}

	start := time.Now()
	for i := 0; i < count; i++ {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			fmt.Printf("Error generating random key: %v\n", err)
			return
		}
		key := binary.BigEndian.Uint64(buf[:])
		if _, err := r.store.EntryCreate(key, []byte(time.Now().String())); err != nil {
			fmt.Printf("Error at entry %d: %v\n", i+1, err)
			return
		}
	}

	elapsed := time.Since(start)
	rate := float64(count) / elapsed.Seconds()
	fmt.Printf("OK: inserted %d entries in %v (%.0f ops/sec)\n", count, elapsed.Round(time.Millisecond), rate)
}

func (r *REPL) cmdSeq(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: seq <count> [start]")
		return
	}
	count, err := strconv.Atoi(args[0])
	if err != nil || count < 1 {
		fmt.Println("Error: count must be a positive integer")
		return
	}

	start := uint64(1)
	if len(args) >= 2 {
		start, err = strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Printf("Error parsing start: %v\n", err)
			return
		}
	}

	begin := time.Now()
	for i := 0; i < count; i++ {
		key := start + uint64(i)
		if _, err := r.store.EntryCreate(key, []byte(strconv.FormatUint(key, 10))); err != nil {
			fmt.Printf("Error at entry %d: %v\n", i+1, err)
			return
		}
	}

	elapsed := time.Since(begin)
	rate := float64(count) / elapsed.Seconds()
	fmt.Printf("OK: inserted %d sequential entries in %v (%.0f ops/sec)\n", count, elapsed.Round(time.Millisecond), rate)
}

func (r *REPL) cmdBench(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: bench <count>")
		return
	}
	count, err := strconv.Atoi(args[0])
	if err != nil || count < 1 {
		fmt.Println("Error: count must be a positive integer")
		return
	}

	keys := make([]uint64, count)
	for i := range keys {
		var buf [8]byte
		rand.Read(buf[:])
		keys[i] = binary.BigEndian.Uint64(buf[:])
	}

	fmt.Printf("Benchmarking %d operations...\n", count)

	putStart := time.Now()
	for i, key := range keys {
		if _, err := r.store.EntryCreate(key, []byte(strconv.Itoa(i))); err != nil {
			fmt.Printf("Error at put %d: %v\n", i+1, err)
			return
		}
	}
	putElapsed := time.Since(putStart)

	getStart := time.Now()
	hits := 0
	for _, key := range keys {
		if it, err := r.store.RecGet(key); err == nil {
			hits++
			r.store.RecPut(it)
		}
	}
	getElapsed := time.Since(getStart)

	fmt.Printf("\nResults:\n")
	fmt.Printf("  Puts:  %d ops in %v (%.0f ops/sec)\n",
		count, putElapsed.Round(time.Millisecond), float64(count)/putElapsed.Seconds())
	fmt.Printf("  Gets:  %d ops in %v (%.0f ops/sec), %d hits\n",
		count, getElapsed.Round(time.Millisecond), float64(count)/getElapsed.Seconds(), hits)
}

func (r *REPL) cmdInfo() {
	info, err := os.Stat(r.path)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Store Info:\n")
	fmt.Printf("  Path:      %s\n", r.path)
	fmt.Printf("  File size: %d bytes\n", info.Size())
}
