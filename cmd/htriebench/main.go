// htriebench is an in-process benchmark tool for pkg/htrie.
//
// Unlike a CLI-wrapping benchmark that shells out to a binary per
// operation, htriebench links the library directly and drives it from
// multiple goroutines, since htrie's whole point is in-process
// concurrent access to a memory-mapped file.
//
// Usage:
//
//	htriebench [flags]
//
// Flags:
//
//	--keys         Number of distinct keys to populate before measuring
//	--value-size   Payload size in bytes for generated records
//	--workers      Number of concurrent goroutines driving the workload
//	--duration     How long to run the measured phase
//	--workload     One of: put, get, mixed, getalloc
//	--out          Directory to write a markdown report into (optional)
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	atomicfile "github.com/natefinch/atomic"

	"github.com/mappedkv/htrie/pkg/htrie"
	"github.com/spf13/pflag"
)

type config struct {
	Keys      int
	ValueSize int
	Workers   int
	Duration  time.Duration
	Workload  string
	OutDir    string
}

type result struct {
	Workload string
	Workers  int
	Ops      int64
	Elapsed  time.Duration
}

func (r result) opsPerSec() float64 {
	return float64(r.Ops) / r.Elapsed.Seconds()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config{}

	fs := pflag.NewFlagSet("htriebench", pflag.ContinueOnError)
	fs.IntVar(&cfg.Keys, "keys", 100_000, "number of distinct keys to populate before measuring")
	fs.IntVar(&cfg.ValueSize, "value-size", 64, "payload size in bytes for generated records")
	fs.IntVar(&cfg.Workers, "workers", runtime.GOMAXPROCS(0), "number of concurrent goroutines driving the workload")
	fs.DurationVar(&cfg.Duration, "duration", 3*time.Second, "how long to run the measured phase")
	fs.StringVar(&cfg.Workload, "workload", "mixed", "workload: put, get, mixed, or getalloc")
	fs.StringVar(&cfg.OutDir, "out", "", "directory to write a markdown report into (optional)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: htriebench [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "htriebench-*")
	if err != nil {
		return fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	store, err := htrie.Open(htrie.Options{Path: filepath.Join(dir, "bench.htrie")})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	fmt.Fprintf(os.Stderr, "populating %d keys (%d byte values)...\n", cfg.Keys, cfg.ValueSize)
	if err := populate(store, cfg); err != nil {
		return fmt.Errorf("populate: %w", err)
	}

	fmt.Fprintf(os.Stderr, "running %q workload for %v with %d workers...\n", cfg.Workload, cfg.Duration, cfg.Workers)
	res, err := runWorkload(store, cfg)
	if err != nil {
		return fmt.Errorf("workload: %w", err)
	}

	report := formatReport(cfg, res)
	fmt.Print(report)

	if cfg.OutDir != "" {
		if err := os.MkdirAll(cfg.OutDir, 0o750); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		timestamp := time.Now().UTC().Format("20060102-150405")
		outFile := filepath.Join(cfg.OutDir, fmt.Sprintf("htriebench_%s.md", timestamp))
		if err := atomicfile.WriteFile(outFile, strings.NewReader(report)); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", outFile)
	}

	return nil
}

func populate(s *htrie.Store, cfg config) error {
	value := make([]byte, cfg.ValueSize)
	for i := range value {
		value[i] = byte(i)
	}

	for key := uint64(0); key < uint64(cfg.Keys); key++ {
		if _, err := s.EntryCreate(key, value); err != nil {
			return fmt.Errorf("key %d: %w", key, err)
		}
	}
	return nil
}

func runWorkload(s *htrie.Store, cfg config) (result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var ops atomic.Int64
	var wg sync.WaitGroup
	wg.Add(cfg.Workers)

	value := make([]byte, cfg.ValueSize)
	start := time.Now()

	for w := 0; w < cfg.Workers; w++ {
		w := w
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(w)+1, uint64(w)+1))

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				key := rng.Uint64N(uint64(cfg.Keys))

				switch cfg.Workload {
				case "put":
					s.EntryCreate(key, value)
				case "get":
					if it, err := s.RecGet(key); err == nil {
						s.RecPut(it)
					}
				case "getalloc":
					ref, isNew, err := s.RecGetAlloc(key, htrie.GetAllocCtx{MaxLen: cfg.ValueSize})
					if err == nil {
						if isNew {
							s.EntryAdd(ref, value)
							s.EntryMarkComplete(ref)
						} else {
							s.RecPutRef(ref)
						}
					}
				default: // mixed
					if rng.IntN(10) == 0 {
						s.EntryCreate(key, value)
					} else if it, err := s.RecGet(key); err == nil {
						s.RecPut(it)
					}
				}

				ops.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	return result{
		Workload: cfg.Workload,
		Workers:  cfg.Workers,
		Ops:      ops.Load(),
		Elapsed:  elapsed,
	}, nil
}

func formatReport(cfg config, res result) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## htriebench run %s\n\n", time.Now().UTC().Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("- keys: %d\n", cfg.Keys))
	sb.WriteString(fmt.Sprintf("- value size: %d bytes\n", cfg.ValueSize))
	sb.WriteString(fmt.Sprintf("- workload: %s\n", res.Workload))
	sb.WriteString(fmt.Sprintf("- workers: %d\n", res.Workers))
	sb.WriteString(fmt.Sprintf("- duration: %v\n", res.Elapsed.Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("- total ops: %d\n", res.Ops))
	sb.WriteString(fmt.Sprintf("- throughput: %.0f ops/sec\n", res.opsPerSec()))
	return sb.String()
}
