package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ChinmayNoob/lsmkv/db"
	"github.com/ChinmayNoob/lsmkv/errs"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet("lsmkv", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	dir := fs.String("dir", "data", "DB directory (WAL + SSTables + manifest live here)")
	memSize := fs.Int64("mem", 4<<20, "memtable_size in bytes before sealing")
	readOnly := fs.Bool("readonly", false, "open in read-only mode")
	verbose := fs.Bool("verbose", false, "enable info-level logging")

	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(1)
	}
	args := fs.Args()

	opts := db.DefaultOptions(*dir)
	opts.MemtableSize = *memSize
	opts.ReadOnly = *readOnly
	if *verbose {
		l, _ := zap.NewDevelopment()
		opts.Logger = l
	}

	store, err := db.Open(opts)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = store.Close() }()

	switch cmd {
	case "put":
		if len(args) != 2 {
			usage()
			os.Exit(1)
		}
		if err := store.Put([]byte(args[0]), []byte(args[1])); err != nil {
			fatal(err)
		}
		fmt.Println("ok")

	case "get":
		if len(args) != 1 {
			usage()
			os.Exit(1)
		}
		v, ok, err := store.Get([]byte(args[0]))
		if err != nil {
			fatal(err)
		}
		if !ok {
			fmt.Println("(not found)")
			os.Exit(1)
		}
		fmt.Println(string(v))

	case "del":
		if len(args) != 1 {
			usage()
			os.Exit(1)
		}
		if err := store.Delete([]byte(args[0])); err != nil {
			fatal(err)
		}
		fmt.Println("ok")

	case "range":
		if len(args) != 2 {
			usage()
			os.Exit(1)
		}
		start, end := []byte(args[0]), []byte(args[1])
		if len(start) == 0 {
			start = nil
		}
		if len(end) == 0 {
			end = nil
		}
		it, err := store.Range(start, end, ^uint64(0))
		if err != nil {
			fatal(err)
		}
		defer func() { _ = it.Close() }()
		for it.Next() {
			fmt.Printf("%s=%s\n", it.Key(), it.Value())
		}
		if err := it.Err(); err != nil {
			fatal(err)
		}

	case "compact":
		var start, end []byte
		if len(args) == 2 {
			start, end = []byte(args[0]), []byte(args[1])
		}
		if err := store.CompactRange(start, end); err != nil {
			fatal(err)
		}
		fmt.Println("ok")

	case "stats":
		st := store.Stats()
		for _, lvl := range st.Levels {
			fmt.Printf("L%d: %d files, %d bytes\n", lvl.Level, lvl.NumFiles, lvl.TotalSize)
		}
		fmt.Printf("active_memtable_bytes=%d immutable_memtable_bytes=%d\n", st.ActiveMemtableBytes, st.ImmutableMemtableBytes)
		fmt.Printf("bytes_written=%d bytes_read=%d\n", st.BytesWritten, st.BytesRead)
		fmt.Printf("flush_count=%d compaction_count=%d wal_sync_count=%d\n", st.FlushCount, st.CompactionCount, st.WALSyncCount)
		fmt.Printf("bloom_checks=%d bloom_negatives=%d bloom_false_positives=%d\n", st.BloomChecks, st.BloomNegatives, st.BloomFalsePositives)

	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  lsmkv [flags] put <key> <value>")
	fmt.Fprintln(os.Stderr, "  lsmkv [flags] get <key>")
	fmt.Fprintln(os.Stderr, "  lsmkv [flags] del <key>")
	fmt.Fprintln(os.Stderr, "  lsmkv [flags] range <start|\"\"> <end|\"\">")
	fmt.Fprintln(os.Stderr, "  lsmkv [flags] compact [start end]")
	fmt.Fprintln(os.Stderr, "  lsmkv [flags] stats")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Flags:")
	fmt.Fprintln(os.Stderr, "  -dir      DB directory (default: data)")
	fmt.Fprintln(os.Stderr, "  -mem      memtable_size in bytes (default: 4MiB)")
	fmt.Fprintln(os.Stderr, "  -readonly open in read-only mode")
	fmt.Fprintln(os.Stderr, "  -verbose  enable info-level logging")
}

// fatal maps the error's semantic kind to the CLI's documented exit codes:
// 2 for an I/O error, 3 for corruption, 1 for everything else (bad usage,
// invalid argument, busy, not found).
func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	switch errs.Kind(err) {
	case errs.KindCorruption:
		os.Exit(3)
	case errs.KindIOError:
		os.Exit(2)
	default:
		os.Exit(1)
	}
}
