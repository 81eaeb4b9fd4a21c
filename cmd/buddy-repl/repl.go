package main

import (
	"bufio"
	"fmt"
	"io"
	"math/bits"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/gopkg/lang/fastrand"
	"github.com/fsnotify/fsnotify"

	buddy "github.com/lyrahgames/buddy-memory-allocator"
	"github.com/lyrahgames/buddy-memory-allocator/internal/cli"
)

// REPL drives one arena from a stream of commands. It keeps an allocation
// table keyed by user-pointer offset so blocks can be freed by the offsets
// printed at allocation time.
type REPL struct {
	arena  *buddy.Arena
	logger *cli.Logger
	table  map[uintptr]uintptr // user-pointer offset -> requested size
	prompt bool
}

// NewREPL creates a REPL with a fresh arena of the given managed size.
func NewREPL(size uintptr, logger *cli.Logger, prompt bool) (*REPL, error) {
	arena, err := buddy.New(size)
	if err != nil {
		return nil, fmt.Errorf("creating arena: %w", err)
	}
	return &REPL{
		arena:  arena,
		logger: logger,
		table:  make(map[uintptr]uintptr),
		prompt: prompt,
	}, nil
}

// Close releases the arena.
func (r *REPL) Close() {
	if r.arena != nil {
		if err := r.arena.Close(); err != nil {
			r.logger.Error("closing arena: %v", err)
		}
		r.arena = nil
	}
}

// Run reads commands from in until quit or EOF.
func (r *REPL) Run(in io.Reader) {
	scanner := bufio.NewScanner(in)
	r.printPrompt()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			r.printPrompt()
			continue
		}
		if quit := r.Execute(line); quit {
			return
		}
		r.printPrompt()
	}
}

// LoadFile executes every command in the given script file.
func (r *REPL) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r.logger.Debug("script: %s", line)
		if quit := r.Execute(line); quit {
			break
		}
	}
	return scanner.Err()
}

// Execute runs a single command line and reports whether the REPL should
// quit.
func (r *REPL) Execute(line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		r.printHelp()
	case "q", "quit", "exit":
		fmt.Println("Goodbye!")
		return true
	case "arena":
		fmt.Println(r.arena)
	case "list":
		r.printTable()
	case "stats":
		r.printStats()
	case "malloc":
		if len(args) != 1 {
			fmt.Println("usage: malloc <size>")
			break
		}
		size, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			fmt.Printf("invalid size %q\n", args[0])
			break
		}
		r.malloc(uintptr(size))
	case "free":
		if len(args) != 1 {
			fmt.Println("usage: free <offset>")
			break
		}
		offset, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			fmt.Printf("invalid offset %q\n", args[0])
			break
		}
		r.free(uintptr(offset))
	case "random":
		r.random()
	default:
		fmt.Printf("unknown command %q, use 'help' to print the help message\n", cmd)
	}
	return false
}

func (r *REPL) printPrompt() {
	if r.prompt {
		fmt.Print("$ >>> ")
	}
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  help               Show this help")
	fmt.Println("  quit, q            Quit the command line")
	fmt.Println("  arena              Print the arena state")
	fmt.Println("  list               Print the allocation table")
	fmt.Println("  stats              Print allocation statistics")
	fmt.Println("  malloc <size>      Allocate a block of at least <size> B")
	fmt.Println("  free <offset>      Deallocate the block at <offset>")
	fmt.Println("  random             Randomly allocate or deallocate a block")
}

func (r *REPL) printTable() {
	offsets := make([]uintptr, 0, len(r.table))
	for offset := range r.table {
		offsets = append(offsets, offset)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	fmt.Printf("%12s %12s %14s\n", "offset", "size [B]", "page size [B]")
	for _, offset := range offsets {
		ptr := r.arena.PointerAt(offset)
		fmt.Printf("%12d %12d %14d\n", offset, r.table[offset], r.arena.PageSize(ptr))
	}
}

func (r *REPL) printStats() {
	stats := r.arena.Stats()
	fmt.Printf("allocations  = %d\n", stats.AllocationCount)
	fmt.Printf("frees        = %d\n", stats.FreeCount)
	fmt.Printf("allocated    = %d B\n", stats.TotalAllocated)
	fmt.Printf("freed        = %d B\n", stats.TotalFreed)
	fmt.Printf("in use       = %d B\n", stats.BytesInUse)
	fmt.Printf("available    = %d B\n", stats.AvailableBytes)
	fmt.Printf("managed      = %d B\n", stats.ManagedBytes)
	fmt.Printf("reserved     = %d B\n", stats.ReservedBytes)
}

func (r *REPL) malloc(size uintptr) {
	ptr := r.arena.Alloc(size)
	if ptr == nil {
		fmt.Printf("memory allocation with %d B was unsuccessful\n", size)
		fmt.Println("no remaining free page is large enough")
		return
	}
	offset := r.arena.Offset(ptr)
	r.table[offset] = size
	fmt.Printf("memory allocation with %d B was successful\n", size)
	fmt.Printf("%14s = %d\n", "offset", offset)
	fmt.Printf("%14s = %d B\n", "size", size)
	fmt.Printf("%14s = %d B\n", "page size", r.arena.PageSize(ptr))
	fmt.Printf("%14s = %d B\n", "alignment", buddy.AlignmentOf(ptr))
}

func (r *REPL) free(offset uintptr) {
	if _, ok := r.table[offset]; !ok {
		fmt.Printf("cannot deallocate block with offset %d\n", offset)
		return
	}
	r.arena.Free(r.arena.PointerAt(offset))
	delete(r.table, offset)
	fmt.Printf("deallocated block with offset %d\n", offset)
}

// random allocates with probability 0.6 (always when the table is empty) and
// deallocates a random live block otherwise. Allocation sizes are drawn from
// an exponential size distribution to exercise every size class.
func (r *REPL) random() {
	if len(r.table) == 0 || fastrand.Float32() < 0.6 {
		maxExp := uint(bits.Len64(uint64(r.arena.MaxPageSize() - 1)))
		exp := uint(fastrand.Uint32n(uint32(maxExp + 1)))
		size := uintptr(1) << exp
		size += uintptr(fastrand.Uint64() % uint64(size))
		fmt.Printf("randomly allocating %d B\n", size)
		r.malloc(size)
		return
	}

	target := int(fastrand.Uint32n(uint32(len(r.table))))
	for offset := range r.table {
		if target == 0 {
			fmt.Printf("randomly deallocating block with offset %d\n", offset)
			r.free(offset)
			return
		}
		target--
	}
}

// watchAndReplay runs the script against a fresh arena, then re-runs it every
// time the file is written, printing the final arena state after each pass.
func watchAndReplay(path string, size uintptr, logger *cli.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	replay := func() {
		repl, err := NewREPL(size, logger, false)
		if err != nil {
			logger.Error("replay: %v", err)
			return
		}
		defer repl.Close()
		if err := repl.LoadFile(path); err != nil {
			logger.Error("replay: %v", err)
			return
		}
		fmt.Println(repl.arena)
	}

	replay()
	logger.Info("watching %s", path)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				logger.Info("%s changed, replaying", event.Name)
				replay()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch: %v", err)
		}
	}
}
