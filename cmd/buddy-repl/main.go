package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lyrahgames/buddy-memory-allocator/internal/cli"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		showHelp    = flag.Bool("help", false, "show help information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		verbose     = flag.Bool("verbose", false, "enable verbose output")
		debugMode   = flag.Bool("debug", false, "enable debug mode")
		noPrompt    = flag.Bool("no-prompt", false, "disable interactive prompt")
		arenaSize   = flag.Uint64("size", 1<<20, "managed arena size in bytes")
		loadFile    = flag.String("load", "", "load and execute command script before starting the prompt")
		watchScript = flag.Bool("watch", false, "with -load, replay the script whenever it changes")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Interactive command line for the buddy memory arena.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCOMMANDS:\n")
		fmt.Fprintf(os.Stderr, "  help               Show the command help\n")
		fmt.Fprintf(os.Stderr, "  quit, q            Quit the command line\n")
		fmt.Fprintf(os.Stderr, "  arena              Print the arena state\n")
		fmt.Fprintf(os.Stderr, "  list               Print the allocation table\n")
		fmt.Fprintf(os.Stderr, "  stats              Print allocation statistics\n")
		fmt.Fprintf(os.Stderr, "  malloc <size>      Allocate a block of at least <size> B\n")
		fmt.Fprintf(os.Stderr, "  free <offset>      Deallocate the block at <offset>\n")
		fmt.Fprintf(os.Stderr, "  random             Randomly allocate or deallocate a block\n")
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s --size 1024            # 1 KiB arena\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --load trace.txt       # Replay a command script\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --load trace.txt --watch\n", os.Args[0])
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		cli.PrintVersion("buddy-repl", *jsonOutput)
		os.Exit(0)
	}

	logger := cli.NewLogger(*verbose, *debugMode)

	if *watchScript {
		if *loadFile == "" {
			cli.ExitWithError("--watch requires --load")
		}
		if err := watchAndReplay(*loadFile, uintptr(*arenaSize), logger); err != nil {
			cli.ExitWithError("%v", err)
		}
		return
	}

	repl, err := NewREPL(uintptr(*arenaSize), logger, !*noPrompt)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	defer repl.Close()

	// Handle interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nGoodbye!")
		repl.Close()
		os.Exit(0)
	}()

	if *loadFile != "" {
		if err := repl.LoadFile(*loadFile); err != nil {
			logger.Error("failed to load script: %v", err)
		}
	}

	repl.Run(os.Stdin)
}
