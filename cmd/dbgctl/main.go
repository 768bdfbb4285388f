// Command dbgctl drives a debug adapter from the terminal.
//
// It launches or attaches to a debuggee through any Debug Adapter Protocol
// adapter, applies breakpoints given on the command line and then reads
// debugger commands from stdin. Program output and evaluation results are
// streamed to stdout.
package main

import (
	"fmt"
	"os"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
