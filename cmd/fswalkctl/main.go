// Command fswalkctl is a thin developer harness for exercising the
// walker, hasher, transfer, watcher, and dedup packages from a
// terminal. It is not a packaged product CLI; it exists so the
// libraries can be smoke-tested by hand against a real filesystem.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:     "fswalkctl",
		Short:   "Exercise the walker/hasher/transfer/watcher/dedup packages",
		Version: version + " (" + commit + ")",
	}

	root.AddCommand(newWalkCmd())
	root.AddCommand(newHashCmd())
	root.AddCommand(newCopyCmd())
	root.AddCommand(newMoveCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newDedupeCmd())

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
