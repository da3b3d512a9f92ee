// Command markertool derives logical markers from recorded profiles, trims
// profiles to a time range and ships the results to the storage backends.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/OCAP2/markers/internal/config"
)

// set at build time via ldflags
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func newRootCmd(out io.Writer) *cobra.Command {
	a := newApp(out)

	root := &cobra.Command{
		Use:           programName,
		Short:         "Derive and filter profile markers",
		Long:          `markertool turns raw start/end marker rows into logical markers and reduces profiles to a time range`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd)
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.String("config-dir", ".", "directory holding "+config.FileName)
	pf.String("log-level", "info", "log level (debug|info|warn|error)")
	pf.String("logs-dir", "./markerlogs", "directory for log files, empty logs to stdout")
	pf.Int("jobs", 0, "threads processed in parallel, 0 means one per CPU")
	pf.String("color", "auto", "colorize output (auto|on|off)")
	pf.Bool("stats", false, "print collected metrics on exit")

	root.AddCommand(
		newDeriveCmd(a),
		newFilterCmd(a),
		newImportTraceCmd(a),
		newStoreCmd(a),
		newVersionCmd(),
	)
	return root
}

func main() {
	root := newRootCmd(os.Stdout)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
