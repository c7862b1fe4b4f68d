// Command worker is the simulated user process: it attaches to the shared
// table the Kernel created, locates its own slot, and runs a bounded
// 20-instruction loop, optionally raising simulated I/O along the way.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miguelsom/rrkernel/internal/config"
	"github.com/miguelsom/rrkernel/internal/workerproc"
)

var modeFlag string

var rootCmd = &cobra.Command{
	Use:   "worker <table_path>",
	Short: "Run a simulated user process under the scheduler",
	Long: `worker attaches the shared process table at table_path, waits for the
Kernel to record its pid, then runs 20 virtual instructions. In "mixed"
mode it raises a READ at instruction 3 and a WRITE at instruction 8,
alternating the type on every later raise; in "cpu" mode it never raises
I/O.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runWorker,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVar(&modeFlag, "mode", "mixed", `worker mode: "mixed" or "cpu"`)
}

func runWorker(cmd *cobra.Command, args []string) error {
	var mode workerproc.Mode
	switch modeFlag {
	case "mixed":
		mode = workerproc.Mixed
	case "cpu":
		mode = workerproc.CPUOnly
	default:
		return config.NewUsageError("worker: unknown -mode %q (want \"mixed\" or \"cpu\")", modeFlag)
	}
	return workerproc.Run(cmd.Context(), args[0], mode)
}

func main() {
	rootCmd.SetContext(context.Background())
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(config.ExitCode(err))
}
