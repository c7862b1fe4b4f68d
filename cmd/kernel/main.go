// Command kernel is the Round-Robin scheduler entrypoint: it creates the
// shared process table and the request FIFO, spawns the Interrupt
// Controller and the worker fleet, and drives the scheduling loop until the
// run duration elapses, every worker finishes, or it receives SIGINT/
// SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/miguelsom/rrkernel/internal/config"
	"github.com/miguelsom/rrkernel/internal/sched"
)

var (
	tablePath string
	fifoPath  string
	icBinary  string

	rootCmd = &cobra.Command{
		Use:   "kernel <quantum_s> <duration_s> -- <cmd1> [args...] -- <cmd2> [args...] ...",
		Short: "Run the Round-Robin scheduler over a fleet of worker processes",
		Long: `kernel creates the shared process table and I/O request channel, spawns
the Interrupt Controller and every worker command given after "--", and
schedules them Round-Robin with I/O blocking until the run duration elapses
or every worker has exited.

Example:
  kernel 1 15 -- ./worker --mode=mixed -- ./worker --mode=cpu -- ./worker --mode=mixed`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runKernel,
	}
)

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVar(&tablePath, "table", "/tmp/rrkernel_table", "shared process table path")
	rootCmd.Flags().StringVar(&fifoPath, "fifo", "/tmp/rrkernel_iofifo", "I/O request FIFO path")
	rootCmd.Flags().StringVar(&icBinary, "ic-binary", "inter_controller", "path to the inter_controller binary")
}

func runKernel(cmd *cobra.Command, args []string) error {
	quantum, err := config.ParsePositiveSeconds("quantum_s", args[0])
	if err != nil {
		return err
	}
	duration, err := config.ParsePositiveSeconds("duration_s", args[1])
	if err != nil {
		return err
	}

	blocks := config.SplitWorkerBlocks(args[2:])
	if err := config.ValidateWorkerCount(len(blocks)); err != nil {
		return err
	}

	cfg := sched.Config{
		TablePath:  tablePath,
		FIFOPath:   fifoPath,
		Quantum:    time.Duration(quantum) * time.Second,
		Duration:   time.Duration(duration) * time.Second,
		NProcs:     len(blocks),
		ICPath:     icBinary,
		ICArgs:     []string{"--fifo=" + fifoPath},
		WorkerCmds: blocks,
	}

	fmt.Printf("Kernel RR: quantum=%ds, duration=%ds, procs=%d\n", quantum, duration, len(blocks))
	return sched.Run(cmd.Context(), cfg)
}

func main() {
	rootCmd.SetContext(context.Background())
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(config.ExitCode(err))
}
