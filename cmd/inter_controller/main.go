// Command inter_controller is the timer and single-device simulator: it
// delivers periodic IRQ0 ticks and, after servicing queued I/O requests,
// IRQ1 completions to the Kernel process named on its command line.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miguelsom/rrkernel/internal/config"
	"github.com/miguelsom/rrkernel/internal/intercontroller"
)

var rootCmd = &cobra.Command{
	Use:   "inter_controller <kernel_pid> [<table_path>]",
	Short: "Simulate the periodic timer and the single I/O device",
	Long: `inter_controller sends a one-second IRQ0 tick (SIGUSR1) to the Kernel
process, drains I/O requests from the request FIFO, serves them one at a
time with a three-second simulated device delay, and sends IRQ1 (SIGUSR2)
on completion.

table_path is optional: without it, inter_controller still ticks and
serves requests, but cannot observe the Kernel's shutdown flag and relies
solely on SIGTERM to exit.`,
	Args:          cobra.RangeArgs(1, 2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runIC,
}

var fifoPath string

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVar(&fifoPath, "fifo", "/tmp/rrkernel_iofifo", "I/O request FIFO path")
}

func runIC(cmd *cobra.Command, args []string) error {
	kernelPID, err := config.ParsePositiveSeconds("kernel_pid", args[0])
	if err != nil {
		return err
	}
	tablePath := ""
	if len(args) == 2 {
		tablePath = args[1]
	}

	fmt.Printf("Interrupt Controller: kernel_pid=%d\n", kernelPID)
	return intercontroller.New(kernelPID, tablePath, fifoPath).Run(cmd.Context())
}

func main() {
	rootCmd.SetContext(context.Background())
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(config.ExitCode(err))
}
