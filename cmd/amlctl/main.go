// Command amlctl is the operator CLI: it renders record graphs, generates
// synthetic flagged records and projects flagged records into the graph store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "amlctl",
	Short:         "Operator tooling for the amlwatch backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newGraphCmd(), newDatagenCmd(), newIngestCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "amlctl:", err)
		stop()
		os.Exit(1)
	}
}
