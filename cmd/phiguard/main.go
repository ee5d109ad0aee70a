package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-phiguard/internal/utils"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("phiguard failed", slog.String("op", utils.Operation(err)), slog.Any("error", err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "phiguard",
		Short:         "De-identify clinical text and call analysis services behind a circuit breaker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newScanCommand())
	return root
}
