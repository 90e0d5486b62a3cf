package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:          "whipfan",
		Short:        "WebRTC ingest and fan-out media server",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(), newProbeCommand())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
