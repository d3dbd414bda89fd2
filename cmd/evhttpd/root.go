package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	gitHash = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "evhttpd",
	Short: "Run the evhttp embeddable server as a standalone daemon",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
