package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the evhttpd build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("evhttpd %s (%s)\n", version, gitHash)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
