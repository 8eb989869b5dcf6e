// Command section-writer runs the asynchronous report section API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iago/section-writer-back/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "section-writer",
	Short: "Asynchronous report section generation API",
	Long:  "section-writer accepts generate and refine jobs for report sections and serves their status for polling.",
	// Running the binary without a subcommand serves HTTP.
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		fmt.Fprintf(os.Stderr, "failed loading .env files: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
