package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stepline",
	Short: "Stepline is a resumable step-list workflow engine",
	Long: `Stepline executes declarative step-list workflows against a durable
variable context. Instances suspend indefinitely on elicit steps and
resume when input arrives, surviving restarts in between.`,
}

func main() {
	rootCmd.AddCommand(serveCmd(), validateCmd(), versionCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
