package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	semanticStoreFlag string
	rootCmd           = &cobra.Command{
		Use:   "query-bot",
		Short: "Answer questions about milk collection records with MongoDB queries",
		Long: `query-bot turns natural language questions into MongoDB queries with an LLM,
checks and runs them, and summarizes what came back.`,
		SilenceUsage: true,
	}
)

func main() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&semanticStoreFlag, "semantic-store", storePostgres,
		"Where schemas, aliases and learned examples live: postgres or memory")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newSanitizeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
