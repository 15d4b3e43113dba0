package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "shopctl",
		Short:   "Operator tooling for orders, payments and stock",
		Version: Version,
	}

	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(stockCmd())
	rootCmd.AddCommand(linkCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(accessCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
