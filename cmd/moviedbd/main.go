package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "moviedbd",
		Short: "Movie catalog request server",
		Long:  "Run the movie catalog server: a concurrent TCP listener that accepts YAML-framed operations and drives them against a local SQLite-backed store",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
