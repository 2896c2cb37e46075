package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor     bool
	projectFlag int64
)

var rootCmd = &cobra.Command{
	Use:           "rat",
	Short:         "Requirement analysis proxy and client",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadDotEnv()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().Int64Var(&projectFlag, "project", 0, "project id (defaults to the selected project)")

	rootCmd.AddCommand(
		serveCmd,
		statusCmd,
		mcpCmd,
		configCmd,
		projectsCmd,
		appsCmd,
		featuresCmd,
		threadsCmd,
		analyzeCmd,
		chatCmd,
		testcasesCmd,
	)
}

// loadDotEnv reads .env from the working directory into the environment
// before config is loaded. A missing file is not an error.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("loading .env", "error", err)
	}
}

func main() {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		noColor = true
	}
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
