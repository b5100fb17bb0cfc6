// Package commands implements the mokuro-online CLI: a cobra root
// command with a global --config persistent flag and one subcommand
// per concern (serve, config, cache).
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "mokuro-online",
	Short: "mokuro-online - OCR coordination service for manga page images",
	Long: `mokuro-online coalesces, caches, and serves manga page OCR results
behind a small HTTP API: uploaded pages are deduplicated by content hash,
OCR work runs on a bounded worker pool, and results persist in a
content-addressed cache with size/count eviction.

Use "mokuro-online [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and parses flags.
// Called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; MOKURO_ONLINE_* environment variables are read regardless)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cacheCmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("mokuro-online %s (commit %s, built %s)\n", Version, Commit, Date)
		return nil
	},
}
