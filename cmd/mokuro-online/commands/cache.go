package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marmos91/mokuro-online/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "OCR cache administration",
	Long: `Inspect and administer the OCR result cache configured by
OCR_CACHE_TYPE, without starting the HTTP server.`,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every entry from the OCR cache",
	Long: `Remove every entry from the configured OCR cache backend.

This opens the backend directly (the same one "mokuro-online serve"
would use) and clears it; it does not require the server to be
running, and it does not check whether a server is using the same
backend.`,
	RunE: runCacheClear,
}

var cacheCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of entries in the OCR cache",
	RunE:  runCacheCount,
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheCountCmd)
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	backend, err := openCacheBackend(cfg.Cache)
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := backend.Clear(cmd.Context()); err != nil {
		return err
	}
	cmd.Println("OCR cache cleared")
	return nil
}

func runCacheCount(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	backend, err := openCacheBackend(cfg.Cache)
	if err != nil {
		return err
	}
	defer backend.Close()

	count, err := backend.Count(context.Background())
	if err != nil {
		return err
	}
	cmd.Printf("%d entries\n", count)
	return nil
}
