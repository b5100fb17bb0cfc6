package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/mokuro-online/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Inspect the mokuro-online configuration that would be used to
start the server, after environment variables, an optional config
file, and defaults have all been applied.`,
}

var configShowOutput string

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the resolved configuration",
	Long: `Display the fully resolved configuration: environment variables
and an optional --config file layered over built-in defaults.

Examples:
  # Show the resolved config as YAML
  mokuro-online config show

  # Show as JSON
  mokuro-online config show --output json`,
	RunE: runConfigShow,
}

func init() {
	configShowCmd.Flags().StringVarP(&configShowOutput, "output", "o", "yaml", "Output format (yaml|json)")
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	switch configShowOutput {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "yaml", "":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unknown output format %q, want yaml or json", configShowOutput)
	}
}
