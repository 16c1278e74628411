package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archway-network/lambo/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config file operations",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the config file, exiting non-zero on failure",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Printf("config OK: instance_id=%s pools=incoming:%d,outgoing:%d\n",
			cfg.InstanceID, len(cfg.Pools.Incoming), len(cfg.Pools.Outgoing))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
