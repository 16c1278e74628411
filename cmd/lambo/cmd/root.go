// Package cmd provides the lambo CLI: run the control plane, validate a
// config file, or print the build version.
package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool

	log = logrus.NewEntry(logrus.StandardLogger())
)

// rootCmd is the base command when lambo is called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "lambo",
	Short: "lambo is a weight-adaptive load balancer control plane",
	Long: `lambo computes per-backend proxy weights from streamed latency and
error-rate metrics, materializes them into a reverse proxy's config, and
keeps a fleet of instances converged on the same weights via a shared
Redis store and a durable cold-storage backup.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
}

func setupLogging() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log = logrus.NewEntry(logrus.StandardLogger())
}
