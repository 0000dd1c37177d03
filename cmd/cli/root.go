// Package cli provides the operator-facing command-line interface: trigger
// a bulk scan against the controller's HTTP API and poll its status.
// Structured as a Cobra root plus subcommands, grounded on
// anstrom-scanorama's cmd/cli package.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	apiAddr   string
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "dispatchctl",
	Short: "Trigger and monitor dispatch bulk scans",
	Long: `dispatchctl talks to a running dispatch controller's HTTP API to
trigger bulk TLS scans against a target list and report their live
progress.`,
	Version: getVersion(),
}

// Execute adds all child commands to the root command. Called once by
// main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "controller API address (overrides config)")

	if err := viper.BindPFlag("api", rootCmd.PersistentFlags().Lookup("api")); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to bind api flag: %v\n", err)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}
	viper.SetEnvPrefix("DISPATCH")
	viper.AutomaticEnv()
	viper.SetDefault("api", "127.0.0.1:8080")
	_ = viper.ReadInConfig()
}

func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the build-time version info. Called from main.
func SetVersion(v, c, bt string) {
	version, commit, buildTime = v, c, bt
	rootCmd.Version = getVersion()
}

// apiAddress resolves the controller API address: --api flag, then
// DISPATCH_API env var / config file value, then the built-in default.
func apiAddress() string {
	if apiAddr != "" {
		return apiAddr
	}
	return viper.GetString("api")
}
