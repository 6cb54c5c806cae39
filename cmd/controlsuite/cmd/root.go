package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the CLI reads.
const EnvPrefix = "CONTROLSUITE"

var cfgFile string

// cfg holds merged settings: flags override environment, which overrides
// the config file.
var cfg = newViper()

var rootCmd = &cobra.Command{
	Use:   "controlsuite",
	Short: "Altimation Control Suite configuration service",
	Long: `Seals flight-controller configurations under a passphrase and serves
the Control Suite backend API for storing and recovering them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML config file")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads the optional config file and binds the running command's
// flags so every setting is looked up through cfg.
func loadConfig(cmd *cobra.Command) error {
	if cfgFile != "" {
		cfg.SetConfigFile(cfgFile)
		cfg.SetConfigType("yaml")
		if err := cfg.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("reading config file: %w", err)
			}
		}
	}
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = cfg.BindPFlag(f.Name, f)
	})
	return bindErr
}
