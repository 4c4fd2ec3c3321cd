// Package cmd wires the logsift subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/logsift/logsift/internal/buildinfo"
	"github.com/logsift/logsift/internal/config"
	"github.com/logsift/logsift/internal/logging"
)

var (
	cfgFile  string
	dbPath   string
	logLevel string

	envCfg *config.EnvConfig
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "logsift",
	Short: "Compressed log files to SQLite, SQL and Parquet",
	Long: `logsift ingests directories of gzip-compressed log files into a SQLite
database, answers ad-hoc SQL queries over it, and exports row subsets to
Parquet for offline analysis.`,
	Version:       buildinfo.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		envCfg, err = config.LoadEnvConfig()
		if err != nil {
			return err
		}

		// Config file fills in values no flag or env var set.
		if !cmd.Flags().Changed("db") && dbPath == "" && viper.IsSet("db") {
			envCfg.DBPath = viper.GetString("db")
		}
		if !cmd.Flags().Changed("log-level") && logLevel == "" && viper.IsSet("log-level") {
			envCfg.LogLevel = viper.GetString("log-level")
		}

		// Flags win over everything.
		if dbPath != "" {
			envCfg.DBPath = dbPath
		}
		if logLevel != "" {
			envCfg.LogLevel = logLevel
		}

		logging.Init(envCfg.LogLevel)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $HOME/.logsift.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the log database (default: logs.db)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"logsift %s (commit %s, built %s)\n",
		buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime,
	))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".logsift")
		viper.SetConfigType("yaml")
	}

	_ = viper.ReadInConfig()
}
