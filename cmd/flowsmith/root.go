package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flowsmith-ai/flowsmith/logging"
)

var (
	cfgFile string
	logger  *logging.FlowsmithLogger
)

var rootCmd = &cobra.Command{
	Use:   "flowsmith",
	Short: "Flowsmith - converse your way from an idea to an executable workflow",
	Long: `Flowsmith is a conversational workflow-authoring server. It walks a user
from a free-text request through clarification, negotiation and gap analysis
to a validated, executable workflow document.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flowsmith.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))

	logger = logging.NewLogger(nil)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			logger.Error("failed to get home directory: %v", err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".flowsmith")
	}

	viper.SetEnvPrefix("flowsmith")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logger.Info("using config file %s", viper.ConfigFileUsed())
	}

	logger = logging.NewSlogLogger(parseLevel(viper.GetString("log-level")), viper.GetString("log-format"), false)
}

func parseLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}
