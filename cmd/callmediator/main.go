package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/hamzaKhattat/call-mediator/internal/config"
	"github.com/hamzaKhattat/call-mediator/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile string
	envFiles   []string
	verbose    bool

	version = "dev"

	cfg *config.Config

	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	blue   = color.New(color.FgBlue).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "callmediator",
		Short:         "Call lifecycle mediator",
		Long:          "Admits, tracks and routes calls between telephony providers, with incoming call screening, handover and audio routing.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return loadConfig()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Environment files to load (default .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(
		createServeCommand(),
		createSimulateCommand(),
		createAccountsCommand(),
		createBlockedCommands(),
		createVersionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}

func loadConfig() error {
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return err
	}

	v := viper.New()
	config.Setup(v, configFile)

	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded

	return logger.Init(cfg.LoggerConfig(verbose))
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("callmediator %s\n", bold(version))
		},
	}
}
