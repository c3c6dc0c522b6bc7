package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cuemby/testnet-deploy/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "testnet-deploy",
	Short: "Deploy and operate testnet environments",
	Long: `testnet-deploy creates testnet environments on a cloud provider with
terraform, provisions their VMs with ansible, and operates the running
network: upscaling, churning nodes, funding uploaders and fetching logs.

Settings are read from testnet-deploy.yml in the current directory, or the
file passed with --config, and from TESTNET_DEPLOY_* environment variables.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{
			Level:      log.ParseLevel(level),
			JSONOutput: jsonOutput,
		})
		return readConfigFile(cmd)
	},
}

func readConfigFile(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("testnet-deploy")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && path == "" {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	logger := log.WithComponent("config")
	logger.Debug().Str("file", viper.ConfigFileUsed()).Msg("Loaded configuration")
	return nil
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"testnet-deploy version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Config file (default ./testnet-deploy.yml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON instead of console output")
	rootCmd.PersistentFlags().String("provider", "", "Cloud provider (digital-ocean, aws); overrides the config file")
	_ = viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))
}
