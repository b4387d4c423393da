package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/collab/internal/config"
	"github.com/vango-dev/collab/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	redisAddr  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "collabd",
		Short: "Real-time coordination server for collaborative editing",
		Long: `collabd relays document updates and chat between the clients of a
collaborative editor, and arbitrates paragraph locks through Redis.

Channels:
  /collaboration      binary editor updates, echoed to other local clients
  /collab             team chat, relayed across replicas via Redis
  /intelligent-chat   chat with questions forwarded to the assistant

Configuration is read from collab.json in the working directory, then
overridden by COLLAB_* environment variables and flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to config file (default ./collab.json)")
	rootCmd.PersistentFlags().StringVar(&flags.redisAddr, "redis", "", "Redis address (overrides config)")

	rootCmd.AddCommand(
		serveCmd(flags),
		lockCmd(flags),
		versionCmd(),
	)
	return rootCmd
}

// loadConfig reads the config file, then applies environment and flag
// overrides, then validates the result.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.configPath != "" {
		cfg, err = config.LoadFile(flags.configPath)
	} else {
		cfg, err = config.LoadOrDefault(".")
	}
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnv(os.LookupEnv)
	if flags.redisAddr != "" {
		cfg.Redis.Addr = flags.redisAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// success prints a success message.
func success(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", fmt.Sprintf(format, args...))
}
