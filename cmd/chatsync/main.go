package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ridelink/chatsync/internal/config"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "chatsync",
	Short:         "Rider/driver chat client",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.ClientConfigPath(), "client config file")
	rootCmd.AddCommand(chatCmd, healthCmd, initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the client config, falling back to defaults when the
// file does not exist yet.
func loadConfig() (*config.Client, error) {
	cfg, err := config.LoadClient(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return config.DefaultClient(), nil
	}
	return cfg, err
}
