package main

import (
	"os"

	"github.com/ridelink/chatsync/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	chatServer  string
	chatUser    string
	chatToken   string
	chatVerbose bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Connect to a relay and chat from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if chatServer != "" {
			cfg.ServerURL = chatServer
		}
		if chatUser != "" {
			cfg.UserID = chatUser
		}
		if chatToken != "" {
			cfg.Token = chatToken
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		fxApp := fx.New(
			fx.NopLogger,
			app.Module(app.Params{
				Config:  cfg,
				In:      os.Stdin,
				Out:     os.Stdout,
				Verbose: chatVerbose,
			}),
		)
		fxApp.Run()
		return fxApp.Err()
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatServer, "server", "", "relay websocket url (overrides config)")
	chatCmd.Flags().StringVar(&chatUser, "user", "", "user id (overrides config)")
	chatCmd.Flags().StringVar(&chatToken, "token", "", "bearer token (overrides config)")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "print info logs on stderr")
}
