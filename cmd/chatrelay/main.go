package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/ridelink/chatsync/internal/config"
	"github.com/ridelink/chatsync/internal/relay"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", config.RelayConfigPath(), "relay config file")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	dataFlag := flag.String("data-dir", "", "data directory (overrides config)")
	tokens := map[string]string{}
	flag.Func("token", "token=user pair accepted by the relay, repeatable", func(v string) error {
		token, user, ok := strings.Cut(v, "=")
		if !ok || token == "" {
			return fmt.Errorf("want token=user, got %q", v)
		}
		tokens[token] = user
		return nil
	})
	flag.Parse()

	cfg, err := config.LoadRelay(*configFlag)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.DefaultRelay(), nil
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *listenFlag != "" {
		cfg.Listen = *listenFlag
	}
	if *dataFlag != "" {
		cfg.DataDir = *dataFlag
		cfg.HealthSocket = ""
	}
	if cfg.HealthSocket == "" {
		cfg.HealthSocket = config.HealthSocketPath(cfg.DataDir)
	}
	for token, user := range tokens {
		cfg.Tokens[token] = user
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		relay.Module(relay.Params{Config: cfg}),
	)

	app.Run()
}
