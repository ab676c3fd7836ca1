package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ridelink/chatsync/internal/config"
	"github.com/ridelink/chatsync/internal/relay"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var (
	healthSocket  string
	healthJSON    bool
	healthTimeout time.Duration
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query a local relay's health endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := grpc.NewClient("unix://"+healthSocket, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("connect to relay health socket: %w", err)
		}
		defer func() { _ = conn.Close() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: relay.ServiceName})
		if err != nil {
			return fmt.Errorf("health check: %w", err)
		}

		st := resp.GetStatus()
		if healthJSON {
			_ = json.NewEncoder(os.Stdout).Encode(map[string]string{
				"socket": healthSocket,
				"status": st.String(),
			})
		} else {
			fmt.Printf("%s: %s\n", relay.ServiceName, st)
		}
		if st != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("relay is %s", st)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthSocket, "socket", config.HealthSocketPath(config.RelayDir()), "relay health socket")
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "output in JSON format")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "request timeout")
}
