package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"UsdnLedger/internal/server"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func NewStatusCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running node over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := server.NewQueryClient(conn)
			st, err := client.GetState(ctx)
			if err != nil {
				return fmt.Errorf("get state: %w", err)
			}
			report, err := client.VerifyIntegrity(ctx)
			if err != nil {
				return fmt.Errorf("verify integrity: %w", err)
			}

			out, err := json.MarshalIndent(map[string]any{"state": st, "integrity": report}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	statusCmd.Flags().StringVar(&addr, "addr", "localhost:9090", "gRPC address of the node")
	statusCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return statusCmd
}
