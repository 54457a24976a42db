// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/luna-tui/internal/server"
)

// shutdownTimeout bounds graceful shutdown of the mock server.
const shutdownTimeout = 10 * time.Second

func newMockServerCommand(opts *Options) *cobra.Command {
	cfg := server.DefaultConfig()
	var channels []string

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a local Luna server that echoes questions",
		Long: `Run a local server speaking the Luna chat protocol. Replies echo the
question, include a python sample when the question mentions code, and cite
one document per room. Useful for trying the client without a real server.`,
		Example: `  luna mock-server --addr 127.0.0.1:5000 --chunk-delay 50ms
  luna --server http://127.0.0.1:5000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg.Logger = a.log
			if len(channels) > 0 {
				cfg.Channels = channels
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "%s mock server on http://%s (Ctrl+C to stop)\n",
				SuccessStyle.Render("[OK]"), cfg.Addr)
			return runMockServer(ctx, server.New(cfg))
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	f.DurationVar(&cfg.ChunkDelay, "chunk-delay", 30*time.Millisecond, "delay between streamed chunks")
	f.Float64Var(&cfg.RequestsPerSecond, "rps", 0, "REST requests per second per client (0 disables)")
	f.StringSliceVar(&channels, "channel", nil, "channel to offer (repeatable)")
	return cmd
}

// runMockServer serves until ctx is done, then shuts down gracefully.
func runMockServer(ctx context.Context, srv *server.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
