package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/chenxilol/echohub/internal/devserver"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development pub/sub server",
		Long: `Run a minimal server speaking the echohub wire protocol.

Private and presence channels are verified with the configured
server.auth_secret; without a secret every subscription is accepted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc := cfg.Server
			if cmd.Flags().Changed("addr") {
				sc.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, sc)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":6001", "监听地址，覆盖server.addr")
	return cmd
}

func runServe(ctx context.Context, sc devserver.Config) error {
	msrv := serveMetrics(cfg.Metrics.Addr)
	defer shutdownMetrics(msrv)

	srv := devserver.New(sc)
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
