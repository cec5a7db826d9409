package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/chenxilol/echohub/configs"
	"github.com/chenxilol/echohub/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	configFile  string
	hostFlag    string
	logLevel    string
	metricsAddr string

	// 命令执行前加载
	cfg      configs.Config
	levelVar = new(slog.LevelVar)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "echohub",
		Short: "Channel connector for Ratchet-style pub/sub servers",
		Long: `echohub connects to a pub/sub WebSocket server, subscribes to public,
private and presence channels and prints or relays the events it receives.

It also ships a small development server speaking the same protocol.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "服务端地址，覆盖connector.host")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus指标监听地址，例如 :9100")

	rootCmd.AddCommand(
		listenCmd(),
		whisperCmd(),
		serveCmd(),
	)
	return rootCmd
}

// setup 加载配置、初始化日志并应用命令行覆盖
func setup(cmd *cobra.Command, _ []string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	loaded, err := configs.LoadAndWatch(configFile, levelVar, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = applyFlags(cmd, loaded)
	levelVar.Set(configs.ParseLogLevel(cfg.Log.Level))

	metrics.Default()
	slog.Debug("config loaded", "file", configFile, "host", cfg.Connector.Host, "relay", cfg.Relay.Enabled)
	return nil
}

func applyFlags(cmd *cobra.Command, c configs.Config) configs.Config {
	flags := cmd.Flags()
	if flags.Changed("host") {
		c.Connector.Host = hostFlag
	}
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("metrics-addr") {
		c.Metrics.Addr = metricsAddr
	}
	return c
}

// serveMetrics 在后台暴露/metrics，addr为空时返回nil
func serveMetrics(addr string) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("serving metrics", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return srv
}

func shutdownMetrics(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
