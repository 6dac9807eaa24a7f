package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/tripledger/internal/api"
	"github.com/mmynk/tripledger/internal/auth"
	"github.com/mmynk/tripledger/internal/config"
	"github.com/mmynk/tripledger/internal/metrics"
	"github.com/mmynk/tripledger/internal/middleware"
	"github.com/mmynk/tripledger/internal/notify"
	"github.com/mmynk/tripledger/internal/service"
	"github.com/mmynk/tripledger/internal/storage/sqlite"
	"github.com/mmynk/tripledger/pkg/logging"
)

const tokenDuration = 30 * 24 * time.Hour

func main() {
	logging.Setup()

	if err := newRootCommand().Execute(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "tripledger-server",
		Short:        "Ledger server for tripledger clients",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default "+config.Path()+")")
	cmd.AddCommand(newTokenCommand(&configPath))
	return cmd
}

func newTokenCommand(configPath *string) *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token MEMBER_ID",
		Short: "Issue a bearer token for a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			token, err := auth.NewJWTManager(cfg.Server.JWTSecret, ttl).Generate(args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", tokenDuration, "token lifetime")
	return cmd
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if cfg.Server.JWTSecret == "" {
		return cfg, errors.New("no signing secret: set server.jwt_secret or JWT_SECRET")
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	store, err := sqlite.New(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.Server.DBPath)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	jwtManager := auth.NewJWTManager(cfg.Server.JWTSecret, tokenDuration)
	hub := notify.NewHub()

	mux := http.NewServeMux()

	// Register Connect service
	ledgerPath, ledgerHandler := api.NewLedgerServiceHandler(
		service.NewLedgerService(store, hub),
		connect.WithInterceptors(
			middleware.MetricsInterceptor(metrics.NewServer(registry)),
			middleware.RequireAuth(jwtManager),
			middleware.LoggingInterceptor(),
		),
	)
	mux.Handle(ledgerPath, ledgerHandler)

	mux.Handle(notify.EventsPath, notify.Handler(hub, jwtManager))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	// Add logging and CORS middleware
	loggedHandler := loggingMiddleware(corsMiddleware(mux))

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(loggedHandler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("Connect server starting", "address", cfg.Server.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loggingMiddleware logs all incoming requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		slog.Debug("Request received",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)

		next.ServeHTTP(w, r)

		slog.Info("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
