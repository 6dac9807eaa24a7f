// Package cli implements the tripledger command line client.
//
// Every command opens the local cache, tries to reach the server and falls
// back to working offline. Mutations made offline are queued and replayed on
// the next command that finds the server reachable.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mmynk/tripledger/internal/api"
	"github.com/mmynk/tripledger/internal/auth"
	"github.com/mmynk/tripledger/internal/config"
	"github.com/mmynk/tripledger/internal/local"
	"github.com/mmynk/tripledger/internal/metrics"
	"github.com/mmynk/tripledger/internal/middleware"
	"github.com/mmynk/tripledger/internal/syncer"
	"github.com/mmynk/tripledger/pkg/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string
	Verbose    bool
	Offline    bool
	Member     string
}

// NewRootCommand creates the root tripledger command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tripledger",
		Short: "Split trip costs, online or not",
		Long: `tripledger records shared trip costs and settlements and computes who
owes whom. It keeps a local copy of every group, so it works without a
connection; changes made offline are synced the next time the server is
reachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be 'text' or 'json'", opts.Format)
			}
			if opts.Verbose {
				logging.Install(slog.LevelDebug)
			} else {
				logging.Install(max(slog.LevelWarn, logging.LevelFromEnv()))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default "+config.Path()+")")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVar(&opts.Offline, "offline", false, "do not contact the server; queue changes locally")
	cmd.PersistentFlags().StringVar(&opts.Member, "as", "", "act as this member id (default: read from the configured token)")

	cmd.AddCommand(
		NewGroupsCommand(opts),
		NewCreateGroupCommand(opts),
		NewJoinGroupCommand(opts),
		NewAddCostCommand(opts),
		NewSettleCommand(opts),
		NewCostsCommand(opts),
		NewBalancesCommand(opts),
		NewPendingCommand(opts),
		NewCancelCommand(opts),
		NewSyncCommand(opts),
		NewWatchCommand(opts),
	)

	return cmd
}

// session is the state shared by one command invocation.
type session struct {
	cfg    config.Config
	db     *local.DB
	ctrl   *syncer.Controller
	member string

	// registry holds the controller's sync metrics.
	registry *prometheus.Registry

	// synced is the outcome of the pass run when the session connected.
	synced  syncer.SyncResult
	syncErr error
}

// open loads config, opens the cache and connects unless --offline is set
// or no token is configured. An unreachable server is not an error.
func (o *RootOptions) open(ctx context.Context) (*session, error) {
	path := o.ConfigPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	member := o.Member
	if member == "" && cfg.Client.Token != "" {
		member, err = auth.PeekMemberID(cfg.Client.Token)
		if err != nil {
			return nil, fmt.Errorf("reading client token: %w", err)
		}
	}
	if member == "" {
		return nil, errors.New("no identity: set client.token in the config, TRIPLEDGER_TOKEN, or pass --as")
	}

	db, err := local.Open(cfg.Client.CachePath)
	if err != nil {
		return nil, err
	}

	client := api.NewClient(
		&http.Client{Timeout: cfg.Client.RequestTimeout},
		cfg.Client.ServerURL,
		connect.WithInterceptors(middleware.BearerToken(cfg.Client.Token)),
	)
	registry := prometheus.NewRegistry()
	s := &session{
		cfg:      cfg,
		db:       db,
		ctrl:     syncer.New(db, client, syncer.Options{MemberID: member, Metrics: metrics.NewSync(registry)}),
		member:   member,
		registry: registry,
	}

	if o.Offline || cfg.Client.Token == "" {
		_, _ = s.ctrl.SetOnline(ctx, false)
		return s, nil
	}

	s.synced, s.syncErr = s.ctrl.SetOnline(ctx, true)
	switch {
	case s.syncErr == nil:
	case errors.Is(s.syncErr, syncer.ErrTransient):
		slog.Warn("Server unreachable, working offline", "server", cfg.Client.ServerURL, "error", s.syncErr)
	default:
		db.Close()
		return nil, s.syncErr
	}
	return s, nil
}

func (s *session) Close() error {
	return s.db.Close()
}

// metricsHandler serves the session's sync metrics in Prometheus format.
func (s *session) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
