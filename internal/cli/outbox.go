package cli

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

	"github.com/spf13/cobra"

	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/notify"
	"github.com/mmynk/tripledger/internal/syncer"
)

// NewPendingCommand creates the pending command.
func NewPendingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List changes waiting to sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			actions, err := s.ctrl.Pending(ctx)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				if actions == nil {
					actions = []models.PendingAction{}
				}
				return writeJSON(cmd, actions)
			}
			if len(actions) == 0 {
				printf(cmd, "%s\n", mutedStyle.Render("Nothing to sync."))
				return nil
			}

			rows := make([][]string, 0, len(actions))
			for _, a := range actions {
				rows = append(rows, []string{
					a.ID,
					string(a.Type),
					a.GroupID,
					fmt.Sprint(a.Attempts),
					a.LastError,
					a.CreatedAt.Local().Format(time.DateTime),
				})
			}
			printf(cmd, "%s\n", renderTable([]string{"ID", "Action", "Group", "Attempts", "Last error", "Queued"}, rows))
			return nil
		},
	}
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ACTION_ID",
		Short: "Discard a change that has not synced yet",
		Long: `Discard a pending change and undo its effect on the local cache.

Cancelling a group creation also cancels every pending change made in that
group.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			cancelled, err := s.ctrl.Cancel(ctx, args[0])
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd, cancelled)
			}
			for _, a := range cancelled {
				printf(cmd, "Cancelled %s %s\n", a.Type, mutedStyle.Render(a.ID))
			}
			return nil
		},
	}
}

type syncOutput struct {
	Applied   []models.PendingAction `json:"applied"`
	Dropped   []droppedOutput        `json:"dropped"`
	Remaining int                    `json:"remaining"`
	Refreshed []string               `json:"refreshed"`
}

type droppedOutput struct {
	Action models.PendingAction `json:"action"`
	Error  string               `json:"error"`
}

func newSyncOutput(res syncer.SyncResult) syncOutput {
	out := syncOutput{
		Applied:   res.Applied,
		Dropped:   make([]droppedOutput, 0, len(res.Dropped)),
		Remaining: res.Remaining,
		Refreshed: res.Refreshed,
	}
	if out.Applied == nil {
		out.Applied = []models.PendingAction{}
	}
	if out.Refreshed == nil {
		out.Refreshed = []string{}
	}
	for _, d := range res.Dropped {
		out.Dropped = append(out.Dropped, droppedOutput{Action: d.Action, Error: d.Err.Error()})
	}
	return out
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Send pending changes and refresh from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Offline {
				return errors.New("cannot sync with --offline")
			}
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if s.cfg.Client.Token == "" {
				return errors.New("no client token configured")
			}
			// Opening the session already ran the pass.
			if s.syncErr != nil {
				return fmt.Errorf("sync incomplete, %d change(s) still pending: %w", s.synced.Remaining, s.syncErr)
			}

			out := newSyncOutput(s.synced)
			if opts.Format == "json" {
				return writeJSON(cmd, out)
			}
			printSync(cmd, out)
			return nil
		},
	}
}

func printSync(cmd *cobra.Command, out syncOutput) {
	printf(cmd, "Synced %d change(s), refreshed %d group(s)\n", len(out.Applied), len(out.Refreshed))
	for _, d := range out.Dropped {
		printf(cmd, "%s %s %s: %s\n", warnStyle.Render("Rejected"), d.Action.Type, mutedStyle.Render(d.Action.ID), d.Error)
	}
}

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Interval    time.Duration
	MetricsAddr string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch [GROUP_ID]",
		Short: "Stay in sync until interrupted",
		Long: `Keep the local cache current: listen for changes made by other members
and retry pending changes periodically. Watches every group unless one is
given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var groupID string
			if len(args) == 1 {
				groupID = args[0]
			}
			return runWatch(cmd, opts, groupID)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "retry interval (default from config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve sync metrics at this address (e.g. :9091)")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions, groupID string) error {
	if opts.Offline {
		return errors.New("cannot watch with --offline")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.cfg.Client.Token == "" {
		return errors.New("no client token configured")
	}
	if groupID != "" {
		g, err := s.ctrl.Group(ctx, groupID)
		if err != nil {
			return err
		}
		groupID = g.ID
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = s.cfg.Client.SyncInterval
	}

	s.ctrl.OnSyncComplete(func(res syncer.SyncResult) {
		out := newSyncOutput(res)
		if opts.Format == "json" {
			_ = writeJSON(cmd, out)
			return
		}
		printSync(cmd, out)
	})

	if opts.MetricsAddr != "" {
		go serveMetrics(ctx, s, opts.MetricsAddr)
	}
	go listen(ctx, s, groupID, interval)

	err = s.ctrl.Run(ctx, interval)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// listen feeds server notifications to the controller, reconnecting after
// the stream drops.
func listen(ctx context.Context, s *session, groupID string, retry time.Duration) {
	for ctx.Err() == nil {
		events, err := notify.Subscribe(ctx, http.DefaultClient, s.cfg.Client.ServerURL, groupID, s.cfg.Client.Token)
		if err != nil {
			slog.Debug("Change stream unavailable", "error", err)
		} else if err := s.ctrl.Watch(ctx, events); err != nil && ctx.Err() == nil {
			slog.Warn("Change stream failed", "error", err)
		}

		select {
		case <-ctx.Done():
		case <-time.After(retry):
		}
	}
}

// serveMetrics exposes sync metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, s *session, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	slog.Info("Serving sync metrics", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("Metrics server failed", "error", err)
	}
}
