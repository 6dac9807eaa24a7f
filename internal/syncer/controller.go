// Package syncer is the client-side synchronization controller. It applies
// mutations optimistically to the local cache, queues them in the outbox
// while the ledger store is unreachable, replays the outbox in order once it
// is reachable again, and refreshes the cache from authoritative state.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/mmynk/tripledger/internal/ledger"
	"github.com/mmynk/tripledger/internal/local"
	"github.com/mmynk/tripledger/internal/metrics"
	"github.com/mmynk/tripledger/internal/models"
)

// State is the controller's view of connectivity.
type State int32

const (
	StateOffline State = iota
	StateOnline
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateOnline:
		return "online"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options configures a Controller.
type Options struct {
	// MemberID is the local member. Offline group creation and joins add it
	// to the optimistic roster.
	MemberID string
	// Metrics receives sync counters. Nil uses unregistered collectors.
	Metrics *metrics.Sync
}

// Dropped is a pending action the store rejected permanently.
type Dropped struct {
	Action models.PendingAction
	Err    error
}

// SyncResult reports one sync pass or refresh.
type SyncResult struct {
	Applied   []models.PendingAction
	Dropped   []Dropped
	Remaining int
	Refreshed []string
}

// Controller coordinates the local cache, the outbox and the remote store.
// All mutations and sync passes are serialized; reads go straight to the
// cache.
type Controller struct {
	mu sync.Mutex

	db      *local.DB
	cache   *local.Cache
	outbox  *local.Outbox
	remote  Remote
	member  string
	metrics *metrics.Sync

	state  atomic.Int32
	forced atomic.Bool

	listenersMu sync.Mutex
	listeners   []func(SyncResult)
}

// New returns a controller in the Offline state. Call SetOnline(true) once
// connectivity is known.
func New(db *local.DB, remote Remote, opts Options) *Controller {
	m := opts.Metrics
	if m == nil {
		m = metrics.NewSync(nil)
	}
	c := &Controller{
		db:      db,
		cache:   db.Cache(),
		outbox:  db.Outbox(),
		remote:  remote,
		member:  opts.MemberID,
		metrics: m,
	}
	c.setState(StateOffline)
	return c
}

func (c *Controller) view() view { return view{c: c.cache} }

// State returns the current connectivity state.
func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if s == StateOffline {
		c.metrics.Online.Set(0)
	} else {
		c.metrics.Online.Set(1)
	}
	if prev != s {
		slog.Debug("Sync state changed", "from", prev, "to", s)
	}
}

func (c *Controller) online() bool { return c.State() == StateOnline }

// SetOnline is the connectivity signal. Going online starts a sync pass
// and returns its outcome; going offline returns immediately.
func (c *Controller) SetOnline(ctx context.Context, online bool) (SyncResult, error) {
	if !online {
		c.forced.Store(true)
		c.setState(StateOffline)
		slog.Info("Sync controller offline")
		return SyncResult{}, nil
	}
	c.forced.Store(false)
	slog.Info("Sync controller reconnecting")
	return c.Sync(ctx)
}

// OnSyncComplete registers fn to run after every completed sync pass or
// notification-driven refresh. fn runs on the syncing goroutine after
// internal locks are released.
func (c *Controller) OnSyncComplete(fn func(SyncResult)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) emit(res SyncResult) {
	c.listenersMu.Lock()
	listeners := slices.Clone(c.listeners)
	c.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(res)
	}
}

// Pending lists queued actions in replay order.
func (c *Controller) Pending(ctx context.Context) ([]models.PendingAction, error) {
	return c.outbox.ListPending(ctx)
}

// Groups returns the cached group list.
func (c *Controller) Groups(ctx context.Context) ([]models.Group, error) {
	return c.view().groups(ctx)
}

// Group returns the cached group, following a local id to its server id
// once the group has been created remotely.
func (c *Controller) Group(ctx context.Context, groupID string) (models.Group, error) {
	v := c.view()
	id, _, err := v.resolveGroupID(ctx, groupID)
	if err != nil {
		return models.Group{}, err
	}
	g, ok, err := v.group(ctx, id)
	if err != nil {
		return models.Group{}, err
	}
	if !ok {
		return models.Group{}, fmt.Errorf("%w: %s", ErrNotCached, groupID)
	}
	return g, nil
}

// Costs returns the cached records of a group, optimistic ones included.
func (c *Controller) Costs(ctx context.Context, groupID string) ([]models.CostRecord, error) {
	g, err := c.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return c.view().costs(ctx, g.ID)
}

// GetBalances computes balances from the cached records and roster. It
// never touches the network.
func (c *Controller) GetBalances(ctx context.Context, groupID string) (ledger.Balances, error) {
	g, err := c.Group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	recs, err := c.view().costs(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	return ledger.ComputeBalances(recs, g.Roster()), nil
}

// GetSummary is GetBalances plus suggested transfers and totals.
func (c *Controller) GetSummary(ctx context.Context, groupID string) (ledger.Summary, error) {
	g, err := c.Group(ctx, groupID)
	if err != nil {
		return ledger.Summary{}, err
	}
	recs, err := c.view().costs(ctx, g.ID)
	if err != nil {
		return ledger.Summary{}, err
	}
	return ledger.Summarize(recs, g.Roster()), nil
}

func (c *Controller) updateDepth(ctx context.Context) {
	n, err := c.outbox.Len(ctx)
	if err != nil {
		slog.Warn("Failed to read outbox depth", "error", err)
		return
	}
	c.metrics.OutboxDepth.Set(float64(n))
}
