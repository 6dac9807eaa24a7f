package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"connectrpc.com/connect"

	"github.com/mmynk/tripledger/internal/api"
	"github.com/mmynk/tripledger/internal/models"
)

var (
	errUnavailable = connect.NewError(connect.CodeUnavailable, errors.New("connection refused"))
	errRejected    = connect.NewError(connect.CodeInvalidArgument, errors.New("rejected"))
)

// fakeRemote is an in-memory ledger store acting for a single member.
type fakeRemote struct {
	mu     sync.Mutex
	member string
	nextID int

	groups  map[string]*models.Group
	order   []string
	costs   map[string][]models.CostRecord
	byKey   map[string]models.CostRecord
	groupBy map[string]string

	calls []string
	// errs queues per-method failures; a nil entry lets that call through.
	errs map[string][]error
	down bool
}

func newFakeRemote(member string) *fakeRemote {
	return &fakeRemote{
		member:  member,
		groups:  make(map[string]*models.Group),
		costs:   make(map[string][]models.CostRecord),
		byKey:   make(map[string]models.CostRecord),
		groupBy: make(map[string]string),
		errs:    make(map[string][]error),
	}
}

func (f *fakeRemote) failNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = append(f.errs[method], errs...)
}

func (f *fakeRemote) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) countCalls(method string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == method {
			n++
		}
	}
	return n
}

// enter records the call and returns any injected failure. Callers hold mu.
func (f *fakeRemote) enter(method string) error {
	f.calls = append(f.calls, method)
	if f.down {
		return errUnavailable
	}
	if q := f.errs[method]; len(q) > 0 {
		f.errs[method] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeRemote) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

// seedGroup creates a group directly on the server side.
func (f *fakeRemote) seedGroup(name string, members []string, guests ...string) models.Group {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &models.Group{ID: f.id("g"), Name: name, Members: members, RosterVersion: 1, CreatedAt: 1}
	for _, n := range guests {
		g.Guests = append(g.Guests, models.Guest{ID: f.id("t"), Name: n})
	}
	f.groups[g.ID] = g
	f.order = append(f.order, g.ID)
	return *g
}

// seedCost adds a record as if another device had created it.
func (f *fakeRemote) seedCost(rec models.CostRecord) models.CostRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ID = models.RemoteID(f.id("c"))
	f.costs[rec.GroupID] = append(f.costs[rec.GroupID], rec)
	return rec
}

func (f *fakeRemote) records(groupID string) []models.CostRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CostRecord(nil), f.costs[groupID]...)
}

func (f *fakeRemote) create(rec models.CostRecord, key string) (models.CostRecord, error) {
	if existing, ok := f.byKey[key]; ok && key != "" {
		return existing, nil
	}
	if _, ok := f.groups[rec.GroupID]; !ok {
		return models.CostRecord{}, connect.NewError(connect.CodeNotFound, fmt.Errorf("group %s", rec.GroupID))
	}
	rec.ID = models.RemoteID(f.id("c"))
	f.costs[rec.GroupID] = append(f.costs[rec.GroupID], rec)
	if key != "" {
		f.byKey[key] = rec
	}
	return rec, nil
}

func (f *fakeRemote) CreateCost(_ context.Context, rec models.CostRecord, key string) (models.CostRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateCost"); err != nil {
		return models.CostRecord{}, err
	}
	return f.create(rec, key)
}

func (f *fakeRemote) CreateSettlement(_ context.Context, req api.CreateSettlementRequest) (models.CostRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateSettlement"); err != nil {
		return models.CostRecord{}, err
	}
	rec := models.NewSettlement(req.GroupID, req.Payer, req.Receiver, req.Amount)
	rec.Description = req.Description
	rec.CreatedAt = req.CreatedAt
	return f.create(rec, req.IdempotencyKey)
}

func (f *fakeRemote) ListCosts(_ context.Context, groupID string) ([]models.CostRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListCosts"); err != nil {
		return nil, err
	}
	if _, ok := f.groups[groupID]; !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("group %s", groupID))
	}
	return append([]models.CostRecord(nil), f.costs[groupID]...), nil
}

func (f *fakeRemote) ListGroups(context.Context) ([]models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListGroups"); err != nil {
		return nil, err
	}
	var out []models.Group
	for _, id := range f.order {
		if g := f.groups[id]; g.HasMember(f.member) {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (f *fakeRemote) CreateGroup(_ context.Context, req api.CreateGroupRequest) (models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateGroup"); err != nil {
		return models.Group{}, err
	}
	if id, ok := f.groupBy[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return *f.groups[id], nil
	}
	g := &models.Group{
		ID:            f.id("g"),
		Name:          req.Name,
		Members:       append([]string{f.member}, req.Members...),
		RosterVersion: 1,
		CreatedBy:     f.member,
		CreatedAt:     1,
	}
	for _, n := range req.Guests {
		g.Guests = append(g.Guests, models.Guest{ID: f.id("t"), Name: n})
	}
	f.groups[g.ID] = g
	f.order = append(f.order, g.ID)
	if req.IdempotencyKey != "" {
		f.groupBy[req.IdempotencyKey] = g.ID
	}
	return *g, nil
}

func (f *fakeRemote) JoinGroup(_ context.Context, groupID string) (models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("JoinGroup"); err != nil {
		return models.Group{}, err
	}
	g, ok := f.groups[groupID]
	if !ok {
		return models.Group{}, connect.NewError(connect.CodeNotFound, fmt.Errorf("group %s", groupID))
	}
	if !g.HasMember(f.member) {
		g.Members = append(g.Members, f.member)
		g.RosterVersion++
	}
	return *g, nil
}

func (f *fakeRemote) GetGroup(_ context.Context, groupID string) (models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetGroup"); err != nil {
		return models.Group{}, err
	}
	g, ok := f.groups[groupID]
	if !ok {
		return models.Group{}, connect.NewError(connect.CodeNotFound, fmt.Errorf("group %s", groupID))
	}
	return *g, nil
}

func jsonUnmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
