// Package ledger derives per-participant balances from a group's cost records.
//
// Everything here is a pure function of its inputs: no I/O, no clocks, no
// package state. The same records and roster always produce the same output,
// which is what lets clients preview cached state and cross-check the server.
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tripledger/internal/models"
)

// Epsilon is one cent. Balances smaller than this in absolute value are
// treated as settled and not reported.
var Epsilon = decimal.New(1, -2)

// Balance is one participant's position within a group.
type Balance struct {
	Participant models.Participant
	Paid        decimal.Decimal // Total credited as payer
	Owed        decimal.Decimal // Total debited as a share
	Net         decimal.Decimal // Positive = is owed money, Negative = owes money
}

// Balances is ordered by Net descending; ties keep first-seen order.
type Balances []Balance

// Map returns net balances keyed by Participant.Key.
func (b Balances) Map() map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(b))
	for _, bal := range b {
		m[bal.Participant.Key()] = bal.Net
	}
	return m
}

// Get returns the net balance for p, if present.
func (b Balances) Get(p models.Participant) (decimal.Decimal, bool) {
	key := p.Key()
	for _, bal := range b {
		if bal.Participant.Key() == key {
			return bal.Net, true
		}
	}
	return decimal.Zero, false
}

// Total is the sum of all net balances.
func (b Balances) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, bal := range b {
		sum = sum.Add(bal.Net)
	}
	return sum
}

// accumulator tracks balances in first-seen order so output is deterministic.
type accumulator struct {
	index map[string]int
	rows  []*Balance
}

func newAccumulator() *accumulator {
	return &accumulator{index: make(map[string]int)}
}

func (a *accumulator) row(p models.Participant) *Balance {
	key := p.Key()
	if i, ok := a.index[key]; ok {
		r := a.rows[i]
		if r.Participant.Name == "" && p.Name != "" {
			r.Participant.Name = p.Name
		}
		return r
	}
	r := &Balance{Participant: p, Paid: decimal.Zero, Owed: decimal.Zero}
	a.index[key] = len(a.rows)
	a.rows = append(a.rows, r)
	return r
}

func (a *accumulator) credit(p models.Participant, amount decimal.Decimal) {
	if p.Key() == "" {
		return
	}
	r := a.row(p)
	r.Paid = r.Paid.Add(amount)
}

func (a *accumulator) debit(p models.Participant, amount decimal.Decimal) {
	if p.Key() == "" {
		return
	}
	r := a.row(p)
	r.Owed = r.Owed.Add(amount)
}

// ComputeBalances nets the given records against the roster.
//
// Algorithm:
//   - The payer of each record is credited the full amount. Records without an
//     identifiable payer are only debited.
//   - An auto-split Cost debits every member and guest of the roster passed in
//     by amount / roster size. The roster is the current one, so a late guest
//     shares in earlier auto-split costs. An empty roster contributes no debits.
//   - Everything else debits each SplitAmong entry by its fixed amount, whether
//     or not that participant is still on the roster.
//   - Participants whose |net| is below Epsilon are dropped.
//
// Amounts are never validated here; zero or negative amounts simply flow
// through the arithmetic. Shares need not sum to the record amount.
func ComputeBalances(records []models.CostRecord, roster models.Roster) Balances {
	acc := newAccumulator()
	participants := roster.Participants()

	for _, rec := range records {
		if rec.Payer != nil {
			acc.credit(*rec.Payer, rec.Amount)
		}

		if rec.AutoSplit && rec.Kind == models.KindCost {
			if len(participants) == 0 {
				continue
			}
			share := rec.Amount.Div(decimal.NewFromInt(int64(len(participants))))
			for _, p := range participants {
				acc.debit(p, share)
			}
			continue
		}

		for _, s := range rec.SplitAmong {
			acc.debit(s.Participant, s.Amount)
		}
	}

	out := make(Balances, 0, len(acc.rows))
	for _, r := range acc.rows {
		r.Net = r.Paid.Sub(r.Owed)
		if r.Net.Abs().LessThan(Epsilon) {
			continue
		}
		out = append(out, *r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Net.GreaterThan(out[j].Net)
	})
	return out
}
