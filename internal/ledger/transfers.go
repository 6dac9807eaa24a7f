package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tripledger/internal/models"
)

// Transfer is a suggested payment that moves a group toward zero balances.
type Transfer struct {
	From   models.Participant // Person who owes
	To     models.Participant // Person who is owed
	Amount decimal.Decimal
}

// SimplifyDebts turns net balances into a short list of transfers.
//
// Greedy: the largest debtor pays the largest creditor until one of them is
// settled, then moves on. Ties are broken by the order of the input, so the
// result is deterministic for a given Balances value.
func SimplifyDebts(balances Balances) []Transfer {
	type position struct {
		p      models.Participant
		amount decimal.Decimal
	}

	var creditors, debtors []position
	for _, b := range balances {
		switch {
		case b.Net.GreaterThanOrEqual(Epsilon):
			creditors = append(creditors, position{b.Participant, b.Net})
		case b.Net.LessThanOrEqual(Epsilon.Neg()):
			debtors = append(debtors, position{b.Participant, b.Net.Neg()})
		}
	}
	sort.SliceStable(creditors, func(i, j int) bool { return creditors[i].amount.GreaterThan(creditors[j].amount) })
	sort.SliceStable(debtors, func(i, j int) bool { return debtors[i].amount.GreaterThan(debtors[j].amount) })

	var transfers []Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d, c := &debtors[i], &creditors[j]

		amount := decimal.Min(d.amount, c.amount)
		if amount.GreaterThanOrEqual(Epsilon) {
			transfers = append(transfers, Transfer{From: d.p, To: c.p, Amount: amount})
		}

		d.amount = d.amount.Sub(amount)
		c.amount = c.amount.Sub(amount)

		if d.amount.LessThan(Epsilon) {
			i++
		}
		if c.amount.LessThan(Epsilon) {
			j++
		}
	}
	return transfers
}

// Summary is the full balance view of one group.
type Summary struct {
	GroupID    string
	Balances   Balances
	Transfers  []Transfer
	TotalSpent decimal.Decimal // Sum of Cost amounts; settlements excluded
	Records    int
}

// Summarize computes balances and suggested transfers for a group.
func Summarize(records []models.CostRecord, roster models.Roster) Summary {
	total := decimal.Zero
	for _, rec := range records {
		if rec.Kind == models.KindCost {
			total = total.Add(rec.Amount)
		}
	}
	balances := ComputeBalances(records, roster)
	return Summary{
		GroupID:    roster.GroupID,
		Balances:   balances,
		Transfers:  SimplifyDebts(balances),
		TotalSpent: total,
		Records:    len(records),
	}
}
