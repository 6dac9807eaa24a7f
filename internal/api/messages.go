// Package api defines the wire contract of the authoritative ledger store:
// request/response messages, Connect handler registration and clients.
//
// Messages are plain Go structs carried by a JSON codec, so amounts travel as
// decimal strings and never lose precision.
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tripledger/internal/ledger"
	"github.com/mmynk/tripledger/internal/models"
)

type CreateCostRequest struct {
	Record         models.CostRecord `json:"record"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

type CreateCostResponse struct {
	Record  models.CostRecord `json:"record"`
	Created bool              `json:"created"`
}

type CreateSettlementRequest struct {
	GroupID        string             `json:"group_id"`
	Payer          models.Participant `json:"payer"`
	Receiver       models.Participant `json:"receiver"`
	Amount         decimal.Decimal    `json:"amount"`
	Description    string             `json:"description,omitempty"`
	// CreatedAt is when the payment was recorded on the client; zero means now.
	CreatedAt      time.Time          `json:"created_at"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

type CreateSettlementResponse struct {
	Record  models.CostRecord `json:"record"`
	Created bool              `json:"created"`
}

type ListCostsRequest struct {
	GroupID string `json:"group_id"`
}

type ListCostsResponse struct {
	Records []models.CostRecord `json:"records"`
}

type GetSummaryRequest struct {
	GroupID string `json:"group_id"`
}

// BalanceEntry is one participant's position in a summary.
type BalanceEntry struct {
	Participant models.Participant `json:"participant"`
	Paid        decimal.Decimal    `json:"paid"`
	Owed        decimal.Decimal    `json:"owed"`
	Net         decimal.Decimal    `json:"net"`
}

// TransferEntry is a suggested settlement payment.
type TransferEntry struct {
	From   models.Participant `json:"from"`
	To     models.Participant `json:"to"`
	Amount decimal.Decimal    `json:"amount"`
}

type GetSummaryResponse struct {
	GroupID    string          `json:"group_id"`
	Balances   []BalanceEntry  `json:"balances"`
	Transfers  []TransferEntry `json:"transfers"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	Records    int             `json:"records"`
}

type ListGroupsRequest struct{}

type ListGroupsResponse struct {
	Groups []models.Group `json:"groups"`
}

type CreateGroupRequest struct {
	Name           string   `json:"name"`
	Members        []string `json:"members,omitempty"`
	Guests         []string `json:"guests,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
}

type CreateGroupResponse struct {
	Group   models.Group `json:"group"`
	Created bool         `json:"created"`
}

type JoinGroupRequest struct {
	GroupID string `json:"group_id"`
}

type JoinGroupResponse struct {
	Group models.Group `json:"group"`
}

type AddGuestRequest struct {
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
}

type AddGuestResponse struct {
	Guest models.Guest `json:"guest"`
}

type GetGroupRequest struct {
	GroupID string `json:"group_id"`
}

type GetGroupResponse struct {
	Group models.Group `json:"group"`
}

// SummaryFromLedger converts a ledger summary to its wire form.
func SummaryFromLedger(s ledger.Summary) *GetSummaryResponse {
	resp := &GetSummaryResponse{
		GroupID:    s.GroupID,
		Balances:   make([]BalanceEntry, len(s.Balances)),
		Transfers:  make([]TransferEntry, len(s.Transfers)),
		TotalSpent: s.TotalSpent,
		Records:    s.Records,
	}
	for i, b := range s.Balances {
		resp.Balances[i] = BalanceEntry{Participant: b.Participant, Paid: b.Paid, Owed: b.Owed, Net: b.Net}
	}
	for i, t := range s.Transfers {
		resp.Transfers[i] = TransferEntry{From: t.From, To: t.To, Amount: t.Amount}
	}
	return resp
}
