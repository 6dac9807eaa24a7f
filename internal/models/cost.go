package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CostKind distinguishes spending from settlement payments.
type CostKind string

const (
	KindCost       CostKind = "cost"
	KindSettlement CostKind = "settlement"
)

const localPrefix = "local:"

// RecordID identifies a cost record or group in one of two namespaces:
// a Local id synthesized by the client while offline, or a Remote id assigned
// by the server. Only the sync controller resolves a Local id to a Remote one.
type RecordID struct {
	value string
	local bool
}

// LocalID wraps a client-generated identifier.
func LocalID(id string) RecordID { return RecordID{value: id, local: true} }

// RemoteID wraps a server-assigned identifier.
func RemoteID(id string) RecordID { return RecordID{value: id} }

// ParseRecordID parses the text form produced by String.
func ParseRecordID(s string) RecordID {
	if strings.HasPrefix(s, localPrefix) {
		return LocalID(strings.TrimPrefix(s, localPrefix))
	}
	return RemoteID(s)
}

func (id RecordID) IsLocal() bool { return id.local }
func (id RecordID) IsZero() bool  { return id.value == "" }
func (id RecordID) Value() string { return id.value }

// String returns "local:<uuid>" for local ids and the bare value for remote ones.
func (id RecordID) String() string {
	if id.local {
		return localPrefix + id.value
	}
	return id.value
}

func (id RecordID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *RecordID) UnmarshalText(b []byte) error {
	*id = ParseRecordID(string(b))
	return nil
}

// IsLocalGroupID reports whether a group id was synthesized offline.
func IsLocalGroupID(groupID string) bool {
	return strings.HasPrefix(groupID, localPrefix)
}

// Share is one participant's fixed portion of a manually split record.
type Share struct {
	Participant Participant     `json:"participant"`
	Amount      decimal.Decimal `json:"amount"`
}

// CostRecord is an expense or a settlement within a group.
type CostRecord struct {
	ID      RecordID `json:"id"`
	GroupID string   `json:"group_id"`
	Kind    CostKind `json:"kind"`

	// Amount is the full amount paid.
	Amount decimal.Decimal `json:"amount"`

	// Payer is nil when the payer is unknown (a group purchase); the amount is
	// then only debited, never credited.
	Payer *Participant `json:"payer,omitempty"`

	// AutoSplit divides Amount evenly over the roster at computation time.
	// Settlements never auto-split.
	AutoSplit bool `json:"auto_split"`

	// SplitAmong holds fixed shares. Used for debits when AutoSplit is false;
	// kept as the record of intended shares otherwise.
	SplitAmong []Share `json:"split_among,omitempty"`

	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`

	// RosterVersion is the group's roster version when the record was created.
	RosterVersion int64 `json:"roster_version,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrNonPositiveAmount = errors.New("amount must be positive")
	ErrNoShares          = errors.New("manual split requires at least one share")
	ErrNoGroup           = errors.New("group is required")
)

// Validate checks a newly created record before it is queued or submitted.
// Historical records are never re-validated; the ledger accepts anything.
func (c *CostRecord) Validate() error {
	if c.GroupID == "" {
		return ErrNoGroup
	}
	if !c.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if c.Payer != nil {
		if err := c.Payer.Validate(); err != nil {
			return fmt.Errorf("payer: %w", err)
		}
	}
	switch c.Kind {
	case KindCost:
	case KindSettlement:
		if c.AutoSplit {
			return errors.New("settlement cannot be auto-split")
		}
		if c.Payer == nil {
			return fmt.Errorf("settlement payer: %w", ErrNoParticipant)
		}
		if len(c.SplitAmong) != 1 {
			return errors.New("settlement must target exactly one receiver")
		}
	default:
		return fmt.Errorf("unknown cost kind %q", c.Kind)
	}
	if !c.AutoSplit && len(c.SplitAmong) == 0 {
		return ErrNoShares
	}
	for i, s := range c.SplitAmong {
		if err := s.Participant.Validate(); err != nil {
			return fmt.Errorf("share %d: %w", i, err)
		}
		if s.Amount.IsNegative() {
			return fmt.Errorf("share %d: amount cannot be negative", i)
		}
	}
	return nil
}

// NewSettlement builds a settlement of amount from payer to receiver.
func NewSettlement(groupID string, payer, receiver Participant, amount decimal.Decimal) CostRecord {
	return CostRecord{
		GroupID:    groupID,
		Kind:       KindSettlement,
		Amount:     amount,
		Payer:      &payer,
		SplitAmong: []Share{{Participant: receiver, Amount: amount}},
		Category:   "settlement",
	}
}
