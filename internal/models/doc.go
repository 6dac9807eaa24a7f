// Package models defines the core domain types for tripledger.
//
// # Identity
//
// Participants are a tagged union of registered members and group-scoped guests
// (see Participant). Record identity is a tagged union of client-local and
// server-assigned ids (see RecordID).
//
// # Records
//
// CostRecord covers both expenses and settlements. Records are create-only:
// once the server accepts one it is never mutated, which lets every client
// re-derive balances additively from the full record set.
//
// # Design Principles
//
//  1. Balances are never stored; they are derived by the ledger package.
//  2. Amounts are decimal.Decimal, never float64.
//  3. Relationships use ID strings, not pointers.
package models
