package models

import (
	"errors"
	"fmt"
)

// ParticipantKind distinguishes registered members from per-group guests.
type ParticipantKind string

const (
	// KindMember is a registered member with a durable, globally unique ID.
	KindMember ParticipantKind = "member"
	// KindGuest is an unauthenticated participant scoped to one group.
	KindGuest ParticipantKind = "guest"
)

var (
	ErrNoParticipant        = errors.New("participant is not set")
	ErrAmbiguousParticipant = errors.New("participant must be either a member or a guest, not both")
)

// Participant identifies someone who can pay for or owe a share of a cost.
//
// It is a tagged union: a member is identified by MemberID alone, a guest by
// GroupID + GuestID. Name is a display attribute and never part of the identity,
// so two guests called "Sam" in the same group remain distinct people.
type Participant struct {
	Kind ParticipantKind `json:"kind"`

	// MemberID is set for members only.
	MemberID string `json:"member_id,omitempty"`

	// GroupID and GuestID are set for guests only.
	GroupID string `json:"group_id,omitempty"`
	GuestID string `json:"guest_id,omitempty"`

	// Name is the display name. For members it is informational.
	Name string `json:"name,omitempty"`
}

// Member returns the participant for a registered member.
func Member(id string) Participant {
	return Participant{Kind: KindMember, MemberID: id}
}

// GuestOf returns the participant for a guest of the given group.
func GuestOf(groupID string, g Guest) Participant {
	return Participant{Kind: KindGuest, GroupID: groupID, GuestID: g.ID, Name: g.Name}
}

// Key returns the balance key for the participant.
// Members key as "member:<id>", guests as "guest:<group>:<token>".
func (p Participant) Key() string {
	switch p.Kind {
	case KindMember:
		return "member:" + p.MemberID
	case KindGuest:
		return "guest:" + p.GroupID + ":" + p.GuestID
	default:
		return ""
	}
}

// Label is a human readable name for logs and CLI output.
func (p Participant) Label() string {
	if p.Name != "" {
		return p.Name
	}
	if p.Kind == KindMember {
		return p.MemberID
	}
	return p.GuestID
}

// IsZero reports whether no identity is set.
func (p Participant) IsZero() bool {
	return p.Kind == "" && p.MemberID == "" && p.GuestID == ""
}

// Validate checks that exactly one identity representation is set.
func (p Participant) Validate() error {
	switch p.Kind {
	case KindMember:
		if p.MemberID == "" {
			return fmt.Errorf("member participant: %w", ErrNoParticipant)
		}
		if p.GuestID != "" {
			return ErrAmbiguousParticipant
		}
	case KindGuest:
		if p.GroupID == "" || p.GuestID == "" {
			return fmt.Errorf("guest participant: %w", ErrNoParticipant)
		}
		if p.MemberID != "" {
			return ErrAmbiguousParticipant
		}
	case "":
		return ErrNoParticipant
	default:
		return fmt.Errorf("unknown participant kind %q", p.Kind)
	}
	return nil
}

// Equal compares identities, ignoring display names.
func (p Participant) Equal(o Participant) bool {
	return p.Key() == o.Key()
}
