package models

// Guest is a group-scoped participant without an account.
// ID is a stable token assigned when the guest is added; Name is only for display.
type Guest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Group is a set of travelers sharing costs.
type Group struct {
	// ID is the group identifier. Groups created offline carry a local ID
	// until the server confirms them.
	ID string `json:"id"`

	// Name is the display name of the group (e.g., "Lisbon 2026").
	Name string `json:"name"`

	// Members is the list of registered member IDs in join order.
	Members []string `json:"members"`

	// Guests is the list of guests in the order they were added.
	Guests []Guest `json:"guests"`

	// RosterVersion increments on every join or guest addition.
	RosterVersion int64 `json:"roster_version"`

	// CreatedBy is the member who created the group.
	CreatedBy string `json:"created_by,omitempty"`

	// CreatedAt is the Unix timestamp when the group was created.
	CreatedAt int64 `json:"created_at"`
}

// Roster returns the current participant roster of the group.
func (g *Group) Roster() Roster {
	return Roster{
		GroupID: g.ID,
		Members: append([]string(nil), g.Members...),
		Guests:  append([]Guest(nil), g.Guests...),
		Version: g.RosterVersion,
	}
}

// HasMember reports whether memberID belongs to the group.
func (g *Group) HasMember(memberID string) bool {
	for _, m := range g.Members {
		if m == memberID {
			return true
		}
	}
	return false
}

// Roster is the participant set of a group at a point in time.
// Auto-split costs are divided across the roster as it exists when balances
// are computed, not when the cost was recorded.
type Roster struct {
	GroupID string   `json:"group_id"`
	Members []string `json:"members"`
	Guests  []Guest  `json:"guests"`
	Version int64    `json:"version"`
}

// Participants returns members followed by guests, in roster order.
func (r Roster) Participants() []Participant {
	out := make([]Participant, 0, len(r.Members)+len(r.Guests))
	for _, m := range r.Members {
		out = append(out, Member(m))
	}
	for _, g := range r.Guests {
		out = append(out, GuestOf(r.GroupID, g))
	}
	return out
}

// Size is the number of members plus guests.
func (r Roster) Size() int {
	return len(r.Members) + len(r.Guests)
}
