package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tripledger/internal/models"
)

const (
	selfAlias  = "me"
	guestAlias = "guest:"
)

var (
	errNoGuest        = errors.New("no such guest")
	errAmbiguousGuest = errors.New("guest name is ambiguous")
)

// resolveParticipant finds who s refers to within g.
//
// "me" is the local member. "guest:<x>" matches a guest by token or name.
// Anything else matches a member id first, then a guest by token or name.
func resolveParticipant(g models.Group, self, s string) (models.Participant, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.Participant{}, models.ErrNoParticipant
	}
	if s == selfAlias {
		return models.Member(self), nil
	}
	if ref, ok := strings.CutPrefix(s, guestAlias); ok {
		return findGuest(g, ref)
	}
	if g.HasMember(s) {
		return models.Member(s), nil
	}
	p, err := findGuest(g, s)
	if errors.Is(err, errNoGuest) {
		return models.Participant{}, fmt.Errorf("%q is neither a member nor a guest of %s", s, g.Name)
	}
	return p, err
}

func findGuest(g models.Group, ref string) (models.Participant, error) {
	for _, guest := range g.Guests {
		if guest.ID == ref {
			return models.GuestOf(g.ID, guest), nil
		}
	}

	var matches []models.Guest
	for _, guest := range g.Guests {
		if strings.EqualFold(guest.Name, ref) {
			matches = append(matches, guest)
		}
	}
	switch len(matches) {
	case 0:
		return models.Participant{}, fmt.Errorf("%w: %q in %s", errNoGuest, ref, g.Name)
	case 1:
		return models.GuestOf(g.ID, matches[0]), nil
	default:
		return models.Participant{}, fmt.Errorf("%w: %q in %s; use guest:<token>", errAmbiguousGuest, ref, g.Name)
	}
}

// parseShares parses "participant=amount" pairs into fixed shares.
func parseShares(g models.Group, self string, args []string) ([]models.Share, error) {
	shares := make([]models.Share, 0, len(args))
	for _, arg := range args {
		who, amount, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid split %q: want participant=amount", arg)
		}
		p, err := resolveParticipant(g, self, who)
		if err != nil {
			return nil, err
		}
		d, err := parseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("invalid split %q: %w", arg, err)
		}
		shares = append(shares, models.Share{Participant: p, Amount: d})
	}
	return shares, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}
