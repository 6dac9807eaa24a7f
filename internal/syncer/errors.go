package syncer

import (
	"errors"
	"fmt"

	"github.com/mmynk/tripledger/internal/api"
	"github.com/mmynk/tripledger/internal/local"
)

// Error classes returned by the controller. Match them with errors.Is.
var (
	// ErrValidation marks a malformed mutation. It never reaches the outbox.
	ErrValidation = errors.New("invalid mutation")
	// ErrTransient marks a failure worth retrying: no connectivity, timeouts,
	// server errors. Queued actions stay queued.
	ErrTransient = errors.New("ledger store unreachable")
	// ErrPermanent marks a rejection by the ledger store that can never succeed.
	ErrPermanent = errors.New("rejected by ledger store")
	// ErrStorage marks a local persistence failure. The optimistic update was
	// not applied.
	ErrStorage = local.ErrStorage

	// ErrOffline is returned by operations that need the store while the
	// controller has been told it is offline.
	ErrOffline = fmt.Errorf("%w: offline", ErrTransient)
	// ErrUnknownAction is returned by Cancel for an id not in the outbox.
	ErrUnknownAction = errors.New("no such pending action")
	// ErrNotCached is returned by reads for a group the cache has never seen.
	ErrNotCached = errors.New("group is not cached")

	errUnmappedGroup = errors.New("group has not been created on the server")
)

func validationError(err error) error {
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// classify wraps an error from the ledger store as permanent or transient.
// Anything not recognised as a client error is transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, ErrTransient) || errors.Is(err, ErrStorage) {
		return err
	}
	if api.IsPermanent(err) || errors.Is(err, errUnmappedGroup) {
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
