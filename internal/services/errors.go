package services

import (
	"errors"
	"fmt"
)

// Error kinds returned by every service. Front ends switch on them with
// errors.Is; the wrapped message carries the detail.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidRating       = errors.New("rating must be between 0 and 10")
	ErrDuplicateResponse   = errors.New("transaction already has a response")
	ErrStorageUnavailable  = errors.New("storage unavailable")

	ErrInvalidArgument    = errors.New("invalid argument")
	ErrClientBlocked      = errors.New("client is blocked")
	ErrPartnerNotApproved = errors.New("partner is not approved")

	ErrIdempotencyKeyRequired = fmt.Errorf("%w: idempotency key is required", ErrInvalidArgument)
	ErrRequestInFlight        = fmt.Errorf("%w: request with this idempotency key is in progress", ErrConflict)
)

var kinds = []error{
	ErrNotFound,
	ErrConflict,
	ErrInsufficientBalance,
	ErrInvalidRating,
	ErrDuplicateResponse,
	ErrStorageUnavailable,
	ErrInvalidArgument,
	ErrClientBlocked,
	ErrPartnerNotApproved,
}

func isKind(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// classify passes typed errors through and reports anything else as a
// storage failure, so a broken backend is never mistaken for "absent".
func classify(op string, err error) error {
	if err == nil || isKind(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
}

func notFound(what, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
}
