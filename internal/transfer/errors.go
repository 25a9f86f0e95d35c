package transfer

import (
	"errors"
	"fmt"
)

// Input errors. Safe to retry once the request is corrected.
var (
	ErrInvalidRecipient = errors.New("invalid recipient identifier")
)

// Policy and state errors. They reflect a real conflict with the current
// ticket or transfer state; callers should re-fetch before retrying.
var (
	ErrNotTransferable           = errors.New("ticket is not transferable")
	ErrFreeTicketNotTransferable = fmt.Errorf("%w: free tickets cannot be transferred", ErrNotTransferable)
	ErrNotOwner                  = errors.New("ticket is not owned by the sender")
	ErrAlreadyTransferred        = errors.New("ticket has already been transferred")
	ErrTransferNotFound          = errors.New("transfer not found")
	ErrNotCancellable            = errors.New("transfer can no longer be cancelled")
	ErrNoLongerTransferable      = errors.New("ticket is no longer transferable")
	ErrIllegalTransition         = errors.New("illegal transfer state transition")
)

// ErrTransient wraps storage and lock failures. The same request may
// succeed when retried.
var ErrTransient = errors.New("transient failure")

var domainErrors = []error{
	ErrInvalidRecipient,
	ErrNotTransferable,
	ErrNotOwner,
	ErrAlreadyTransferred,
	ErrTransferNotFound,
	ErrNotCancellable,
	ErrNoLongerTransferable,
	ErrIllegalTransition,
	ErrTransient,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// classify passes domain errors through and turns anything else (driver,
// connection, serialization failures) into ErrTransient.
func classify(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// Code maps an error to the stable identifier exposed by the API.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrAlreadyTransferred):
		return "already_transferred"
	case errors.Is(err, ErrNotTransferable), errors.Is(err, ErrNoLongerTransferable):
		return "not_transferable"
	case errors.Is(err, ErrTransferNotFound):
		return "not_found"
	case errors.Is(err, ErrNotCancellable), errors.Is(err, ErrIllegalTransition):
		return "not_cancellable"
	default:
		return "transient"
	}
}
