package transfer

import (
	"fmt"

	"ms-ticket-transfer/internal/models"
)

// legalTransitions lists every edge a transfer record may take. Instant
// transfers are written COMPLETED directly and never pass through PENDING.
// Terminal states have no outgoing edges.
var legalTransitions = map[models.TransferStatus]map[models.TransferStatus]bool{
	models.TransferPending: {
		models.TransferCompleted: true,
		models.TransferCancelled: true,
		models.TransferRejected:  true,
	},
	models.TransferCompleted: {},
	models.TransferRejected:  {},
	models.TransferCancelled: {},
}

// CanTransition returns nil when from -> to is a legal edge.
func CanTransition(from, to models.TransferStatus) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s is final", ErrIllegalTransition, from)
	}
	targets, known := legalTransitions[from]
	if !known {
		return fmt.Errorf("%w: unknown state %q", ErrIllegalTransition, from)
	}
	if !targets[to] {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
