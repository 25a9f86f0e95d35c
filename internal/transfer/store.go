package transfer

import (
	"context"
	"time"

	"ms-ticket-transfer/internal/models"
)

// TransferPatch carries the optional columns written alongside a status
// change.
type TransferPatch struct {
	RecipientAccountID string
	Reason             string
}

// Store is the transactional view of tickets, transfer records and the
// account directory. Lookups that find nothing return an error wrapping
// sql.ErrNoRows, except ActiveTransferForTicket and FindAccountByContact
// which return nil.
//
// Mutating methods are compare-and-swap: they report whether the row was
// in the expected state and changed.
type Store interface {
	GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error)
	GetTransfer(ctx context.Context, transferID string) (*models.TransferRecord, error)
	ActiveTransferForTicket(ctx context.Context, ticketID string) (*models.TransferRecord, error)
	ListTransfersForTicket(ctx context.Context, ticketID string) ([]models.TransferRecord, error)
	ListPendingByContact(ctx context.Context, email, phone string) ([]models.TransferRecord, error)
	FindAccountByContact(ctx context.Context, email, phone string) (*models.Account, error)

	// InsertTransfer returns false when the ticket already has an active
	// (PENDING or COMPLETED) record.
	InsertTransfer(ctx context.Context, rec *models.TransferRecord) (bool, error)
	// ReassignTicket moves ownership from -> to only while the ticket is
	// VALID, unscanned and still owned by from.
	ReassignTicket(ctx context.Context, ticketID, from, to string, at time.Time) (bool, error)
	// GuardTicket takes the row lock on a ticket still VALID, unscanned and
	// owned by owner, without changing ownership.
	GuardTicket(ctx context.Context, ticketID, owner string, at time.Time) (bool, error)
	UpdateTransferStatus(ctx context.Context, transferID string, from, to models.TransferStatus, patch TransferPatch, at time.Time) (bool, error)

	// InTx runs fn in one database transaction. Returning an error rolls
	// everything back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// Notifier receives committed transfer events. Implementations must not
// block; delivery outcome never feeds back into the transfer.
type Notifier interface {
	Notify(event models.TransferEvent)
}

type nopNotifier struct{}

func (nopNotifier) Notify(models.TransferEvent) {}
