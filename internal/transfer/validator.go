package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-ticket-transfer/internal/models"
)

// Policy holds the configurable transfer rules.
type Policy struct {
	// BlockFreeTickets refuses transfers of zero-priced (promotional)
	// tickets.
	BlockFreeTickets   bool
	DefaultPhoneRegion string
	LockTTL            time.Duration
	LockWait           time.Duration
}

// Validator is the stand-alone guard run before any state change. The
// state machine repeats the ticket checks inside its transaction.
type Validator struct {
	Store  Store
	Policy Policy
}

func NewValidator(store Store, policy Policy) *Validator {
	return &Validator{Store: store, Policy: policy}
}

// Validate applies the transfer rules in order and stops at the first
// failure. It returns the normalized recipient contact.
func (v *Validator) Validate(ctx context.Context, ticketID, senderID string, recipient Recipient) (Contact, error) {
	contact, err := normalizeRecipient(recipient, v.Policy.DefaultPhoneRegion)
	if err != nil {
		return Contact{}, err
	}
	if _, err := v.checkTicket(ctx, v.Store, ticketID, senderID); err != nil {
		return Contact{}, err
	}
	return contact, nil
}

// checkTicket covers rules 2 to 5 against whichever store view it is
// handed, so the same checks run before and inside the transaction.
func (v *Validator) checkTicket(ctx context.Context, store Store, ticketID, senderID string) (*models.Ticket, error) {
	ticket, err := store.GetTicket(ctx, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ticket %s does not exist", ErrNotTransferable, ticketID)
	}
	if err != nil {
		return nil, classify(err)
	}
	if !ticket.Transferable() {
		return nil, fmt.Errorf("%w: ticket %s is %s", ErrNotTransferable, ticketID, describeState(ticket))
	}

	active, err := store.ActiveTransferForTicket(ctx, ticketID)
	if err != nil {
		return nil, classify(err)
	}

	if ticket.OwnerID != senderID {
		// A sender who already handed this ticket away gets the more
		// useful answer.
		if active != nil && active.SenderID == senderID {
			return nil, ErrAlreadyTransferred
		}
		return nil, ErrNotOwner
	}
	if active != nil {
		return nil, ErrAlreadyTransferred
	}
	if v.Policy.BlockFreeTickets && ticket.IsFree() {
		return nil, ErrFreeTicketNotTransferable
	}
	return ticket, nil
}

func describeState(t *models.Ticket) string {
	if t.ScannedAt != nil && t.Status == models.TicketValid {
		return "already scanned"
	}
	return string(t.Status)
}
