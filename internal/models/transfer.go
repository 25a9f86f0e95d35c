package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferCompleted TransferStatus = "COMPLETED"
	TransferRejected  TransferStatus = "REJECTED"
	TransferCancelled TransferStatus = "CANCELLED"
)

// Active statuses occupy the single "active transfer" slot of a ticket.
func (s TransferStatus) Active() bool {
	return s == TransferPending || s == TransferCompleted
}

// Terminal statuses never change again.
func (s TransferStatus) Terminal() bool {
	return s == TransferCompleted || s == TransferRejected || s == TransferCancelled
}

// TransferRecord tracks one handoff of a ticket. A PENDING record always
// carries a contact identifier and never a recipient account.
type TransferRecord struct {
	bun.BaseModel `bun:"table:ticket_transfers"`

	ID                 string         `bun:"id,pk" json:"id"`
	TicketID           string         `bun:"ticket_id,notnull" json:"ticket_id"`
	SenderID           string         `bun:"sender_id,notnull" json:"sender_id"`
	RecipientAccountID string         `bun:"recipient_account_id,nullzero" json:"recipient_account_id,omitempty"`
	RecipientEmail     string         `bun:"recipient_email,nullzero" json:"recipient_email,omitempty"`
	RecipientPhone     string         `bun:"recipient_phone,nullzero" json:"recipient_phone,omitempty"`
	RecipientName      string         `bun:"recipient_name,nullzero" json:"recipient_name,omitempty"`
	Message            string         `bun:"message,nullzero" json:"message,omitempty"`
	Status             TransferStatus `bun:"status,notnull" json:"status"`
	Reason             string         `bun:"reason,nullzero" json:"reason,omitempty"`
	CreatedAt          time.Time      `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt          time.Time      `bun:"updated_at,notnull" json:"updated_at"`
	CompletedAt        *time.Time     `bun:"completed_at" json:"completed_at,omitempty"`
}

// Contact returns the identifier the transfer was addressed to.
func (r *TransferRecord) Contact() string {
	if r.RecipientEmail != "" {
		return r.RecipientEmail
	}
	return r.RecipientPhone
}
