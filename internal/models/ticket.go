package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketValid TicketStatus = "VALID"
	TicketUsed  TicketStatus = "USED"
	TicketVoid  TicketStatus = "VOID"
)

// Ticket is created by the purchase flow. Only gate scanning and ticket
// transfers mutate it afterwards.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID        string       `bun:"ticket_id,pk" json:"ticket_id"`
	OrderID         string       `bun:"order_id" json:"order_id"`
	OwnerID         string       `bun:"owner_id,notnull" json:"owner_id"`
	TierID          string       `bun:"tier_id" json:"tier_id"`
	TierName        string       `bun:"tier_name" json:"tier_name"`
	PriceAtPurchase float64      `bun:"price_at_purchase" json:"price_at_purchase"`
	Status          TicketStatus `bun:"status,notnull" json:"status"`
	IssuedAt        time.Time    `bun:"issued_at,notnull" json:"issued_at"`
	OwnerSince      time.Time    `bun:"owner_since,notnull" json:"owner_since"`
	ScannedAt       *time.Time   `bun:"scanned_at" json:"scanned_at,omitempty"`
	ScanLocation    string       `bun:"scan_location,nullzero" json:"scan_location,omitempty"`
	ScannedBy       string       `bun:"scanned_by,nullzero" json:"scanned_by,omitempty"`
	UpdatedAt       time.Time    `bun:"updated_at,notnull" json:"updated_at"`
}

// Transferable reports whether the ticket is in a state that allows an
// ownership change. Ownership is checked separately.
func (t *Ticket) Transferable() bool {
	return t.Status == TicketValid && t.ScannedAt == nil
}

func (t *Ticket) IsFree() bool {
	return t.PriceAtPurchase <= 0
}

// TicketWithTransfer is the owner-facing listing row.
type TicketWithTransfer struct {
	Ticket
	ActiveTransfer *TransferRecord `json:"active_transfer,omitempty"`
}

// ScanRecord is the gate metadata written when a ticket is admitted.
type ScanRecord struct {
	At       time.Time
	Location string
	AgentID  string
}

// TicketIssuedEvent is published by the order service once a purchase is
// paid and its tickets are minted.
type TicketIssuedEvent struct {
	TicketID        string    `json:"ticket_id" validate:"required"`
	OrderID         string    `json:"order_id"`
	OwnerID         string    `json:"owner_id" validate:"required"`
	TierID          string    `json:"tier_id"`
	TierName        string    `json:"tier_name"`
	PriceAtPurchase float64   `json:"price_at_purchase" validate:"gte=0"`
	IssuedAt        time.Time `json:"issued_at"`
}

func (e TicketIssuedEvent) Ticket() *Ticket {
	return &Ticket{
		TicketID:        e.TicketID,
		OrderID:         e.OrderID,
		OwnerID:         e.OwnerID,
		TierID:          e.TierID,
		TierName:        e.TierName,
		PriceAtPurchase: e.PriceAtPurchase,
		Status:          TicketValid,
		IssuedAt:        e.IssuedAt,
	}
}
