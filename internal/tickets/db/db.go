package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"ms-ticket-transfer/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// CreateTicket stores a ticket issued by the purchase flow. Replayed issue
// events are ignored.
func (d *DB) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	if ticket.OwnerSince.IsZero() {
		ticket.OwnerSince = ticket.IssuedAt
	}
	if ticket.UpdatedAt.IsZero() {
		ticket.UpdatedAt = ticket.IssuedAt
	}
	_, err := d.Bun.NewInsert().
		Model(ticket).
		On("CONFLICT (ticket_id) DO NOTHING").
		Exec(ctx)
	return err
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// GetTicketsByOwner returns the tickets an account currently holds, newest
// first.
func (d *DB) GetTicketsByOwner(ctx context.Context, ownerID string) ([]models.Ticket, error) {
	tickets := []models.Ticket{}
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("owner_id = ?", ownerID).
		Order("issued_at DESC").
		Scan(ctx)
	return tickets, err
}

// GetActiveTransfers returns the PENDING or COMPLETED record of each given
// ticket, keyed by ticket id.
func (d *DB) GetActiveTransfers(ctx context.Context, ticketIDs []string) (map[string]*models.TransferRecord, error) {
	out := make(map[string]*models.TransferRecord, len(ticketIDs))
	if len(ticketIDs) == 0 {
		return out, nil
	}
	var records []models.TransferRecord
	err := d.Bun.NewSelect().
		Model(&records).
		Where("ticket_id IN (?)", bun.In(ticketIDs)).
		Where("status IN (?)", bun.In([]models.TransferStatus{models.TransferPending, models.TransferCompleted})).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		out[records[i].TicketID] = &records[i]
	}
	return out, nil
}

// MarkScanned flips a ticket to USED only while it is still VALID,
// unscanned and held by owner.
func (d *DB) MarkScanned(ctx context.Context, ticketID, owner string, scan models.ScanRecord) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketUsed).
		Set("scanned_at = ?", scan.At).
		Set("scan_location = ?", scan.Location).
		Set("scanned_by = ?", scan.AgentID).
		Set("updated_at = ?", scan.At).
		Where("ticket_id = ?", ticketID).
		Where("owner_id = ?", owner).
		Where("status = ?", models.TicketValid).
		Where("scanned_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// VoidTicket marks a ticket VOID unless it was already used.
func (d *DB) VoidTicket(ctx context.Context, ticketID string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketVoid).
		Set("updated_at = ?", at).
		Where("ticket_id = ?", ticketID).
		Where("status = ?", models.TicketValid).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
