package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"ms-ticket-transfer/internal/models"
	"ms-ticket-transfer/internal/transfer"
)

// activeStatuses must match the predicate of the partial unique index
// ticket_transfers_one_active_idx.
var activeStatuses = []models.TransferStatus{models.TransferPending, models.TransferCompleted}

const activeConflict = "CONFLICT (ticket_id) WHERE status IN ('PENDING', 'COMPLETED') DO NOTHING"

// DB is the bun-backed transfer store. Inside InTx the same methods run on
// the open transaction.
type DB struct {
	Bun *bun.DB
	tx  bun.IDB
}

var _ transfer.Store = (*DB)(nil)

func (d *DB) conn() bun.IDB {
	if d.tx != nil {
		return d.tx
	}
	return d.Bun
}

// InTx runs fn inside a database transaction. Nested calls reuse the
// outer transaction.
func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx transfer.Store) error) error {
	if d.tx != nil {
		return fn(ctx, d)
	}
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &DB{Bun: d.Bun, tx: tx})
	})
}

// ---------------- TICKETS ----------------

func (d *DB) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.conn().NewSelect().
		Model(&ticket).
		Where("ticket_id = ?", ticketID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) ReassignTicket(ctx context.Context, ticketID, from, to string, at time.Time) (bool, error) {
	res, err := d.conn().NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("owner_id = ?", to).
		Set("owner_since = ?", at).
		Set("updated_at = ?", at).
		Where("ticket_id = ?", ticketID).
		Where("owner_id = ?", from).
		Where("status = ?", models.TicketValid).
		Where("scanned_at IS NULL").
		Exec(ctx)
	return affectedOne(res, err)
}

func (d *DB) GuardTicket(ctx context.Context, ticketID, owner string, at time.Time) (bool, error) {
	res, err := d.conn().NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("updated_at = ?", at).
		Where("ticket_id = ?", ticketID).
		Where("owner_id = ?", owner).
		Where("status = ?", models.TicketValid).
		Where("scanned_at IS NULL").
		Exec(ctx)
	return affectedOne(res, err)
}

// ---------------- TRANSFERS ----------------

func (d *DB) GetTransfer(ctx context.Context, transferID string) (*models.TransferRecord, error) {
	var rec models.TransferRecord
	err := d.conn().NewSelect().
		Model(&rec).
		Where("id = ?", transferID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (d *DB) ActiveTransferForTicket(ctx context.Context, ticketID string) (*models.TransferRecord, error) {
	var rec models.TransferRecord
	err := d.conn().NewSelect().
		Model(&rec).
		Where("ticket_id = ?", ticketID).
		Where("status IN (?)", bun.In(activeStatuses)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (d *DB) ListTransfersForTicket(ctx context.Context, ticketID string) ([]models.TransferRecord, error) {
	records := []models.TransferRecord{}
	err := d.conn().NewSelect().
		Model(&records).
		Where("ticket_id = ?", ticketID).
		Order("created_at DESC").
		Scan(ctx)
	return records, err
}

// ListPendingByContact matches on either identifier. Empty identifiers
// never match.
func (d *DB) ListPendingByContact(ctx context.Context, email, phone string) ([]models.TransferRecord, error) {
	records := []models.TransferRecord{}
	if email == "" && phone == "" {
		return records, nil
	}
	err := d.conn().NewSelect().
		Model(&records).
		Where("status = ?", models.TransferPending).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			if email != "" {
				q = q.WhereOr("recipient_email = ?", email)
			}
			if phone != "" {
				q = q.WhereOr("recipient_phone = ?", phone)
			}
			return q
		}).
		Order("created_at ASC").
		Scan(ctx)
	return records, err
}

// InsertTransfer relies on the partial unique index to refuse a second
// active record for the same ticket.
func (d *DB) InsertTransfer(ctx context.Context, rec *models.TransferRecord) (bool, error) {
	q := d.conn().NewInsert().Model(rec)
	if rec.Status.Active() {
		q = q.On(activeConflict)
	}
	res, err := q.Exec(ctx)
	if isUniqueViolation(err) {
		return false, nil
	}
	return affectedOne(res, err)
}

func (d *DB) UpdateTransferStatus(ctx context.Context, transferID string, from, to models.TransferStatus, patch transfer.TransferPatch, at time.Time) (bool, error) {
	q := d.conn().NewUpdate().
		Model((*models.TransferRecord)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", at)
	if patch.RecipientAccountID != "" {
		q = q.Set("recipient_account_id = ?", patch.RecipientAccountID)
	}
	if patch.Reason != "" {
		q = q.Set("reason = ?", patch.Reason)
	}
	if to == models.TransferCompleted {
		q = q.Set("completed_at = ?", at)
	}
	res, err := q.
		Where("id = ?", transferID).
		Where("status = ?", from).
		Exec(ctx)
	return affectedOne(res, err)
}

// ---------------- ACCOUNTS ----------------

// FindAccountByContact returns the active account owning a verified
// identifier, or nil.
func (d *DB) FindAccountByContact(ctx context.Context, email, phone string) (*models.Account, error) {
	if email == "" && phone == "" {
		return nil, nil
	}
	var account models.Account
	err := d.conn().NewSelect().
		Model(&account).
		Where("active = ?", true).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			if email != "" {
				q = q.WhereOr("(email = ? AND email_verified = ?)", email, true)
			}
			if phone != "" {
				q = q.WhereOr("(phone = ? AND phone_verified = ?)", phone, true)
			}
			return q
		}).
		Order("created_at ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (d *DB) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	err := d.conn().NewSelect().
		Model(&account).
		Where("id = ?", accountID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// UpsertAccount mirrors an identity record. A verification flag only drops
// back to false when the identifier itself changes.
func (d *DB) UpsertAccount(ctx context.Context, account *models.Account) error {
	_, err := d.conn().NewInsert().
		Model(account).
		On("CONFLICT (id) DO UPDATE").
		Set("email = COALESCE(EXCLUDED.email, account.email)").
		Set("phone = COALESCE(EXCLUDED.phone, account.phone)").
		Set("email_verified = CASE WHEN EXCLUDED.email <> account.email THEN EXCLUDED.email_verified ELSE (account.email_verified OR EXCLUDED.email_verified) END").
		Set("phone_verified = CASE WHEN EXCLUDED.phone <> account.phone THEN EXCLUDED.phone_verified ELSE (account.phone_verified OR EXCLUDED.phone_verified) END").
		Set("full_name = COALESCE(EXCLUDED.full_name, account.full_name)").
		Set("active = EXCLUDED.active").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// isUniqueViolation catches postgres 23505 raised by an index the ON
// CONFLICT target does not name.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
