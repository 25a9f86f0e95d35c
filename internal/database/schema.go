package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-ticket-transfer/internal/models"
)

// CreateSchema builds the tables and indexes straight from the models. It
// mirrors migrations/000001_init.up.sql and is used for SQLite test and dev
// databases, where the postgres migrations cannot run.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range []interface{}{
		(*models.Account)(nil),
		(*models.Ticket)(nil),
		(*models.TransferRecord)(nil),
	} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	indexes := []*bun.CreateIndexQuery{
		db.NewCreateIndex().
			Model((*models.TransferRecord)(nil)).
			Unique().
			Index("ticket_transfers_one_active_idx").
			Column("ticket_id").
			Where("status IN ('PENDING', 'COMPLETED')"),
		db.NewCreateIndex().
			Model((*models.TransferRecord)(nil)).
			Index("ticket_transfers_recipient_email_idx").
			Column("recipient_email"),
		db.NewCreateIndex().
			Model((*models.TransferRecord)(nil)).
			Index("ticket_transfers_recipient_phone_idx").
			Column("recipient_phone"),
		db.NewCreateIndex().
			Model((*models.Ticket)(nil)).
			Index("tickets_owner_idx").
			Column("owner_id"),
	}
	for _, q := range indexes {
		if _, err := q.IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
