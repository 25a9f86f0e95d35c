package transfer_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-ticket-transfer/internal/clock"
	"ms-ticket-transfer/internal/database"
	"ms-ticket-transfer/internal/logger"
	"ms-ticket-transfer/internal/models"
	"ms-ticket-transfer/internal/transfer"
	transferdb "ms-ticket-transfer/internal/transfer/db"
	transferredis "ms-ticket-transfer/internal/transfer/redis"
)

var epoch = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.TransferEvent
}

func (n *recordingNotifier) Notify(event models.TransferEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Types() []models.TransferEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.TransferEventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc    *transfer.Service
	store  *transferdb.DB
	bun    *bun.DB
	clock  *clock.Fake
	events *recordingNotifier
}

type option func(*transfer.Policy, *bool)

func withPolicy(fn func(*transfer.Policy)) option {
	return func(p *transfer.Policy, _ *bool) { fn(p) }
}

// withRedisLock puts a miniredis-backed per-ticket lock in front of the
// transaction.
func withRedisLock() option {
	return func(_ *transfer.Policy, useLock *bool) { *useLock = true }
}

func setupFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	// One connection serializes transactions the way row locks would.
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })
	require.NoError(t, database.CreateSchema(context.Background(), bunDB))

	policy := transfer.Policy{DefaultPhoneRegion: "BF"}
	useLock := false
	for _, opt := range opts {
		opt(&policy, &useLock)
	}

	var locker transfer.Locker
	if useLock {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() {
			client.Close()
			mr.Close()
		})
		locker = transferredis.NewLocker(client)
	}

	store := &transferdb.DB{Bun: bunDB}
	events := &recordingNotifier{}
	svc := transfer.NewService(store, policy, locker, events, logger.Discard())
	fake := clock.NewFake(epoch)
	svc.Clock = fake

	return &fixture{svc: svc, store: store, bun: bunDB, clock: fake, events: events}
}

func (f *fixture) seedTicket(t *testing.T, ticketID, ownerID string, mutate ...func(*models.Ticket)) {
	t.Helper()
	ticket := &models.Ticket{
		TicketID:        ticketID,
		OrderID:         "order-" + ticketID,
		OwnerID:         ownerID,
		TierID:          "tier-ga",
		TierName:        "General Admission",
		PriceAtPurchase: 25,
		Status:          models.TicketValid,
		IssuedAt:        epoch.Add(-48 * time.Hour),
		OwnerSince:      epoch.Add(-48 * time.Hour),
		UpdatedAt:       epoch.Add(-48 * time.Hour),
	}
	for _, fn := range mutate {
		fn(ticket)
	}
	_, err := f.bun.NewInsert().Model(ticket).Exec(context.Background())
	require.NoError(t, err)
}

func (f *fixture) seedAccount(t *testing.T, id, email, phone string, verified bool) {
	t.Helper()
	account := &models.Account{
		ID:            id,
		Email:         email,
		Phone:         phone,
		EmailVerified: verified && email != "",
		PhoneVerified: verified && phone != "",
		FullName:      "Account " + id,
		Active:        true,
		CreatedAt:     epoch.Add(-24 * time.Hour),
		UpdatedAt:     epoch.Add(-24 * time.Hour),
	}
	require.NoError(t, f.store.UpsertAccount(context.Background(), account))
}

func (f *fixture) ticket(t *testing.T, ticketID string) *models.Ticket {
	t.Helper()
	ticket, err := f.store.GetTicket(context.Background(), ticketID)
	require.NoError(t, err)
	return ticket
}

func (f *fixture) transfers(t *testing.T, ticketID string) []models.TransferRecord {
	t.Helper()
	records, err := f.store.ListTransfersForTicket(context.Background(), ticketID)
	require.NoError(t, err)
	return records
}
