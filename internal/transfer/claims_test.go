package transfer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ticket-transfer/internal/models"
	"ms-ticket-transfer/internal/tickets/entrytoken"
	"ms-ticket-transfer/internal/transfer"
)

func TestClaim_PendingThenRegister(t *testing.T) {
	f := setupFixture(t)
	f.seedTicket(t, "T1", "alice")
	ctx := context.Background()

	res, err := submit(f, "T1", "alice", transfer.Recipient{Email: "newbie@example.com"})
	require.NoError(t, err)
	require.False(t, res.Instant)

	f.clock.Advance(10 * time.Minute)
	f.seedAccount(t, "newbie", "newbie@example.com", "", true)

	result, err := f.svc.ResolveForNewAccount(ctx, "newbie", "NewBie@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, []string{res.TransferID}, result.Claimed)
	assert.Empty(t, result.Skipped)

	ticket := f.ticket(t, "T1")
	assert.Equal(t, "newbie", ticket.OwnerID)
	assert.True(t, ticket.OwnerSince.Equal(epoch.Add(10*time.Minute)))

	rec, err := f.svc.GetTransfer(ctx, res.TransferID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferCompleted, rec.Status)
	assert.Equal(t, "newbie", rec.RecipientAccountID)

	// Running again changes nothing.
	again, err := f.svc.ClaimPendingTransfers(ctx, "newbie", transfer.Contact{Email: "newbie@example.com"})
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, "newbie", f.ticket(t, "T1").OwnerID)

	assert.Equal(t, []models.TransferEventType{
		models.EventTransferPending,
		models.EventTransferClaimed,
	}, f.events.Types())
}

func TestClaim_CancelledTransferIsNotClaimable(t *testing.T) {
	f := setupFixture(t)
	f.seedTicket(t, "T1", "alice")
	ctx := context.Background()

	res, err := submit(f, "T1", "alice", transfer.Recipient{Email: "newbie@example.com"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx, res.TransferID, "alice"))

	claimed, err := f.svc.ClaimPendingTransfers(ctx, "newbie", transfer.Contact{Email: "newbie@example.com"})
	require.NoError(t, err)
	assert.Empty(t, claimed)
	assert.Equal(t, "alice", f.ticket(t, "T1").OwnerID)

	rec, err := f.svc.GetTransfer(ctx, res.TransferID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferCancelled, rec.Status)
}

func TestClaim_PhoneScenarioEndToEnd(t *testing.T) {
	f := setupFixture(t)
	f.seedTicket(t, "T1", "A")
	ctx := context.Background()

	res, err := submit(f, "T1", "A", transfer.Recipient{Phone: "+22670000000"})
	require.NoError(t, err)
	assert.False(t, res.Instant)
	assert.Equal(t, "A", f.ticket(t, "T1").OwnerID)

	pending, err := f.svc.ListPendingFor(ctx, "", "+226 70 00 00 00")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.TransferID, pending[0].ID)

	f.clock.Advance(time.Hour)
	f.seedAccount(t, "B", "", "+22670000000", true)

	claimed, err := f.svc.ClaimPendingTransfers(ctx, "B", transfer.Contact{Phone: "+22670000000"})
	require.NoError(t, err)
	assert.Equal(t, []string{res.TransferID}, claimed)
	assert.Equal(t, "B", f.ticket(t, "T1").OwnerID)

	codec, err := entrytoken.NewCodec("gate-secret", 24*time.Hour, f.clock)
	require.NoError(t, err)
	token, err := codec.Issue("T1")
	require.NoError(t, err)
	claims, err := codec.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "T1", claims.TicketID)

	_, err = submit(f, "T1", "A", transfer.Recipient{Email: "someone@example.com"})
	assert.ErrorIs(t, err, transfer.ErrAlreadyTransferred)
	assert.Equal(t, "already_transferred", transfer.Code(err))
}

func TestClaim_TicketUsedMeanwhileIsSkipped(t *testing.T) {
	f := setupFixture(t)
	f.seedTicket(t, "T1", "alice")
	f.seedTicket(t, "T2", "alice")
	ctx := context.Background()

	first, err := submit(f, "T1", "alice", transfer.Recipient{Email: "newbie@example.com"})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := submit(f, "T2", "alice", transfer.Recipient{Email: "newbie@example.com"})
	require.NoError(t, err)

	// The sender walks through the gate with T1 before the claim.
	_, err = f.bun.NewUpdate().Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketUsed).
		Set("scanned_at = ?", epoch).
		Where("ticket_id = ?", "T1").
		Exec(ctx)
	require.NoError(t, err)

	result, err := f.svc.ResolveForNewAccount(ctx, "newbie", "newbie@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, []string{second.TransferID}, result.Claimed)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, first.TransferID, result.Skipped[0].TransferID)
	assert.Equal(t, transfer.ReasonNoLongerTransferable, result.Skipped[0].Reason)

	assert.Equal(t, "alice", f.ticket(t, "T1").OwnerID)
	assert.Equal(t, "newbie", f.ticket(t, "T2").OwnerID)

	rec, err := f.svc.GetTransfer(ctx, first.TransferID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferRejected, rec.Status)
	assert.Equal(t, transfer.ReasonNoLongerTransferable, rec.Reason)
}

func TestClaim_SenderCannotClaimOwnTransfer(t *testing.T) {
	f := setupFixture(t)
	f.seedTicket(t, "T1", "alice")
	ctx := context.Background()

	res, err := submit(f, "T1", "alice", transfer.Recipient{Email: "alt@example.com"})
	require.NoError(t, err)

	result, err := f.svc.ResolveForNewAccount(ctx, "alice", "alt@example.com", "")
	require.NoError(t, err)
	assert.Empty(t, result.Claimed)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, transfer.ReasonSelfClaim, result.Skipped[0].Reason)

	rec, err := f.svc.GetTransfer(ctx, res.TransferID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferRejected, rec.Status)
}

func TestClaim_MatchesEitherIdentifier(t *testing.T) {
	f := setupFixture(t)
	f.seedTicket(t, "T1", "alice")
	f.seedTicket(t, "T2", "carol")
	ctx := context.Background()

	_, err := submit(f, "T1", "alice", transfer.Recipient{Email: "bob@example.com"})
	require.NoError(t, err)
	_, err = submit(f, "T2", "carol", transfer.Recipient{Phone: "+22676543210"})
	require.NoError(t, err)

	result, err := f.svc.ResolveForNewAccount(ctx, "bob", "bob@example.com", "+22676543210")
	require.NoError(t, err)
	assert.Len(t, result.Claimed, 2)
	assert.Equal(t, "bob", f.ticket(t, "T1").OwnerID)
	assert.Equal(t, "bob", f.ticket(t, "T2").OwnerID)
}

func TestClaim_RequiresVerifiedContact(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.ResolveForNewAccount(context.Background(), "bob", "", "")
	assert.ErrorIs(t, err, transfer.ErrInvalidRecipient)

	_, err = f.svc.ListPendingFor(context.Background(), "not-an-email", "")
	assert.ErrorIs(t, err, transfer.ErrInvalidRecipient)
}
