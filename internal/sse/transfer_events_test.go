package sse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ticket-transfer/internal/models"
)

func TestHubRoutesToSenderAndRecipient(t *testing.T) {
	hub := NewTransferEventHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := hub.Subscribe(ctx, "alice")
	bob := hub.Subscribe(ctx, "bob")
	carol := hub.Subscribe(ctx, "carol")

	event := models.TransferEvent{Type: models.EventTransferCompleted, SenderID: "alice", RecipientAccountID: "bob"}
	assert.Equal(t, 2, hub.Emit(event))

	assert.Equal(t, models.EventTransferCompleted, (<-alice).Type)
	assert.Equal(t, models.EventTransferCompleted, (<-bob).Type)
	select {
	case <-carol:
		t.Fatal("carol is not part of this transfer")
	default:
	}
}

func TestHubDropsForSlowClients(t *testing.T) {
	hub := NewTransferEventHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Subscribe(ctx, "alice")

	event := models.TransferEvent{SenderID: "alice"}
	for i := 0; i < clientBuffer; i++ {
		require.NoError(t, hub.Deliver(ctx, event))
	}
	assert.Equal(t, 0, hub.Emit(event))
}

func TestHubUnsubscribesOnCancel(t *testing.T) {
	hub := NewTransferEventHub()
	ctx, cancel := context.WithCancel(context.Background())
	ch := hub.Subscribe(ctx, "alice")
	assert.Equal(t, 1, hub.ClientCount("alice"))

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
	assert.Equal(t, 0, hub.ClientCount("alice"))
}
