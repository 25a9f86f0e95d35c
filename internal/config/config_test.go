package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QR_SECRET_KEY", "")
	t.Setenv("ENTRY_TOKEN_WINDOW", "")
	t.Setenv("TRANSFER_BLOCK_FREE_TICKETS", "")

	cfg := Load()

	assert.Equal(t, 24*time.Hour, cfg.Token.FreshnessWindow)
	assert.False(t, cfg.Transfer.BlockFreeTickets)
	assert.Equal(t, "BF", cfg.Transfer.DefaultPhoneRegion)
	assert.Equal(t, "ticketly.transfers.events", cfg.Kafka.Topics.TransferEvents)
	assert.Equal(t, "ticketly.tickets.issued", cfg.Kafka.Topics.TicketsIssued)
	assert.ErrorIs(t, cfg.Validate(), ErrMissingTokenSecret)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("QR_SECRET_KEY", "s3cret")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/tickets")
	t.Setenv("ENTRY_TOKEN_WINDOW", "2h")
	t.Setenv("TRANSFER_BLOCK_FREE_TICKETS", "true")
	t.Setenv("KAFKA_ADDR", "kafka-1:9092, kafka-2:9092")
	t.Setenv("NOTIFY_WORKERS", "not-a-number")

	cfg := Load()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Hour, cfg.Token.FreshnessWindow)
	assert.True(t, cfg.Transfer.BlockFreeTickets)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 4, cfg.Notify.Workers)
}
