package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumerRetriesThenCommits(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: []byte("flaky")},
		{Offset: 2, Value: []byte("poison")},
		{Offset: 3, Value: []byte("ok")},
	}}
	consumer := NewConsumerWithReader(reader, "identity.account.verified", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := map[string]int{}
	done := make(chan error, 1)
	go func() {
		done <- consumer.Start(ctx, func(_ context.Context, msg kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			attempts[string(msg.Value)]++
			switch string(msg.Value) {
			case "flaky":
				if attempts["flaky"] < 3 {
					return errors.New("database unavailable")
				}
			case "poison":
				return fmt.Errorf("%w: bad json", ErrSkipMessage)
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(reader.Committed()) == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3}, reader.Committed())

	mu.Lock()
	assert.Equal(t, 3, attempts["flaky"])
	assert.Equal(t, 1, attempts["poison"])
	mu.Unlock()

	cancel()
	assert.NoError(t, <-done)
}

func TestGroupIDForIsPerTopic(t *testing.T) {
	accounts := GroupIDFor("ticket-transfer-group", "identity.account.verified")
	issued := GroupIDFor("ticket-transfer-group", "ticketly.tickets.issued")

	assert.Equal(t, "ticket-transfer-group-identity.account.verified", accounts)
	assert.NotEqual(t, accounts, issued)
}
