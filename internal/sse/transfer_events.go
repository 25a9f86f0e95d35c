package sse

import (
	"context"
	"sync"

	"ms-ticket-transfer/internal/models"
)

const clientBuffer = 10

// TransferEventHub fans transfer events out to the browsers of the
// accounts involved.
type TransferEventHub struct {
	mu      sync.RWMutex
	clients map[string][]chan models.TransferEvent
}

func NewTransferEventHub() *TransferEventHub {
	return &TransferEventHub{
		clients: make(map[string][]chan models.TransferEvent),
	}
}

// Subscribe registers a client for accountID. The channel is closed once
// ctx is done.
func (h *TransferEventHub) Subscribe(ctx context.Context, accountID string) <-chan models.TransferEvent {
	clientChan := make(chan models.TransferEvent, clientBuffer)

	h.mu.Lock()
	h.clients[accountID] = append(h.clients[accountID], clientChan)
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(accountID, clientChan)
	}()

	return clientChan
}

// Emit delivers event to every connected client of the accounts it
// concerns. Slow clients miss events rather than stall the caller.
func (h *TransferEventHub) Emit(event models.TransferEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, accountID := range event.AccountRefs() {
		for _, clientChan := range h.clients[accountID] {
			select {
			case clientChan <- event:
				delivered++
			default:
			}
		}
	}
	return delivered
}

// Deliver lets the hub act as a notification sink.
func (h *TransferEventHub) Deliver(_ context.Context, event models.TransferEvent) error {
	h.Emit(event)
	return nil
}

func (h *TransferEventHub) Name() string {
	return "sse"
}

func (h *TransferEventHub) remove(accountID string, clientChan chan models.TransferEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[accountID]
	for i, ch := range clients {
		if ch == clientChan {
			h.clients[accountID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(h.clients[accountID]) == 0 {
		delete(h.clients, accountID)
	}
}

func (h *TransferEventHub) ClientCount(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}
