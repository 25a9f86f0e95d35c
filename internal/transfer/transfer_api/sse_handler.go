package transfer_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"ms-ticket-transfer/internal/auth"
	"ms-ticket-transfer/internal/logger"
	"ms-ticket-transfer/internal/sse"
)

// SSEHandler streams the caller's transfer events to the browser.
type SSEHandler struct {
	Logger *logger.Logger
	Hub    *sse.TransferEventHub

	closing   chan struct{}
	closeOnce sync.Once
}

func NewSSEHandler(log *logger.Logger, hub *sse.TransferEventHub) *SSEHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &SSEHandler{Logger: log, Hub: hub, closing: make(chan struct{})}
}

// Close ends every open stream. http.Server.Shutdown does not cancel
// request contexts, so it is registered with RegisterOnShutdown.
func (h *SSEHandler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

func (h *SSEHandler) HandleTransferEvents(w http.ResponseWriter, r *http.Request) {
	accountID := auth.UserID(r.Context())
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	setupSSEHeaders(w)
	ctx := r.Context()
	eventChan := h.Hub.Subscribe(ctx, accountID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to transfer events for account: %s", accountID))

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			jsonData, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize transfer event: %v", err))
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.EventID, event.Type, jsonData)
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from transfer events for: %s", accountID))
			return

		case <-h.closing:
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Accel-Buffering", "no")
}
