package utils

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"ms-ticket-transfer/internal/logger"
)

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var out bytes.Buffer
	log := logger.New(&out, nil)
	handler := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusConflict, ErrorResponse("ticket has already been transferred", "already_transferred"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transfers", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, out.String(), "POST /api/transfers")
	assert.Contains(t, out.String(), "409")
}
