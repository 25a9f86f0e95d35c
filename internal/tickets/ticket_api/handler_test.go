package ticket_api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-ticket-transfer/internal/auth"
	"ms-ticket-transfer/internal/models"
	"ms-ticket-transfer/internal/tickets/entrytoken"
	tickets "ms-ticket-transfer/internal/tickets/service"
	"ms-ticket-transfer/internal/utils"
)

type MockTicketService struct{ mock.Mock }

func (m *MockTicketService) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	args := m.Called(ctx, ticketID)
	if t := args.Get(0); t != nil {
		return t.(*models.Ticket), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTicketService) ListTickets(ctx context.Context, ownerID string) ([]models.TicketWithTransfer, error) {
	args := m.Called(ctx, ownerID)
	return args.Get(0).([]models.TicketWithTransfer), args.Error(1)
}

func (m *MockTicketService) IssueEntryToken(ctx context.Context, ticketID, requesterID string) (string, error) {
	args := m.Called(ctx, ticketID, requesterID)
	return args.String(0), args.Error(1)
}

func (m *MockTicketService) Check(ctx context.Context, token string, holderAccountID string) (*models.Ticket, error) {
	args := m.Called(ctx, token, holderAccountID)
	if t := args.Get(0); t != nil {
		return t.(*models.Ticket), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTicketService) Scan(ctx context.Context, token string, info tickets.ScanInfo) (*tickets.Admission, error) {
	args := m.Called(ctx, token, info)
	if a := args.Get(0); a != nil {
		return a.(*tickets.Admission), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTicketService) VoidTicket(ctx context.Context, ticketID string) error {
	return m.Called(ctx, ticketID).Error(0)
}

func newRouter(svc TicketService, identity *auth.Identity) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithIdentity(req.Context(), identity)))
		})
	})
	r.Route("/api", NewHandler(svc, nil, 24*time.Hour, 128).Routes)
	return r
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var (
	owner   = &auth.Identity{Subject: "B"}
	scanner = &auth.Identity{Subject: "agent-7", Roles: []string{"SCANNER"}}
)

func TestEntryTokenJSON(t *testing.T) {
	svc := new(MockTicketService)
	svc.On("IssueEntryToken", mock.Anything, "T1", "B").Return("tok", nil)

	rec := serve(newRouter(svc, owner), http.MethodGet, "/api/tickets/T1/entry-token", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data EntryTokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "tok", resp.Data.Token)
	assert.Equal(t, int64(86400), resp.Data.ExpiresIn)
}

func TestEntryTokenPNG(t *testing.T) {
	svc := new(MockTicketService)
	svc.On("IssueEntryToken", mock.Anything, "T1", "B").Return("tok", nil)

	rec := serve(newRouter(svc, owner), http.MethodGet, "/api/tickets/T1/entry-token?format=png", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestEntryTokenForNonOwner(t *testing.T) {
	svc := new(MockTicketService)
	svc.On("IssueEntryToken", mock.Anything, "T1", "B").Return("", tickets.ErrNotTicketOwner)

	rec := serve(newRouter(svc, owner), http.MethodGet, "/api/tickets/T1/entry-token", "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGateVerifyAdmits(t *testing.T) {
	svc := new(MockTicketService)
	svc.On("Scan", mock.Anything, "tok", tickets.ScanInfo{Location: "north", AgentID: "agent-7"}).
		Return(&tickets.Admission{TicketID: "T1", OwnerID: "B"}, nil)

	rec := serve(newRouter(svc, scanner), http.MethodPost, "/api/gate/verify", `{"token":"tok","location":"north"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp GateVerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Admitted)
	assert.Equal(t, "T1", resp.Admission.TicketID)
}

func TestGateVerifyDeniesUniformly(t *testing.T) {
	for _, err := range []error{
		entrytoken.ErrInvalidToken,
		entrytoken.ErrExpiredToken,
		tickets.ErrAlreadyUsed,
		tickets.ErrStaleToken,
		tickets.ErrTicketVoid,
		fmt.Errorf("wrapped: %w", tickets.ErrHolderMismatch),
	} {
		t.Run(err.Error(), func(t *testing.T) {
			svc := new(MockTicketService)
			svc.On("Scan", mock.Anything, "tok", mock.Anything).Return(nil, err)

			rec := serve(newRouter(svc, scanner), http.MethodPost, "/api/gate/verify", `{"token":"tok"}`)

			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.JSONEq(t, `{"admitted":false}`, rec.Body.String())
		})
	}
}

func TestGateVerifyStorageFailureStillDenies(t *testing.T) {
	svc := new(MockTicketService)
	svc.On("Scan", mock.Anything, "tok", mock.Anything).Return(nil, fmt.Errorf("failed to mark ticket T1 scanned: connection reset"))

	rec := serve(newRouter(svc, scanner), http.MethodPost, "/api/gate/verify", `{"token":"tok"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"admitted":false}`, rec.Body.String())
}

func TestGateVerifyDryRunDoesNotScan(t *testing.T) {
	svc := new(MockTicketService)
	svc.On("Check", mock.Anything, "tok", "B").Return(&models.Ticket{TicketID: "T1", OwnerID: "B"}, nil)

	rec := serve(newRouter(svc, scanner), http.MethodPost, "/api/gate/verify", `{"token":"tok","holder_account_id":"B","dry_run":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything, mock.Anything)
}

func TestGateVerifyRequiresScannerRole(t *testing.T) {
	svc := new(MockTicketService)

	rec := serve(newRouter(svc, owner), http.MethodPost, "/api/gate/verify", `{"token":"tok"}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	svc.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything, mock.Anything)
}

func TestViewTicketHiddenFromOthers(t *testing.T) {
	svc := new(MockTicketService)
	svc.On("GetTicket", mock.Anything, "T1").Return(&models.Ticket{TicketID: "T1", OwnerID: "A"}, nil)

	rec := serve(newRouter(svc, owner), http.MethodGet, "/api/tickets/T1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(newRouter(svc, &auth.Identity{Subject: "A"}), http.MethodGet, "/api/tickets/T1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListTickets(t *testing.T) {
	svc := new(MockTicketService)
	svc.On("ListTickets", mock.Anything, "B").Return([]models.TicketWithTransfer{{Ticket: models.Ticket{TicketID: "T1"}}}, nil)

	rec := serve(newRouter(svc, owner), http.MethodGet, "/api/tickets", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp utils.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
}

func TestVoidTicketAdminOnly(t *testing.T) {
	svc := new(MockTicketService)
	svc.On("VoidTicket", mock.Anything, "T1").Return(nil)

	rec := serve(newRouter(svc, owner), http.MethodPost, "/api/admin/tickets/T1/void", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := &auth.Identity{Subject: "ops", Roles: []string{"ADMIN"}}
	rec = serve(newRouter(svc, admin), http.MethodPost, "/api/admin/tickets/T1/void", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertNumberOfCalls(t, "VoidTicket", 1)
}
