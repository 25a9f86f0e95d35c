package ticket_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"ms-ticket-transfer/internal/auth"
	"ms-ticket-transfer/internal/logger"
	"ms-ticket-transfer/internal/models"
	"ms-ticket-transfer/internal/tickets/entrytoken"
	tickets "ms-ticket-transfer/internal/tickets/service"
	"ms-ticket-transfer/internal/utils"
)

const (
	SCANNER_ROLE = "SCANNER"
	ADMIN_ROLE   = "ADMIN"
)

type TicketService interface {
	GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error)
	ListTickets(ctx context.Context, ownerID string) ([]models.TicketWithTransfer, error)
	IssueEntryToken(ctx context.Context, ticketID, requesterID string) (string, error)
	Check(ctx context.Context, token string, holderAccountID string) (*models.Ticket, error)
	Scan(ctx context.Context, token string, info tickets.ScanInfo) (*tickets.Admission, error)
	VoidTicket(ctx context.Context, ticketID string) error
}

type Handler struct {
	TicketService TicketService
	Logger        *logger.Logger
	// TokenWindow is reported to clients so they know when to refresh.
	TokenWindow time.Duration
	QRSize      int
	validate    *validator.Validate
}

func NewHandler(ticketService TicketService, log *logger.Logger, tokenWindow time.Duration, qrSize int) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		TicketService: ticketService,
		Logger:        log,
		TokenWindow:   tokenWindow,
		QRSize:        qrSize,
		validate:      validator.New(),
	}
}

// GateVerifyRequest is what the scanner app posts.
// Expected POST body: {"token": "...", "location": "north-gate"}
type GateVerifyRequest struct {
	Token           string `json:"token" validate:"required,max=1024"`
	Location        string `json:"location" validate:"max=120"`
	HolderAccountID string `json:"holder_account_id" validate:"max=64"`
	// DryRun checks the token without consuming the ticket.
	DryRun bool `json:"dry_run"`
}

type GateVerifyResponse struct {
	Admitted  bool               `json:"admitted"`
	Admission *tickets.Admission `json:"admission,omitempty"`
	Ticket    *models.Ticket     `json:"ticket,omitempty"`
}

type EntryTokenResponse struct {
	TicketID  string `json:"ticket_id"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// Routes mounts the ticket endpoints. auth.Middleware must run first.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/tickets", h.ListTickets)
	r.Get("/tickets/{ticketId}", h.ViewTicket)
	r.Get("/tickets/{ticketId}/entry-token", h.EntryToken)

	r.With(auth.RequireRole(SCANNER_ROLE)).Post("/gate/verify", h.VerifyAtGate)
	r.With(auth.RequireRole(ADMIN_ROLE)).Post("/admin/tickets/{ticketId}/void", h.VoidTicket)
}

func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	list, err := h.TicketService.ListTickets(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Failed to list tickets: %v", err))
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Failed to fetch tickets", "transient"))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets retrieved", list))
}

// ViewTicket is visible to the current owner and admins.
func (h *Handler) ViewTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.TicketService.GetTicket(r.Context(), chi.URLParam(r, "ticketId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	identity := auth.FromContext(r.Context())
	if identity == nil || (ticket.OwnerID != identity.Subject && !identity.HasRole(ADMIN_ROLE)) {
		h.writeError(w, tickets.ErrTicketNotFound)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket retrieved", ticket))
}

// EntryToken issues a fresh token for the ticket's owner. With
// ?format=png the token is rendered as a QR image.
func (h *Handler) EntryToken(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	token, err := h.TicketService.IssueEntryToken(r.Context(), ticketID, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "png" {
		png, err := entrytoken.RenderPNG(token, h.QRSize)
		if err != nil {
			h.Logger.Error("API", fmt.Sprintf("Failed to render QR for ticket %s: %v", ticketID, err))
			utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to render QR code", "transient"))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Entry token issued", EntryTokenResponse{
		TicketID:  ticketID,
		Token:     token,
		ExpiresIn: int64(h.TokenWindow.Seconds()),
	}))
}

// VerifyAtGate admits the bearer of an entry token. Every refusal looks
// the same to the scanner; the reason is only logged.
func (h *Handler) VerifyAtGate(w http.ResponseWriter, r *http.Request) {
	var req GateVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body: "+err.Error(), "invalid_request"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse(err.Error(), "invalid_request"))
		return
	}

	agentID := auth.UserID(r.Context())
	if req.DryRun {
		ticket, err := h.TicketService.Check(r.Context(), req.Token, req.HolderAccountID)
		if err != nil {
			h.deny(w, agentID, req.Location, err)
			return
		}
		utils.WriteJSON(w, http.StatusOK, GateVerifyResponse{Admitted: true, Ticket: ticket})
		return
	}

	admission, err := h.TicketService.Scan(r.Context(), req.Token, tickets.ScanInfo{
		Location:        req.Location,
		AgentID:         agentID,
		HolderAccountID: req.HolderAccountID,
	})
	if err != nil {
		h.deny(w, agentID, req.Location, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, GateVerifyResponse{Admitted: true, Admission: admission})
}

func (h *Handler) deny(w http.ResponseWriter, agentID, location string, err error) {
	if !isGateRefusal(err) {
		h.Logger.Error("GATE", fmt.Sprintf("Gate check failed at %s (agent %s): %v", location, agentID, err))
		utils.WriteJSON(w, http.StatusServiceUnavailable, GateVerifyResponse{Admitted: false})
		return
	}
	h.Logger.LogSecurity("ENTRY_DENIED", fmt.Sprintf("agent=%s location=%s reason=%v", agentID, location, err))
	utils.WriteJSON(w, http.StatusForbidden, GateVerifyResponse{Admitted: false})
}

func (h *Handler) VoidTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	if err := h.TicketService.VoidTicket(r.Context(), ticketID); err != nil {
		h.writeError(w, err)
		return
	}
	h.Logger.LogSecurity("TICKET_VOIDED", fmt.Sprintf("ticket %s voided by %s", ticketID, auth.UserID(r.Context())))
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket voided", nil))
}

func isGateRefusal(err error) bool {
	for _, target := range []error{
		entrytoken.ErrInvalidToken,
		entrytoken.ErrExpiredToken,
		tickets.ErrTicketNotFound,
		tickets.ErrTicketVoid,
		tickets.ErrAlreadyUsed,
		tickets.ErrStaleToken,
		tickets.ErrHolderMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// writeError is for the owner-facing endpoints, where a specific reason
// is useful to the caller.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tickets.ErrTicketNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", "not_found"))
	case errors.Is(err, tickets.ErrNotTicketOwner):
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse(err.Error(), "not_owner"))
	case errors.Is(err, tickets.ErrTicketVoid), errors.Is(err, tickets.ErrAlreadyUsed):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse(err.Error(), "not_transferable"))
	default:
		h.Logger.Error("API", fmt.Sprintf("Ticket request failed: %v", err))
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Temporary failure, please retry", "transient"))
	}
}
