package transfer_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"ms-ticket-transfer/internal/auth"
	"ms-ticket-transfer/internal/logger"
	"ms-ticket-transfer/internal/models"
	"ms-ticket-transfer/internal/transfer"
	"ms-ticket-transfer/internal/utils"
)

const ADMIN_ROLE = "ADMIN"

type TransferService interface {
	Submit(ctx context.Context, req transfer.SubmitRequest) (*transfer.SubmitResult, error)
	Cancel(ctx context.Context, transferID, requesterID string) error
	Reject(ctx context.Context, transferID, reason string) error
	GetTransfer(ctx context.Context, transferID string) (*models.TransferRecord, error)
	History(ctx context.Context, ticketID string) ([]models.TransferRecord, error)
	ListPendingFor(ctx context.Context, email, phone string) ([]models.TransferRecord, error)
	ResolveForNewAccount(ctx context.Context, accountID, email, phone string) (*transfer.ClaimResult, error)
}

type Handler struct {
	Service   TransferService
	Logger    *logger.Logger
	AdminRole string
	validate  *validator.Validate
}

func NewHandler(service TransferService, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		Service:   service,
		Logger:    log,
		AdminRole: ADMIN_ROLE,
		validate:  validator.New(),
	}
}

type SubmitTransferRequest struct {
	TicketID       string `json:"ticket_id" validate:"required,max=64"`
	RecipientEmail string `json:"recipient_email" validate:"max=254"`
	RecipientPhone string `json:"recipient_phone" validate:"max=32"`
	RecipientName  string `json:"recipient_name" validate:"max=120"`
	Message        string `json:"message" validate:"max=500"`
}

type RejectTransferRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Routes mounts the transfer endpoints. auth.Middleware must run first.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/transfers", h.SubmitTransfer)
	r.Get("/transfers/pending", h.ListPending)
	r.Post("/transfers/claim", h.ClaimPending)
	r.Get("/transfers/{transferId}", h.GetTransfer)
	r.Delete("/transfers/{transferId}", h.CancelTransfer)
	r.Get("/tickets/{ticketId}/transfers", h.TicketHistory)

	r.With(auth.RequireRole(h.AdminRole)).Post("/admin/transfers/{transferId}/reject", h.RejectTransfer)
}

// SubmitTransfer hands a ticket owned by the caller to a recipient.
// Expected POST body: {"ticket_id": "...", "recipient_email": "..."} or
// {"ticket_id": "...", "recipient_phone": "..."}.
func (h *Handler) SubmitTransfer(w http.ResponseWriter, r *http.Request) {
	var req SubmitTransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	senderID := auth.UserID(r.Context())
	result, err := h.Service.Submit(r.Context(), transfer.SubmitRequest{
		TicketID: req.TicketID,
		SenderID: senderID,
		Recipient: transfer.Recipient{
			Email: req.RecipientEmail,
			Phone: req.RecipientPhone,
			Name:  req.RecipientName,
		},
		Message: req.Message,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status, message := http.StatusAccepted, "Transfer pending until the recipient registers"
	if result.Instant {
		status, message = http.StatusCreated, "Ticket transferred"
	}
	utils.WriteJSON(w, status, utils.SuccessResponse(message, result))
}

func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferId")
	if err := h.Service.Cancel(r.Context(), transferID, auth.UserID(r.Context())); err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Transfer cancelled", nil))
}

// GetTransfer is visible to the sender, the resolved recipient and admins.
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.GetTransfer(r.Context(), chi.URLParam(r, "transferId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !h.canSee(r, *rec) {
		h.writeError(w, transfer.ErrTransferNotFound)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Transfer retrieved", rec))
}

// TicketHistory lists the ticket's transfers the caller took part in.
// Admins see all of them.
func (h *Handler) TicketHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.History(r.Context(), chi.URLParam(r, "ticketId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	visible := make([]models.TransferRecord, 0, len(records))
	for _, rec := range records {
		if h.canSee(r, rec) {
			visible = append(visible, rec)
		}
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Transfer history retrieved", visible))
}

// ListPending shows the transfers waiting for the caller's verified
// identifiers.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	email, phone := identity.VerifiedEmail(), identity.VerifiedPhone()
	if email == "" && phone == "" {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("No verified identifier", []models.TransferRecord{}))
		return
	}
	records, err := h.Service.ListPendingFor(r.Context(), email, phone)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Pending transfers retrieved", records))
}

// ClaimPending resolves the caller's pending transfers right away instead
// of waiting for the account event.
func (h *Handler) ClaimPending(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	result, err := h.Service.ResolveForNewAccount(r.Context(), identity.Subject, identity.VerifiedEmail(), identity.VerifiedPhone())
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d transfers claimed", len(result.Claimed)), result))
}

func (h *Handler) RejectTransfer(w http.ResponseWriter, r *http.Request) {
	var req RejectTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	transferID := chi.URLParam(r, "transferId")
	if err := h.Service.Reject(r.Context(), transferID, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	h.Logger.LogSecurity("TRANSFER_REJECTED", fmt.Sprintf("transfer %s rejected by %s: %s", transferID, auth.UserID(r.Context()), req.Reason))
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Transfer rejected", nil))
}

func (h *Handler) canSee(r *http.Request, rec models.TransferRecord) bool {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		return false
	}
	return rec.SenderID == identity.Subject ||
		(rec.RecipientAccountID != "" && rec.RecipientAccountID == identity.Subject) ||
		identity.HasRole(h.AdminRole)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body: "+err.Error(), "invalid_request"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse(err.Error(), "invalid_request"))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := transfer.Code(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("Transfer request failed: %v", err))
	}
	message := err.Error()
	if errors.Is(err, transfer.ErrTransient) {
		message = "Temporary failure, please retry"
	}
	utils.WriteJSON(w, status, utils.ErrorResponse(message, code))
}

func statusFor(code string) int {
	switch code {
	case "invalid_recipient":
		return http.StatusBadRequest
	case "not_owner":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "already_transferred", "not_transferable", "not_cancellable":
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}
