package tickets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-ticket-transfer/internal/clock"
	"ms-ticket-transfer/internal/logger"
	"ms-ticket-transfer/internal/models"
	"ms-ticket-transfer/internal/tickets/entrytoken"
)

type TicketDBLayer interface {
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicketByID(ctx context.Context, ticketID string) (*models.Ticket, error)
	GetTicketsByOwner(ctx context.Context, ownerID string) ([]models.Ticket, error)
	GetActiveTransfers(ctx context.Context, ticketIDs []string) (map[string]*models.TransferRecord, error)
	MarkScanned(ctx context.Context, ticketID, owner string, scan models.ScanRecord) (bool, error)
	VoidTicket(ctx context.Context, ticketID string, at time.Time) (bool, error)
}

// TokenCodec signs and checks entry tokens.
type TokenCodec interface {
	Issue(ticketID string) (string, error)
	Verify(token string) (*entrytoken.Claims, error)
}

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrNotTicketOwner = errors.New("ticket is not owned by the requester")
	ErrTicketVoid     = errors.New("ticket has been voided")
	ErrAlreadyUsed    = errors.New("ticket has already been used")
	// ErrStaleToken means the token was issued before the current owner
	// received the ticket.
	ErrStaleToken     = errors.New("entry token predates current ownership")
	ErrHolderMismatch = errors.New("presenting account does not own the ticket")
)

type TicketService struct {
	DB     TicketDBLayer
	Codec  TokenCodec
	Clock  clock.Clock
	Logger *logger.Logger
}

func NewTicketService(db TicketDBLayer, codec TokenCodec, log *logger.Logger) *TicketService {
	if log == nil {
		log = logger.Discard()
	}
	return &TicketService{DB: db, Codec: codec, Clock: clock.Real(), Logger: log}
}

// ScanInfo is what the gate agent's device reports with a scan.
type ScanInfo struct {
	Location string
	AgentID  string
	// HolderAccountID, when set, must match the current owner.
	HolderAccountID string
}

// Admission is returned to the gate for an admitted ticket.
type Admission struct {
	TicketID  string    `json:"ticket_id"`
	OwnerID   string    `json:"owner_id"`
	TierName  string    `json:"tier_name"`
	ScannedAt time.Time `json:"scanned_at"`
}

// PlaceTicket records a ticket issued by the purchase flow.
func (s *TicketService) PlaceTicket(ctx context.Context, ticket *models.Ticket) error {
	if ticket.TicketID == "" || ticket.OwnerID == "" {
		return errors.New("ticket id and owner are required")
	}
	if ticket.IssuedAt.IsZero() {
		ticket.IssuedAt = s.Clock.Now()
	}
	if ticket.Status == "" {
		ticket.Status = models.TicketValid
	}
	if err := s.DB.CreateTicket(ctx, ticket); err != nil {
		return fmt.Errorf("failed to create ticket %s: %w", ticket.TicketID, err)
	}
	s.Logger.Info("TICKET", fmt.Sprintf("Ticket %s placed for %s", ticket.TicketID, ticket.OwnerID))
	return nil
}

func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	ticket, err := s.DB.GetTicketByID(ctx, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket %s: %w", ticketID, err)
	}
	return ticket, nil
}

// ListTickets returns the caller's tickets together with any transfer
// occupying each ticket's active slot.
func (s *TicketService) ListTickets(ctx context.Context, ownerID string) ([]models.TicketWithTransfer, error) {
	tickets, err := s.DB.GetTicketsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickets for %s: %w", ownerID, err)
	}
	ids := make([]string, len(tickets))
	for i, t := range tickets {
		ids[i] = t.TicketID
	}
	active, err := s.DB.GetActiveTransfers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transfers for %s: %w", ownerID, err)
	}

	out := make([]models.TicketWithTransfer, len(tickets))
	for i, t := range tickets {
		out[i] = models.TicketWithTransfer{Ticket: t, ActiveTransfer: active[t.TicketID]}
	}
	return out, nil
}

// IssueEntryToken signs a fresh entry token for the ticket's current owner.
func (s *TicketService) IssueEntryToken(ctx context.Context, ticketID, requesterID string) (string, error) {
	ticket, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return "", err
	}
	if ticket.OwnerID != requesterID {
		return "", ErrNotTicketOwner
	}
	if err := admissible(ticket); err != nil {
		return "", err
	}
	token, err := s.Codec.Issue(ticketID)
	if err != nil {
		return "", fmt.Errorf("failed to issue entry token: %w", err)
	}
	return token, nil
}

// VerifyEntryToken checks integrity and freshness only. Callers must still
// look the ticket up before admitting anyone.
func (s *TicketService) VerifyEntryToken(token string) (string, error) {
	claims, err := s.Codec.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.TicketID, nil
}

// Check runs every gate check except the final state change.
func (s *TicketService) Check(ctx context.Context, token string, holderAccountID string) (*models.Ticket, error) {
	claims, err := s.Codec.Verify(token)
	if err != nil {
		return nil, err
	}
	ticket, err := s.GetTicket(ctx, claims.TicketID)
	if err != nil {
		return nil, err
	}
	if err := admissible(ticket); err != nil {
		return nil, err
	}
	if predatesOwnership(claims.IssuedAt, ticket.OwnerSince, s.Clock.Now()) {
		return nil, ErrStaleToken
	}
	if holderAccountID != "" && holderAccountID != ticket.OwnerID {
		return nil, ErrHolderMismatch
	}
	return ticket, nil
}

// predatesOwnership reports whether a token stamped at issuedAt may have been
// minted before ownerSince. Tokens carry milliseconds, so ownerSince is
// rounded up: a token from the same millisecond could belong to the previous
// owner. A future-stamped token came from an instance whose clock runs ahead
// and is trusted only if it is newer than ownerSince by the full skew
// allowance.
func predatesOwnership(issuedAt, ownerSince, now time.Time) bool {
	boundary := ownerSince.Truncate(time.Millisecond)
	if boundary.Before(ownerSince) {
		boundary = boundary.Add(time.Millisecond)
	}
	if issuedAt.Before(boundary) {
		return true
	}
	if issuedAt.After(now) && issuedAt.Add(-entrytoken.MaxFutureSkew).Before(ownerSince) {
		return true
	}
	return false
}

// Scan admits the bearer of token once and marks the ticket USED.
func (s *TicketService) Scan(ctx context.Context, token string, info ScanInfo) (*Admission, error) {
	ticket, err := s.Check(ctx, token, info.HolderAccountID)
	if err != nil {
		return nil, err
	}

	scan := models.ScanRecord{At: s.Clock.Now(), Location: info.Location, AgentID: info.AgentID}
	ok, err := s.DB.MarkScanned(ctx, ticket.TicketID, ticket.OwnerID, scan)
	if err != nil {
		return nil, fmt.Errorf("failed to mark ticket %s scanned: %w", ticket.TicketID, err)
	}
	if !ok {
		// Scanned, voided or transferred since Check read it.
		return nil, ErrAlreadyUsed
	}

	s.Logger.Info("GATE", fmt.Sprintf("Ticket %s admitted at %s by %s", ticket.TicketID, info.Location, info.AgentID))
	return &Admission{
		TicketID:  ticket.TicketID,
		OwnerID:   ticket.OwnerID,
		TierName:  ticket.TierName,
		ScannedAt: scan.At,
	}, nil
}

func (s *TicketService) VoidTicket(ctx context.Context, ticketID string) error {
	ticket, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	ok, err := s.DB.VoidTicket(ctx, ticketID, s.Clock.Now())
	if err != nil {
		return fmt.Errorf("failed to void ticket %s: %w", ticketID, err)
	}
	if !ok {
		if err := admissible(ticket); err != nil {
			return err
		}
		return ErrAlreadyUsed
	}
	s.Logger.Info("TICKET", fmt.Sprintf("Ticket %s voided", ticketID))
	return nil
}

func admissible(t *models.Ticket) error {
	switch {
	case t.Status == models.TicketVoid:
		return ErrTicketVoid
	case t.Status == models.TicketUsed, t.ScannedAt != nil:
		return ErrAlreadyUsed
	}
	return nil
}
