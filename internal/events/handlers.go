// Package events turns upstream Kafka messages into service calls.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	kafkago "github.com/segmentio/kafka-go"

	"ms-ticket-transfer/internal/clock"
	"ms-ticket-transfer/internal/kafka"
	"ms-ticket-transfer/internal/logger"
	"ms-ticket-transfer/internal/models"
	"ms-ticket-transfer/internal/transfer"
)

var validate = validator.New()

type AccountStore interface {
	UpsertAccount(ctx context.Context, account *models.Account) error
}

type ClaimResolver interface {
	ResolveForNewAccount(ctx context.Context, accountID, email, phone string) (*transfer.ClaimResult, error)
}

type TicketPlacer interface {
	PlaceTicket(ctx context.Context, ticket *models.Ticket) error
}

// AccountHandler mirrors identity-provider accounts and claims the pending
// transfers addressed to their verified identifiers.
type AccountHandler struct {
	Accounts      AccountStore
	Resolver      ClaimResolver
	DefaultRegion string
	Clock         clock.Clock
	Logger        *logger.Logger
}

func NewAccountHandler(accounts AccountStore, resolver ClaimResolver, defaultRegion string, log *logger.Logger) *AccountHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &AccountHandler{
		Accounts:      accounts,
		Resolver:      resolver,
		DefaultRegion: defaultRegion,
		Clock:         clock.Real(),
		Logger:        log,
	}
}

func (h *AccountHandler) Handle(ctx context.Context, msg kafkago.Message) error {
	var event models.AccountVerifiedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("%w: decode account event: %v", kafka.ErrSkipMessage, err)
	}
	if err := validate.Struct(event); err != nil {
		return fmt.Errorf("%w: account event: %v", kafka.ErrSkipMessage, err)
	}

	account := h.account(event)
	if err := h.Accounts.UpsertAccount(ctx, account); err != nil {
		return fmt.Errorf("upsert account %s: %w", account.ID, err)
	}

	var email, phone string
	if account.EmailVerified {
		email = account.Email
	}
	if account.PhoneVerified {
		phone = account.Phone
	}
	if email == "" && phone == "" {
		h.Logger.Debug("ACCOUNT", fmt.Sprintf("Account %s has no verified identifier yet", account.ID))
		return nil
	}

	result, err := h.Resolver.ResolveForNewAccount(ctx, account.ID, email, phone)
	switch {
	case errors.Is(err, transfer.ErrInvalidRecipient):
		return fmt.Errorf("%w: %v", kafka.ErrSkipMessage, err)
	case err != nil:
		return err
	}
	if len(result.Claimed) > 0 || len(result.Skipped) > 0 {
		h.Logger.Info("ACCOUNT", fmt.Sprintf("Account %s: %d transfers claimed, %d skipped", account.ID, len(result.Claimed), len(result.Skipped)))
	}
	return nil
}

// account normalizes the event's identifiers. A malformed identifier is
// dropped rather than failing the whole event.
func (h *AccountHandler) account(event models.AccountVerifiedEvent) *models.Account {
	at := event.OccurredAt
	if at.IsZero() {
		at = h.Clock.Now()
	}
	account := &models.Account{
		ID:        event.AccountID,
		FullName:  strings.TrimSpace(event.FullName),
		Active:    true,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if strings.TrimSpace(event.Email) != "" {
		if email, err := transfer.NormalizeEmail(event.Email); err == nil {
			account.Email, account.EmailVerified = email, event.EmailVerified
		} else {
			h.Logger.Warn("ACCOUNT", fmt.Sprintf("Ignoring email of account %s: %v", event.AccountID, err))
		}
	}
	if strings.TrimSpace(event.Phone) != "" {
		if phone, err := transfer.NormalizePhone(event.Phone, h.DefaultRegion); err == nil {
			account.Phone, account.PhoneVerified = phone, event.PhoneVerified
		} else {
			h.Logger.Warn("ACCOUNT", fmt.Sprintf("Ignoring phone of account %s: %v", event.AccountID, err))
		}
	}
	return account
}

// TicketHandler records tickets minted by the order service.
type TicketHandler struct {
	Tickets TicketPlacer
	Logger  *logger.Logger
}

func NewTicketHandler(tickets TicketPlacer, log *logger.Logger) *TicketHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &TicketHandler{Tickets: tickets, Logger: log}
}

func (h *TicketHandler) Handle(ctx context.Context, msg kafkago.Message) error {
	var event models.TicketIssuedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("%w: decode ticket event: %v", kafka.ErrSkipMessage, err)
	}
	if err := validate.Struct(event); err != nil {
		return fmt.Errorf("%w: ticket event: %v", kafka.ErrSkipMessage, err)
	}
	return h.Tickets.PlaceTicket(ctx, event.Ticket())
}
