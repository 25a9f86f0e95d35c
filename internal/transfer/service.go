package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-ticket-transfer/internal/clock"
	"ms-ticket-transfer/internal/logger"
	"ms-ticket-transfer/internal/models"
)

type SubmitRequest struct {
	TicketID  string
	SenderID  string
	Recipient Recipient
	Message   string
}

type SubmitResult struct {
	TransferID string `json:"transfer_id"`
	Instant    bool   `json:"instant"`
}

// Service is the transfer state machine and claim resolver.
type Service struct {
	Store     Store
	Validator *Validator
	Policy    Policy
	Locker    Locker
	Notifier  Notifier
	Logger    *logger.Logger
	Clock     clock.Clock
	NewID     func() string
}

func NewService(store Store, policy Policy, locker Locker, notifier Notifier, log *logger.Logger) *Service {
	if policy.LockTTL <= 0 {
		policy.LockTTL = 10 * time.Second
	}
	if policy.LockWait <= 0 {
		policy.LockWait = 2 * time.Second
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		Store:     store,
		Validator: NewValidator(store, policy),
		Policy:    policy,
		Locker:    locker,
		Notifier:  notifier,
		Logger:    log,
		Clock:     clock.Real(),
		NewID:     uuid.NewString,
	}
}

// Submit hands a ticket to a recipient. When the recipient resolves to an
// account the ticket moves immediately; otherwise a PENDING record waits
// for the recipient to register.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	contact, err := s.Validator.Validate(ctx, req.TicketID, req.SenderID, req.Recipient)
	if err != nil {
		s.Logger.Info("TRANSFER", fmt.Sprintf("Rejected transfer of ticket %s by %s: %v", req.TicketID, req.SenderID, err))
		return nil, err
	}

	release, err := s.lockTicket(ctx, req.TicketID)
	if err != nil {
		return nil, err
	}
	defer release()

	account, err := s.Store.FindAccountByContact(ctx, contact.Email, contact.Phone)
	if err != nil {
		return nil, classify(err)
	}
	if account != nil && account.ID == req.SenderID {
		return nil, fmt.Errorf("%w: cannot transfer a ticket to yourself", ErrInvalidRecipient)
	}

	now := s.Clock.Now()
	rec := models.TransferRecord{
		ID:             s.NewID(),
		TicketID:       req.TicketID,
		SenderID:       req.SenderID,
		RecipientEmail: contact.Email,
		RecipientPhone: contact.Phone,
		RecipientName:  req.Recipient.Name,
		Message:        req.Message,
		Status:         models.TransferPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if account != nil {
		rec.Status = models.TransferCompleted
		rec.RecipientAccountID = account.ID
		rec.CompletedAt = &now
	}

	err = s.Store.InTx(ctx, func(ctx context.Context, tx Store) error {
		if _, err := s.Validator.checkTicket(ctx, tx, req.TicketID, req.SenderID); err != nil {
			return err
		}

		var ok bool
		var err error
		if account != nil {
			ok, err = tx.ReassignTicket(ctx, req.TicketID, req.SenderID, account.ID, now)
		} else {
			ok, err = tx.GuardTicket(ctx, req.TicketID, req.SenderID, now)
		}
		if err != nil {
			return err
		}
		if !ok {
			return s.lostRace(ctx, tx, req.TicketID, req.SenderID)
		}

		inserted, err := tx.InsertTransfer(ctx, &rec)
		if err != nil {
			return err
		}
		if !inserted {
			return ErrAlreadyTransferred
		}
		return nil
	})
	if err != nil {
		err = classify(err)
		s.Logger.Warn("TRANSFER", fmt.Sprintf("Transfer of ticket %s by %s aborted: %v", req.TicketID, req.SenderID, err))
		return nil, err
	}

	if rec.Status == models.TransferCompleted {
		s.Logger.LogTransfer("INSTANT", rec.ID, fmt.Sprintf("ticket %s moved from %s to %s", rec.TicketID, rec.SenderID, rec.RecipientAccountID))
		s.emit(models.EventTransferCompleted, rec, now)
	} else {
		s.Logger.LogTransfer("PENDING", rec.ID, fmt.Sprintf("ticket %s awaiting %s", rec.TicketID, rec.Contact()))
		s.emit(models.EventTransferPending, rec, now)
	}

	return &SubmitResult{TransferID: rec.ID, Instant: rec.Status == models.TransferCompleted}, nil
}

// lostRace explains why a compare-and-swap on the ticket matched nothing:
// something committed between our check and our write.
func (s *Service) lostRace(ctx context.Context, tx Store, ticketID, senderID string) error {
	if _, err := s.Validator.checkTicket(ctx, tx, ticketID, senderID); err != nil {
		return err
	}
	return ErrAlreadyTransferred
}

// Cancel withdraws a PENDING transfer. Only its sender may do so.
func (s *Service) Cancel(ctx context.Context, transferID, requesterID string) error {
	rec, err := s.getTransfer(ctx, transferID)
	if err != nil {
		return err
	}
	if rec.SenderID != requesterID {
		return ErrTransferNotFound
	}
	if err := CanTransition(rec.Status, models.TransferCancelled); err != nil {
		return fmt.Errorf("%w: transfer is %s", ErrNotCancellable, rec.Status)
	}

	now := s.Clock.Now()
	ok, err := s.Store.UpdateTransferStatus(ctx, transferID, models.TransferPending, models.TransferCancelled, TransferPatch{}, now)
	if err != nil {
		return classify(err)
	}
	if !ok {
		// Claimed or rejected between our read and the update.
		return ErrNotCancellable
	}

	rec.Status = models.TransferCancelled
	rec.UpdatedAt = now
	s.Logger.LogTransfer("CANCEL", rec.ID, fmt.Sprintf("cancelled by sender %s", requesterID))
	s.emit(models.EventTransferCancelled, *rec, now)
	return nil
}

// Reject closes a PENDING transfer by policy or moderation decision.
func (s *Service) Reject(ctx context.Context, transferID, reason string) error {
	rec, err := s.getTransfer(ctx, transferID)
	if err != nil {
		return err
	}
	if err := CanTransition(rec.Status, models.TransferRejected); err != nil {
		return err
	}

	now := s.Clock.Now()
	ok, err := s.Store.UpdateTransferStatus(ctx, transferID, models.TransferPending, models.TransferRejected, TransferPatch{Reason: reason}, now)
	if err != nil {
		return classify(err)
	}
	if !ok {
		return fmt.Errorf("%w: transfer %s is no longer pending", ErrIllegalTransition, transferID)
	}

	rec.Status = models.TransferRejected
	rec.Reason = reason
	rec.UpdatedAt = now
	s.Logger.LogTransfer("REJECT", rec.ID, reason)
	s.emit(models.EventTransferRejected, *rec, now)
	return nil
}

// History returns every transfer record of a ticket, newest first.
func (s *Service) History(ctx context.Context, ticketID string) ([]models.TransferRecord, error) {
	records, err := s.Store.ListTransfersForTicket(ctx, ticketID)
	if err != nil {
		return nil, classify(err)
	}
	return records, nil
}

func (s *Service) GetTransfer(ctx context.Context, transferID string) (*models.TransferRecord, error) {
	return s.getTransfer(ctx, transferID)
}

func (s *Service) getTransfer(ctx context.Context, transferID string) (*models.TransferRecord, error) {
	rec, err := s.Store.GetTransfer(ctx, transferID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

func (s *Service) emit(kind models.TransferEventType, rec models.TransferRecord, at time.Time) {
	s.Notifier.Notify(models.NewTransferEvent(uuid.NewString(), kind, rec, at))
}
