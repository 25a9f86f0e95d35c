package transfer

import (
	"context"
	"errors"
	"fmt"

	"ms-ticket-transfer/internal/models"
)

// Reasons recorded on records the resolver closes without claiming.
const (
	ReasonNoLongerTransferable = "ticket no longer transferable"
	ReasonSelfClaim            = "recipient is the sender"
)

type SkippedClaim struct {
	TransferID string `json:"transfer_id"`
	Reason     string `json:"reason"`
}

type ClaimResult struct {
	Claimed []string       `json:"claimed"`
	Skipped []SkippedClaim `json:"skipped,omitempty"`
}

var errRecordNotPending = errors.New("record no longer pending")

// ListPendingFor returns PENDING transfers addressed to any of the given
// verified identifiers. It changes nothing.
func (s *Service) ListPendingFor(ctx context.Context, email, phone string) ([]models.TransferRecord, error) {
	contact, err := NormalizeContact(email, phone, s.Policy.DefaultPhoneRegion)
	if err != nil {
		return nil, err
	}
	records, err := s.Store.ListPendingByContact(ctx, contact.Email, contact.Phone)
	if err != nil {
		return nil, classify(err)
	}
	return records, nil
}

// ResolveForNewAccount completes every PENDING transfer addressed to the
// account's verified email or phone. Each record is claimed in its own
// transaction so one stale ticket does not fail the batch. Re-running it
// only touches records that are still PENDING.
func (s *Service) ResolveForNewAccount(ctx context.Context, accountID, email, phone string) (*ClaimResult, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidRecipient)
	}
	pending, err := s.ListPendingFor(ctx, email, phone)
	if err != nil {
		return nil, err
	}

	result := &ClaimResult{Claimed: []string{}}
	for _, rec := range pending {
		claimed, reason, err := s.claimOne(ctx, rec, accountID)
		if err != nil {
			return result, err
		}
		switch {
		case claimed:
			result.Claimed = append(result.Claimed, rec.ID)
		case reason != "":
			result.Skipped = append(result.Skipped, SkippedClaim{TransferID: rec.ID, Reason: reason})
		}
	}

	if len(pending) > 0 {
		s.Logger.LogClaim(accountID, fmt.Sprintf("claimed %d of %d pending transfers", len(result.Claimed), len(pending)))
	}
	return result, nil
}

// ClaimPendingTransfers is ResolveForNewAccount reduced to the claimed ids.
func (s *Service) ClaimPendingTransfers(ctx context.Context, accountID string, contact Contact) ([]string, error) {
	result, err := s.ResolveForNewAccount(ctx, accountID, contact.Email, contact.Phone)
	if err != nil {
		return nil, err
	}
	return result.Claimed, nil
}

// claimOne flips one record to COMPLETED and moves the ticket in a single
// transaction. A record someone else already resolved is silently skipped.
func (s *Service) claimOne(ctx context.Context, rec models.TransferRecord, accountID string) (bool, string, error) {
	if rec.SenderID == accountID {
		closed, err := s.closeUnclaimable(ctx, rec, ReasonSelfClaim)
		if err != nil || !closed {
			return false, "", err
		}
		return false, ReasonSelfClaim, nil
	}

	release, err := s.lockTicket(ctx, rec.TicketID)
	if err != nil {
		return false, "", err
	}
	defer release()

	now := s.Clock.Now()
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Store) error {
		ok, err := tx.UpdateTransferStatus(ctx, rec.ID, models.TransferPending, models.TransferCompleted,
			TransferPatch{RecipientAccountID: accountID}, now)
		if err != nil {
			return err
		}
		if !ok {
			return errRecordNotPending
		}

		moved, err := tx.ReassignTicket(ctx, rec.TicketID, rec.SenderID, accountID, now)
		if err != nil {
			return err
		}
		if !moved {
			return ErrNoLongerTransferable
		}
		return nil
	})

	switch {
	case errors.Is(err, errRecordNotPending):
		s.Logger.Debug("CLAIM", fmt.Sprintf("Transfer %s already resolved, skipping", rec.ID))
		return false, "", nil
	case errors.Is(err, ErrNoLongerTransferable):
		s.Logger.Warn("CLAIM", fmt.Sprintf("Ticket %s of transfer %s is no longer transferable", rec.TicketID, rec.ID))
		closed, err := s.closeUnclaimable(ctx, rec, ReasonNoLongerTransferable)
		if err != nil || !closed {
			return false, "", err
		}
		return false, ReasonNoLongerTransferable, nil
	case err != nil:
		return false, "", classify(err)
	}

	rec.Status = models.TransferCompleted
	rec.RecipientAccountID = accountID
	rec.UpdatedAt = now
	rec.CompletedAt = &now
	s.Logger.LogTransfer("CLAIM", rec.ID, fmt.Sprintf("ticket %s claimed by %s", rec.TicketID, accountID))
	s.emit(models.EventTransferClaimed, rec, now)
	return true, "", nil
}

// closeUnclaimable rejects a PENDING record that can never complete. It
// reports false when the record was resolved concurrently.
func (s *Service) closeUnclaimable(ctx context.Context, rec models.TransferRecord, reason string) (bool, error) {
	now := s.Clock.Now()
	ok, err := s.Store.UpdateTransferStatus(ctx, rec.ID, models.TransferPending, models.TransferRejected,
		TransferPatch{Reason: reason}, now)
	if err != nil {
		return false, classify(err)
	}
	if !ok {
		return false, nil
	}
	rec.Status = models.TransferRejected
	rec.Reason = reason
	rec.UpdatedAt = now
	s.Logger.LogTransfer("REJECT", rec.ID, reason)
	s.emit(models.EventTransferRejected, rec, now)
	return true, nil
}
