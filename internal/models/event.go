package models

import "time"

type TransferEventType string

const (
	EventTransferCompleted TransferEventType = "transfer.completed"
	EventTransferPending   TransferEventType = "transfer.pending"
	EventTransferClaimed   TransferEventType = "transfer.claimed"
	EventTransferCancelled TransferEventType = "transfer.cancelled"
	EventTransferRejected  TransferEventType = "transfer.rejected"
)

// TransferEvent is emitted after a transfer state change has committed.
type TransferEvent struct {
	EventID            string            `json:"event_id"`
	Type               TransferEventType `json:"type"`
	TransferID         string            `json:"transfer_id"`
	TicketID           string            `json:"ticket_id"`
	SenderID           string            `json:"sender_id"`
	RecipientAccountID string            `json:"recipient_account_id,omitempty"`
	RecipientEmail     string            `json:"recipient_email,omitempty"`
	RecipientPhone     string            `json:"recipient_phone,omitempty"`
	RecipientName      string            `json:"recipient_name,omitempty"`
	Message            string            `json:"message,omitempty"`
	Reason             string            `json:"reason,omitempty"`
	OccurredAt         time.Time         `json:"occurred_at"`
}

// AccountRefs lists the accounts that should hear about the event.
func (e TransferEvent) AccountRefs() []string {
	refs := []string{e.SenderID}
	if e.RecipientAccountID != "" && e.RecipientAccountID != e.SenderID {
		refs = append(refs, e.RecipientAccountID)
	}
	return refs
}

// NewTransferEvent snapshots a record into an outbound event.
func NewTransferEvent(eventID string, kind TransferEventType, rec TransferRecord, at time.Time) TransferEvent {
	return TransferEvent{
		EventID:            eventID,
		Type:               kind,
		TransferID:         rec.ID,
		TicketID:           rec.TicketID,
		SenderID:           rec.SenderID,
		RecipientAccountID: rec.RecipientAccountID,
		RecipientEmail:     rec.RecipientEmail,
		RecipientPhone:     rec.RecipientPhone,
		RecipientName:      rec.RecipientName,
		Message:            rec.Message,
		Reason:             rec.Reason,
		OccurredAt:         at,
	}
}
