package model

import "time"

const (
	EventSettlementProcessed    = "settlement.processed"
	EventSettlementRejected     = "settlement.rejected"
	EventSettlementUnallocated  = "settlement.unallocated"
	EventSettlementReversed     = "settlement.reversed"
	EventObligationPaid         = "obligation.paid"
	EventAccountSettled         = "account.settled"
	EventRestructuringActivated = "restructuring.activated"
	EventWaiverApplied          = "waiver.applied"
)

// PostCommitEvent is collected inside a unit of work and dispatched only once
// that unit has committed.
type PostCommitEvent struct {
	Event        string                 `json:"event"`
	SettlementID string                 `json:"settlement_id"`
	BorrowerID   string                 `json:"borrower_id"`
	Payload      map[string]interface{} `json:"data"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

func NewPostCommitEvent(event, settlementID, borrowerID string, payload map[string]interface{}) PostCommitEvent {
	return PostCommitEvent{
		Event:        event,
		SettlementID: settlementID,
		BorrowerID:   borrowerID,
		Payload:      payload,
		OccurredAt:   time.Now().UTC(),
	}
}
