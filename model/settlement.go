package model

import (
	"encoding/json"
	"time"
)

type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementProcessed SettlementStatus = "processed"
	SettlementRejected  SettlementStatus = "rejected"
)

// SettlementNotification is the canonical form of "money has been received",
// produced by a channel normalizer. ReversesSettlementID is only set on
// refund notifications.
type SettlementNotification struct {
	Channel              string                 `json:"channel"`
	ExternalReference    string                 `json:"external_reference"`
	BorrowerID           string                 `json:"borrower_id"`
	Amount               int64                  `json:"amount"`
	SettledAt            time.Time              `json:"settled_at"`
	TargetObligationID   string                 `json:"target_obligation_id,omitempty"`
	ReversesSettlementID string                 `json:"reverses_settlement_id,omitempty"`
	RawPayload           map[string]interface{} `json:"raw_payload,omitempty"`
}

// SettlementTransaction is the durable record of a notification. Its status
// only ever moves from pending to processed or rejected.
type SettlementTransaction struct {
	SettlementID         string                 `json:"settlement_id"`
	Channel              string                 `json:"channel"`
	ExternalReference    string                 `json:"external_reference"`
	BorrowerID           string                 `json:"borrower_id"`
	Amount               int64                  `json:"amount"`
	Status               SettlementStatus       `json:"status"`
	RejectionReason      string                 `json:"rejection_reason,omitempty"`
	SettledAt            time.Time              `json:"settled_at"`
	ProcessedAt          *time.Time             `json:"processed_at,omitempty"`
	UnallocatedAmount    int64                  `json:"unallocated_amount"`
	Attempts             int                    `json:"attempts"`
	LastError            string                 `json:"last_error,omitempty"`
	ReversesSettlementID string                 `json:"reverses_settlement_id,omitempty"`
	Notification         SettlementNotification `json:"notification"`
	CreatedAt            time.Time              `json:"created_at"`
}

// NewPendingSettlement builds the first-sighting row for a notification.
func NewPendingSettlement(n SettlementNotification) *SettlementTransaction {
	return &SettlementTransaction{
		SettlementID:      GenerateUUIDWithSuffix("stl"),
		Channel:           n.Channel,
		ExternalReference: n.ExternalReference,
		BorrowerID:        n.BorrowerID,
		Amount:            n.Amount,
		Status:            SettlementPending,
		SettledAt:         n.SettledAt,
		Notification:      n,
		CreatedAt:         time.Now().UTC(),
	}
}

// IsTerminal reports whether the settlement can no longer change.
func (s *SettlementTransaction) IsTerminal() bool {
	return s.Status == SettlementProcessed || s.Status == SettlementRejected
}

func (s *SettlementTransaction) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}
