package model

import "time"

type LedgerEntryType string

const (
	EntryAllocation  LedgerEntryType = "allocation"
	EntryWaiver      LedgerEntryType = "waiver"
	EntryRestructure LedgerEntryType = "restructure"
	EntryReversal    LedgerEntryType = "reversal"
)

// LedgerEntry is an append-only record of money applied to an obligation.
type LedgerEntry struct {
	EntryID         string          `json:"entry_id"`
	SettlementID    string          `json:"settlement_id"`
	ObligationID    string          `json:"obligation_id"`
	BorrowerID      string          `json:"borrower_id"`
	EntryType       LedgerEntryType `json:"entry_type"`
	Principal       int64           `json:"principal"`
	Interest        int64           `json:"interest"`
	LateFee         int64           `json:"late_fee"`
	Total           int64           `json:"total"`
	ReversesEntryID string          `json:"reverses_entry_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewLedgerEntry builds an entry with a fresh id and a computed total.
func NewLedgerEntry(entryType LedgerEntryType, settlementID, borrowerID, obligationID string, principal, interest, lateFee int64) LedgerEntry {
	return LedgerEntry{
		EntryID:      GenerateUUIDWithSuffix("ent"),
		SettlementID: settlementID,
		ObligationID: obligationID,
		BorrowerID:   borrowerID,
		EntryType:    entryType,
		Principal:    principal,
		Interest:     interest,
		LateFee:      lateFee,
		Total:        principal + interest + lateFee,
		CreatedAt:    time.Now().UTC(),
	}
}
