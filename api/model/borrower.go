package model

type ScheduleObligation struct {
	LoanID         string `json:"loan_id"`
	SequenceNumber int    `json:"sequence_number"`
	DueDate        string `json:"due_date"`
	PrincipalDue   int64  `json:"principal_due"`
	InterestDue    int64  `json:"interest_due"`
	LateFeeDue     int64  `json:"late_fee_due"`
}

type CreateSchedule struct {
	Obligations []ScheduleObligation `json:"obligations"`
}

type CreateRestructuringPlan struct {
	RequestID               string `json:"request_id"`
	LoanID                  string `json:"loan_id"`
	ApprovedAt              string `json:"approved_at"`
	ActivationMinimumAmount int64  `json:"activation_minimum_amount"`
	Tenure                  int    `json:"tenure"`
	FirstDueDate            string `json:"first_due_date"`
	IntervalMonths          int    `json:"interval_months"`
	NewPrincipal            int64  `json:"new_principal"`
	NewInterest             int64  `json:"new_interest"`
	NewLateFee              int64  `json:"new_late_fee"`
}

type CreateWaiverGrant struct {
	RequestID        string   `json:"request_id"`
	ObligationIDs    []string `json:"obligation_ids"`
	PrincipalPercent string   `json:"principal_percent"`
	InterestPercent  string   `json:"interest_percent"`
	LateFeePercent   string   `json:"late_fee_percent"`
	MaxPrincipal     int64    `json:"max_principal"`
	MaxInterest      int64    `json:"max_interest"`
	MaxLateFee       int64    `json:"max_late_fee"`
	ExpiresAt        string   `json:"expires_at"`
}
