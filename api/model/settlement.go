package model

type ReverseSettlement struct {
	RefundReference string `json:"refund_reference"`
}

type RecoverSettlements struct {
	ThresholdSeconds int `json:"threshold_seconds"`
}

type ScheduleReinquiry struct {
	Reference    string `json:"reference"`
	DelaySeconds int    `json:"delay_seconds"`
}
