/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package model

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/blnkfinance/repay/model"
)

const dateFormat = "2006-01-02T15:04:05Z07:00"

func validateDateFormat(value interface{}) error {
	dateStr, ok := value.(string)
	if !ok {
		return errors.New("invalid type for date")
	}
	if dateStr == "" {
		return nil
	}
	if _, err := time.Parse(dateFormat, dateStr); err != nil {
		return errors.New("please format the date as 'YYYY-MM-DDTHH:MM:SS+00:00' (e.g., 2024-04-22T15:28:03+00:00)")
	}
	return nil
}

func validatePercent(value interface{}) error {
	percent, ok := value.(string)
	if !ok {
		return errors.New("invalid type for percentage")
	}
	if percent == "" {
		return nil
	}
	d, err := decimal.NewFromString(percent)
	if err != nil {
		return errors.New("must be a decimal number")
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("must be between 0 and 100")
	}
	return nil
}

// parseDate assumes the value passed validation.
func parseDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, _ := time.Parse(dateFormat, value)
	return t.UTC()
}

func parsePercent(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, _ := decimal.NewFromString(value)
	return d
}

func (r *ReverseSettlement) ValidateReverseSettlement() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RefundReference, validation.Required),
	)
}

func (r *RecoverSettlements) ValidateRecoverSettlements() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ThresholdSeconds, validation.Min(0)),
	)
}

func (r *ScheduleReinquiry) ValidateScheduleReinquiry() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Reference, validation.Required),
		validation.Field(&r.DelaySeconds, validation.Min(0)),
	)
}

func (o ScheduleObligation) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.LoanID, validation.Required),
		validation.Field(&o.DueDate, validation.Required, validation.By(validateDateFormat)),
		validation.Field(&o.SequenceNumber, validation.Min(0)),
		validation.Field(&o.PrincipalDue, validation.Min(int64(0))),
		validation.Field(&o.InterestDue, validation.Min(int64(0))),
		validation.Field(&o.LateFeeDue, validation.Min(int64(0))),
	)
}

func (s *CreateSchedule) ValidateCreateSchedule() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Obligations, validation.Required),
	)
}

func (p *CreateRestructuringPlan) ValidateCreateRestructuringPlan() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.RequestID, validation.Required),
		validation.Field(&p.LoanID, validation.Required),
		validation.Field(&p.Tenure, validation.Required, validation.Min(1)),
		validation.Field(&p.FirstDueDate, validation.Required, validation.By(validateDateFormat)),
		validation.Field(&p.ApprovedAt, validation.By(validateDateFormat)),
		validation.Field(&p.IntervalMonths, validation.Min(0)),
		validation.Field(&p.ActivationMinimumAmount, validation.Min(int64(0))),
		validation.Field(&p.NewPrincipal, validation.Min(int64(0))),
		validation.Field(&p.NewInterest, validation.Min(int64(0))),
		validation.Field(&p.NewLateFee, validation.Min(int64(0))),
	)
}

func (w *CreateWaiverGrant) ValidateCreateWaiverGrant() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.RequestID, validation.Required),
		validation.Field(&w.ObligationIDs, validation.Required),
		validation.Field(&w.PrincipalPercent, validation.By(validatePercent)),
		validation.Field(&w.InterestPercent, validation.By(validatePercent)),
		validation.Field(&w.LateFeePercent, validation.By(validatePercent)),
		validation.Field(&w.MaxPrincipal, validation.Min(int64(0))),
		validation.Field(&w.MaxInterest, validation.Min(int64(0))),
		validation.Field(&w.MaxLateFee, validation.Min(int64(0))),
		validation.Field(&w.ExpiresAt, validation.By(validateDateFormat)),
	)
}

func (s *CreateSchedule) ToObligations() []model.Obligation {
	obligations := make([]model.Obligation, 0, len(s.Obligations))
	for _, o := range s.Obligations {
		obligations = append(obligations, model.Obligation{
			LoanID:         o.LoanID,
			SequenceNumber: o.SequenceNumber,
			DueDate:        parseDate(o.DueDate),
			PrincipalDue:   o.PrincipalDue,
			InterestDue:    o.InterestDue,
			LateFeeDue:     o.LateFeeDue,
		})
	}
	return obligations
}

func (p *CreateRestructuringPlan) ToRestructuringPlan(borrowerID string) model.RestructuringPlan {
	return model.RestructuringPlan{
		RequestID:               p.RequestID,
		BorrowerID:              borrowerID,
		LoanID:                  p.LoanID,
		ApprovedAt:              parseDate(p.ApprovedAt),
		ActivationMinimumAmount: p.ActivationMinimumAmount,
		Tenure:                  p.Tenure,
		FirstDueDate:            parseDate(p.FirstDueDate),
		IntervalMonths:          p.IntervalMonths,
		NewPrincipal:            p.NewPrincipal,
		NewInterest:             p.NewInterest,
		NewLateFee:              p.NewLateFee,
	}
}

func (w *CreateWaiverGrant) ToWaiverGrant(borrowerID string) model.WaiverGrant {
	grant := model.WaiverGrant{
		RequestID:        w.RequestID,
		BorrowerID:       borrowerID,
		ObligationIDs:    w.ObligationIDs,
		PrincipalPercent: parsePercent(w.PrincipalPercent),
		InterestPercent:  parsePercent(w.InterestPercent),
		LateFeePercent:   parsePercent(w.LateFeePercent),
		MaxPrincipal:     w.MaxPrincipal,
		MaxInterest:      w.MaxInterest,
		MaxLateFee:       w.MaxLateFee,
	}
	if w.ExpiresAt != "" {
		expires := parseDate(w.ExpiresAt)
		grant.ExpiresAt = &expires
	}
	return grant
}
