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

package repay

import (
	"context"

	"github.com/blnkfinance/repay/model"
)

// RestructuringProvider returns the approved restructuring plan waiting to be
// activated for a borrower. found is false when there is none.
type RestructuringProvider interface {
	GetPendingRestructuring(ctx context.Context, borrowerID string) (plan *model.RestructuringPlan, found bool, err error)
}

// WaiverProvider returns the active waiver grant covering an obligation.
type WaiverProvider interface {
	GetActiveWaiverGrant(ctx context.Context, obligationID string) (grant *model.WaiverGrant, found bool, err error)
}

// Dispatcher receives events after the unit that produced them commits.
// Delivery is fire-and-forget from the settlement path.
type Dispatcher interface {
	SchedulePostCommit(ctx context.Context, event model.PostCommitEvent) error
}

// Inquirer asks a channel for the current state of a payment. It returns the
// raw payload the channel would have pushed, or ErrInquiryPending.
type Inquirer interface {
	Inquire(ctx context.Context, reference string) (map[string]interface{}, error)
}

// InquirerFunc adapts a function to the Inquirer interface.
type InquirerFunc func(ctx context.Context, reference string) (map[string]interface{}, error)

func (f InquirerFunc) Inquire(ctx context.Context, reference string) (map[string]interface{}, error) {
	return f(ctx, reference)
}
