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

package normalizer

const (
	ChannelBankVA       = "bank_va"
	ChannelEWallet      = "ewallet"
	ChannelRetailOutlet = "retail_outlet"
	ChannelAutodebet    = "autodebet"
	ChannelRefund       = "refund"
)

// BankVATable reads virtual account payment callbacks.
var BankVATable = &Table{
	Channel: ChannelBankVA,
	Mappings: []FieldMapping{
		{Target: TargetExternalReference, Source: "payment_id", Transform: Trim},
		{Target: TargetBorrowerID, Source: "external_id", Transform: Trim},
		{Target: TargetAmount, Source: "amount", Transform: AsMinorUnits(0)},
		{Target: TargetSettledAt, Source: "transaction_timestamp", Transform: AsTimestamp},
		{Target: TargetTargetObligationID, Source: "metadata.obligation_id", Transform: Trim, Optional: true},
	},
}

// EWalletTable reads e-wallet charge events, which nest the charge under data.
var EWalletTable = &Table{
	Channel: ChannelEWallet,
	Mappings: []FieldMapping{
		{Target: TargetExternalReference, Source: "data.id", Transform: Trim},
		{Target: TargetBorrowerID, Source: "data.reference_id", Transform: Trim},
		{Target: TargetAmount, Source: "data.capture_amount", Transform: AsMinorUnits(0)},
		{Target: TargetSettledAt, Source: "data.updated", Transform: AsTimestamp},
		{Target: TargetTargetObligationID, Source: "data.metadata.obligation_id", Transform: Trim, Optional: true},
	},
}

var RetailOutletTable = &Table{
	Channel: ChannelRetailOutlet,
	Mappings: []FieldMapping{
		{Target: TargetExternalReference, Source: "payment_id", Transform: Trim},
		{Target: TargetBorrowerID, Source: "external_id", Transform: Trim},
		{Target: TargetAmount, Source: "amount", Transform: AsMinorUnits(0)},
		{Target: TargetSettledAt, Source: "transaction_timestamp", Transform: AsTimestamp},
	},
}

// AutodebetTable reads debit confirmations. Vendors send the amount as a
// decimal string in major units.
var AutodebetTable = &Table{
	Channel: ChannelAutodebet,
	Mappings: []FieldMapping{
		{Target: TargetExternalReference, Source: "transaction_id", Transform: Trim},
		{Target: TargetBorrowerID, Source: "customer_id", Transform: Trim},
		{Target: TargetAmount, Source: "amount", Transform: AsMinorUnits(0)},
		{Target: TargetSettledAt, Source: "paid_at", Transform: AsTimestamp},
		{Target: TargetTargetObligationID, Source: "bill_id", Transform: Trim, Optional: true},
	},
}

// RefundTable reads refund confirmations. A refund always names the
// settlement it gives back and is booked as a reversal of it.
var RefundTable = &Table{
	Channel: ChannelRefund,
	Mappings: []FieldMapping{
		{Target: TargetExternalReference, Source: "refund_id", Transform: Trim},
		{Target: TargetReversesSettlement, Source: "settlement_id", Transform: Trim},
		{Target: TargetBorrowerID, Source: "borrower_id", Transform: Trim},
		{Target: TargetAmount, Source: "amount", Transform: AsMinorUnits(0)},
		{Target: TargetSettledAt, Source: "refunded_at", Transform: AsTimestamp},
	},
}

// BuiltinTables returns the tables registered by NewRegistry.
func BuiltinTables() []*Table {
	return []*Table{BankVATable, EWalletTable, RetailOutletTable, AutodebetTable, RefundTable}
}
