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

package api

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/repay"
	model2 "github.com/blnkfinance/repay/api/model"
	"github.com/blnkfinance/repay/model"
)

func TestSubmitSettlement(t *testing.T) {
	router, _ := setupRouter(t)
	createSchedule(t, router, "bor_1", 1000, 1000)

	var outcome repay.SettlementOutcome
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  jsonBody(t, bankVAPayload("VA-100", "bor_1", 1500)),
		Router:   router,
		Response: &outcome,
		Method:   http.MethodPost,
		Route:    "/settlements/bank_va",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, repay.OutcomeProcessed, outcome.Status)
	assert.NotEmpty(t, outcome.SettlementID)

	var obligations []model.Obligation
	resp, err = SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &obligations,
		Method:   http.MethodGet,
		Route:    "/borrowers/bor_1/obligations",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, obligations, 2)
	assert.Equal(t, model.ObligationPaid, obligations[0].Status)
	assert.Equal(t, int64(500), obligations[1].PrincipalPaid)

	var again repay.SettlementOutcome
	_, err = SetUpTestRequest(TestRequest{
		Payload:  jsonBody(t, bankVAPayload("VA-100", "bor_1", 1500)),
		Router:   router,
		Response: &again,
		Method:   http.MethodPost,
		Route:    "/settlements/bank_va",
	})
	require.NoError(t, err)
	assert.Equal(t, repay.OutcomeAlreadyProcessed, again.Status)
	assert.Equal(t, outcome.SettlementID, again.SettlementID)
}

func TestSubmitSettlement_InvalidPayload(t *testing.T) {
	router, _ := setupRouter(t)

	var body map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  jsonBody(t, map[string]interface{}{"payment_id": "VA-101"}),
		Router:   router,
		Response: &body,
		Method:   http.MethodPost,
		Route:    "/settlements/bank_va",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.NotEmpty(t, body["error"])
}

func TestSubmitSettlement_UnknownChannel(t *testing.T) {
	router, _ := setupRouter(t)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: jsonBody(t, bankVAPayload("X-1", "bor_1", 100)),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/settlements/carrier_pigeon",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestSubmitSettlement_MalformedJSON(t *testing.T) {
	router, _ := setupRouter(t)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: bytes.NewReader([]byte("{")),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/settlements/bank_va",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSubmitSettlement_AsyncWithoutQueue(t *testing.T) {
	router, _ := setupRouter(t)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: jsonBody(t, bankVAPayload("VA-102", "bor_1", 100)),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/settlements/bank_va?async=true",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestGetSettlement(t *testing.T) {
	router, _ := setupRouter(t)
	createSchedule(t, router, "bor_2", 1000)

	var outcome repay.SettlementOutcome
	_, err := SetUpTestRequest(TestRequest{
		Payload:  jsonBody(t, bankVAPayload("VA-200", "bor_2", 400)),
		Router:   router,
		Response: &outcome,
		Method:   http.MethodPost,
		Route:    "/settlements/bank_va",
	})
	require.NoError(t, err)

	var byID model.SettlementTransaction
	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &byID,
		Method:   http.MethodGet,
		Route:    "/settlements/" + outcome.SettlementID,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, model.SettlementProcessed, byID.Status)
	assert.Equal(t, int64(400), byID.Amount)

	var byReference model.SettlementTransaction
	resp, err = SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &byReference,
		Method:   http.MethodGet,
		Route:    "/settlements/bank_va/VA-200",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, outcome.SettlementID, byReference.SettlementID)

	var entries []model.LedgerEntry
	resp, err = SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &entries,
		Method:   http.MethodGet,
		Route:    "/settlements/" + outcome.SettlementID + "/ledger-entries",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(400), entries[0].Total)
}

func TestGetSettlement_NotFound(t *testing.T) {
	router, _ := setupRouter(t)

	resp, err := SetUpTestRequest(TestRequest{
		Router: router,
		Method: http.MethodGet,
		Route:  "/settlements/stl_missing",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestReverseSettlement(t *testing.T) {
	router, _ := setupRouter(t)
	createSchedule(t, router, "bor_3", 1000)

	var outcome repay.SettlementOutcome
	_, err := SetUpTestRequest(TestRequest{
		Payload:  jsonBody(t, bankVAPayload("VA-300", "bor_3", 600)),
		Router:   router,
		Response: &outcome,
		Method:   http.MethodPost,
		Route:    "/settlements/bank_va",
	})
	require.NoError(t, err)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: jsonBody(t, model2.ReverseSettlement{}),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/settlements/" + outcome.SettlementID + "/reverse",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	var reversal repay.SettlementOutcome
	resp, err = SetUpTestRequest(TestRequest{
		Payload:  jsonBody(t, model2.ReverseSettlement{RefundReference: "RF-300"}),
		Router:   router,
		Response: &reversal,
		Method:   http.MethodPost,
		Route:    "/settlements/" + outcome.SettlementID + "/reverse",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, repay.OutcomeProcessed, reversal.Status)

	var account model.Account
	_, err = SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &account,
		Method:   http.MethodGet,
		Route:    "/borrowers/bor_3/account",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.TotalPaid)
	assert.Equal(t, int64(1000), account.TotalOutstanding)
}

func TestScheduleReinquiry_WithoutQueue(t *testing.T) {
	router, _ := setupRouter(t)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: jsonBody(t, model2.ScheduleReinquiry{Reference: "VA-400"}),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/settlements/bank_va/reinquiry",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)

	resp, err = SetUpTestRequest(TestRequest{
		Payload: jsonBody(t, model2.ScheduleReinquiry{}),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/settlements/bank_va/reinquiry",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRecoverSettlements(t *testing.T) {
	router, _ := setupRouter(t)

	var result repay.RecoveryResult
	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &result,
		Method:   http.MethodPost,
		Route:    "/settlements/recover",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, repay.RecoveryResult{}, result)

	resp, err = SetUpTestRequest(TestRequest{
		Payload: jsonBody(t, model2.RecoverSettlements{ThresholdSeconds: -5}),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/settlements/recover",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
