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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/repay"
	model2 "github.com/blnkfinance/repay/api/model"
	"github.com/blnkfinance/repay/config"
	"github.com/blnkfinance/repay/database/memory"
	"github.com/blnkfinance/repay/model"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Auth     string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response == nil {
		return resp, nil
	}
	err := json.NewDecoder(bytes.NewReader(resp.Body.Bytes())).Decode(s.Response)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *repay.Repay) {
	t.Helper()
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: "localhost:6379"},
	})
	r, err := repay.NewRepay(memory.New())
	require.NoError(t, err)

	newAPI := NewAPI(r)
	require.NotNil(t, newAPI)
	return newAPI.Router(), r
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(payload)
}

func createSchedule(t *testing.T, router *gin.Engine, borrowerID string, dues ...int64) []model.Obligation {
	t.Helper()
	schedule := model2.CreateSchedule{}
	for i, due := range dues {
		schedule.Obligations = append(schedule.Obligations, model2.ScheduleObligation{
			LoanID:         "loan_1",
			SequenceNumber: i + 1,
			DueDate:        time.Now().UTC().AddDate(0, i+1, 0).Format(time.RFC3339),
			PrincipalDue:   due,
		})
	}

	var created []model.Obligation
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  jsonBody(t, schedule),
		Router:   router,
		Response: &created,
		Method:   http.MethodPost,
		Route:    "/borrowers/" + borrowerID + "/schedule",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Code)
	return created
}

func bankVAPayload(reference, borrowerID string, amount int64) map[string]interface{} {
	return map[string]interface{}{
		"payment_id":            reference,
		"external_id":           borrowerID,
		"amount":                amount,
		"transaction_timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}
