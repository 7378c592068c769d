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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/repay"
	model2 "github.com/blnkfinance/repay/api/model"
	"github.com/blnkfinance/repay/config"
)

func respondWithError(c *gin.Context, err error) {
	c.JSON(repay.HTTPStatus(err), gin.H{"error": err.Error()})
}

// SubmitSettlement accepts a raw channel notification. With ?async=true the
// notification is only normalized and queued.
func (a Api) SubmitSettlement(c *gin.Context) {
	channel, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel is required. pass channel in the route /:channel"})
		return
	}

	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if c.Query("async") == "true" {
		notification, err := a.repay.QueueSettlement(c.Request.Context(), channel, payload)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, notification)
		return
	}

	outcome, err := a.repay.SubmitSettlement(c.Request.Context(), channel, payload)
	if err != nil {
		logrus.WithError(err).WithField("channel", channel).Warn("settlement not completed")
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

func (a Api) GetSettlement(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.repay.GetSettlement(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetSettlementByReference(c *gin.Context) {
	channel := c.Param("id")
	reference := c.Param("reference")

	resp, err := a.repay.GetSettlementByReference(c.Request.Context(), channel, reference)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetLedgerEntries(c *gin.Context) {
	id := c.Param("id")

	resp, err := a.repay.GetLedgerEntries(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) ReverseSettlement(c *gin.Context) {
	id := c.Param("id")

	var req model2.ReverseSettlement
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateReverseSettlement(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	outcome, err := a.repay.ReverseSettlement(c.Request.Context(), id, req.RefundReference)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

func (a Api) ScheduleReinquiry(c *gin.Context) {
	channel := c.Param("id")

	var req model2.ScheduleReinquiry
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateScheduleReinquiry(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	delay := time.Duration(req.DelaySeconds) * time.Second
	if err := a.repay.ScheduleReinquiry(c.Request.Context(), channel, req.Reference, delay); err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "reinquiry scheduled", "channel": channel, "reference": req.Reference})
}

// RecoverSettlements runs one recovery sweep on demand. An empty body uses
// the configured stuck threshold.
func (a Api) RecoverSettlements(c *gin.Context) {
	var req model2.RecoverSettlements
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
			return
		}
	}
	if err := req.ValidateRecoverSettlements(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	threshold := time.Duration(req.ThresholdSeconds) * time.Second
	if threshold == 0 {
		conf, err := config.Fetch()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		threshold = conf.Settlement.StuckThreshold()
	}

	result, err := a.repay.RecoverPendingSettlements(c.Request.Context(), threshold)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
