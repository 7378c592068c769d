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

	"github.com/gin-gonic/gin"

	model2 "github.com/blnkfinance/repay/api/model"
)

func (a Api) CreateSchedule(c *gin.Context) {
	borrowerID := c.Param("id")

	var schedule model2.CreateSchedule
	if err := c.ShouldBindJSON(&schedule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := schedule.ValidateCreateSchedule(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.repay.CreateSchedule(c.Request.Context(), borrowerID, schedule.ToObligations())
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetAccount(c *gin.Context) {
	borrowerID := c.Param("id")

	resp, err := a.repay.GetAccount(c.Request.Context(), borrowerID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetObligations(c *gin.Context) {
	borrowerID := c.Param("id")

	resp, err := a.repay.GetObligations(c.Request.Context(), borrowerID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) CreateRestructuringPlan(c *gin.Context) {
	borrowerID := c.Param("id")

	var plan model2.CreateRestructuringPlan
	if err := c.ShouldBindJSON(&plan); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := plan.ValidateCreateRestructuringPlan(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.repay.CreateRestructuringPlan(c.Request.Context(), plan.ToRestructuringPlan(borrowerID))
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) CreateWaiverGrant(c *gin.Context) {
	borrowerID := c.Param("id")

	var grant model2.CreateWaiverGrant
	if err := c.ShouldBindJSON(&grant); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := grant.ValidateCreateWaiverGrant(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.repay.CreateWaiverGrant(c.Request.Context(), grant.ToWaiverGrant(borrowerID))
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}
