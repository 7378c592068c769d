package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/typesense/typesense-go/typesense/api"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/blnkfinance/repay"
	"github.com/blnkfinance/repay/api/middleware"
	"github.com/blnkfinance/repay/config"
)

type Api struct {
	repay  *repay.Repay
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	// On submit, lookup and reinquiry routes the first segment is the channel.
	router.POST("/settlements/recover", a.RecoverSettlements)
	router.POST("/settlements/:id", a.SubmitSettlement)
	router.POST("/settlements/:id/reverse", a.ReverseSettlement)
	router.POST("/settlements/:id/reinquiry", a.ScheduleReinquiry)
	router.GET("/settlements/:id", a.GetSettlement)
	router.GET("/settlements/:id/ledger-entries", a.GetLedgerEntries)
	router.GET("/settlements/:id/:reference", a.GetSettlementByReference)

	router.POST("/borrowers/:id/schedule", a.CreateSchedule)
	router.GET("/borrowers/:id/account", a.GetAccount)
	router.GET("/borrowers/:id/obligations", a.GetObligations)
	router.POST("/borrowers/:id/restructurings", a.CreateRestructuringPlan)
	router.POST("/borrowers/:id/waivers", a.CreateWaiverGrant)

	router.GET("/channels", a.GetChannels)
	router.POST("/search/:collection", a.Search)
	router.POST("/multi-search", a.MultiSearch)
	return a.router
}

func NewAPI(r *repay.Repay) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	router := gin.Default()
	router.Use(otelgin.Middleware("repay"))
	router.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		router.Use(middleware.SecretKeyAuthMiddleware())
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{repay: r, router: router}
}

func (a Api) Search(c *gin.Context) {
	collection, passed := c.Params.Get("collection")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "collection is required. pass id in the route /:collection"})
		return
	}

	var query api.SearchCollectionParams
	err := c.BindJSON(&query)
	if err != nil {
		return
	}

	resp, err := a.repay.Search(c.Request.Context(), collection, &query)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) MultiSearch(c *gin.Context) {
	var query api.MultiSearchSearchesParameter
	if err := c.BindJSON(&query); err != nil {
		return
	}

	resp, err := a.repay.MultiSearch(c.Request.Context(), &query)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": a.repay.Channels()})
}
