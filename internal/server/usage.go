package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/meterbill/internal/money"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterbill/internal/usage/domain"
)

type recordUsageBody struct {
	Date          *string        `json:"date"`
	ConsumedUnits *numericString `json:"consumed_units"`
	UpdateType    *string        `json:"update_type"`
	Annotation    *string        `json:"annotation"`
	EndLog        bool           `json:"end_log"`
}

type usageLogResponse struct {
	MeteredFeature string  `json:"metered_feature"`
	Subscription   string  `json:"subscription"`
	StartDatetime  string  `json:"start_datetime"`
	EndDatetime    string  `json:"end_datetime"`
	ConsumedUnits  string  `json:"consumed_units"`
	Annotation     *string `json:"annotation"`
}

func newUsageLogResponse(productCode string, log usagedomain.UsageLog) usageLogResponse {
	return usageLogResponse{
		MeteredFeature: productCode,
		Subscription:   log.SubscriptionID.String(),
		StartDatetime:  log.StartDatetime.UTC().Format(time.RFC3339),
		EndDatetime:    log.EndDatetime.UTC().Format(time.RFC3339),
		ConsumedUnits:  money.Format(log.ConsumedUnits, money.QuantityPlaces),
		Annotation:     log.Annotation,
	}
}

func (s *Server) ListUsageLogs(c *gin.Context) {
	subscriptionID, err := pathID(c, "subscription_id", subscriptiondomain.ErrSubscriptionNotFound)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	productCode := strings.TrimSpace(c.Param("mf_product_code"))

	logs, err := s.usageSvc.ListLogs(c.Request.Context(), usagedomain.ListLogsRequest{
		SubscriptionID: subscriptionID,
		ProductCode:    productCode,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := make([]usageLogResponse, 0, len(logs))
	for _, log := range logs {
		resp = append(resp, newUsageLogResponse(productCode, log))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) RecordUsage(c *gin.Context) {
	subscriptionID, err := pathID(c, "subscription_id", subscriptiondomain.ErrSubscriptionNotFound)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	productCode := strings.TrimSpace(c.Param("mf_product_code"))

	var body recordUsageBody
	if err := bindJSON(c, &body); err != nil {
		AbortWithError(c, err)
		return
	}

	log, err := s.usageSvc.RecordUsage(c.Request.Context(), usagedomain.RecordUsageRequest{
		SubscriptionID: subscriptionID,
		MeteredFeature: &productCode,
		ConsumedUnits:  body.ConsumedUnits.ptr(),
		Date:           body.Date,
		UpdateType:     body.UpdateType,
		Annotation:     body.Annotation,
		EndLog:         body.EndLog,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newUsageLogResponse(productCode, log))
}
