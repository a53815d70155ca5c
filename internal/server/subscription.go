package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/meterbill/internal/clock"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
)

type activateBody struct {
	StartDate    *string `json:"start_date" validate:"omitempty,isodate"`
	TrialEndDate *string `json:"trial_end_date" validate:"omitempty,isodate"`
}

type cancelBody struct {
	When *string `json:"when"`
}

type stateResponse struct {
	State subscriptiondomain.SubscriptionState `json:"state"`
}

func (s *Server) ActivateSubscription(c *gin.Context) {
	id, err := pathID(c, "subscription_id", subscriptiondomain.ErrSubscriptionNotFound)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var body activateBody
	if err := bindJSON(c, &body); err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.validator.Struct(body); err != nil {
		AbortWithError(c, err)
		return
	}

	sub, err := s.subscriptionSvc.Activate(c.Request.Context(), subscriptiondomain.ActivateRequest{
		SubscriptionID: id,
		StartDate:      optionalDate(body.StartDate),
		TrialEndDate:   optionalDate(body.TrialEndDate),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stateResponse{State: sub.State})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	id, err := pathID(c, "subscription_id", subscriptiondomain.ErrSubscriptionNotFound)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var body cancelBody
	if err := bindJSON(c, &body); err != nil {
		AbortWithError(c, err)
		return
	}

	sub, err := s.subscriptionSvc.Cancel(c.Request.Context(), subscriptiondomain.CancelRequest{
		SubscriptionID: id,
		When:           body.When,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stateResponse{State: sub.State})
}

func (s *Server) ReactivateSubscription(c *gin.Context) {
	id, err := pathID(c, "subscription_id", subscriptiondomain.ErrSubscriptionNotFound)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sub, err := s.subscriptionSvc.Reactivate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stateResponse{State: sub.State})
}

// optionalDate converts a validated YYYY-MM-DD value.
func optionalDate(raw *string) *time.Time {
	if raw == nil || *raw == "" {
		return nil
	}
	date, err := clock.ParseDate(*raw)
	if err != nil {
		return nil
	}
	return &date
}
