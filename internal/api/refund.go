package api

import (
	"errors"
	"net/http"

	"payout-core/internal/models"
	"payout-core/internal/refund"
	"payout-core/internal/response"
	"payout-core/internal/scoring"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// RefundRequest represents a refund request from a platform backend
type RefundRequest struct {
	TransactionID string            `json:"transaction_id" binding:"required"`
	Amount        string            `json:"amount"` // empty means the full refundable balance
	Reason        string            `json:"reason"`
	Origin        string            `json:"origin"`
	Signals       map[string]string `json:"signals"`
}

// CreateRefund submits a refund request through the automation engine.
// Denied and manual-review outcomes are 200s; the decision is in the
// returned refund.
func (s *Server) CreateRefund(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	amount := decimal.Zero
	if req.Amount != "" {
		var err error
		if amount, err = decimal.NewFromString(req.Amount); err != nil {
			response.JSON(c, http.StatusBadRequest,
				response.ErrorWithCode(models.ErrCodeInvalidAmount, "amount is not a valid decimal"))
			return
		}
	}

	ref, err := s.refunds.RequestRefund(c.Request.Context(), refund.Request{
		TransactionID: req.TransactionID,
		PlatformID:    c.GetString("platform_id"),
		Amount:        amount,
		Reason:        req.Reason,
		Origin:        models.RefundOrigin(req.Origin),
		Signals:       scoring.SignalBag(req.Signals),
	})
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			response.JSON(c, http.StatusBadRequest, response.ErrorWithCode(verr.Code, verr.Message))
			return
		}
		response.ErrorJSON(c, http.StatusInternalServerError, "Refund processing failed")
		return
	}

	response.SuccessJSON(c, ref)
}

// GetRefund returns one refund
func (s *Server) GetRefund(c *gin.Context) {
	ref, err := s.store.GetRefundByID(c.Param("id"))
	if err != nil || ref.PlatformID != c.GetString("platform_id") {
		response.ErrorJSON(c, http.StatusNotFound, "Refund not found")
		return
	}
	response.SuccessJSON(c, ref)
}

// ResolveRefundRequest represents a manual review decision
type ResolveRefundRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

// ResolveRefund settles a refund that landed in manual review
func (s *Server) ResolveRefund(c *gin.Context) {
	var req ResolveRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	ref, err := s.refunds.ResolveManual(c.Request.Context(), c.Param("id"), req.Approve, req.Note)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			response.JSON(c, http.StatusBadRequest, response.ErrorWithCode(verr.Code, verr.Message))
			return
		}
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to resolve refund")
		return
	}
	response.SuccessJSON(c, ref)
}
