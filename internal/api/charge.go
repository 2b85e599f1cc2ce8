package api

import (
	"errors"
	"net/http"

	"payout-core/internal/models"
	"payout-core/internal/orchestrator"
	"payout-core/internal/response"
	"payout-core/internal/scoring"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ChargeRequest represents a charge request from a platform backend
type ChargeRequest struct {
	PayerID            string            `json:"payer_id" binding:"required"`
	PayeeID            string            `json:"payee_id" binding:"required"`
	Type               string            `json:"type" binding:"required"`
	Amount             string            `json:"amount" binding:"required"`
	Fee                string            `json:"fee"`
	Currency           string            `json:"currency" binding:"required"`
	PaymentMethodToken string            `json:"payment_method_token" binding:"required"`
	ProcessorHint      string            `json:"processor_hint"`
	Signals            map[string]string `json:"signals"`
}

// CreateCharge scores, routes and attempts a charge synchronously. A
// declined charge is a 200 with status failed; 4xx is reserved for
// requests that were never attempted.
func (s *Server) CreateCharge(c *gin.Context) {
	var req ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.JSON(c, http.StatusBadRequest,
			response.ErrorWithCode(models.ErrCodeInvalidAmount, "amount is not a valid decimal"))
		return
	}
	fee := decimal.Zero
	if req.Fee != "" {
		if fee, err = decimal.NewFromString(req.Fee); err != nil {
			response.JSON(c, http.StatusBadRequest,
				response.ErrorWithCode(models.ErrCodeInvalidAmount, "fee is not a valid decimal"))
			return
		}
	}

	txn, err := s.charges.RouteAndCharge(c.Request.Context(), orchestrator.ChargeRequest{
		PlatformID:         c.GetString("platform_id"),
		PayerID:            req.PayerID,
		PayeeID:            req.PayeeID,
		Type:               models.TransactionType(req.Type),
		Amount:             amount,
		Fee:                fee,
		Currency:           req.Currency,
		PaymentMethodToken: req.PaymentMethodToken,
		ProcessorHint:      req.ProcessorHint,
		Signals:            scoring.SignalBag(req.Signals),
	})
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			response.JSON(c, http.StatusBadRequest, response.ErrorWithCode(verr.Code, verr.Message))
			return
		}
		response.ErrorJSON(c, http.StatusInternalServerError, "Charge processing failed")
		return
	}

	response.SuccessJSON(c, txn)
}

// GetCharge returns a transaction with its event log
func (s *Server) GetCharge(c *gin.Context) {
	txn, err := s.store.GetTransactionByID(c.Param("id"))
	if err != nil || txn.PlatformID != c.GetString("platform_id") {
		response.ErrorJSON(c, http.StatusNotFound, "Transaction not found")
		return
	}
	events, err := s.store.ListEvents(txn.TransactionID)
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to load transaction events")
		return
	}
	response.SuccessJSON(c, gin.H{
		"transaction": txn,
		"events":      events,
	})
}
