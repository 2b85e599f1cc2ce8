package api

import (
	"errors"
	"net/http"
	"time"

	"payout-core/internal/models"
	"payout-core/internal/response"
	"payout-core/internal/settlement"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// SettlementLineRequest is one row of an imported settlement file
type SettlementLineRequest struct {
	Type          string `json:"type" binding:"required"`
	TransactionID string `json:"transaction_id"`
	RefundID      string `json:"refund_id"`
	ExternalID    string `json:"external_id"`
	Amount        string `json:"amount" binding:"required"`
	Fee           string `json:"fee"`
}

// ImportSettlementRequest represents an inbound settlement batch. The
// amount fields are the processor's reported batch totals; reconciliation
// checks them against the line sums.
type ImportSettlementRequest struct {
	Processor      string                  `json:"processor" binding:"required"`
	BatchID        string                  `json:"batch_id" binding:"required"`
	SettlementDate string                  `json:"settlement_date" binding:"required"` // RFC 3339
	Currency       string                  `json:"currency" binding:"required"`
	GrossAmount    string                  `json:"gross_amount"`
	FeeAmount      string                  `json:"fee_amount"`
	NetAmount      string                  `json:"net_amount"`
	Lines          []SettlementLineRequest `json:"lines" binding:"required"`
}

func parseOptionalAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// ImportSettlement ingests a settlement batch and reconciles it.
// Re-importing a reconciled batch returns the stored result.
func (s *Server) ImportSettlement(c *gin.Context) {
	var req ImportSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	settlementDate, err := time.Parse(time.RFC3339, req.SettlementDate)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "settlement_date must be RFC 3339")
		return
	}

	gross, err := parseOptionalAmount(req.GrossAmount)
	if err != nil {
		response.JSON(c, http.StatusBadRequest, response.ErrorWithCode(
			models.ErrCodeInvalidAmount, "gross_amount is not a valid decimal"))
		return
	}
	feeTotal, err := parseOptionalAmount(req.FeeAmount)
	if err != nil {
		response.JSON(c, http.StatusBadRequest, response.ErrorWithCode(
			models.ErrCodeInvalidAmount, "fee_amount is not a valid decimal"))
		return
	}
	net, err := parseOptionalAmount(req.NetAmount)
	if err != nil {
		response.JSON(c, http.StatusBadRequest, response.ErrorWithCode(
			models.ErrCodeInvalidAmount, "net_amount is not a valid decimal"))
		return
	}

	lines := make([]settlement.Line, 0, len(req.Lines))
	for _, lr := range req.Lines {
		amount, err := decimal.NewFromString(lr.Amount)
		if err != nil {
			response.JSON(c, http.StatusBadRequest, response.ErrorWithCode(
				models.ErrCodeInvalidAmount, "line amount is not a valid decimal"))
			return
		}
		fee := decimal.Zero
		if lr.Fee != "" {
			if fee, err = decimal.NewFromString(lr.Fee); err != nil {
				response.JSON(c, http.StatusBadRequest, response.ErrorWithCode(
					models.ErrCodeInvalidAmount, "line fee is not a valid decimal"))
				return
			}
		}
		lines = append(lines, settlement.Line{
			Type:          lr.Type,
			TransactionID: lr.TransactionID,
			RefundID:      lr.RefundID,
			ExternalID:    lr.ExternalID,
			Amount:        amount,
			Fee:           fee,
		})
	}

	result, err := s.settlements.Import(c.Request.Context(), settlement.Batch{
		Processor:      req.Processor,
		BatchID:        req.BatchID,
		SettlementDate: settlementDate,
		Currency:       req.Currency,
		GrossAmount:    gross,
		FeeAmount:      feeTotal,
		NetAmount:      net,
		Lines:          lines,
	})
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			response.JSON(c, http.StatusBadRequest, response.ErrorWithCode(verr.Code, verr.Message))
			return
		}
		response.ErrorJSON(c, http.StatusInternalServerError, "Settlement import failed")
		return
	}
	response.SuccessJSON(c, result)
}

// GetSettlement returns a settlement batch by (processor, batch id)
func (s *Server) GetSettlement(c *gin.Context) {
	result, err := s.store.GetSettlementByBatch(c.Param("processor"), c.Param("batch_id"))
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to load settlement")
		return
	}
	if result == nil {
		response.ErrorJSON(c, http.StatusNotFound, "Settlement not found")
		return
	}
	response.SuccessJSON(c, result)
}
