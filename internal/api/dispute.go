package api

import (
	"errors"
	"net/http"

	"payout-core/internal/models"
	"payout-core/internal/response"

	"github.com/gin-gonic/gin"
)

// ListDisputes returns the platform's disputes for the dashboard
func (s *Server) ListDisputes(c *gin.Context) {
	disputes, err := s.store.ListDisputesByPlatform(c.GetString("platform_id"))
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to list disputes")
		return
	}
	response.SuccessJSON(c, disputes)
}

// ownedDispute resolves a dispute id and enforces platform ownership
func (s *Server) ownedDispute(c *gin.Context) (string, bool) {
	dispute, err := s.store.GetDisputeByID(c.Param("id"))
	if err != nil || dispute == nil || dispute.PlatformID != c.GetString("platform_id") {
		response.ErrorJSON(c, http.StatusNotFound, "Dispute not found")
		return "", false
	}
	return dispute.DisputeID, true
}

// SubmitDisputeResponse marks evidence as submitted for a dispute,
// which exempts it from the deadline sweep.
func (s *Server) SubmitDisputeResponse(c *gin.Context) {
	disputeID, ok := s.ownedDispute(c)
	if !ok {
		return
	}
	dispute, err := s.disputes.SubmitResponse(disputeID)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			response.JSON(c, http.StatusBadRequest, response.ErrorWithCode(verr.Code, verr.Message))
			return
		}
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to submit dispute response")
		return
	}
	response.SuccessJSON(c, dispute)
}

// AcceptDispute concedes a dispute without contesting it
func (s *Server) AcceptDispute(c *gin.Context) {
	disputeID, ok := s.ownedDispute(c)
	if !ok {
		return
	}
	dispute, err := s.disputes.Accept(c.Request.Context(), disputeID)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			response.JSON(c, http.StatusBadRequest, response.ErrorWithCode(verr.Code, verr.Message))
			return
		}
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to accept dispute")
		return
	}
	response.SuccessJSON(c, dispute)
}
