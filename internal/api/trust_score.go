package api

import (
	"net/http"

	"payout-core/internal/models"
	"payout-core/internal/response"

	"github.com/gin-gonic/gin"
)

// GetTrustScore returns the most recent trust score recorded for an
// entity. Scores are immutable; this is a lookup, never a re-score.
func (s *Server) GetTrustScore(c *gin.Context) {
	entityType := models.EntityType(c.Param("entity_type"))
	switch entityType {
	case models.EntityTransaction, models.EntityRefundRequest, models.EntityUser:
	default:
		response.ErrorJSON(c, http.StatusBadRequest, "Unknown entity type")
		return
	}

	record, err := s.store.GetLatestTrustScore(entityType, c.Param("entity_id"))
	if err != nil {
		response.ErrorJSON(c, http.StatusNotFound, "No trust score recorded")
		return
	}
	if record.PlatformID != "" && record.PlatformID != c.GetString("platform_id") {
		response.ErrorJSON(c, http.StatusNotFound, "No trust score recorded")
		return
	}
	response.SuccessJSON(c, record)
}
