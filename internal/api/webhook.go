package api

import (
	"encoding/json"
	"net/http"

	"payout-core/internal/response"
	"payout-core/internal/workers"

	"github.com/gin-gonic/gin"
)

// webhookEnvelope is the common shape of processor webhook deliveries.
type webhookEnvelope struct {
	EventID       string `json:"event_id"`
	Type          string `json:"type"`
	TransactionID string `json:"transaction_id"`
}

// IngestWebhook accepts a signed processor event and enqueues it for
// the worker pinned to its transaction. 202 means accepted for
// processing, not processed; processors retry on anything else.
func (s *Server) IngestWebhook(c *gin.Context) {
	body, _ := c.Get("webhook_body")
	raw, ok := body.([]byte)
	if !ok {
		response.ErrorJSON(c, http.StatusBadRequest, "Missing request body")
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Malformed event payload")
		return
	}
	if envelope.EventID == "" || envelope.Type == "" {
		response.ErrorJSON(c, http.StatusBadRequest, "Event requires event_id and type")
		return
	}

	err := s.pipeline.Enqueue(workers.InboundEvent{
		Processor:     c.Param("processor"),
		EventID:       envelope.EventID,
		Type:          envelope.Type,
		TransactionID: envelope.TransactionID,
		Payload:       raw,
	})
	if err != nil {
		// Shutting down: ask the processor to redeliver.
		response.ErrorJSON(c, http.StatusServiceUnavailable, "Not accepting events")
		return
	}

	response.JSON(c, http.StatusAccepted, response.Success(gin.H{
		"event_id": envelope.EventID,
	}))
}
