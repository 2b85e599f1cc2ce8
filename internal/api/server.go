// Package api is the HTTP surface: platform-facing money operations,
// processor webhooks and the operator admin endpoints.
package api

import (
	"payout-core/internal/config"
	"payout-core/internal/database"
	"payout-core/internal/dispute"
	"payout-core/internal/middleware"
	"payout-core/internal/orchestrator"
	"payout-core/internal/refund"
	"payout-core/internal/settlement"
	"payout-core/internal/workers"

	"github.com/gin-gonic/gin"
)

// Server holds the wired components the handlers dispatch into.
type Server struct {
	store       *database.Store
	charges     *orchestrator.Orchestrator
	refunds     *refund.Engine
	disputes    *dispute.Machine
	settlements *settlement.Reconciler
	pipeline    *workers.Pipeline
}

// NewServer creates the API server with explicit dependencies
func NewServer(store *database.Store, charges *orchestrator.Orchestrator, refunds *refund.Engine, disputes *dispute.Machine, settlements *settlement.Reconciler, pipeline *workers.Pipeline) *Server {
	return &Server{
		store:       store,
		charges:     charges,
		refunds:     refunds,
		disputes:    disputes,
		settlements: settlements,
		pipeline:    pipeline,
	}
}

// SetupRoutes sets up all routes
func (s *Server) SetupRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// Money operations (require platform authentication)
		money := api.Group("")
		money.Use(middleware.PlatformAuthMiddleware(s.store))
		{
			money.POST("/charges", s.CreateCharge)
			money.GET("/charges/:id", s.GetCharge)
			money.POST("/refunds", s.CreateRefund)
			money.GET("/refunds/:id", s.GetRefund)
			money.GET("/trust-scores/:entity_type/:entity_id", s.GetTrustScore)
			money.GET("/disputes", s.ListDisputes)
			money.POST("/disputes/:id/response", s.SubmitDisputeResponse)
			money.POST("/disputes/:id/accept", s.AcceptDispute)
		}

		// Processor webhooks (HMAC signature, processors call these)
		webhooks := api.Group("/webhooks")
		webhooks.Use(middleware.WebhookSignatureMiddleware(s.webhookSecret))
		{
			webhooks.POST("/:processor", s.IngestWebhook)
		}

		// Operator routes (for admin use)
		admin := api.Group("/admin")
		{
			admin.GET("/rules", s.ListRules)
			admin.POST("/rules", s.CreateRule)
			admin.POST("/rules/:id/submit", s.SubmitRule)
			admin.POST("/rules/:id/approve", s.ApproveRule)
			admin.POST("/rules/:id/retire", s.RetireRule)

			admin.GET("/platforms", s.ListPlatforms)
			admin.POST("/platforms", s.CreatePlatform)

			admin.POST("/refunds/:id/resolve", s.ResolveRefund)
			admin.POST("/settlements/import", s.ImportSettlement)
			admin.GET("/settlements/:processor/:batch_id", s.GetSettlement)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": config.AppConfig.ServiceName,
		})
	})
}

// webhookSecret resolves the signing secret for a processor's webhooks
func (s *Server) webhookSecret(processorCode string) (string, bool) {
	processor, err := s.store.GetProcessorByCode(processorCode)
	if err != nil || processor.WebhookSecret == "" {
		return "", false
	}
	return processor.WebhookSecret, true
}
