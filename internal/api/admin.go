package api

import (
	"encoding/json"
	"net/http"

	"payout-core/internal/models"
	"payout-core/internal/response"
	"payout-core/internal/routing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ListRules returns every routing rule regardless of status
func (s *Server) ListRules(c *gin.Context) {
	rules, err := s.store.ListRules()
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to list rules")
		return
	}
	response.SuccessJSON(c, rules)
}

// CreateRuleRequest represents a new routing rule in draft state
type CreateRuleRequest struct {
	Name          string               `json:"name" binding:"required"`
	Priority      int                  `json:"priority" binding:"required"`
	Predicate     json.RawMessage      `json:"predicate" binding:"required"`
	Targets       []models.RouteTarget `json:"targets" binding:"required"`
	CanaryPercent int                  `json:"canary_percent"`
	CanaryTargets []models.RouteTarget `json:"canary_targets"`
}

// CreateRule validates and stores a draft routing rule. Drafts are
// invisible to the routing engine until submitted and approved.
func (s *Server) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	var predicate routing.Predicate
	if err := json.Unmarshal(req.Predicate, &predicate); err != nil {
		response.JSON(c, http.StatusBadRequest,
			response.ErrorWithCode(models.ErrCodeInvalidRule, "predicate is not valid JSON"))
		return
	}
	if err := predicate.Validate(); err != nil {
		response.JSON(c, http.StatusBadRequest,
			response.ErrorWithCode(models.ErrCodeInvalidRule, err.Error()))
		return
	}
	if len(req.Targets) == 0 {
		response.JSON(c, http.StatusBadRequest,
			response.ErrorWithCode(models.ErrCodeInvalidRule, "a rule needs at least one target"))
		return
	}
	if req.CanaryPercent < 0 || req.CanaryPercent > 100 {
		response.JSON(c, http.StatusBadRequest,
			response.ErrorWithCode(models.ErrCodeInvalidRule, "canary_percent must be within [0,100]"))
		return
	}
	if req.CanaryPercent > 0 && len(req.CanaryTargets) == 0 {
		response.JSON(c, http.StatusBadRequest,
			response.ErrorWithCode(models.ErrCodeInvalidRule, "canary rollout needs canary_targets"))
		return
	}

	targets, _ := json.Marshal(req.Targets)
	rule := &models.RoutingRule{
		RuleID:        "rule_" + uuid.NewString(),
		Name:          req.Name,
		Priority:      req.Priority,
		Predicate:     datatypes.JSON(req.Predicate),
		Targets:       targets,
		CanaryPercent: req.CanaryPercent,
		Status:        models.RuleDraft,
	}
	if len(req.CanaryTargets) > 0 {
		canary, _ := json.Marshal(req.CanaryTargets)
		rule.CanaryTargets = canary
	}

	if err := s.store.CreateRule(rule); err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to create rule")
		return
	}
	response.SuccessJSON(c, rule)
}

// RuleActionRequest carries the actor for submit/approve actions
type RuleActionRequest struct {
	Actor string `json:"actor" binding:"required"`
}

// SubmitRule moves a draft rule into the approval queue
func (s *Server) SubmitRule(c *gin.Context) {
	var req RuleActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}
	if err := s.store.SubmitRule(c.Param("id"), req.Actor); err != nil {
		response.JSON(c, http.StatusBadRequest,
			response.ErrorWithCode(models.ErrCodeInvalidRule, err.Error()))
		return
	}
	response.SuccessJSON(c, gin.H{"rule_id": c.Param("id"), "status": models.RulePendingApproval})
}

// ApproveRule activates a pending rule. The submitter cannot approve
// their own rule.
func (s *Server) ApproveRule(c *gin.Context) {
	var req RuleActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}
	rule, err := s.store.GetRuleByID(c.Param("id"))
	if err != nil {
		response.ErrorJSON(c, http.StatusNotFound, "Rule not found")
		return
	}
	if rule.SubmittedBy != "" && rule.SubmittedBy == req.Actor {
		response.JSON(c, http.StatusBadRequest,
			response.ErrorWithCode(models.ErrCodeInvalidRule, "a rule cannot be approved by its submitter"))
		return
	}
	if err := s.store.ApproveRule(rule.RuleID, req.Actor); err != nil {
		response.JSON(c, http.StatusBadRequest,
			response.ErrorWithCode(models.ErrCodeInvalidRule, err.Error()))
		return
	}
	response.SuccessJSON(c, gin.H{"rule_id": rule.RuleID, "status": models.RuleApproved})
}

// RetireRule removes a rule from evaluation
func (s *Server) RetireRule(c *gin.Context) {
	if err := s.store.RetireRule(c.Param("id")); err != nil {
		response.JSON(c, http.StatusBadRequest,
			response.ErrorWithCode(models.ErrCodeInvalidRule, err.Error()))
		return
	}
	response.SuccessJSON(c, gin.H{"rule_id": c.Param("id"), "status": models.RuleRetired})
}

// ListPlatforms gets all active platforms
func (s *Server) ListPlatforms(c *gin.Context) {
	platforms, err := s.store.ListPlatforms()
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to get platforms")
		return
	}
	response.SuccessJSON(c, platforms)
}

// CreatePlatformRequest represents create platform request
type CreatePlatformRequest struct {
	PlatformID         string `json:"platform_id" binding:"required"`
	Name               string `json:"name" binding:"required"`
	APIKey             string `json:"api_key" binding:"required"`
	Description        string `json:"description"`
	NotifyEmail        string `json:"notify_email"`
	WebhookCallbackURL string `json:"webhook_callback_url"`
	WebhookSecret      string `json:"webhook_secret"`
}

// CreatePlatform creates a new platform tenant
func (s *Server) CreatePlatform(c *gin.Context) {
	var req CreatePlatformRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	platform := &models.Platform{
		PlatformID:         req.PlatformID,
		Name:               req.Name,
		APIKey:             req.APIKey,
		IsActive:           true,
		Description:        req.Description,
		NotifyEmail:        req.NotifyEmail,
		WebhookCallbackURL: req.WebhookCallbackURL,
		WebhookSecret:      req.WebhookSecret,
	}
	if err := s.store.CreatePlatform(platform); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	response.SuccessJSON(c, platform)
}
