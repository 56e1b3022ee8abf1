package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/services"
)

// AdminHandler serves the administration surface: feature switches,
// per-user overrides, provider credentials, usage stats, and manual
// baseline recomputes.
type AdminHandler struct {
	gate        *services.FeatureGateService
	credentials *services.CredentialService
	usage       *services.UsageService
	baselines   *services.BaselineService
	logger      *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	gate *services.FeatureGateService,
	credentials *services.CredentialService,
	usage *services.UsageService,
	baselines *services.BaselineService,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		gate:        gate,
		credentials: credentials,
		usage:       usage,
		baselines:   baselines,
		logger:      logger,
	}
}

// ListFeatures returns every feature's global setting
func (h *AdminHandler) ListFeatures(c *gin.Context) {
	features, err := h.gate.ListFeatures(c.Request.Context())
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"features": features})
}

// UpdateFeatureRequest is the body for PUT /admin/ai/features/:feature_id
type UpdateFeatureRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// UpdateFeature flips a feature's global switch
func (h *AdminHandler) UpdateFeature(c *gin.Context) {
	adminID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	var req UpdateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		respondBadRequest(c, "Invalid request body: enabled is required")
		return
	}

	featureID := c.Param("feature_id")
	if err := h.gate.SetGlobal(c.Request.Context(), featureID, *req.Enabled, adminID); err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"feature_id": featureID, "enabled": *req.Enabled})
}

// ListUserPreferences returns one user's stored feature preferences
func (h *AdminHandler) ListUserPreferences(c *gin.Context) {
	userID, err := parseUUIDParam(c, "user_id")
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	prefs, err := h.gate.ListPreferences(c.Request.Context(), userID)
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"preferences": prefs})
}

// SetOverrideRequest is the body for PUT .../features/:feature_id/override
type SetOverrideRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetOverride pins a user's feature state, locking their self-service toggle
func (h *AdminHandler) SetOverride(c *gin.Context) {
	adminID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	userID, err := parseUUIDParam(c, "user_id")
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	var req SetOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		respondBadRequest(c, "Invalid request body: enabled is required")
		return
	}

	featureID := c.Param("feature_id")
	if err := h.gate.SetAdminOverride(c.Request.Context(), userID, featureID, *req.Enabled, adminID); err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":    userID,
		"feature_id": featureID,
		"enabled":    *req.Enabled,
		"override":   true,
	})
}

// RemoveOverride restores a user's self-service toggle
func (h *AdminHandler) RemoveOverride(c *gin.Context) {
	userID, err := parseUUIDParam(c, "user_id")
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	if err := h.gate.RemoveAdminOverride(c.Request.Context(), userID, c.Param("feature_id")); err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListCredentials returns credential metadata, never key material
func (h *AdminHandler) ListCredentials(c *gin.Context) {
	creds, err := h.credentials.List(c.Request.Context(), c.Query("provider"), queryBool(c, "active_only"))
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": creds})
}

// CreateCredentialRequest is the body for POST /admin/ai/credentials
type CreateCredentialRequest struct {
	Provider string `json:"provider" binding:"required"`
	Key      string `json:"key" binding:"required"`
	Label    string `json:"label"`
}

// CreateCredential validates, encrypts and stores a new provider key
func (h *AdminHandler) CreateCredential(c *gin.Context) {
	adminID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	var req CreateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body: provider and key are required")
		return
	}

	cred, err := h.credentials.Create(c.Request.Context(), req.Provider, req.Key, req.Label, adminID)
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, cred)
}

// GetCredential returns one credential's metadata
func (h *AdminHandler) GetCredential(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	cred, err := h.credentials.Get(c.Request.Context(), id)
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, cred)
}

// UpdateCredentialRequest is the body for PUT /admin/ai/credentials/:id.
// A non-empty key rotates the stored secret.
type UpdateCredentialRequest struct {
	Label  *string `json:"label"`
	Active *bool   `json:"active"`
	Key    string  `json:"key"`
}

// UpdateCredential mutates label/active or rotates the key
func (h *AdminHandler) UpdateCredential(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	var req UpdateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}

	cred, err := h.credentials.Update(c.Request.Context(), id, services.UpdateInput{
		Label:  req.Label,
		Active: req.Active,
		Key:    req.Key,
	})
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, cred)
}

// DeleteCredential removes a credential permanently
func (h *AdminHandler) DeleteCredential(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	if err := h.credentials.Delete(c.Request.Context(), id); err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// TestCredential probes the provider with the stored key
func (h *AdminHandler) TestCredential(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	result, err := h.credentials.Test(c.Request.Context(), id)
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// UsageStats aggregates the AI usage ledger over trailing days
func (h *AdminHandler) UsageStats(c *gin.Context) {
	stats, err := h.usage.Stats(c.Request.Context(), queryInt(c, "days", 30))
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RecomputeBaselines triggers a full baseline sweep outside the nightly
// schedule, typically after a bulk import.
func (h *AdminHandler) RecomputeBaselines(c *gin.Context) {
	updated, err := h.baselines.RecomputeAll(c.Request.Context())
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}
