package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/csyeqing/rag-platform/internal/services"
)

type ProfileHandler struct {
	profileService services.RetrievalProfileService
	audit          services.AuditService
}

func NewProfileHandler(profileService services.RetrievalProfileService, audit services.AuditService) *ProfileHandler {
	return &ProfileHandler{profileService: profileService, audit: audit}
}

// List returns active profiles. Admins can ask for inactive ones too.
func (ph *ProfileHandler) List(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	includeInactive := rd.IsAdmin() && c.Query("include_inactive") == "true"
	profiles, err := ph.profileService.List(c.Request.Context(), includeInactive)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, profiles)
}

func (ph *ProfileHandler) Create(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	var req struct {
		Key         string         `json:"key"`
		Name        string         `json:"name"`
		Description string         `json:"description"`
		ProfileType string         `json:"profile_type"`
		Config      map[string]any `json:"config"`
		IsDefault   *bool          `json:"is_default"`
		IsActive    *bool          `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	profile, err := ph.profileService.Create(c.Request.Context(), services.RetrievalProfileInput{
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		ProfileType: req.ProfileType,
		Config:      req.Config,
		IsDefault:   req.IsDefault,
		IsActive:    req.IsActive,
	}, rd.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	actorID := rd.UserID
	ph.audit.Record(c.Request.Context(), &actorID, "settings.profile.create", "retrieval_profile", profile.ID.String(), map[string]any{"key": profile.ProfileKey})
	respondOK(c, profile)
}

func (ph *ProfileHandler) Update(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Key         string         `json:"key"`
		Name        string         `json:"name"`
		Description string         `json:"description"`
		ProfileType string         `json:"profile_type"`
		Config      map[string]any `json:"config"`
		IsDefault   *bool          `json:"is_default"`
		IsActive    *bool          `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	profile, err := ph.profileService.Update(c.Request.Context(), id, services.RetrievalProfileInput{
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		ProfileType: req.ProfileType,
		Config:      req.Config,
		IsDefault:   req.IsDefault,
		IsActive:    req.IsActive,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	actorID := rd.UserID
	ph.audit.Record(c.Request.Context(), &actorID, "settings.profile.update", "retrieval_profile", profile.ID.String(), nil)
	respondOK(c, profile)
}

func (ph *ProfileHandler) Delete(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := ph.profileService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	actorID := rd.UserID
	ph.audit.Record(c.Request.Context(), &actorID, "settings.profile.delete", "retrieval_profile", id.String(), nil)
	respondOK(c, gin.H{"message": "deleted"})
}
