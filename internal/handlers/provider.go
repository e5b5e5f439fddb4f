package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/csyeqing/rag-platform/internal/services"
)

type ProviderHandler struct {
	providerService services.ProviderService
}

func NewProviderHandler(providerService services.ProviderService) *ProviderHandler {
	return &ProviderHandler{providerService: providerService}
}

func (ph *ProviderHandler) Create(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	var req struct {
		Name                string `json:"name"`
		ProviderType        string `json:"provider_type"`
		EndpointURL         string `json:"endpoint_url"`
		ModelName           string `json:"model_name"`
		APIKey              string `json:"api_key"`
		ContextWindowTokens int    `json:"context_window_tokens"`
		IsDefault           bool   `json:"is_default"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	view, err := ph.providerService.Create(c.Request.Context(), rd.UserID, services.CreateProviderParams{
		Name:                req.Name,
		ProviderType:        req.ProviderType,
		EndpointURL:         req.EndpointURL,
		ModelName:           req.ModelName,
		APIKey:              req.APIKey,
		ContextWindowTokens: req.ContextWindowTokens,
		IsDefault:           req.IsDefault,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, view)
}

func (ph *ProviderHandler) List(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	views, err := ph.providerService.List(c.Request.Context(), rd.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, views)
}

func (ph *ProviderHandler) Get(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	view, err := ph.providerService.Get(c.Request.Context(), rd.UserID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, view)
}

func (ph *ProviderHandler) Update(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Name                *string `json:"name"`
		ProviderType        *string `json:"provider_type"`
		EndpointURL         *string `json:"endpoint_url"`
		ModelName           *string `json:"model_name"`
		APIKey              *string `json:"api_key"`
		ContextWindowTokens *int    `json:"context_window_tokens"`
		IsDefault           *bool   `json:"is_default"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	view, err := ph.providerService.Update(c.Request.Context(), rd.UserID, id, services.UpdateProviderParams{
		Name:                req.Name,
		ProviderType:        req.ProviderType,
		EndpointURL:         req.EndpointURL,
		ModelName:           req.ModelName,
		APIKey:              req.APIKey,
		ContextWindowTokens: req.ContextWindowTokens,
		IsDefault:           req.IsDefault,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, view)
}

func (ph *ProviderHandler) Delete(c *gin.Context) {
	rd, ok := requireRequestData(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := ph.providerService.Delete(c.Request.Context(), rd.UserID, id); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"message": "deleted"})
}

// ValidateModel checks whether a provider configuration is usable without
// persisting it.
func (ph *ProviderHandler) ValidateModel(c *gin.Context) {
	if _, ok := requireRequestData(c); !ok {
		return
	}
	var req struct {
		ProviderType string `json:"provider_type"`
		EndpointURL  string `json:"endpoint_url"`
		ModelName    string `json:"model_name"`
		APIKey       string `json:"api_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	result, err := ph.providerService.ValidateModel(services.ValidateModelParams{
		ProviderType: req.ProviderType,
		EndpointURL:  req.EndpointURL,
		ModelName:    req.ModelName,
		APIKey:       req.APIKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}
