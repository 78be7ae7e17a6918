package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pinetree-kr/identity-service/internal/middleware"
)

// ListLinkedProviders returns the providers shown to the user as
// "connected" in account settings.
func (h *Handler) ListLinkedProviders(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	providers, err := h.reporter.List(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list linked providers"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

// UnlinkProvider detaches a previously connected provider. The signup
// provider cannot be detached.
func (h *Handler) UnlinkProvider(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	providerName := c.Param("provider")
	if err := h.linker.UnlinkProvider(c.Request.Context(), accountID, providerName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}
