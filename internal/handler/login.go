package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pinetree-kr/identity-service/internal/credentials"
	"github.com/pinetree-kr/identity-service/internal/identity"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates an email/password pair and runs the result
// through the same resolution path OAuth logins use, so the linked-set
// and last-login bookkeeping stays uniform across providers.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	_, err := h.credentialService.Authenticate(
		c.Request.Context(),
		req.Email,
		req.Password,
	)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	result, err := h.flow.Login(c.Request.Context(), credentials.Profile(req.Email), "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve account"})
		return
	}
	switch result.Outcome.Kind {
	case identity.OutcomeConflict:
		c.JSON(http.StatusConflict, gin.H{
			"error":               "provider identity already linked to another account",
			"existing_account_id": result.Outcome.ExistingAccountID,
		})
		return
	case identity.OutcomeRejected:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": result.Outcome.Reason})
		return
	}

	if err := h.establishSession(c, result); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "logged_in"})
}
