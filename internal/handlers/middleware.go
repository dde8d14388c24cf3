package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const operatorIDKey = "operatorId"

func (h *Handler) operatorMiddleware(c *gin.Context) {
	if c.GetHeader("Authorization") == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "missing Authorization header",
		})
		return
	}
	h.authenticate(c)
}

// optionalOperatorMiddleware lets anonymous requests through but still
// rejects a bad token.
func (h *Handler) optionalOperatorMiddleware(c *gin.Context) {
	if c.GetHeader("Authorization") == "" {
		c.Next()
		return
	}
	h.authenticate(c)
}

func (h *Handler) authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "invalid Authorization header format",
		})
		return
	}

	operatorID, err := h.services.ParseToken(parts[1])
	if err != nil {
		if h.log != nil {
			h.log.Infow("auth_token_rejected", "err", err)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "invalid or expired token",
		})
		return
	}

	c.Set(operatorIDKey, operatorID)
	c.Next()
}
