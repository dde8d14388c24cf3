package handlers

import (
	"errors"
	"net/http"

	"ticket_desk/internal/service"

	"github.com/gin-gonic/gin"
)

// Single, shared credentials payload for both sign-up and sign-in.
type authCredentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// bindJSONOrBadRequest binds the request body into dst and writes a 400 JSON on failure.
// Returns false if the request was already handled.
func (h *Handler) bindJSONOrBadRequest(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if h.log != nil {
			h.log.Infow("bad_request_body", "path", c.FullPath(), "err", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return false
	}
	return true
}

// @Summary      Register an operator
// @Description  Without a token this only creates the first operator of the terminal.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      authCredentials  true  "Credentials"
// @Success      200   {object}  map[string]int
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      403   {object}  map[string]string
// @Router       /auth/sign-up [post]
func (h *Handler) signUp(c *gin.Context) {
	var input authCredentials
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}

	var (
		id  int
		err error
	)
	creator, signedIn := c.Get(operatorIDKey)
	if signedIn {
		id, err = h.services.SignUp(input.Username, input.Password)
	} else {
		id, err = h.services.Bootstrap(input.Username, input.Password)
	}
	if err != nil {
		if h.log != nil {
			h.log.Infow("auth_sign_up_failed", "username", input.Username, "by", creator, "err", err)
		}
		if errors.Is(err, service.ErrSignUpClosed) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.log != nil {
		h.log.Infow("operator_created", "id", id, "username", input.Username, "by", creator)
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// @Summary      Operator sign-in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      authCredentials  true  "Credentials"
// @Success      200   {object}  map[string]string  "token"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /auth/sign-in [post]
func (h *Handler) signIn(c *gin.Context) {
	var input authCredentials
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}

	token, err := h.services.GenerateToken(input.Username, input.Password)
	if err != nil {
		if h.log != nil {
			h.log.Infow("auth_sign_in_failed", "username", input.Username, "err", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
