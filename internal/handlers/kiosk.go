package handlers

import (
	"errors"
	"net/http"

	"ticket_desk/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	statusOK        = "ok"
	statusStarted   = "started"
	statusRunning   = "already_running"
	statusRemoved   = "removed"
	statusModeSaved = "mode_saved"

	errScanBusy        = "a scan is already being checked"
	errScanFailed      = "failed to check code"
	errCardNotFound    = "card not found"
	errSaveFailed      = "failed to save settings"
	errInvalidBodyPref = "invalid body: "
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// ScanRequest is the payload of a scan. Code is whatever the scanner or
// keyboard produced; surrounding whitespace is ignored.
type ScanRequest struct {
	Code string `json:"code" example:"TICKET-1"`
}

// AsyncRequest switches offline scanning on or off.
type AsyncRequest struct {
	Enabled *bool `json:"enabled" binding:"required" example:"true"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Sync status
// @Description  Returns the status text computed by the last refresh tick.
// @Tags         kiosk
// @Produce      json
// @Success      200  {object}  service.StatusReport
// @Router       /api/v1/status [get]
func (h *Handler) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.GetStatus())
}

// @Summary      Detailed sync status
// @Tags         kiosk
// @Produce      json
// @Success      200  {object}  map[string]string  "text"
// @Router       /api/v1/status/long [get]
func (h *Handler) getStatusLong(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"text": h.services.GetStatus().LongText})
}

// @Summary      Check a scanned code
// @Description  Blank input is ignored (204). While another code is being checked the scan is rejected (409) unless the busy policy queues it.
// @Tags         kiosk
// @Accept       json
// @Produce      json
// @Param        body  body      ScanRequest  true  "Scanned code"
// @Success      200   {object}  service.ScanOutcome
// @Success      204
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/scan [post]
func (h *Handler) scan(c *gin.Context) {
	var req ScanRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}

	out, err := h.services.Scan(c.Request.Context(), req.Code)
	switch {
	case errors.Is(err, service.ErrEmptyInput):
		c.Status(http.StatusNoContent)
	case errors.Is(err, service.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": errScanBusy})
	case err != nil:
		// only a queued scan whose request went away ends up here
		h.logAndJSONError(c, http.StatusServiceUnavailable, errScanFailed, "scan_failed", err)
	default:
		c.JSON(http.StatusOK, out)
	}
}

// @Summary      Toggle offline scanning
// @Tags         kiosk
// @Accept       json
// @Produce      json
// @Param        body  body      AsyncRequest  true  "Mode"
// @Success      200   {object}  map[string]interface{}  "status, async_mode"
// @Failure      400   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/async [post]
func (h *Handler) setAsync(c *gin.Context) {
	var req AsyncRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := h.services.ToggleAsync(c.Request.Context(), *req.Enabled); err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errSaveFailed, "async_toggle_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusModeSaved, "async_mode": *req.Enabled})
}

// @Summary      Start a sync pass
// @Description  Returns immediately; a pass that is already running is not restarted.
// @Tags         kiosk
// @Produce      json
// @Success      202  {object}  map[string]string
// @Router       /api/v1/sync [post]
func (h *Handler) triggerSync(c *gin.Context) {
	status := statusRunning
	if h.services.TriggerSync() {
		status = statusStarted
	}
	c.JSON(http.StatusAccepted, gin.H{"status": status})
}

// @Summary      Visible result cards
// @Tags         kiosk
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, cards"
// @Router       /api/v1/cards [get]
func (h *Handler) listCards(c *gin.Context) {
	cards := h.services.Cards()
	c.JSON(http.StatusOK, gin.H{
		"count": len(cards),
		"cards": cards,
	})
}

// @Summary      Dismiss a result card
// @Tags         kiosk
// @Produce      json
// @Param        id   path      string  true  "Card id"
// @Success      200  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/cards/{id} [delete]
func (h *Handler) removeCard(c *gin.Context) {
	if !h.services.Remove(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": errCardNotFound})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusRemoved})
}
