package handlers

import (
	"errors"
	"net/http"

	"ticket_desk/internal/service"

	"github.com/gin-gonic/gin"
)

// EventRequest attaches the terminal to an event.
type EventRequest struct {
	APIURL      string `json:"api_url" binding:"required,url" example:"https://pretix.eu/api/v1/checkin/demo"`
	APIKey      string `json:"api_key" example:"secret"`
	APIVersion  int    `json:"api_version" example:"4"`
	ShowInfo    *bool  `json:"show_info"`
	AllowSearch *bool  `json:"allow_search"`
}

func (r EventRequest) toConfig() service.EventConfig {
	cfg := service.EventConfig{
		APIURL:      r.APIURL,
		APIKey:      r.APIKey,
		APIVersion:  r.APIVersion,
		ShowInfo:    true,
		AllowSearch: true,
	}
	if r.ShowInfo != nil {
		cfg.ShowInfo = *r.ShowInfo
	}
	if r.AllowSearch != nil {
		cfg.AllowSearch = *r.AllowSearch
	}
	return cfg
}

// settingsError maps a failed config mutation to 500. PersistenceError
// asks the operator to retry the whole change.
func (h *Handler) settingsError(c *gin.Context, logKey string, err error) {
	var perr *service.PersistenceError
	if errors.As(err, &perr) {
		h.logAndJSONError(c, http.StatusInternalServerError, errSaveFailed+"; retry", logKey, err, "op", perr.Op)
		return
	}
	h.logAndJSONError(c, http.StatusInternalServerError, errSaveFailed, logKey, err)
}

// @Summary      Current settings
// @Description  The API key is never returned.
// @Tags         settings
// @Produce      json
// @Success      200  {object}  service.SettingsView
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/settings [get]
// @Security     BearerAuth
func (h *Handler) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.GetSettings())
}

// @Summary      Configure event
// @Description  Stores credentials, drops the previous event's tickets and cards and starts a sync.
// @Tags         settings
// @Accept       json
// @Produce      json
// @Param        body  body      EventRequest  true  "Event"
// @Success      200   {object}  service.SettingsView
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/settings/event [put]
// @Security     BearerAuth
func (h *Handler) setEvent(c *gin.Context) {
	var req EventRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := h.services.SetEvent(c.Request.Context(), req.toConfig()); err != nil {
		h.settingsError(c, "settings_set_event_failed", err)
		return
	}
	c.JSON(http.StatusOK, h.services.GetSettings())
}

// @Summary      Reset event
// @Tags         settings
// @Produce      json
// @Success      200  {object}  service.SettingsView
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/settings/event [delete]
// @Security     BearerAuth
func (h *Handler) resetEvent(c *gin.Context) {
	if err := h.services.ResetEvent(c.Request.Context()); err != nil {
		h.settingsError(c, "settings_reset_event_failed", err)
		return
	}
	c.JSON(http.StatusOK, h.services.GetSettings())
}

// @Summary      Update display preferences
// @Description  Omitted fields are left unchanged.
// @Tags         settings
// @Accept       json
// @Produce      json
// @Param        body  body      service.PreferencesUpdate  true  "Preferences"
// @Success      200   {object}  service.SettingsView
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/settings/preferences [put]
// @Security     BearerAuth
func (h *Handler) updatePreferences(c *gin.Context) {
	var req service.PreferencesUpdate
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := h.services.UpdatePreferences(c.Request.Context(), req); err != nil {
		h.settingsError(c, "settings_update_preferences_failed", err)
		return
	}
	c.JSON(http.StatusOK, h.services.GetSettings())
}
