package handlers

import (
	"ticket_desk/internal/hub"
	"ticket_desk/internal/logger"
	"ticket_desk/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services, the event hub and logging.
type Handler struct {
	services *service.Service
	hub      *hub.Hub
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies. h may be nil
// when no WebSocket stream is served.
func NewHandler(services *service.Service, h *hub.Hub, log *logger.Logger) *Handler {
	return &Handler{services: services, hub: h, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", h.health)

	h.registerAuthRoutes(router)
	h.registerAPIRoutes(router)

	// Status and card events, same port
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		// anonymous only while the terminal has no operator
		auth.POST("/sign-up", h.optionalOperatorMiddleware, h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		h.registerKioskRoutes(api)

		// operator-only
		protected := api.Group("", h.operatorMiddleware)
		h.registerSettingsRoutes(protected)
		h.registerLogRoutes(protected)
	}
}

// The kiosk screen itself has no operator session.
func (h *Handler) registerKioskRoutes(api *gin.RouterGroup) {
	api.GET("/status", h.getStatus)
	api.GET("/status/long", h.getStatusLong)

	// Body example: {"code":"TICKET-1"}
	api.POST("/scan", h.scan)
	api.POST("/async", h.setAsync)
	api.POST("/sync", h.triggerSync)

	cards := api.Group("/cards")
	{
		cards.GET("", h.listCards)
		cards.DELETE("/:id", h.removeCard)
	}
}

func (h *Handler) registerSettingsRoutes(api *gin.RouterGroup) {
	settings := api.Group("/settings")
	{
		settings.GET("", h.getSettings)
		settings.PUT("/event", h.setEvent)
		settings.DELETE("/event", h.resetEvent)
		settings.PUT("/preferences", h.updatePreferences)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
}
