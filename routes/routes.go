package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scrap-pickup-api/handlers"
	"scrap-pickup-api/logger"
	"scrap-pickup-api/metrics"
	"scrap-pickup-api/middleware"
	"scrap-pickup-api/models"
)

// Options configures the router.
type Options struct {
	CORSOrigin string
	Log        *zap.Logger
}

// NewRouter builds the engine with the shared middleware chain and every route.
func NewRouter(h *handlers.Handler, resolver middleware.TokenResolver, opts Options) *gin.Engine {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(logger.Middleware(log))
	r.Use(metrics.Middleware())
	r.Use(middleware.CORS(opts.CORSOrigin))

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	SetupRoutes(r, h, resolver, log)
	return r
}

func SetupRoutes(r *gin.Engine, h *handlers.Handler, resolver middleware.TokenResolver, log *zap.Logger) {
	api := r.Group("/api")
	api.Use(middleware.Authenticate(resolver, log))

	// ── Public routes ──────────────────────────────────────────────
	{
		api.GET("/users", h.GetUser)
		api.POST("/users", h.CreateUser)
		api.GET("/dealers", h.ListDealers)
		api.GET("/scrapTypes", h.ListScrapTypes)
		api.GET("/state-machine", h.GetStateMachineInfo)

		// bearer token or ?phone=
		api.GET("/requests", h.ListRequests)
	}

	// ── Authenticated routes ───────────────────────────────────────
	auth := api.Group("")
	auth.Use(middleware.AuthRequired())
	{
		auth.GET("/requests/:id", h.GetRequest)
		auth.PUT("/requests/:id", h.UpdateRequest)
		auth.POST("/requests",
			middleware.RoleRequired(models.RoleCustomer, models.RoleAdmin),
			h.CreateRequest)
	}

	// ── Admin routes ───────────────────────────────────────────────
	admin := api.Group("")
	admin.Use(middleware.RoleRequired(models.RoleAdmin))
	{
		admin.POST("/users/assignRole", h.AssignRole)

		admin.POST("/dealers", h.CreateDealer)
		admin.PUT("/dealers/:id", h.UpdateDealer)
		admin.DELETE("/dealers/:id", h.DeleteDealer)

		admin.POST("/scrapTypes", h.CreateScrapType)
		admin.PUT("/scrapTypes/:id", h.UpdateScrapType)
		admin.DELETE("/scrapTypes/:id", h.DeleteScrapType)

		admin.POST("/requests/:id/assign", h.AssignDealer)

		admin.GET("/admin/users", h.ListUsers)
		admin.POST("/admin/reconcile", h.Reconcile)
	}
}
