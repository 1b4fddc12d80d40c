package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/dvlab/dvlab-api/internal/handler"
	"github.com/dvlab/dvlab-api/internal/middleware"
	"github.com/dvlab/dvlab-api/internal/models"
	"github.com/dvlab/dvlab-api/internal/service"
	"github.com/dvlab/dvlab-api/pkg/config"
	"github.com/dvlab/dvlab-api/pkg/logger"
	corsmiddleware "github.com/dvlab/dvlab-api/pkg/middleware/cors"
	reqidmiddleware "github.com/dvlab/dvlab-api/pkg/middleware/requestid"
	"github.com/dvlab/dvlab-api/pkg/storage"
)

type routerDeps struct {
	metrics  *service.MetricsService
	schedule *service.ScheduleService
	auth     *service.AuthService
	wishlist *service.WishlistService
	uploads  *service.UploadService
	store    *storage.LocalStorage
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	metricsHandler := handler.NewMetricsHandler(deps.metrics, deps.schedule)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/summary", metricsHandler.Summary)
	r.Static("/uploads/files", deps.store.Dir())

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.SessionCookie(cfg.Schedule.CookieName, cfg.Schedule.CookieSecure, cfg.Schedule.SessionTTL))
	// after SessionCookie so request logs carry the session id
	api.Use(logger.GinMiddleware(logr))
	api.Use(middleware.WithResponseMeta())

	requireUser := middleware.JWT(deps.auth)
	optionalUser := middleware.OptionalJWT(deps.auth)
	adminOnly := middleware.AdminOnly(deps.auth)

	scheduleHandler := handler.NewScheduleHandler(deps.schedule)
	schedule := api.Group("/schedule", optionalUser)
	schedule.POST("/session", scheduleHandler.InitSession)
	schedule.GET("/state", scheduleHandler.State)
	schedule.GET("/state/stream", scheduleHandler.Stream)
	schedule.GET("/events", scheduleHandler.Events)
	schedule.GET("/events.ics", scheduleHandler.EventsICS)

	googleHandler := handler.NewGoogleAuthHandler(deps.schedule, deps.auth, handler.ConsentRedirects{
		App:   cfg.Schedule.AppRedirect,
		Login: cfg.Schedule.LoginRedirect,
	}, logr.Named("consent"))
	authHandler := handler.NewAuthHandler(deps.schedule, deps.auth)
	auth := api.Group("/auth")
	auth.GET("/google/consent", googleHandler.Consent)
	auth.GET("/google/callback", googleHandler.Callback)
	auth.POST("/google/signin", googleHandler.SignIn)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/me", requireUser, authHandler.Me)

	wishlistHandler := handler.NewWishlistHandler(deps.wishlist, deps.auth)
	wishlist := api.Group("/wishlist")
	wishlist.GET("", optionalUser, wishlistHandler.List)
	wishlist.POST("/:id/book", wishlistHandler.Book)
	wishlistAdmin := wishlist.Group("", requireUser, adminOnly)
	wishlistAdmin.POST("", middleware.Audit(logr, models.AuditActionWishlistCreate, "wishlist"), wishlistHandler.Create)
	wishlistAdmin.GET("/export", wishlistHandler.Export)
	wishlistAdmin.PUT("/:id", middleware.Audit(logr, models.AuditActionWishlistUpdate, "wishlist"), wishlistHandler.Update)
	wishlistAdmin.PATCH("/:id/hidden", middleware.Audit(logr, models.AuditActionWishlistHide, "wishlist"), wishlistHandler.SetHidden)
	wishlistAdmin.DELETE("/:id", middleware.Audit(logr, models.AuditActionWishlistDelete, "wishlist"), wishlistHandler.Delete)

	uploadHandler := handler.NewUploadHandler(deps.uploads)
	uploads := api.Group("/uploads", requireUser, adminOnly)
	uploads.POST("", middleware.Audit(logr, models.AuditActionUpload, "upload"), uploadHandler.Upload)
	uploads.GET("", uploadHandler.List)

	return r
}
