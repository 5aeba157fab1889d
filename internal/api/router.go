package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"table-allocation-backend/config"
	"table-allocation-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestID(), mw.Logger(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Catalog reads are cached until the TTL passes or any write succeeds.
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	api := r.Group("/api")
	api.Use(rateLimiter, mw.Invalidate(cacheStore))
	{
		api.GET("/tables", caching, h.GetTables)
		api.DELETE("/tables/:id", h.DeleteTable)
		api.GET("/join-groups", caching, h.GetJoinGroups)
		api.GET("/sections", caching, h.GetSections)
		api.GET("/floor", h.GetFloor)

		api.GET("/availability", h.GetAvailability)
		api.GET("/availability/slots", h.GetSlots)

		api.POST("/bookings", h.CreateBooking)
		api.POST("/bookings/:id/allocate", h.AllocateBooking)
		api.PATCH("/bookings/:id/status", h.UpdateBookingStatus)

		api.POST("/conflicts/detect", h.DetectConflicts)

		walkins := api.Group("/walkins")
		walkins.POST("", h.StartWalkIn)
		walkins.GET("/:id", h.GetWalkIn)
		walkins.POST("/:id/guest", h.SubmitGuestSearch)
		walkins.POST("/:id/resolve", h.ResolveWalkIn)
		walkins.POST("/:id/confirm", h.ConfirmWalkIn)
		walkins.POST("/:id/back", h.BackWalkIn)
		walkins.DELETE("/:id", h.AbortWalkIn)

		priorities := api.Group("/priorities/:party_size")
		priorities.GET("", h.GetPriorities)
		priorities.PUT("", h.PutPriorities)
		priorities.POST("/move", h.MovePriority)
		priorities.POST("/generate", h.GeneratePriorities)
		priorities.POST("/repair", h.RepairPriorities)

		api.POST("/backfill/:date", h.RunBackfill)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
