package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jengzang/activity-records-go/internal/auth"
	"github.com/jengzang/activity-records-go/internal/handler"
	"github.com/jengzang/activity-records-go/internal/middleware"
)

// Default event ingestion limit per subject
const (
	DefaultEventRateLimit  = 600
	DefaultEventRateWindow = time.Minute
)

// Dependencies wires handlers and cross-cutting services into the router
type Dependencies struct {
	Events   *handler.EventHandler
	Places   *handler.PlaceHandler
	Records  *handler.RecordHandler
	JWT      *auth.JWTService // nil disables authentication
	Registry *prometheus.Registry
	Logger   *slog.Logger

	EventRateLimit  int
	EventRateWindow time.Duration
}

// SetupRouter builds the HTTP surface. ctx bounds background middleware goroutines.
func SetupRouter(ctx context.Context, deps Dependencies) *gin.Engine {
	if deps.EventRateLimit <= 0 {
		deps.EventRateLimit = DefaultEventRateLimit
	}
	if deps.EventRateWindow <= 0 {
		deps.EventRateWindow = DefaultEventRateWindow
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(deps.Logger))

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Activity records engine is running",
		})
	})

	if deps.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1")
	api.Use(middleware.Auth(deps.JWT))
	{
		events := api.Group("/events")
		events.Use(middleware.RateLimit(middleware.NewRateLimiter(ctx, deps.EventRateLimit, deps.EventRateWindow)))
		{
			events.POST("/activity", deps.Events.PostActivity)
			events.POST("/location", deps.Events.PostLocation)
			events.POST("/place", deps.Events.PostPlace)
		}

		api.GET("/activity/current", deps.Events.GetCurrentActivity)

		places := api.Group("/places")
		{
			places.GET("", deps.Places.ListPlaces)
			places.POST("", deps.Places.CreatePlace)
			places.GET("/:id/visit", deps.Places.GetOpenVisit)
		}

		records := api.Group("/records")
		{
			records.GET("/still", deps.Records.GetStillRecords)
			records.GET("/movement", deps.Records.GetMovementRecords)
			records.GET("/movement/:id", deps.Records.GetMovementByID)
			records.GET("/sleep", deps.Records.GetSleepSessions)
			records.GET("/visits", deps.Records.GetVisits)
			records.GET("/summary", deps.Records.GetSummary)
		}
	}

	return r
}
