package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/dan09-stack/qcea-queue/internal/config"
	"github.com/dan09-stack/qcea-queue/internal/handler"
	"github.com/dan09-stack/qcea-queue/internal/middleware"
	"github.com/dan09-stack/qcea-queue/internal/model"
)

// RegisterRoutes wires every endpoint of the queue service. Public
// endpoints (kiosk and display clients, no session) carry the Redis
// rate limiter; management endpoints require a bearer token with the
// FACULTY or ADMIN role, cancel-all requires ADMIN.
func RegisterRoutes(e *echo.Echo, qh *handler.QueueHandler, dh *handler.DirectoryHandler, jwtSecret string, rl config.RateLimitConfig, rdb *redis.Client) {
	e.GET("/healthz", handler.Health)

	limited := e.Group("/v1", middleware.NewTokenBucket(rl, rdb))
	limited.POST("/queue", qh.RequestQueue)
	limited.DELETE("/queue/:personID", qh.CancelQueue)
	limited.GET("/faculty", dh.ListFaculty)
	limited.GET("/faculty/:name/queue", qh.Snapshot)
	limited.GET("/persons/:id", dh.GetPerson)

	// SSE feeds are long-lived; they bypass the limiter so a display
	// reconnecting in a loop cannot starve the kiosk endpoints.
	e.GET("/v1/faculty/:name/queue/stream", qh.Stream)
	e.GET("/v1/queue/stream", qh.StreamAll)

	mgmt := e.Group("/v1")
	mgmt.Use(middleware.JWTAuth(jwtSecret))
	mgmt.Use(middleware.RequireRole(string(model.RoleFaculty), string(model.RoleAdmin)))
	mgmt.POST("/faculty/:name/next", qh.CallNext)
	mgmt.PATCH("/faculty/:name/presence", qh.SetPresence)

	admin := e.Group("/v1")
	admin.Use(middleware.JWTAuth(jwtSecret))
	admin.Use(middleware.RequireRole(string(model.RoleAdmin)))
	admin.POST("/queue/cancel-all", qh.CancelAll)
}
