package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"finrep/internal/handler"
	"finrep/internal/middleware"
)

// Setup configures the Gin engine with all routes and middleware.
func Setup(
	tokens middleware.TokenValidator,
	allowedOrigins []string,
	gatherer prometheus.Gatherer,
	runH *handler.RunHandler,
	healthH *handler.HealthHandler,
) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(allowedOrigins))

	// Health checks
	r.GET("/healthz", healthH.Liveness)
	r.GET("/readyz", healthH.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(tokens))

	runs := v1.Group("/runs")
	runs.POST("", runH.Submit)
	runs.GET("/:id", runH.Get)
	runs.GET("/:id/receipts", runH.Receipts)
	runs.GET("/:id/verify", runH.Verify)
	runs.GET("/:id/report.xlsx", runH.Report)

	return r
}
