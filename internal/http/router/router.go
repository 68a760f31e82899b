package router

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"smartsmeta.app/bot/internal/http/handler"
	"smartsmeta.app/bot/internal/http/middleware"
)

type RouterConfig struct {
	ServiceName  string
	OTelEnabled  bool
	IsProduction bool
}

// New builds the status server. Order matters: the OTel span wraps
// recovery so panics are recorded against the request trace.
func New(status *handler.StatusHandler, cfg RouterConfig) *gin.Engine {
	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if cfg.OTelEnabled {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	router.GET("/health", status.Health)
	router.GET("/rates", status.Rates)

	return router
}
