package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/gndumbri/arbiter-ai-sub001/internal/http/handlers"
	"github.com/gndumbri/arbiter-ai-sub001/internal/http/middleware"
	"github.com/gndumbri/arbiter-ai-sub001/internal/observability"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	HealthHandler     *handlers.HealthHandler
	RulebookHandler   *handlers.RulebookHandler
	AdjudicateHandler *handlers.AdjudicateHandler
	AdminHandler      *handlers.AdminHandler

	SessionMiddleware *middleware.SessionMiddleware
	AdminMiddleware   *middleware.AdminMiddleware

	Metrics *observability.Metrics
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("arbiter-api"))
	r.Use(middleware.AttachTraceContext())
	r.Use(middleware.CORS())
	r.Use(middleware.RequestLogger(cfg.Log))
	r.Use(middleware.Metrics(cfg.Metrics))

	// Public
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	{
		if cfg.SessionMiddleware != nil {
			api.Use(cfg.SessionMiddleware.Require())
		}

		if cfg.RulebookHandler != nil {
			api.POST("/rulebooks", cfg.RulebookHandler.Upload)
			api.GET("/rulebooks/:id/status", cfg.RulebookHandler.Status)
			api.DELETE("/rulebooks/:id", cfg.RulebookHandler.Expire)
		}

		if cfg.AdjudicateHandler != nil {
			api.POST("/adjudicate", cfg.AdjudicateHandler.Adjudicate)
			api.POST("/feedback", cfg.AdjudicateHandler.Feedback)
		}
	}

	admin := r.Group("/admin")
	{
		if cfg.AdminMiddleware != nil {
			admin.Use(cfg.AdminMiddleware.Require())
		}

		if cfg.AdminHandler != nil {
			admin.POST("/blocklist", cfg.AdminHandler.AddBlocklist)
			admin.POST("/rulebooks/official", cfg.AdminHandler.IngestOfficial)
			admin.GET("/index/stats", cfg.AdminHandler.IndexStats)
			admin.POST("/sessions", cfg.AdminHandler.IssueSession)
		}
	}

	return r
}
