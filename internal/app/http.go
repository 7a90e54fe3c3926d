package app

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/gndumbri/arbiter-ai-sub001/internal/http/handlers"
	httpMW "github.com/gndumbri/arbiter-ai-sub001/internal/http/middleware"
	"github.com/gndumbri/arbiter-ai-sub001/internal/observability"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/server"
)

type Middleware struct {
	Session *httpMW.SessionMiddleware
	Admin   *httpMW.AdminMiddleware
}

type Handlers struct {
	Health     *httpH.HealthHandler
	Rulebook   *httpH.RulebookHandler
	Adjudicate *httpH.AdjudicateHandler
	Admin      *httpH.AdminHandler
}

func wireHandlers(log *logger.Logger, repos Repos, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:     httpH.NewHealthHandler(),
		Rulebook:   httpH.NewRulebookHandler(log, services.Keeper, services.Rulebooks),
		Adjudicate: httpH.NewAdjudicateHandler(log, services.Entitlements, services.Arbiter),
		Admin:      httpH.NewAdminHandler(log, repos.Blocklist, services.Rulebooks, services.Sessions),
	}
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Session: httpMW.NewSessionMiddleware(log, services.Sessions),
		Admin:   httpMW.NewAdminMiddleware(log),
	}
}

func wireRouter(log *logger.Logger, handlers Handlers, middleware Middleware, metrics *observability.Metrics) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		Log:               log,
		HealthHandler:     handlers.Health,
		RulebookHandler:   handlers.Rulebook,
		AdjudicateHandler: handlers.Adjudicate,
		AdminHandler:      handlers.Admin,
		SessionMiddleware: middleware.Session,
		AdminMiddleware:   middleware.Admin,
		Metrics:           metrics,
	})
}
