package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/gcp"
	"github.com/gndumbri/arbiter-ai-sub001/internal/db"
	"github.com/gndumbri/arbiter-ai-sub001/internal/observability"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	cancel   context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	// Metrics come up before the provider resolvers so bootstrap
	// counters land on the real registry.
	observability.Init(log)

	mode, emulatorHost, err := gcp.ModeFromEnv()
	if err != nil {
		log.Error("Invalid object storage mode", "error", err)
		log.Sync()
		return nil, fmt.Errorf("object storage mode: %w", err)
	}
	cfg.ObjectStorageMode = string(mode)
	cfg.StorageEmulatorHost = emulatorHost

	vp, err := resolveVectorProviderConfig(cfg.VectorProvider, mode)
	if err != nil {
		log.Error("Invalid vector provider config", "error", err)
		log.Sync()
		return nil, fmt.Errorf("vector provider config: %w", err)
	}
	cfg.VectorProvider = string(vp.Provider)
	cfg.VectorProviderModeSource = vp.ModeSource
	cfg.QdrantURL = vp.Qdrant.URL
	cfg.QdrantCollection = vp.Qdrant.Collection
	cfg.QdrantNamespacePrefix = vp.Qdrant.NamespacePrefix
	cfg.QdrantVectorDim = vp.Qdrant.VectorDim

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	clientset, err := wireClients(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, reposet, clientset)
	if err != nil {
		clientset.Close()
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, reposet, serviceset)
	middleware := wireMiddleware(log, serviceset)
	router := wireRouter(log, handlerset, middleware, observability.Current())

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Clients:  clientset,
		Services: serviceset,
	}, nil
}

func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Services.Worker != nil {
		a.Services.Worker.Start(ctx)
	}

	if m := observability.Current(); m != nil {
		m.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
		m.StartPostgresCollector(ctx, a.Log, a.DB)
		if a.Clients.Redis != nil {
			m.StartRedisCollector(ctx, a.Log, a.Clients.Redis.Options().Addr)
		}
		m.StartJobQueueCollector(ctx, a.Log, a.DB)
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}
