package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/gndumbri/arbiter-ai-sub001/internal/adjudication"
	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/redisx"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/chunker"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/classifier"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/gatekeeper"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/indexer"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/staging"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/supervisor"
	"github.com/gndumbri/arbiter-ai-sub001/internal/jobs"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/services"
)

type Services struct {
	Sessions     services.SessionDirectory
	Entitlements services.Entitlements
	Rulebooks    services.RulebookDirectory
	Arbiter      services.Adjudicator
	Keeper       gatekeeper.Gatekeeper

	// Job infra
	JobRegistry *jobs.Registry
	Worker      *jobs.Worker
}

func wireServices(db *gorm.DB, log *logger.Logger, repos Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	area, err := staging.New(log)
	if err != nil {
		return Services{}, fmt.Errorf("init staging area: %w", err)
	}

	keeper, err := gatekeeper.New(log, db, repos.Documents, repos.Jobs, repos.Blocklist, clients.Scanner, clients.Parser, area)
	if err != nil {
		return Services{}, fmt.Errorf("init gatekeeper: %w", err)
	}

	tok, err := chunker.NewTokenizer()
	if err != nil {
		return Services{}, fmt.Errorf("init tokenizer: %w", err)
	}
	chk, err := chunker.New(log, tok)
	if err != nil {
		return Services{}, fmt.Errorf("init chunker: %w", err)
	}
	cls, err := classifier.New(log, clients.Parser, clients.OpenAI)
	if err != nil {
		return Services{}, fmt.Errorf("init classifier: %w", err)
	}
	ix, err := indexer.New(log, clients.OpenAI, clients.VectorStore)
	if err != nil {
		return Services{}, fmt.Errorf("init indexer: %w", err)
	}

	ingestHandler, err := supervisor.NewHandler(log, clients.Parser, cls, chk, ix, repos.Chunks)
	if err != nil {
		return Services{}, fmt.Errorf("init ingestion supervisor: %w", err)
	}

	jobRegistry := jobs.NewRegistry()
	if err := jobRegistry.Register(ingestHandler); err != nil {
		return Services{}, err
	}

	worker, err := jobs.NewWorker(db, log, repos.Jobs, repos.Documents, clients.VectorStore, area, jobRegistry)
	if err != nil {
		return Services{}, fmt.Errorf("init job worker: %w", err)
	}

	sessions, err := services.NewSessionDirectory(log)
	if err != nil {
		return Services{}, fmt.Errorf("init session directory: %w", err)
	}

	limiter, err := redisx.NewSlidingWindowLimiter(log, clients.Redis)
	if err != nil {
		return Services{}, fmt.Errorf("init rate limiter: %w", err)
	}
	entitlements, err := services.NewEntitlements(log, limiter)
	if err != nil {
		return Services{}, fmt.Errorf("init entitlements: %w", err)
	}

	rulebooks, err := services.NewRulebookDirectory(log, repos.Documents, repos.Jobs, clients.VectorStore, clients.Bucket, keeper)
	if err != nil {
		return Services{}, fmt.Errorf("init rulebook directory: %w", err)
	}

	recorder, err := adjudication.NewRecorder(log, repos.AuditTrail)
	if err != nil {
		return Services{}, fmt.Errorf("init audit recorder: %w", err)
	}
	expander, err := adjudication.NewExpander(log, clients.OpenAI)
	if err != nil {
		return Services{}, fmt.Errorf("init query expander: %w", err)
	}
	retriever, err := adjudication.NewRetriever(log, clients.OpenAI, clients.VectorStore, repos.Chunks, repos.Documents)
	if err != nil {
		return Services{}, fmt.Errorf("init retriever: %w", err)
	}
	rerankStep, err := adjudication.NewRerankStep(log, clients.Reranker)
	if err != nil {
		return Services{}, fmt.Errorf("init rerank step: %w", err)
	}
	resolver, err := adjudication.NewResolver(log)
	if err != nil {
		return Services{}, fmt.Errorf("init hierarchy resolver: %w", err)
	}
	generator, err := adjudication.NewGenerator(log, clients.OpenAI)
	if err != nil {
		return Services{}, fmt.Errorf("init verdict generator: %w", err)
	}

	arbiter, err := services.NewAdjudicator(log, expander, retriever, rerankStep, resolver, generator, recorder)
	if err != nil {
		return Services{}, fmt.Errorf("init adjudicator: %w", err)
	}

	return Services{
		Sessions:     sessions,
		Entitlements: entitlements,
		Rulebooks:    rulebooks,
		Arbiter:      arbiter,
		Keeper:       keeper,
		JobRegistry:  jobRegistry,
		Worker:       worker,
	}, nil
}
