package jobs

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/pinecone"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/staging"
	"github.com/gndumbri/arbiter-ai-sub001/internal/observability"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/repos"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const (
	defaultConcurrency       = 4
	defaultPollIntervalSecs  = 1
	defaultStaleAfterSecs    = 600
	defaultSweepIntervalSecs = 60
	defaultExpiryBatch       = 100
)

// Worker claims queued ingestion jobs and dispatches them to registered
// handlers. It also runs the janitor: failing jobs whose heartbeat went
// silent and expiring temporary documents whose TTL has passed.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	jobs     repos.IngestionJobRepo
	docs     repos.RulesetDocumentRepo
	store    pinecone.VectorStore
	area     *staging.Area
	registry *Registry

	concurrency   int
	pollInterval  time.Duration
	staleAfter    time.Duration
	sweepInterval time.Duration
	expiryBatch   int
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, jobRepo repos.IngestionJobRepo, docRepo repos.RulesetDocumentRepo, store pinecone.VectorStore, area *staging.Area, registry *Registry) (*Worker, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("missing logger")
	}
	log := baseLog.With("component", "JobWorker")
	if db == nil {
		return nil, fmt.Errorf("missing db")
	}
	if jobRepo == nil {
		return nil, fmt.Errorf("missing ingestion job repo")
	}
	if docRepo == nil {
		return nil, fmt.Errorf("missing ruleset document repo")
	}
	if store == nil {
		return nil, fmt.Errorf("missing vector store")
	}
	if area == nil {
		return nil, fmt.Errorf("missing staging area")
	}
	if registry == nil {
		return nil, fmt.Errorf("missing handler registry")
	}

	concurrency := utils.GetEnvAsInt("WORKER_CONCURRENCY", defaultConcurrency, log)
	if concurrency < 1 {
		concurrency = 1
	}
	pollSecs := utils.GetEnvAsInt("WORKER_POLL_INTERVAL_SECS", defaultPollIntervalSecs, log)
	if pollSecs < 1 {
		pollSecs = defaultPollIntervalSecs
	}
	staleSecs := utils.GetEnvAsInt("JOB_STALE_AFTER_SECS", defaultStaleAfterSecs, log)
	if staleSecs < 1 {
		staleSecs = defaultStaleAfterSecs
	}
	sweepSecs := utils.GetEnvAsInt("SWEEP_INTERVAL_SECS", defaultSweepIntervalSecs, log)
	if sweepSecs < 1 {
		sweepSecs = defaultSweepIntervalSecs
	}
	expiryBatch := utils.GetEnvAsInt("EXPIRY_SWEEP_BATCH", defaultExpiryBatch, log)
	if expiryBatch < 1 {
		expiryBatch = defaultExpiryBatch
	}

	return &Worker{
		db:            db,
		log:           log,
		jobs:          jobRepo,
		docs:          docRepo,
		store:         store,
		area:          area,
		registry:      registry,
		concurrency:   concurrency,
		pollInterval:  time.Duration(pollSecs) * time.Second,
		staleAfter:    time.Duration(staleSecs) * time.Second,
		sweepInterval: time.Duration(sweepSecs) * time.Second,
		expiryBatch:   expiryBatch,
	}, nil
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting ingestion worker pool",
		"concurrency", w.concurrency,
		"poll_interval", w.pollInterval,
		"stale_after", w.staleAfter,
	)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
	go w.janitorLoop(ctx)
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			job, err := w.jobs.ClaimNextRunnable(ctx, nil)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			w.execute(ctx, workerID, job)
		}
	}
}

func (w *Worker) execute(ctx context.Context, workerID int, job *types.IngestionJob) {
	jc := NewContext(ctx, w.db, job, w.jobs, w.docs, w.area)
	started := time.Now()

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("No handler registered for job_type",
			"worker_id", workerID,
			"job_type", job.JobType,
			"job_id", job.ID,
		)
		if err := jc.Fail("dispatch", types.JobResultProcessingFailed, &missingHandlerError{JobType: job.JobType}); err != nil {
			w.log.Error("Failed to settle undispatchable job", "job_id", job.ID, "error", err)
		}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panic",
				"worker_id", workerID,
				"job_id", job.ID,
				"stage", job.Stage,
				"panic", r,
			)
			w.observeJob(job, "panic", started)
			if err := jc.Fail(job.Stage, types.JobResultProcessingFailed, errFromRecover(r)); err != nil {
				w.log.Error("Failed to settle panicked job", "job_id", job.ID, "error", err)
			}
		}
	}()

	if runErr := h.Run(jc); runErr != nil {
		result := resultCodeFor(runErr)
		w.log.Warn("Ingestion job failed",
			"worker_id", workerID,
			"job_id", job.ID,
			"document_id", job.DocumentID,
			"stage", jc.Job.Stage,
			"result_code", result,
			"error", runErr,
		)
		w.observeJob(job, "failed", started)
		if err := jc.Fail(jc.Job.Stage, result, runErr); err != nil {
			w.log.Error("Failed to settle failed job", "job_id", job.ID, "error", err)
		}
		return
	}

	if err := jc.Shred(); err != nil {
		w.log.Warn("Failed to shred staged source", "job_id", job.ID, "error", err)
	}
	if err := jc.Complete(types.JobResultIndexed); err != nil {
		w.log.Error("Failed to mark job succeeded", "job_id", job.ID, "error", err)
		return
	}
	w.observeJob(job, "succeeded", started)
	w.log.Info("Ingestion job complete",
		"worker_id", workerID,
		"job_id", job.ID,
		"document_id", job.DocumentID,
	)
}

func (w *Worker) observeJob(job *types.IngestionJob, status string, started time.Time) {
	if metrics := observability.Current(); metrics != nil {
		metrics.ObserveActivity(job.Stage, job.JobType, status, time.Since(started))
	}
}

func (w *Worker) janitorLoop(ctx context.Context) {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Janitor loop stopped")
			return
		case <-ticker.C:
			w.sweepStalled(ctx)
			w.sweepExpired(ctx)
		}
	}
}

// sweepStalled settles jobs whose worker stopped heartbeating, most likely a
// crash mid-stage. The document fails with it; the uploader resubmits to get
// a fresh job rather than this one re-running half-done work.
func (w *Worker) sweepStalled(ctx context.Context) {
	stalled, err := w.jobs.FailStalled(ctx, nil, w.staleAfter)
	if err != nil {
		w.log.Warn("Stall sweep failed", "error", err)
		return
	}
	for _, job := range stalled {
		updates := map[string]interface{}{
			"status":         types.DocumentStatusFailed,
			"failure_code":   apierr.CodeStalledJob,
			"failure_detail": "worker heartbeat lost",
		}
		if err := w.docs.UpdateFields(ctx, nil, job.DocumentID, updates); err != nil {
			w.log.Error("Failed to fail document of stalled job",
				"job_id", job.ID,
				"document_id", job.DocumentID,
				"error", err,
			)
		}
		if err := w.area.Remove(job.ID); err != nil {
			w.log.Warn("Failed to remove staging dir of stalled job", "job_id", job.ID, "error", err)
		}
		w.log.Warn("Stalled ingestion job failed", "job_id", job.ID, "document_id", job.DocumentID)
	}
}

// sweepExpired retires temporary documents past their TTL. Vectors go first;
// a document is only marked EXPIRED once its namespace no longer serves it.
// Chunk rows stay behind for audit.
func (w *Worker) sweepExpired(ctx context.Context) {
	expired, err := w.docs.ListExpired(ctx, nil, time.Now(), w.expiryBatch)
	if err != nil {
		w.log.Warn("Expiry sweep failed", "error", err)
		return
	}
	for _, doc := range expired {
		if err := w.store.DeleteByDocument(ctx, doc.Namespace, doc.ID.String()); err != nil {
			w.log.Warn("Failed to delete vectors of expired document",
				"document_id", doc.ID,
				"namespace", doc.Namespace,
				"error", err,
			)
			continue
		}
		if err := w.docs.UpdateFields(ctx, nil, doc.ID, map[string]interface{}{
			"status": types.DocumentStatusExpired,
		}); err != nil {
			w.log.Error("Failed to mark document expired", "document_id", doc.ID, "error", err)
			continue
		}
		w.log.Info("Document expired", "document_id", doc.ID, "namespace", doc.Namespace)
	}
}

func resultCodeFor(err error) string {
	if apierr.CodeOf(err) == apierr.CodeNotARulebook {
		return types.JobResultNotARulebook
	}
	return types.JobResultProcessingFailed
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for job_type=" + e.JobType
}

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
