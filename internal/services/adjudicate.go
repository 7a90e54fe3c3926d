package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/adjudication"
	"github.com/gndumbri/arbiter-ai-sub001/internal/observability"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/ctxutil"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
)

// Ruling is the adjudicate response: the verdict plus the audit id the
// player can send feedback against.
type Ruling struct {
	AuditID   uuid.UUID             `json:"audit_id"`
	Verdict   *adjudication.Verdict `json:"verdict"`
	Conflicts int                   `json:"conflicts_detected"`
	Degraded  []string              `json:"degraded,omitempty"`
	LatencyMS int64                 `json:"latency_ms"`
}

// Adjudicator runs a question through the full pipeline: expand, retrieve,
// rerank, resolve hierarchy, generate, audit. Every outcome lands one audit
// row, including refusals recorded by the rate limiter upstream.
type Adjudicator interface {
	Adjudicate(ctx context.Context, session *ctxutil.SessionData, question string) (*Ruling, error)
	// RecordRefusal audits a request that never reached the pipeline.
	RecordRefusal(session *ctxutil.SessionData, question, outcome string)
	Feedback(ctx context.Context, tenantID, auditID uuid.UUID, signal string) error
}

type adjudicator struct {
	log       *logger.Logger
	expander  adjudication.Expander
	retriever adjudication.Retriever
	reranker  adjudication.RerankStep
	resolver  adjudication.Resolver
	generator adjudication.Generator
	audit     adjudication.Recorder
}

func NewAdjudicator(
	log *logger.Logger,
	expander adjudication.Expander,
	retriever adjudication.Retriever,
	reranker adjudication.RerankStep,
	resolver adjudication.Resolver,
	generator adjudication.Generator,
	audit adjudication.Recorder,
) (Adjudicator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if expander == nil || retriever == nil || reranker == nil || resolver == nil || generator == nil {
		return nil, fmt.Errorf("pipeline stages required")
	}
	if audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	return &adjudicator{
		log:       log.With("service", "Adjudicator"),
		expander:  expander,
		retriever: retriever,
		reranker:  reranker,
		resolver:  resolver,
		generator: generator,
		audit:     audit,
	}, nil
}

func (a *adjudicator) Adjudicate(ctx context.Context, session *ctxutil.SessionData, question string) (*Ruling, error) {
	if session == nil || session.TenantID == uuid.Nil {
		return nil, apierr.Unauthorized(fmt.Errorf("session required"))
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apierr.Validation(fmt.Errorf("question required"))
	}

	started := time.Now()
	namespaces := append([]string{types.TenantNamespace(session.TenantID)}, session.OfficialNamespaces...)

	exp := a.expander.Expand(ctx, session.GameSlug, question)
	var degraded []string
	if exp.Degraded {
		degraded = append(degraded, adjudication.DegradedExpander)
	}

	retrieval, err := a.retriever.Retrieve(ctx, namespaces, exp)
	if err != nil {
		a.settleFailure(session, question, exp, degraded, started, err)
		return nil, err
	}
	degraded = append(degraded, retrieval.Degraded...)

	ordered, rerankDegraded := a.reranker.Order(ctx, question, retrieval.Candidates)
	if rerankDegraded {
		degraded = append(degraded, adjudication.DegradedReranker)
	}

	resolution := a.resolver.Resolve(ordered)

	verdict, err := a.generator.Generate(ctx, session.GameSlug, question, resolution.Candidates)
	if err != nil {
		a.settleFailure(session, question, exp, degraded, started, err)
		return nil, err
	}

	citationIDs := make([]uuid.UUID, 0, len(verdict.Citations))
	for _, c := range verdict.Citations {
		citationIDs = append(citationIDs, c.ChunkID)
	}
	latency := time.Since(started)
	auditID := a.audit.Record(&adjudication.Entry{
		TenantID:      session.TenantID,
		SessionID:     session.SessionID,
		Question:      question,
		Expansion:     exp,
		Outcome:       adjudication.OutcomeAnswered,
		Summary:       verdict.Summary,
		Reasoning:     verdict.Reasoning,
		Confidence:    verdict.Confidence,
		CitationIDs:   citationIDs,
		ConflictCount: resolution.Conflicts,
		Degraded:      degraded,
		Latency:       latency,
	})

	if metrics := observability.Current(); metrics != nil {
		metrics.ObserveAdjudication(adjudication.OutcomeAnswered, latency)
		metrics.ObserveVerdictConfidence(verdict.Confidence)
		metrics.IncDegradedPath(degraded...)
		metrics.AddConflictsDetected(resolution.Conflicts)
	}
	a.log.Info("question adjudicated",
		"tenant_id", session.TenantID,
		"confidence", verdict.Confidence,
		"conflicts", resolution.Conflicts,
		"degraded", degraded,
		"latency_ms", latency.Milliseconds())
	return &Ruling{
		AuditID:   auditID,
		Verdict:   verdict,
		Conflicts: resolution.Conflicts,
		Degraded:  degraded,
		LatencyMS: latency.Milliseconds(),
	}, nil
}

func (a *adjudicator) RecordRefusal(session *ctxutil.SessionData, question, outcome string) {
	if session == nil {
		return
	}
	if metrics := observability.Current(); metrics != nil {
		metrics.ObserveAdjudication(outcome, 0)
	}
	a.audit.Record(&adjudication.Entry{
		TenantID:  session.TenantID,
		SessionID: session.SessionID,
		Question:  strings.TrimSpace(question),
		Outcome:   outcome,
	})
}

func (a *adjudicator) Feedback(ctx context.Context, tenantID, auditID uuid.UUID, signal string) error {
	if tenantID == uuid.Nil || auditID == uuid.Nil {
		return apierr.Validation(fmt.Errorf("tenant and audit id required"))
	}
	if err := a.audit.AttachFeedback(ctx, tenantID, auditID, signal); err != nil {
		return err
	}
	if metrics := observability.Current(); metrics != nil {
		metrics.IncFeedback(signal)
	}
	return nil
}

// settleFailure audits a pipeline error. Validation problems are the
// caller's, recorded as rejected; everything else is a failed adjudication.
func (a *adjudicator) settleFailure(session *ctxutil.SessionData, question string, exp *adjudication.Expansion, degraded []string, started time.Time, cause error) {
	outcome := adjudication.OutcomeFailed
	if apierr.CodeOf(cause) == apierr.CodeValidation {
		outcome = adjudication.OutcomeRejected
	}
	if metrics := observability.Current(); metrics != nil {
		metrics.ObserveAdjudication(outcome, time.Since(started))
	}
	a.audit.Record(&adjudication.Entry{
		TenantID:  session.TenantID,
		SessionID: session.SessionID,
		Question:  question,
		Expansion: exp,
		Outcome:   outcome,
		Degraded:  degraded,
		Latency:   time.Since(started),
	})
}
