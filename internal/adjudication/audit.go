package adjudication

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/repos"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
	"github.com/gndumbri/arbiter-ai-sub001/internal/utils"
)

const (
	OutcomeAnswered    = "answered"
	OutcomeRejected    = "rejected"
	OutcomeRateLimited = "rate_limited"
	OutcomeFailed      = "failed"

	defaultAuditWriteTimeoutSecs = 5
)

// Entry is one adjudication worth of audit state, assembled by the caller
// after the verdict (or its failure) is known.
type Entry struct {
	TenantID      uuid.UUID
	SessionID     uuid.UUID
	Question      string
	Expansion     *Expansion
	Outcome       string
	Summary       string
	Reasoning     string
	Confidence    float64
	CitationIDs   []uuid.UUID
	ConflictCount int
	Degraded      []string
	Latency       time.Duration
}

// Recorder persists audit entries off the request path and attaches player
// feedback to them later.
type Recorder interface {
	// Record returns the id the row will carry so the response can hand it
	// to the player for feedback.
	Record(entry *Entry) uuid.UUID
	AttachFeedback(ctx context.Context, tenantID, id uuid.UUID, signal string) error
}

type recorder struct {
	log          *logger.Logger
	records      repos.AuditRecordRepo
	writeTimeout time.Duration
}

func NewRecorder(log *logger.Logger, records repos.AuditRecordRepo) (Recorder, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if records == nil {
		return nil, fmt.Errorf("audit record repo required")
	}
	timeoutSecs := utils.GetEnvAsInt("AUDIT_WRITE_TIMEOUT_SECS", defaultAuditWriteTimeoutSecs, log)
	if timeoutSecs < 1 {
		timeoutSecs = defaultAuditWriteTimeoutSecs
	}
	return &recorder{
		log:          log.With("service", "AuditRecorder"),
		records:      records,
		writeTimeout: time.Duration(timeoutSecs) * time.Second,
	}, nil
}

// Record writes the entry without blocking the caller. The write runs on a
// detached context because the response has already gone out; a failed write
// costs an audit row, never an answer.
func (rc *recorder) Record(entry *Entry) uuid.UUID {
	if entry == nil {
		return uuid.Nil
	}
	rec := rowFrom(entry)
	rec.ID = uuid.New()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), rc.writeTimeout)
		defer cancel()
		if _, err := rc.records.Create(ctx, nil, rec); err != nil {
			rc.log.Warn("audit record write failed",
				"tenant_id", entry.TenantID,
				"outcome", entry.Outcome,
				"error", err)
		}
	}()
	return rec.ID
}

func (rc *recorder) AttachFeedback(ctx context.Context, tenantID, id uuid.UUID, signal string) error {
	if signal != types.FeedbackUp && signal != types.FeedbackDown {
		return apierr.Validation(fmt.Errorf("feedback signal must be %q or %q", types.FeedbackUp, types.FeedbackDown))
	}
	rec, err := rc.records.GetByID(ctx, nil, tenantID, id)
	if err != nil {
		return apierr.Internal(fmt.Errorf("load audit record: %w", err))
	}
	if rec == nil {
		return apierr.NotFound(fmt.Errorf("audit record %s not found", id))
	}
	if err := rc.records.AttachFeedback(ctx, nil, tenantID, id, signal); err != nil {
		return apierr.Internal(fmt.Errorf("attach feedback: %w", err))
	}
	return nil
}

func rowFrom(entry *Entry) *types.AuditRecord {
	rec := &types.AuditRecord{
		TenantID:       entry.TenantID,
		SessionID:      entry.SessionID,
		QueryText:      entry.Question,
		VerdictSummary: entry.Summary,
		ReasoningChain: entry.Reasoning,
		Confidence:     entry.Confidence,
		ConflictCount:  entry.ConflictCount,
		Outcome:        entry.Outcome,
		LatencyMS:      entry.Latency.Milliseconds(),
	}
	if entry.Expansion != nil {
		if raw, err := json.Marshal(entry.Expansion); err == nil {
			rec.ExpandedQuery = raw
		}
	}
	if len(entry.CitationIDs) > 0 {
		if raw, err := json.Marshal(entry.CitationIDs); err == nil {
			rec.CitationIDs = raw
		}
	}
	if len(entry.Degraded) > 0 {
		if raw, err := json.Marshal(entry.Degraded); err == nil {
			rec.DegradedPaths = raw
		}
	}
	return rec
}
