package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gndumbri/arbiter-ai-sub001/internal/adjudication"
	"github.com/gndumbri/arbiter-ai-sub001/internal/clients/redisx"
	"github.com/gndumbri/arbiter-ai-sub001/internal/http/response"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/ctxutil"
	"github.com/gndumbri/arbiter-ai-sub001/internal/services"
)

type fakeEntitlements struct {
	decision   *redisx.Decision
	err        error
	gotSession *ctxutil.SessionData
}

func (f *fakeEntitlements) TierFor(session *ctxutil.SessionData) string { return services.TierFree }
func (f *fakeEntitlements) LimitFor(tier string) int                    { return 30 }
func (f *fakeEntitlements) Check(_ context.Context, session *ctxutil.SessionData) (*redisx.Decision, error) {
	f.gotSession = session
	return f.decision, f.err
}

type fakeArbiter struct {
	ruling      *services.Ruling
	err         error
	gotQuestion string
	calls       int

	refusalOutcome  string
	refusalQuestion string

	feedbackTenant uuid.UUID
	feedbackAudit  uuid.UUID
	feedbackSignal string
	feedbackErr    error
}

func (f *fakeArbiter) Adjudicate(_ context.Context, _ *ctxutil.SessionData, question string) (*services.Ruling, error) {
	f.calls++
	f.gotQuestion = question
	return f.ruling, f.err
}

func (f *fakeArbiter) RecordRefusal(_ *ctxutil.SessionData, question, outcome string) {
	f.refusalQuestion = question
	f.refusalOutcome = outcome
}

func (f *fakeArbiter) Feedback(_ context.Context, tenantID, auditID uuid.UUID, signal string) error {
	f.feedbackTenant = tenantID
	f.feedbackAudit = auditID
	f.feedbackSignal = signal
	return f.feedbackErr
}

func newAdjudicateRouter(t *testing.T, sd *ctxutil.SessionData, ents *fakeEntitlements, arb *fakeArbiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewAdjudicateHandler(newTestLogger(t), ents, arb)
	r := gin.New()
	r.Use(withSession(sd))
	r.POST("/api/adjudicate", h.Adjudicate)
	r.POST("/api/feedback", h.Feedback)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) response.ErrorEnvelope {
	t.Helper()
	var env response.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return env
}

func TestAdjudicateHappyPath(t *testing.T) {
	auditID := uuid.MustParse("99999999-9999-4999-8999-999999999999")
	ents := &fakeEntitlements{decision: &redisx.Decision{Allowed: true, Remaining: 29}}
	arb := &fakeArbiter{ruling: &services.Ruling{
		AuditID: auditID,
		Verdict: &adjudication.Verdict{Summary: "Yes, the move is legal.", Confidence: 0.9},
	}}
	r := newAdjudicateRouter(t, testSession(t), ents, arb)

	rec := postJSON(t, r, "/api/adjudicate", gin.H{"question": "Can the Vagabond move through a torch clearing?"})

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "29" {
		t.Fatalf("unexpected remaining header: got=%q want=%q", got, "29")
	}
	if arb.gotQuestion != "Can the Vagabond move through a torch clearing?" {
		t.Fatalf("question not forwarded: got=%q", arb.gotQuestion)
	}
	var out services.Ruling
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode ruling: %v", err)
	}
	if out.AuditID != auditID {
		t.Fatalf("unexpected audit id: got=%s want=%s", out.AuditID, auditID)
	}
	if out.Verdict == nil || out.Verdict.Summary != "Yes, the move is legal." {
		t.Fatalf("verdict not round-tripped: %+v", out.Verdict)
	}
}

func TestAdjudicateRateLimitedRecordsRefusal(t *testing.T) {
	ents := &fakeEntitlements{
		decision: &redisx.Decision{Allowed: false, Remaining: 0, RetryAfter: 9 * time.Second},
		err:      apierr.RateLimited(9 * time.Second),
	}
	arb := &fakeArbiter{}
	r := newAdjudicateRouter(t, testSession(t), ents, arb)

	rec := postJSON(t, r, "/api/adjudicate", gin.H{"question": "How many cards can I draw?"})

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "9" {
		t.Fatalf("unexpected retry-after: got=%q want=%q", got, "9")
	}
	env := decodeEnvelope(t, rec)
	if env.Error.Code != apierr.CodeRateLimited {
		t.Fatalf("unexpected code: got=%q want=%q", env.Error.Code, apierr.CodeRateLimited)
	}
	if arb.calls != 0 {
		t.Fatalf("pipeline ran on a refused request: calls=%d", arb.calls)
	}
	if arb.refusalOutcome != adjudication.OutcomeRateLimited {
		t.Fatalf("refusal not audited: got=%q want=%q", arb.refusalOutcome, adjudication.OutcomeRateLimited)
	}
	if arb.refusalQuestion != "How many cards can I draw?" {
		t.Fatalf("refusal lost the question: got=%q", arb.refusalQuestion)
	}
}

func TestAdjudicateRequiresSession(t *testing.T) {
	ents := &fakeEntitlements{decision: &redisx.Decision{Allowed: true, Remaining: 29}}
	arb := &fakeArbiter{}
	r := newAdjudicateRouter(t, nil, ents, arb)

	rec := postJSON(t, r, "/api/adjudicate", gin.H{"question": "anything"})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusUnauthorized)
	}
	env := decodeEnvelope(t, rec)
	if env.Error.Code != apierr.CodeUnauthorized {
		t.Fatalf("unexpected code: got=%q want=%q", env.Error.Code, apierr.CodeUnauthorized)
	}
	if arb.calls != 0 {
		t.Fatalf("pipeline ran without a session: calls=%d", arb.calls)
	}
}

func TestAdjudicateRejectsMalformedBody(t *testing.T) {
	ents := &fakeEntitlements{decision: &redisx.Decision{Allowed: true, Remaining: 29}}
	arb := &fakeArbiter{}
	r := newAdjudicateRouter(t, testSession(t), ents, arb)

	req := httptest.NewRequest(http.MethodPost, "/api/adjudicate", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusBadRequest)
	}
	env := decodeEnvelope(t, rec)
	if env.Error.Code != apierr.CodeValidation {
		t.Fatalf("unexpected code: got=%q want=%q", env.Error.Code, apierr.CodeValidation)
	}
}

func TestFeedbackForwardsToService(t *testing.T) {
	session := testSession(t)
	ents := &fakeEntitlements{decision: &redisx.Decision{Allowed: true, Remaining: 29}}
	arb := &fakeArbiter{}
	r := newAdjudicateRouter(t, session, ents, arb)
	auditID := uuid.MustParse("44444444-4444-4444-8444-444444444444")

	rec := postJSON(t, r, "/api/feedback", gin.H{"audit_id": auditID.String(), "signal": "up"})

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if arb.feedbackTenant != session.TenantID {
		t.Fatalf("tenant not forwarded: got=%s want=%s", arb.feedbackTenant, session.TenantID)
	}
	if arb.feedbackAudit != auditID {
		t.Fatalf("audit id not forwarded: got=%s want=%s", arb.feedbackAudit, auditID)
	}
	if arb.feedbackSignal != "up" {
		t.Fatalf("signal not forwarded: got=%q", arb.feedbackSignal)
	}
}

func TestFeedbackServiceErrorMapped(t *testing.T) {
	ents := &fakeEntitlements{decision: &redisx.Decision{Allowed: true, Remaining: 29}}
	arb := &fakeArbiter{feedbackErr: apierr.NotFound(context.Canceled)}
	r := newAdjudicateRouter(t, testSession(t), ents, arb)

	rec := postJSON(t, r, "/api/feedback", gin.H{
		"audit_id": uuid.New().String(),
		"signal":   "down",
	})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusNotFound)
	}
	env := decodeEnvelope(t, rec)
	if env.Error.Code != apierr.CodeNotFound {
		t.Fatalf("unexpected code: got=%q want=%q", env.Error.Code, apierr.CodeNotFound)
	}
}
