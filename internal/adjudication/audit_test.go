package adjudication

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
)

type fakeAuditRepo struct {
	mu        sync.Mutex
	calls     int
	created   []*types.AuditRecord
	createErr error
	done      chan struct{}

	rec      *types.AuditRecord
	getErr   error
	attached map[uuid.UUID]string
}

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{
		done:     make(chan struct{}, 4),
		attached: map[uuid.UUID]string{},
	}
}

func (f *fakeAuditRepo) Create(_ context.Context, _ *gorm.DB, rec *types.AuditRecord) (*types.AuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	defer func() { f.done <- struct{}{} }()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, rec)
	return rec, nil
}

func (f *fakeAuditRepo) GetByID(_ context.Context, _ *gorm.DB, _, _ uuid.UUID) (*types.AuditRecord, error) {
	return f.rec, f.getErr
}

func (f *fakeAuditRepo) AttachFeedback(_ context.Context, _ *gorm.DB, _ uuid.UUID, id uuid.UUID, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[id] = signal
	return nil
}

func (f *fakeAuditRepo) waitForWrite(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("audit write never happened")
	}
}

func newTestRecorder(t *testing.T, repo *fakeAuditRepo) Recorder {
	t.Helper()
	rc, err := NewRecorder(newTestLogger(t), repo)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	return rc
}

func TestRecordWritesOffTheRequestPath(t *testing.T) {
	repo := newFakeAuditRepo()
	rc := newTestRecorder(t, repo)

	tenant := uuid.MustParse("3f6c9f04-52d1-41b8-8f2e-6ab90de11c27")
	session := uuid.MustParse("8a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d")
	auditID := rc.Record(&Entry{
		TenantID:      tenant,
		SessionID:     session,
		Question:      "can the vagabond move into a hostile clearing?",
		Expansion:     &Expansion{Rewritten: "Vagabond movement into hostile clearings"},
		Outcome:       OutcomeAnswered,
		Summary:       "Yes, movement is allowed.",
		Reasoning:     "The movement rules place no hostility restriction.",
		Confidence:    0.82,
		CitationIDs:   []uuid.UUID{chunkID(1), chunkID(4)},
		ConflictCount: 1,
		Degraded:      []string{DegradedDense},
		Latency:       1500 * time.Millisecond,
	})
	repo.waitForWrite(t)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.created) != 1 {
		t.Fatalf("records written: want=1 got=%d", len(repo.created))
	}
	rec := repo.created[0]
	if auditID == uuid.Nil || rec.ID != auditID {
		t.Fatalf("audit id: returned=%s row=%s", auditID, rec.ID)
	}
	if rec.TenantID != tenant || rec.SessionID != session {
		t.Fatalf("identity fields: %+v", rec)
	}
	if rec.QueryText != "can the vagabond move into a hostile clearing?" || rec.Outcome != OutcomeAnswered {
		t.Fatalf("query fields: %+v", rec)
	}
	if rec.Confidence != 0.82 || rec.ConflictCount != 1 || rec.LatencyMS != 1500 {
		t.Fatalf("metric fields: %+v", rec)
	}
	if !strings.Contains(string(rec.ExpandedQuery), "Vagabond movement") {
		t.Fatalf("expanded query not serialized: %s", rec.ExpandedQuery)
	}
	if !strings.Contains(string(rec.CitationIDs), chunkID(4).String()) {
		t.Fatalf("citation ids not serialized: %s", rec.CitationIDs)
	}
	if !strings.Contains(string(rec.DegradedPaths), DegradedDense) {
		t.Fatalf("degraded paths not serialized: %s", rec.DegradedPaths)
	}
}

func TestRecordWriteFailureIsSwallowed(t *testing.T) {
	repo := newFakeAuditRepo()
	repo.createErr = errors.New("db down")
	rc := newTestRecorder(t, repo)

	rc.Record(&Entry{
		TenantID: uuid.New(),
		Question: "q",
		Outcome:  OutcomeFailed,
	})
	repo.waitForWrite(t)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.calls != 1 || len(repo.created) != 0 {
		t.Fatalf("failed write bookkeeping: calls=%d created=%d", repo.calls, len(repo.created))
	}
}

func TestRecordNilEntryIgnored(t *testing.T) {
	repo := newFakeAuditRepo()
	rc := newTestRecorder(t, repo)

	if id := rc.Record(nil); id != uuid.Nil {
		t.Fatalf("nil entry produced an id: %s", id)
	}
	rc.Record(&Entry{TenantID: uuid.New(), Question: "q", Outcome: OutcomeAnswered})
	repo.waitForWrite(t)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.calls != 1 {
		t.Fatalf("nil entry reached the repo: calls=%d", repo.calls)
	}
}

func TestAttachFeedbackValidatesSignal(t *testing.T) {
	repo := newFakeAuditRepo()
	rc := newTestRecorder(t, repo)

	err := rc.AttachFeedback(context.Background(), uuid.New(), uuid.New(), "sideways")
	if code := apierr.CodeOf(err); code != apierr.CodeValidation {
		t.Fatalf("code: want=%s got=%s", apierr.CodeValidation, code)
	}
	if len(repo.attached) != 0 {
		t.Fatalf("invalid signal stored: %v", repo.attached)
	}
}

func TestAttachFeedbackUnknownRecord(t *testing.T) {
	repo := newFakeAuditRepo()
	rc := newTestRecorder(t, repo)

	err := rc.AttachFeedback(context.Background(), uuid.New(), uuid.New(), types.FeedbackUp)
	if code := apierr.CodeOf(err); code != apierr.CodeNotFound {
		t.Fatalf("code: want=%s got=%s", apierr.CodeNotFound, code)
	}
}

func TestAttachFeedbackHappyPath(t *testing.T) {
	repo := newFakeAuditRepo()
	tenant := uuid.New()
	auditID := uuid.New()
	repo.rec = &types.AuditRecord{ID: auditID, TenantID: tenant}
	rc := newTestRecorder(t, repo)

	if err := rc.AttachFeedback(context.Background(), tenant, auditID, types.FeedbackDown); err != nil {
		t.Fatalf("AttachFeedback: %v", err)
	}
	if repo.attached[auditID] != types.FeedbackDown {
		t.Fatalf("feedback not stored: %v", repo.attached)
	}
}
