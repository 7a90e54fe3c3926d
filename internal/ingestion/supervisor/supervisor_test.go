package supervisor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/chunker"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/classifier"
	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/staging"
	"github.com/gndumbri/arbiter-ai-sub001/internal/jobs"
	"github.com/gndumbri/arbiter-ai-sub001/internal/parse"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/repos"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
)

var testTenantID = uuid.MustParse("9d2e1a77-3b60-4f4b-a2c9-5f8e0b6d4a13")

type fakeParser struct {
	doc        *parse.Document
	parseErr   error
	parseCalls int
	gotPath    string
}

func (f *fakeParser) Name() string { return "local" }

func (f *fakeParser) Parse(_ context.Context, path string) (*parse.Document, error) {
	f.parseCalls++
	f.gotPath = path
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.doc, nil
}

func (f *fakeParser) PageCount(_ context.Context, _ string) (int, error) { return 0, nil }

func (f *fakeParser) FirstPagesText(_ context.Context, _ string, _ int) (string, error) {
	return "", nil
}

type fakeClassifier struct {
	verdict *classifier.Verdict
	err     error
	gotPath string
	gotGame string
}

func (f *fakeClassifier) Classify(_ context.Context, path, gameName string) (*classifier.Verdict, error) {
	f.gotPath = path
	f.gotGame = gameName
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

type fakeChunker struct {
	pieces []chunker.Chunk
	err    error
	calls  int
}

func (f *fakeChunker) Chunk(_ *parse.Document) ([]chunker.Chunk, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pieces, nil
}

type fakeIndexer struct {
	err    error
	gotDoc *types.RulesetDocument
	got    []*types.RuleChunk
}

func (f *fakeIndexer) Index(_ context.Context, doc *types.RulesetDocument, chunks []*types.RuleChunk) error {
	f.gotDoc = doc
	f.got = chunks
	if f.err != nil {
		return f.err
	}
	return nil
}

type fakeChunkRepo struct {
	created         []*types.RuleChunk
	deleted         []uuid.UUID
	createErr       error
	deleteBeforeAdd bool
}

func (f *fakeChunkRepo) CreateInBatches(_ context.Context, _ *gorm.DB, chunks []*types.RuleChunk) ([]*types.RuleChunk, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if len(f.deleted) > 0 && len(f.created) == 0 {
		f.deleteBeforeAdd = true
	}
	f.created = append(f.created, chunks...)
	return chunks, nil
}

func (f *fakeChunkRepo) GetByIDs(_ context.Context, _ *gorm.DB, _ []uuid.UUID) ([]*types.RuleChunk, error) {
	return nil, nil
}

func (f *fakeChunkRepo) SearchLexical(_ context.Context, _ *gorm.DB, _ []string, _ string, _ int) ([]repos.LexicalHit, error) {
	return nil, nil
}

func (f *fakeChunkRepo) GetBySectionRef(_ context.Context, _ *gorm.DB, _ []string, _ string, _ int) ([]*types.RuleChunk, error) {
	return nil, nil
}

func (f *fakeChunkRepo) CountByDocument(_ context.Context, _ *gorm.DB, _ uuid.UUID) (int64, error) {
	return 0, nil
}

func (f *fakeChunkRepo) DeleteByDocument(_ context.Context, _ *gorm.DB, documentID uuid.UUID) error {
	f.deleted = append(f.deleted, documentID)
	return nil
}

type fakeJobRepo struct {
	updates map[uuid.UUID]map[string]interface{}
	stages  []string
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{updates: map[uuid.UUID]map[string]interface{}{}}
}

func (f *fakeJobRepo) Create(_ context.Context, _ *gorm.DB, job *types.IngestionJob) (*types.IngestionJob, error) {
	return job, nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, _ *gorm.DB, _ uuid.UUID) (*types.IngestionJob, error) {
	return nil, nil
}

func (f *fakeJobRepo) GetLatestByDocument(_ context.Context, _ *gorm.DB, _ uuid.UUID) (*types.IngestionJob, error) {
	return nil, nil
}

func (f *fakeJobRepo) ClaimNextRunnable(_ context.Context, _ *gorm.DB) (*types.IngestionJob, error) {
	return nil, nil
}

func (f *fakeJobRepo) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	merged, ok := f.updates[id]
	if !ok {
		merged = map[string]interface{}{}
		f.updates[id] = merged
	}
	for k, v := range updates {
		merged[k] = v
	}
	if stage, ok := updates["stage"].(string); ok {
		f.stages = append(f.stages, stage)
	}
	return nil
}

func (f *fakeJobRepo) Heartbeat(_ context.Context, _ *gorm.DB, _ uuid.UUID) error { return nil }

func (f *fakeJobRepo) FailStalled(_ context.Context, _ *gorm.DB, _ time.Duration) ([]*types.IngestionJob, error) {
	return nil, nil
}

type fakeDocRepo struct {
	doc     *types.RulesetDocument
	updates map[uuid.UUID]map[string]interface{}
}

func newFakeDocRepo(doc *types.RulesetDocument) *fakeDocRepo {
	return &fakeDocRepo{doc: doc, updates: map[uuid.UUID]map[string]interface{}{}}
}

func (f *fakeDocRepo) Create(_ context.Context, _ *gorm.DB, doc *types.RulesetDocument) (*types.RulesetDocument, bool, error) {
	return doc, true, nil
}

func (f *fakeDocRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.RulesetDocument, error) {
	if f.doc != nil && f.doc.ID == id {
		return f.doc, nil
	}
	return nil, nil
}

func (f *fakeDocRepo) GetByIDs(_ context.Context, _ *gorm.DB, _ []uuid.UUID) ([]*types.RulesetDocument, error) {
	return nil, nil
}

func (f *fakeDocRepo) GetByHash(_ context.Context, _ *gorm.DB, _ uuid.UUID, _, _ string) (*types.RulesetDocument, error) {
	return nil, nil
}

func (f *fakeDocRepo) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	merged, ok := f.updates[id]
	if !ok {
		merged = map[string]interface{}{}
		f.updates[id] = merged
	}
	for k, v := range updates {
		merged[k] = v
	}
	return nil
}

func (f *fakeDocRepo) ListExpired(_ context.Context, _ *gorm.DB, _ time.Time, _ int) ([]*types.RulesetDocument, error) {
	return nil, nil
}

type runFixture struct {
	h          jobs.Handler
	jc         *jobs.Context
	job        *types.IngestionJob
	doc        *types.RulesetDocument
	parser     *fakeParser
	classifier *fakeClassifier
	chunker    *fakeChunker
	indexer    *fakeIndexer
	chunks     *fakeChunkRepo
	jobRepo    *fakeJobRepo
	docRepo    *fakeDocRepo
	area       *staging.Area
}

func newRunFixture(t *testing.T) *runFixture {
	t.Helper()
	t.Setenv("STAGING_DIR", t.TempDir())

	log := newTestLogger(t)
	area, err := staging.New(log)
	if err != nil {
		t.Fatalf("staging.New: %v", err)
	}

	doc := &types.RulesetDocument{
		ID:        uuid.New(),
		TenantID:  testTenantID,
		GameName:  "Root",
		GameSlug:  "root",
		Namespace: "t_" + testTenantID.String(),
		Status:    types.DocumentStatusProcessing,
	}
	job := &types.IngestionJob{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		TenantID:   testTenantID,
		JobType:    types.JobTypeRulebookIngest,
		Stage:      types.JobStageGatekeeper,
		Status:     types.JobStatusRunning,
	}

	fx := &runFixture{
		job: job,
		doc: doc,
		parser: &fakeParser{doc: &parse.Document{
			Blocks: []parse.Block{{Kind: parse.BlockParagraph, Text: "Birds rule the canopy.", Page: 1}},
			Pages:  42,
		}},
		classifier: &fakeClassifier{verdict: &classifier.Verdict{IsRulebook: true, GameGuess: "Root"}},
		chunker: &fakeChunker{pieces: []chunker.Chunk{
			{Text: "Birds rule the canopy.", SectionHeader: "Faction Overview", SectionPath: "FACTIONS > Faction Overview", Page: 3, Type: types.ChunkTypeText, TokenCount: 240},
			{Text: "Cost | Effect", SectionHeader: "Crafting", SectionPath: "FACTIONS > Crafting", Page: 7, Type: types.ChunkTypeTable, TokenCount: 120, CrossRefs: []string{"§7.2", "page 14"}},
			{Text: "Move along connected clearings.", SectionHeader: "Movement", SectionPath: "CORE RULES > Movement", Page: 11, Type: types.ChunkTypeText, TokenCount: 310},
		}},
		indexer: &fakeIndexer{},
		chunks:  &fakeChunkRepo{},
		jobRepo: newFakeJobRepo(),
		docRepo: newFakeDocRepo(doc),
		area:    area,
	}

	h, err := NewHandler(log, fx.parser, fx.classifier, fx.chunker, fx.indexer, fx.chunks)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	fx.h = h
	fx.jc = jobs.NewContext(context.Background(), newTestDB(t), job, fx.jobRepo, fx.docRepo, area)
	return fx
}

// newTestDB opens an in-memory database so the chunk-swap transaction runs
// against a real BEGIN/COMMIT; the fakes ignore the tx handle itself.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { _ = log.Sync() })
	return log
}

func TestRunHappyPath(t *testing.T) {
	fx := newRunFixture(t)

	if err := fx.h.Run(fx.jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantPath := fx.area.SourcePath(fx.job.ID)
	if fx.classifier.gotPath != wantPath || fx.parser.gotPath != wantPath {
		t.Fatalf("staged path: want=%q classifier=%q parser=%q", wantPath, fx.classifier.gotPath, fx.parser.gotPath)
	}
	if fx.classifier.gotGame != "Root" {
		t.Fatalf("classifier game: want=%q got=%q", "Root", fx.classifier.gotGame)
	}

	wantStages := []string{types.JobStageClassifier, types.JobStageParser, types.JobStageIndexer}
	if len(fx.jobRepo.stages) != len(wantStages) {
		t.Fatalf("stage advances: want=%v got=%v", wantStages, fx.jobRepo.stages)
	}
	for i, want := range wantStages {
		if fx.jobRepo.stages[i] != want {
			t.Fatalf("stage advances: want=%v got=%v", wantStages, fx.jobRepo.stages)
		}
	}

	if len(fx.chunks.deleted) != 1 || fx.chunks.deleted[0] != fx.doc.ID {
		t.Fatalf("chunk replace: want delete of %s, got %v", fx.doc.ID, fx.chunks.deleted)
	}
	if !fx.chunks.deleteBeforeAdd {
		t.Fatalf("previous chunks must be deleted before the new set is written")
	}
	if len(fx.chunks.created) != 3 {
		t.Fatalf("persisted chunks: want=3 got=%d", len(fx.chunks.created))
	}
	for i, row := range fx.chunks.created {
		if row.ID == uuid.Nil {
			t.Fatalf("chunk %d: id must be assigned before persisting", i)
		}
		if row.DocumentID != fx.doc.ID || row.Ordinal != i {
			t.Fatalf("chunk %d: document_id=%s ordinal=%d", i, row.DocumentID, row.Ordinal)
		}
	}
	table := fx.chunks.created[1]
	if table.ChunkType != types.ChunkTypeTable || table.PageNumber == nil || *table.PageNumber != 7 {
		t.Fatalf("table chunk: %+v", table)
	}
	if got := string(table.CrossRefs); got != `["§7.2","page 14"]` {
		t.Fatalf("cross_refs json: got %s", got)
	}

	if len(fx.indexer.got) != 3 || fx.indexer.gotDoc != fx.doc {
		t.Fatalf("indexer input: doc=%v chunks=%d", fx.indexer.gotDoc, len(fx.indexer.got))
	}

	upd := fx.docRepo.updates[fx.doc.ID]
	if upd["status"] != types.DocumentStatusIndexed {
		t.Fatalf("document status: got %v", upd)
	}
	if upd["chunk_count"] != 3 || upd["page_count"] != 42 {
		t.Fatalf("document counters: got %v", upd)
	}
	if upd["failure_code"] != "" || upd["failure_detail"] != "" {
		t.Fatalf("failure fields must be cleared: got %v", upd)
	}
}

func TestRunNotARulebook(t *testing.T) {
	fx := newRunFixture(t)
	fx.classifier.verdict = &classifier.Verdict{IsRulebook: false, GameGuess: "", Reason: "product catalog"}

	err := fx.h.Run(fx.jc)
	if apierr.CodeOf(err) != apierr.CodeNotARulebook {
		t.Fatalf("want NOT_A_RULEBOOK got %v", err)
	}
	if !strings.Contains(err.Error(), "product catalog") {
		t.Fatalf("reason must surface in the error: %v", err)
	}
	if fx.parser.parseCalls != 0 || fx.chunker.calls != 0 {
		t.Fatalf("rejected uploads must not be parsed or chunked")
	}
	if len(fx.chunks.created) != 0 {
		t.Fatalf("rejected uploads must not persist chunks")
	}
}

func TestRunNotARulebookWithoutReason(t *testing.T) {
	fx := newRunFixture(t)
	fx.classifier.verdict = &classifier.Verdict{IsRulebook: false}

	err := fx.h.Run(fx.jc)
	if apierr.CodeOf(err) != apierr.CodeNotARulebook {
		t.Fatalf("want NOT_A_RULEBOOK got %v", err)
	}
	if !strings.Contains(err.Error(), "not a rulebook") {
		t.Fatalf("fallback reason missing: %v", err)
	}
}

func TestRunClassifierFailurePropagates(t *testing.T) {
	fx := newRunFixture(t)
	fx.classifier.err = apierr.ProviderTransient(fmt.Errorf("model timeout"))

	err := fx.h.Run(fx.jc)
	if apierr.CodeOf(err) != apierr.CodeProviderFailure {
		t.Fatalf("want PROVIDER_TRANSIENT got %v", err)
	}
	if fx.parser.parseCalls != 0 {
		t.Fatalf("parser must not run when classification fails")
	}
}

func TestRunParserFailure(t *testing.T) {
	fx := newRunFixture(t)
	fx.parser.parseErr = fmt.Errorf("encrypted document")

	err := fx.h.Run(fx.jc)
	if apierr.CodeOf(err) != apierr.CodeParsingFailure {
		t.Fatalf("want PARSING_FAILURE got %v", err)
	}
	if !strings.Contains(err.Error(), "local") {
		t.Fatalf("parser name must surface in the error: %v", err)
	}
	if fx.chunker.calls != 0 {
		t.Fatalf("chunker must not run on parse failure")
	}
}

func TestRunChunkerFailurePropagates(t *testing.T) {
	fx := newRunFixture(t)
	fx.chunker.err = apierr.Parsing(fmt.Errorf("document produced no chunks"))

	err := fx.h.Run(fx.jc)
	if apierr.CodeOf(err) != apierr.CodeParsingFailure {
		t.Fatalf("want PARSING_FAILURE got %v", err)
	}
	if len(fx.chunks.created) != 0 {
		t.Fatalf("no chunks must persist when chunking fails")
	}
}

func TestRunPersistFailure(t *testing.T) {
	fx := newRunFixture(t)
	fx.chunks.createErr = fmt.Errorf("connection reset")

	err := fx.h.Run(fx.jc)
	if apierr.CodeOf(err) != apierr.CodeInternal {
		t.Fatalf("want INTERNAL got %v", err)
	}
	if fx.indexer.got != nil {
		t.Fatalf("indexer must not run when chunks fail to persist")
	}
}

func TestRunIndexerFailureLeavesDocumentUnfinished(t *testing.T) {
	fx := newRunFixture(t)
	fx.indexer.err = apierr.IndexMismatch(fmt.Errorf("indexed 2 of 3 vectors"))

	err := fx.h.Run(fx.jc)
	if apierr.CodeOf(err) != apierr.CodeIndexMismatch {
		t.Fatalf("want INDEX_VERIFICATION_MISMATCH got %v", err)
	}
	if upd, ok := fx.docRepo.updates[fx.doc.ID]; ok && upd["status"] == types.DocumentStatusIndexed {
		t.Fatalf("document must not be INDEXED when verification fails: %v", upd)
	}
}

func TestRunMissingDocument(t *testing.T) {
	fx := newRunFixture(t)
	fx.docRepo.doc = nil

	err := fx.h.Run(fx.jc)
	if apierr.CodeOf(err) != apierr.CodeInternal {
		t.Fatalf("want INTERNAL got %v", err)
	}
	if fx.parser.parseCalls != 0 {
		t.Fatalf("nothing must run without the document row")
	}
}
