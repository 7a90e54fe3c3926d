package jobs

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/gndumbri/arbiter-ai-sub001/internal/ingestion/staging"
	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/apierr"
	"github.com/gndumbri/arbiter-ai-sub001/internal/repos"
	"github.com/gndumbri/arbiter-ai-sub001/internal/types"
)

// Context carries everything a handler needs for one claimed job. Terminal
// transitions (Complete, Fail) settle both the job row and its document row,
// so a job never ends in a state its document contradicts.
type Context struct {
	Ctx  context.Context
	DB   *gorm.DB
	Job  *types.IngestionJob
	Jobs repos.IngestionJobRepo
	Docs repos.RulesetDocumentRepo
	Area *staging.Area
}

func NewContext(ctx context.Context, db *gorm.DB, job *types.IngestionJob, jobRepo repos.IngestionJobRepo, docRepo repos.RulesetDocumentRepo, area *staging.Area) *Context {
	return &Context{
		Ctx:  ctx,
		DB:   db,
		Job:  job,
		Jobs: jobRepo,
		Docs: docRepo,
		Area: area,
	}
}

// SourcePath is where the gatekeeper staged the uploaded file for this job.
func (c *Context) SourcePath() string {
	return c.Area.SourcePath(c.Job.ID)
}

// Advance records that the job entered a new stage. The heartbeat moves with
// it so a slow stage is not mistaken for a stalled one.
func (c *Context) Advance(stage string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"stage":        stage,
		"heartbeat_at": &now,
	}
	if err := c.Jobs.UpdateFields(c.Ctx, nil, c.Job.ID, updates); err != nil {
		return err
	}
	c.Job.Stage = stage
	c.Job.HeartbeatAt = &now
	return nil
}

func (c *Context) Heartbeat() error {
	return c.Jobs.Heartbeat(c.Ctx, nil, c.Job.ID)
}

// Shred destroys the staged source file. Called on the success path, after
// the vectors are verified, so the original upload never outlives its index.
func (c *Context) Shred() error {
	return c.Area.Shred(c.Job.ID)
}

// Complete marks the job succeeded with the given result code. The document
// row is the handler's to finish; by the time Complete runs it is already
// INDEXED with its chunk count.
func (c *Context) Complete(resultCode string) error {
	updates := map[string]interface{}{
		"status":      types.JobStatusSucceeded,
		"result_code": resultCode,
		"locked_at":   nil,
	}
	if err := c.Jobs.UpdateFields(c.Ctx, nil, c.Job.ID, updates); err != nil {
		return err
	}
	c.Job.Status = types.JobStatusSucceeded
	c.Job.ResultCode = resultCode
	c.Job.LockedAt = nil
	return nil
}

// Fail settles the job and its document in one sweep: the job keeps the
// coarse result code (NOT_A_RULEBOOK, PROCESSING_FAILED), the document keeps
// the finer failure code off the error itself, and the staged file is
// removed. Failed jobs are never retried; resubmitting the same file opens a
// fresh job.
func (c *Context) Fail(stage, resultCode string, jobErr error) error {
	detail := ""
	failureCode := resultCode
	if jobErr != nil {
		detail = jobErr.Error()
		failureCode = apierr.CodeOf(jobErr)
	}

	now := time.Now()
	jobUpdates := map[string]interface{}{
		"status":        types.JobStatusFailed,
		"stage":         stage,
		"result_code":   resultCode,
		"error_detail":  detail,
		"last_error_at": &now,
		"locked_at":     nil,
	}
	if err := c.Jobs.UpdateFields(c.Ctx, nil, c.Job.ID, jobUpdates); err != nil {
		return err
	}

	docUpdates := map[string]interface{}{
		"status":         types.DocumentStatusFailed,
		"failure_code":   failureCode,
		"failure_detail": detail,
	}
	if err := c.Docs.UpdateFields(c.Ctx, nil, c.Job.DocumentID, docUpdates); err != nil {
		return err
	}

	// Nothing downstream reads the staged file once the job is settled.
	_ = c.Area.Remove(c.Job.ID)

	c.Job.Status = types.JobStatusFailed
	c.Job.Stage = stage
	c.Job.ResultCode = resultCode
	c.Job.ErrorDetail = detail
	c.Job.LastErrorAt = &now
	c.Job.LockedAt = nil
	return nil
}
