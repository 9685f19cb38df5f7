// Package jobtracker records each pipeline stage's run as a ProcessingJob —
// the authority on "has this LLM operation run for this entity" — and keeps
// an Article's own processing_status mirroring the job outcome.
package jobtracker

import (
	"context"
	"fmt"
	"time"

	"mynewslens/internal/domain"
)

// jobStore is the subset of store.Store the tracker depends on.
type jobStore interface {
	CreateJob(ctx context.Context, job *domain.ProcessingJob) (int64, error)
	StartJob(ctx context.Context, jobID int64) error
	CompleteJob(ctx context.Context, jobID int64, status domain.ProcessingStatus, llmModel, errMsg string, promptTokens, completionTokens int, processingTimeMS int64) error
	ListJobsForEntity(ctx context.Context, jobType string, entityID int64) ([]*domain.ProcessingJob, error)
	TransitionProcessingStatus(ctx context.Context, articleID int64, from []domain.ProcessingStatus, to domain.ProcessingStatus) error
}

// Tracker wraps a store with the job lifecycle: create -> start -> complete,
// mirroring terminal outcomes into the owning article's processing_status.
type Tracker struct {
	store jobStore
}

func New(store jobStore) *Tracker {
	return &Tracker{store: store}
}

// HasRun reports whether a job of this type has already completed
// successfully for the entity — the idempotency check that keeps the
// pipeline from redoing LLM work on a second pass over the same article.
func (t *Tracker) HasRun(ctx context.Context, jobType string, entityID int64) (bool, error) {
	jobs, err := t.store.ListJobsForEntity(ctx, jobType, entityID)
	if err != nil {
		return false, fmt.Errorf("list jobs for entity: %w", err)
	}
	for _, j := range jobs {
		if j.Status == domain.StatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

// Run executes fn as one tracked job: creates the job row, marks it running,
// mirrors the article into StatusRunning, then on return marks the job and
// article completed or failed. fn returns the LLM model used (if any) and
// token usage for the job record.
func (t *Tracker) Run(ctx context.Context, jobType string, articleID int64, fn func(ctx context.Context) (model string, promptTokens, completionTokens int, err error)) error {
	jobID, err := t.store.CreateJob(ctx, &domain.ProcessingJob{JobType: jobType, EntityID: articleID})
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if err := t.store.StartJob(ctx, jobID); err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	if err := t.store.TransitionProcessingStatus(ctx, articleID,
		[]domain.ProcessingStatus{domain.StatusPending, domain.StatusRunning}, domain.StatusRunning); err != nil {
		// A concurrent stage may have already advanced the article; the job
		// row itself still records this attempt.
	}

	start := time.Now()
	model, promptTokens, completionTokens, runErr := fn(ctx)
	elapsed := time.Since(start).Milliseconds()

	status := domain.StatusCompleted
	errMsg := ""
	if runErr != nil {
		status = domain.StatusFailed
		errMsg = runErr.Error()
	}

	if completeErr := t.store.CompleteJob(ctx, jobID, status, model, errMsg, promptTokens, completionTokens, elapsed); completeErr != nil {
		return fmt.Errorf("complete job: %w", completeErr)
	}
	if transErr := t.store.TransitionProcessingStatus(ctx, articleID,
		[]domain.ProcessingStatus{domain.StatusRunning, domain.StatusPending}, status); transErr != nil {
		// Another stage may already own the transition; the job record is
		// still the source of truth for this stage's outcome.
	}

	return runErr
}
