package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	applogger "SignalFusion/pkg/logger"
	"SignalFusion/pkg/queue"
)

// JobTypeAnalysisBatch routes queued batch analyses.
const JobTypeAnalysisBatch = "analysis.batch"

const jobKeyPrefix = "analysis-job:"

type batchJobPayload struct {
	JobID   string   `json:"job_id"`
	Symbols []string `json:"symbols"`
}

// AnalysisJobs runs batch analyses in the background. Job state is kept in
// the KV store so any replica sharing it can answer status queries.
type AnalysisJobs struct {
	analyzer BatchAnalyzer
	queue    queue.Queue
	store    drepo.KVStore
	log      *applogger.Logger
	now      func() time.Time
}

// NewAnalysisJobs registers the batch job on q.
func NewAnalysisJobs(analyzer BatchAnalyzer, q queue.Queue, store drepo.KVStore, log *applogger.Logger) *AnalysisJobs {
	j := &AnalysisJobs{analyzer: analyzer, queue: q, store: store, log: log, now: time.Now}
	q.RegisterJob(j)
	return j
}

func (j *AnalysisJobs) Name() string { return "analysis-batch" }
func (j *AnalysisJobs) Type() string { return JobTypeAnalysisBatch }

// Submit records a queued job and enqueues it.
func (j *AnalysisJobs) Submit(ctx context.Context, symbols []string) (*models.AnalysisJob, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols: %w", models.ErrInvalidInput)
	}
	job := &models.AnalysisJob{
		ID:          uuid.NewString(),
		Status:      models.JobQueued,
		Symbols:     append([]string(nil), symbols...),
		SubmittedAt: j.now().UTC(),
	}
	if err := j.save(ctx, job); err != nil {
		return nil, err
	}
	if _, err := j.queue.Enqueue(ctx, JobTypeAnalysisBatch, batchJobPayload{JobID: job.ID, Symbols: job.Symbols}); err != nil {
		job.Status, job.Error = models.JobFailed, err.Error()
		_ = j.save(ctx, job)
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	j.log.Info("jobs.submitted", applogger.String("job_id", job.ID), applogger.Int("symbols", len(symbols)))
	return job, nil
}

// Get returns the job or models.ErrNotFound.
func (j *AnalysisJobs) Get(ctx context.Context, id string) (*models.AnalysisJob, error) {
	b, err := j.store.Load(ctx, jobKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	var job models.AnalysisJob
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// Handle runs one queued batch. A batch where every symbol failed returns an
// error so the queue retries it.
func (j *AnalysisJobs) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[batchJobPayload](payload)
	if err != nil {
		return err
	}
	job, err := j.Get(ctx, p.JobID)
	if errors.Is(err, models.ErrNotFound) {
		job = &models.AnalysisJob{ID: p.JobID, Symbols: p.Symbols, SubmittedAt: j.now().UTC()}
	} else if err != nil {
		return err
	}

	started := j.now().UTC()
	job.Status, job.StartedAt, job.FinishedAt = models.JobRunning, &started, nil
	job.Attempts++
	if err := j.save(ctx, job); err != nil {
		return err
	}

	batch, runErr := j.analyzer.AnalyzeBatch(ctx, p.Symbols)
	finished := j.now().UTC()
	job.FinishedAt, job.Result = &finished, batch
	if runErr != nil {
		job.Status, job.Error = models.JobFailed, runErr.Error()
	} else {
		job.Status, job.Error = models.JobDone, ""
	}
	if err := j.save(context.WithoutCancel(ctx), job); err != nil {
		return err
	}
	j.log.Info("jobs.finished",
		applogger.String("job_id", job.ID),
		applogger.String("status", string(job.Status)),
		applogger.Int("attempt", job.Attempts))
	return runErr
}

func (j *AnalysisJobs) save(ctx context.Context, job *models.AnalysisJob) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := j.store.Save(ctx, jobKeyPrefix+job.ID, b); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}
