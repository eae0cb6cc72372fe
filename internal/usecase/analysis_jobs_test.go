package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalFusion/internal/domain/models"
	"SignalFusion/internal/repository"
	applogger "SignalFusion/pkg/logger"
	"SignalFusion/pkg/queue"
)

type scriptedAnalyzer struct {
	calls atomic.Int32
	fails int32
}

func (s *scriptedAnalyzer) AnalyzeBatch(_ context.Context, symbols []string) (*models.BatchAnalysis, error) {
	n := s.calls.Add(1)
	b := &models.BatchAnalysis{PassID: "pass", Timestamp: testNow}
	if n <= s.fails {
		b.Errors = map[string]string{symbols[0]: "down"}
		return b, models.ErrDataUnavailable
	}
	for _, sym := range symbols {
		b.Results = append(b.Results, models.SymbolAnalysis{PassID: "pass", Symbol: sym})
	}
	return b, nil
}

func startJobs(t *testing.T, a BatchAnalyzer) *AnalysisJobs {
	t.Helper()
	q := queue.NewMemoryQueue(applogger.Nop(), queue.Config{Workers: 1, RetryLimit: 1, RetryDelay: 5 * time.Millisecond})
	jobs := NewAnalysisJobs(a, q, repository.NewMemoryKV(), applogger.Nop())
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })
	return jobs
}

func waitStatus(t *testing.T, jobs *AnalysisJobs, id string, want models.JobStatus) *models.AnalysisJob {
	t.Helper()
	var got *models.AnalysisJob
	require.Eventually(t, func() bool {
		j, err := jobs.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestAnalysisJobs_SubmitAndComplete(t *testing.T) {
	jobs := startJobs(t, &scriptedAnalyzer{})

	job, err := jobs.Submit(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	done := waitStatus(t, jobs, job.ID, models.JobDone)
	require.NotNil(t, done.Result)
	assert.Len(t, done.Result.Results, 2)
	assert.Equal(t, 1, done.Attempts)
	assert.NotNil(t, done.FinishedAt)
	assert.Empty(t, done.Error)
}

func TestAnalysisJobs_RetryThenSucceed(t *testing.T) {
	a := &scriptedAnalyzer{fails: 1}
	jobs := startJobs(t, a)

	job, err := jobs.Submit(context.Background(), []string{"AAPL"})
	require.NoError(t, err)

	done := waitStatus(t, jobs, job.ID, models.JobDone)
	assert.Equal(t, 2, done.Attempts)
	assert.Equal(t, int32(2), a.calls.Load())
}

func TestAnalysisJobs_Errors(t *testing.T) {
	jobs := startJobs(t, &scriptedAnalyzer{})

	_, err := jobs.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = jobs.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
