package review

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/taskhub-api/internal/domain/submission"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type submissionsMock struct {
	ClaimForReviewFunc  func(ctx context.Context, id uuid.UUID) (*submission.Submission, error)
	RecordVerdictFunc   func(ctx context.Context, id uuid.UUID, attempt int, v submission.Verdict) (*submission.Submission, error)
	ExpireClaimFunc     func(ctx context.Context, id uuid.UUID) (bool, error)
	ListDueFunc         func(ctx context.Context, limit int) ([]uuid.UUID, error)
	ListStaleClaimsFunc func(ctx context.Context, limit int) ([]uuid.UUID, error)
}

func (m *submissionsMock) ClaimForReview(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
	return m.ClaimForReviewFunc(ctx, id)
}

func (m *submissionsMock) RecordVerdict(ctx context.Context, id uuid.UUID, attempt int, v submission.Verdict) (*submission.Submission, error) {
	return m.RecordVerdictFunc(ctx, id, attempt, v)
}

func (m *submissionsMock) ExpireClaim(ctx context.Context, id uuid.UUID) (bool, error) {
	return m.ExpireClaimFunc(ctx, id)
}

func (m *submissionsMock) ListDue(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if m.ListDueFunc == nil {
		return nil, nil
	}
	return m.ListDueFunc(ctx, limit)
}

func (m *submissionsMock) ListStaleClaims(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if m.ListStaleClaimsFunc == nil {
		return nil, nil
	}
	return m.ListStaleClaimsFunc(ctx, limit)
}

type classifierFunc func(ctx context.Context, sub *submission.Submission) (submission.Verdict, error)

func (f classifierFunc) Classify(ctx context.Context, sub *submission.Submission) (submission.Verdict, error) {
	return f(ctx, sub)
}

// verdictRecorder claims every id at attempt 1 and records the verdict it receives.
type verdictRecorder struct {
	mu       sync.Mutex
	verdicts map[uuid.UUID]submission.Verdict
}

func (r *verdictRecorder) mock() *submissionsMock {
	r.verdicts = map[uuid.UUID]submission.Verdict{}
	return &submissionsMock{
		ClaimForReviewFunc: func(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
			return &submission.Submission{ID: id, Status: submission.StatusAIReviewing, Attempts: 1}, nil
		},
		RecordVerdictFunc: func(ctx context.Context, id uuid.UUID, attempt int, v submission.Verdict) (*submission.Submission, error) {
			r.mu.Lock()
			r.verdicts[id] = v
			r.mu.Unlock()
			status := submission.StatusAIRejected
			if v.Passed && !v.Unavailable {
				status = submission.StatusMentorReview
			}
			return &submission.Submission{ID: id, Status: status, Attempts: attempt}, nil
		},
	}
}

func (r *verdictRecorder) get(id uuid.UUID) submission.Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verdicts[id]
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_PassesVerdictThrough(t *testing.T) {
	t.Parallel()

	rec := &verdictRecorder{}
	svc := NewService(rec.mock(), classifierFunc(func(ctx context.Context, sub *submission.Submission) (submission.Verdict, error) {
		return submission.Verdict{Passed: true, Confidence: 0.91, Reasons: []string{"matches"}}, nil
	}), Options{})

	id := uuid.New()
	out, err := svc.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusMentorReview, out.Status)

	v := rec.get(id)
	assert.True(t, v.Passed)
	assert.False(t, v.Unavailable)
	assert.InDelta(t, 0.91, v.Confidence, 1e-9)
}

func TestRun_ClassifierErrorConsumesAttempt(t *testing.T) {
	t.Parallel()

	rec := &verdictRecorder{}
	svc := NewService(rec.mock(), classifierFunc(func(ctx context.Context, sub *submission.Submission) (submission.Verdict, error) {
		return submission.Verdict{}, errors.New("502 bad gateway")
	}), Options{})

	id := uuid.New()
	out, err := svc.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusAIRejected, out.Status)

	v := rec.get(id)
	assert.True(t, v.Unavailable)
	require.Len(t, v.Reasons, 1)
	assert.Contains(t, v.Reasons[0], ErrClassifierUnavailable.Error())
	assert.Contains(t, v.Reasons[0], "502 bad gateway")
}

func TestRun_ClassifierTimeout(t *testing.T) {
	t.Parallel()

	rec := &verdictRecorder{}
	svc := NewService(rec.mock(), classifierFunc(func(ctx context.Context, sub *submission.Submission) (submission.Verdict, error) {
		<-ctx.Done()
		return submission.Verdict{}, ctx.Err()
	}), Options{ClassifyTimeout: 20 * time.Millisecond})

	id := uuid.New()
	start := time.Now()
	_, err := svc.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, rec.get(id).Unavailable)
}

func TestRun_ExhaustedClaimSkipsClassifier(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	subs := &submissionsMock{
		ClaimForReviewFunc: func(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
			return &submission.Submission{ID: id, Status: submission.StatusRejected, Attempts: 4}, nil
		},
		RecordVerdictFunc: func(ctx context.Context, id uuid.UUID, attempt int, v submission.Verdict) (*submission.Submission, error) {
			t.Fatal("verdict recorded for a closed submission")
			return nil, nil
		},
	}
	svc := NewService(subs, classifierFunc(func(ctx context.Context, sub *submission.Submission) (submission.Verdict, error) {
		calls.Add(1)
		return submission.Verdict{}, nil
	}), Options{})

	out, err := svc.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, submission.StatusRejected, out.Status)
	assert.Zero(t, calls.Load())
}

func TestRun_ClaimErrorPropagates(t *testing.T) {
	t.Parallel()

	subs := &submissionsMock{
		ClaimForReviewFunc: func(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
			return nil, submission.ErrNotClaimable
		},
	}
	svc := NewService(subs, classifierFunc(func(ctx context.Context, sub *submission.Submission) (submission.Verdict, error) {
		t.Fatal("classifier called without a claim")
		return submission.Verdict{}, nil
	}), Options{})

	_, err := svc.Run(context.Background(), uuid.New())
	require.ErrorIs(t, err, submission.ErrNotClaimable)
}

// ---------------------------------------------------------------------------
// Sweep
// ---------------------------------------------------------------------------

func TestSweep_ExpiresAndRuns(t *testing.T) {
	t.Parallel()

	staleOK, staleGone := uuid.New(), uuid.New()
	dueOK, dueTaken, dueBroken := uuid.New(), uuid.New(), uuid.New()
	boom := errors.New("deadlock detected")

	subs := &submissionsMock{
		ListStaleClaimsFunc: func(ctx context.Context, limit int) ([]uuid.UUID, error) {
			assert.Equal(t, 50, limit)
			return []uuid.UUID{staleOK, staleGone}, nil
		},
		ExpireClaimFunc: func(ctx context.Context, id uuid.UUID) (bool, error) {
			return id == staleOK, nil
		},
		ListDueFunc: func(ctx context.Context, limit int) ([]uuid.UUID, error) {
			return []uuid.UUID{dueOK, dueTaken, dueBroken}, nil
		},
		ClaimForReviewFunc: func(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
			switch id {
			case dueTaken:
				return nil, submission.ErrNotClaimable
			case dueBroken:
				return nil, boom
			}
			return &submission.Submission{ID: id, Status: submission.StatusAIReviewing, Attempts: 2}, nil
		},
		RecordVerdictFunc: func(ctx context.Context, id uuid.UUID, attempt int, v submission.Verdict) (*submission.Submission, error) {
			assert.Equal(t, 2, attempt)
			return &submission.Submission{ID: id, Status: submission.StatusMentorReview}, nil
		},
	}
	svc := NewService(subs, classifierFunc(func(ctx context.Context, sub *submission.Submission) (submission.Verdict, error) {
		return submission.Verdict{Passed: true, Confidence: 0.8}, nil
	}), Options{SweepBatch: 50, SweepWorkers: 2})

	stats, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Expired: 1, Ran: 1, Skipped: 2, Failed: 1}, stats)
}

func TestSweep_ListErrorAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	subs := &submissionsMock{
		ListStaleClaimsFunc: func(ctx context.Context, limit int) ([]uuid.UUID, error) {
			return nil, boom
		},
	}
	svc := NewService(subs, nil, Options{})

	_, err := svc.Sweep(context.Background())
	require.ErrorIs(t, err, boom)
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

func TestHandleTask_InvalidPayloadSkipsRetry(t *testing.T) {
	t.Parallel()

	svc := NewService(&submissionsMock{}, nil, Options{})

	err := svc.HandleTask(context.Background(), asynq.NewTask(TypeReviewRun, []byte("{not json")))
	require.ErrorIs(t, err, ErrInvalidPayload)
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = svc.HandleTask(context.Background(), asynq.NewTask(TypeReviewRun, []byte(`{"attempt":1}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleTask_NotClaimableIsDone(t *testing.T) {
	t.Parallel()

	subs := &submissionsMock{
		ClaimForReviewFunc: func(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
			return nil, submission.ErrNotClaimable
		},
	}
	svc := NewService(subs, nil, Options{})

	task, err := NewReviewTask(uuid.New(), 2)
	require.NoError(t, err)
	require.NoError(t, svc.HandleTask(context.Background(), task))
}

func TestHandleTask_StoreErrorIsRetried(t *testing.T) {
	t.Parallel()

	boom := errors.New("too many connections")
	subs := &submissionsMock{
		ClaimForReviewFunc: func(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
			return nil, boom
		},
	}
	svc := NewService(subs, nil, Options{})

	task, err := NewReviewTask(uuid.New(), 1)
	require.NoError(t, err)
	err = svc.HandleTask(context.Background(), task)
	require.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

type enqueuerMock struct {
	EnqueueContextFunc func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func (m *enqueuerMock) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return m.EnqueueContextFunc(ctx, task, opts...)
}

func TestTaskScheduler_ScheduleReview(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	at := time.Date(2026, 5, 4, 10, 4, 0, 0, time.UTC)

	var got *asynq.Task
	var gotOpts []asynq.Option
	sched := NewTaskScheduler(&enqueuerMock{
		EnqueueContextFunc: func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
			got, gotOpts = task, opts
			return &asynq.TaskInfo{}, nil
		},
	})

	require.NoError(t, sched.ScheduleReview(context.Background(), id, 2, at))
	require.NotNil(t, got)
	assert.Equal(t, TypeReviewRun, got.Type())

	var p TaskPayload
	require.NoError(t, json.Unmarshal(got.Payload(), &p))
	assert.Equal(t, TaskPayload{SubmissionID: id, Attempt: 2}, p)

	values := map[asynq.OptionType]interface{}{}
	for _, o := range gotOpts {
		values[o.Type()] = o.Value()
	}
	assert.Equal(t, QueueReview, values[asynq.QueueOpt])
	assert.Equal(t, at, values[asynq.ProcessAtOpt])
	assert.Equal(t, "review:"+id.String()+":2", values[asynq.TaskIDOpt])
}

func TestTaskScheduler_DuplicateIsNotAnError(t *testing.T) {
	t.Parallel()

	sched := NewTaskScheduler(&enqueuerMock{
		EnqueueContextFunc: func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
			return nil, asynq.ErrTaskIDConflict
		},
	})
	require.NoError(t, sched.ScheduleReview(context.Background(), uuid.New(), 1, time.Now()))

	boom := errors.New("redis: connection pool timeout")
	sched = NewTaskScheduler(&enqueuerMock{
		EnqueueContextFunc: func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
			return nil, boom
		},
	})
	require.ErrorIs(t, sched.ScheduleReview(context.Background(), uuid.New(), 1, time.Now()), boom)
}
