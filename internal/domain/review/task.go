package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

const (
	TypeReviewRun = "review:run"
	QueueReview   = "review"

	taskRetention = 24 * time.Hour
	taskMaxRetry  = 2
)

// TaskPayload is the asynq payload of a scheduled review attempt.
type TaskPayload struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	Attempt      int       `json:"attempt"`
}

func NewReviewTask(id uuid.UUID, attempt int) (*asynq.Task, error) {
	payload, err := json.Marshal(TaskPayload{SubmissionID: id, Attempt: attempt})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReviewRun, payload), nil
}

func taskID(id uuid.UUID, attempt int) string {
	return fmt.Sprintf("review:%s:%d", id, attempt)
}

// Enqueuer is the subset of *asynq.Client the scheduler needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskScheduler schedules review attempts as delayed asynq tasks. Each
// (submission, attempt) pair is enqueued at most once.
type TaskScheduler struct {
	client Enqueuer
}

func NewTaskScheduler(client Enqueuer) *TaskScheduler {
	return &TaskScheduler{client: client}
}

func (s *TaskScheduler) ScheduleReview(ctx context.Context, id uuid.UUID, attempt int, at time.Time) error {
	task, err := NewReviewTask(id, attempt)
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueReview),
		asynq.ProcessAt(at),
		asynq.TaskID(taskID(id, attempt)),
		asynq.MaxRetry(taskMaxRetry),
		asynq.Retention(taskRetention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue review task: %w", err)
	}
	return nil
}

// HandleTask is the asynq handler for TypeReviewRun.
func (s *Service) HandleTask(ctx context.Context, t *asynq.Task) error {
	var p TaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("%w: %v: %w", ErrInvalidPayload, err, asynq.SkipRetry)
	}
	if p.SubmissionID == uuid.Nil {
		return fmt.Errorf("%w: missing submission id: %w", ErrInvalidPayload, asynq.SkipRetry)
	}

	_, err := s.Run(ctx, p.SubmissionID)
	if err != nil && isBenign(err) {
		log.Debug().Err(err).
			Str("submission_id", p.SubmissionID.String()).
			Int("attempt", p.Attempt).
			Msg("review task skipped")
		return nil
	}
	return err
}

// Register mounts the review handlers on mux.
func (s *Service) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeReviewRun, s.HandleTask)
}
