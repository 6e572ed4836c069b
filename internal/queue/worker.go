package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Processor runs a decoded publish job. It only returns an error for
// failures worth surfacing to asynq; per-platform failures are recorded elsewhere.
type Processor interface {
	Process(ctx context.Context, payload JobPayload) error
}

type Worker struct {
	processor Processor
	logger    *zap.Logger
}

func NewWorker(processor Processor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{processor: processor, logger: logger}
}

func (w *Worker) HandlePublishTask(ctx context.Context, task *asynq.Task) error {
	payload, err := DecodePayload(task.Payload())
	if err != nil {
		w.logger.Error("dropping malformed publish job", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	jobID, _ := asynq.GetTaskID(ctx)
	w.logger.Info("publish job started",
		zap.String("job_id", jobID),
		zap.String("post_id", payload.PostID),
		zap.String("kind", string(payload.Kind)),
		zap.Int("targets", len(payload.PlatformIDs)),
	)

	if err := w.processor.Process(ctx, payload); err != nil {
		w.logger.Error("publish job failed", zap.String("job_id", jobID), zap.String("post_id", payload.PostID), zap.Error(err))
		return err
	}
	return nil
}

// Mux registers the worker on a fresh asynq.ServeMux.
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypePublishPost, w.HandlePublishTask)
	return mux
}
