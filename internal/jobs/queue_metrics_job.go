package job

import (
	"context"
	"time"

	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/queue"
	"go.uber.org/zap"
)

const queueMetricsTimeout = 10 * time.Second

// QueueMetricsJob refreshes the queue depth gauges from the live queue.
type QueueMetricsJob struct {
	q      queue.JobQueue
	logger *zap.Logger
}

func NewQueueMetricsJob(q queue.JobQueue, logger *zap.Logger) *QueueMetricsJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueMetricsJob{q: q, logger: logger}
}

func (j *QueueMetricsJob) Refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), queueMetricsTimeout)
	defer cancel()

	counts, err := j.q.Counts(ctx)
	if err != nil {
		j.logger.Warn("unable to read queue counts", zap.Error(err))
		return
	}

	metrics.SetQueueDepth(counts.Waiting, counts.Active, counts.Delayed, counts.Completed, counts.Failed)
	j.logger.Debug("queue depth refreshed",
		zap.Int("waiting", counts.Waiting),
		zap.Int("delayed", counts.Delayed),
		zap.Int("active", counts.Active),
	)
}
