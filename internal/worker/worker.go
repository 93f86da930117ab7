// Package worker runs the post-processing job consumer: it dequeues room
// recording jobs, composites the room's exports, and uploads the result.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wirow-io/wirow-server-sub001/internal/recording"
	"github.com/wirow-io/wirow-server-sub001/pkg/queue"
	"github.com/wirow-io/wirow-server-sub001/pkg/storage"
)

// PostProcessor consumes post-process jobs and runs recording.Run over each
// room's recording directory.
type PostProcessor struct {
	s3     *storage.S3
	queue  *queue.Queue
	logger *zap.Logger
}

// NewPostProcessor creates a post-processing job consumer.
func NewPostProcessor(s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *PostProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostProcessor{s3: s3, queue: q, logger: logger}
}

// Process executes one post-process job.
func (p *PostProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypePostProcess {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.PostProcessPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return recording.Run(ctx, payload, p.s3, p.logger)
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *PostProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("post-process worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
