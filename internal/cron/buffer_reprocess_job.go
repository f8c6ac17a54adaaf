package cron

import (
	"context"
	"fmt"

	"github.com/openfield/eventlog-pipeline/pkg/logger"
)

const defaultMaxReprocessBatches = 100

type failedBuffer interface {
	ReprocessFailed(ctx context.Context) (int, error)
}

type BufferReprocessJobParams struct {
	Logger     *logger.Logger
	Buffer     failedBuffer
	MaxBatches int
}

// NewBufferReprocessJob builds the job that moves entries from the buffered
// fast path's failed list back onto the main queue for another flush.
func NewBufferReprocessJob(params BufferReprocessJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Buffer == nil {
		return nil, fmt.Errorf("buffer required")
	}
	maxBatches := params.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultMaxReprocessBatches
	}
	return &bufferReprocessJob{
		logg:       params.Logger,
		buffer:     params.Buffer,
		maxBatches: maxBatches,
	}, nil
}

type bufferReprocessJob struct {
	logg       *logger.Logger
	buffer     failedBuffer
	maxBatches int
}

func (j *bufferReprocessJob) Name() string { return "buffer-reprocess" }

func (j *bufferReprocessJob) Run(ctx context.Context) error {
	total := 0
	for i := 0; i < j.maxBatches; i++ {
		moved, err := j.buffer.ReprocessFailed(ctx)
		if err != nil {
			return fmt.Errorf("buffer reprocess: %w", err)
		}
		total += moved
		if moved == 0 {
			break
		}
	}
	logCtx := j.logg.WithField(ctx, "requeued", total)
	j.logg.Info(logCtx, "buffer reprocess pass complete")
	return nil
}
