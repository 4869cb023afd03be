package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/ingest-worker/internal/queue"
	"github.com/cuongbtq/ingest-worker/internal/worker/domain"
)

// processNext leases one job and runs it through the pipeline:
// lease, fetch, parse, chunk, ingest. A 2xx ingest response completes the
// job; only failure is reported back to the queue. The unit of retry is
// the whole job, so no stage is retried here: any stage error triggers a
// single mark-failed and is returned to the loop for backoff.
func (w *Worker) processNext(ctx context.Context) error {
	job, err := w.queue.LeaseJob(ctx, w.leaserID, w.leaseDuration, w.parser.SupportedTypes())
	if err != nil {
		// Includes ErrNoJobAvailable: nothing was leased, so there is
		// nothing to mark failed.
		return err
	}

	log := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("entity_id", job.EntityID),
	)
	log.Info("Job leased",
		slog.String("task_type", job.TaskType),
		slog.Int("retry_count", job.RetryCount),
	)

	raw, err := w.queue.FetchFile(ctx, job.EntityID)
	if err != nil {
		return w.failJob(ctx, log, job, "fetch", err)
	}
	log.Info("File downloaded",
		slog.Int("bytes", len(raw)),
	)

	text, err := w.parser.Parse(raw)
	if err != nil {
		return w.failJob(ctx, log, job, "parse", err)
	}

	chunks := w.chunker.Chunk(text)
	log.Info("Text chunked",
		slog.Int("chunks", len(chunks)),
	)

	err = w.queue.Ingest(ctx, &queue.IngestRequest{
		Chunks:   chunks,
		ID:       job.EntityID,
		Replace:  job.IsUpdate(),
		JobID:    job.ID,
		LeaserID: w.leaserID,
	})
	if err != nil {
		return w.failJob(ctx, log, job, "ingest", err)
	}

	log.Info("Job completed",
		slog.Int("chunks", len(chunks)),
	)

	return nil
}

// failJob reports the stage failure back to the queue exactly once, then
// returns the stage error so the loop can classify it. A failed
// mark-failed call is logged, not propagated: the lease will expire on its
// own and the queue will requeue the job.
func (w *Worker) failJob(ctx context.Context, log *slog.Logger, job *domain.Job, stage string, cause error) error {
	reason := fmt.Sprintf("%s failed: %s", stage, cause.Error())

	log.Error("Job stage failed",
		slog.String("stage", stage),
		slog.String("error", cause.Error()),
	)

	if err := w.queue.MarkFailed(ctx, job.ID, w.leaserID, reason); err != nil {
		log.Error("Failed to mark job failed",
			slog.String("error", err.Error()),
		)
	}

	return fmt.Errorf("%s: %w", stage, cause)
}
