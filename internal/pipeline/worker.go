package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Worker processes a single document job.
type Worker struct {
	pipeline *Pipeline
	log      *slog.Logger
}

func NewWorker(p *Pipeline, log *slog.Logger) *Worker {
	return &Worker{pipeline: p, log: log}
}

// Process runs the full ingest pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "project_id", job.ProjectID, "path", job.Path)
	start := time.Now()

	if len(job.FileData()) == 0 {
		log.Warn("empty upload")
		job.Fail("parsing", "file is empty")
		return
	}

	res := w.pipeline.Ingest(ctx, job.Source(), job)
	job.Finish(res)

	log.Info("job finished",
		"status", res.Status(),
		"file_id", res.FileID,
		"stored", res.Stored,
		"errors", len(res.Errors),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
