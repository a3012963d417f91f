package pipeline

import (
	"context"
	"log/slog"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// runJob records a cache-miss stage invocation as a ScrapeJob around fn.
// The job is saved as running, then as completed or failed. Job writes
// that fail are logged and never change the stage result.
func runJob[T any](ctx context.Context, r *Reconciler, stage models.Stage, url string, fn func(context.Context) ([]T, error)) ([]T, error) {
	started := r.now()
	job := &models.ScrapeJob{
		TargetURL:  url,
		TargetType: stage,
		Status:     models.JobRunning,
		StartedAt:  &started,
		CreatedAt:  started,
		UpdatedAt:  started,
	}
	r.saveJob(ctx, job)

	r.logger.Info("scrape started", slog.String("stage", string(stage)), slog.String("url", url))
	items, err := fn(ctx)

	finished := r.now()
	job.FinishedAt = &finished
	job.UpdatedAt = finished
	job.ItemsScraped = len(items)
	if err != nil {
		job.Status = models.JobFailed
		job.ErrorLog = err.Error()
		r.logger.Error("scrape failed",
			slog.String("stage", string(stage)),
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
	} else {
		job.Status = models.JobCompleted
		r.logger.Info("scrape completed",
			slog.String("stage", string(stage)),
			slog.String("url", url),
			slog.Int("items", len(items)),
			slog.Duration("elapsed", finished.Sub(started)),
		)
	}
	r.saveJob(context.WithoutCancel(ctx), job)

	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Reconciler) saveJob(ctx context.Context, job *models.ScrapeJob) {
	if err := r.store.SaveJob(ctx, job); err != nil {
		r.logger.Warn("failed to record scrape job",
			slog.String("target", job.TargetURL),
			slog.String("status", string(job.Status)),
			slog.String("error", err.Error()),
		)
	}
}
