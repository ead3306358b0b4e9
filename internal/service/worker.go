package service

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/inntektsmelding-service/internal/archive"
)

const (
	archivePollInterval = 5 * time.Second
	archiveBatchSize    = 20
	archiveRetryBase    = 500 * time.Millisecond
)

// StartArchiveWorker запускает фоновую отправку сохранённых inntektsmelding в архив.
// Доставка — at-least-once: неудачные задания остаются в очереди и повторяются.
func (s *Service) StartArchiveWorker(ctx context.Context) {
	if s.archiver == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(archivePollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processArchiveBatch(ctx)
			}
		}
	}()
}

func (s *Service) processArchiveBatch(ctx context.Context) {
	jobs, err := s.repo.NextPendingArchiveJobs(ctx, archiveBatchSize)
	if err != nil {
		s.logger.Error("select archive jobs", zap.Error(err))
		return
	}

	for _, job := range jobs {
		if err := s.processArchiveJob(ctx, job.ID, job.IncomeStatementID); err != nil {
			s.logger.Error("archive job failed",
				zap.Int64("jobID", job.ID),
				zap.Int64("incomeStatementID", job.IncomeStatementID),
				zap.Int("attempts", job.Attempts+1),
				zap.Error(err))

			if markErr := s.repo.MarkArchiveJobFailed(ctx, job.ID, err.Error()); markErr != nil {
				s.logger.Error("mark archive job failed", zap.Int64("jobID", job.ID), zap.Error(markErr))
			}
			s.metrics.ObserveArchiveJob("failed")
			continue
		}

		if err := s.repo.MarkArchiveJobDone(ctx, job.ID); err != nil {
			s.logger.Error("mark archive job done", zap.Int64("jobID", job.ID), zap.Error(err))
			continue
		}
		s.metrics.ObserveArchiveJob("done")
	}
}

func (s *Service) processArchiveJob(ctx context.Context, jobID, incomeStatementID int64) error {
	statement, err := s.repo.GetIncomeStatement(ctx, incomeStatementID)
	if err != nil {
		return err
	}

	doc := archive.BuildDocument(statement)

	backoff := retry.WithMaxRetries(3, retry.NewExponential(s.archiveRetryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.archiver.Submit(ctx, incomeStatementID, doc); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
