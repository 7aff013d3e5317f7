// Package worker consumes proof-of-play jobs from the Redis queue and
// persists them, keeping database writes off the scheduling path.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pulseboard/signage/internal/history"
	"github.com/pulseboard/signage/internal/models"
	"github.com/pulseboard/signage/pkg/queue"
	"github.com/pulseboard/signage/pkg/storage"
)

// PlayReportProcessor processes play report jobs: insert the history row and
// bump the content item's play counters.
type PlayReportProcessor struct {
	histRepo *history.Repository
	queue    *queue.Queue
	logger   *zap.Logger
}

// NewPlayReportProcessor creates a play report processor.
func NewPlayReportProcessor(histRepo *history.Repository, q *queue.Queue, logger *zap.Logger) *PlayReportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlayReportProcessor{histRepo: histRepo, queue: q, logger: logger}
}

// Process executes one play report job.
func (p *PlayReportProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypePlayReport {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var report models.PlayReport
	if err := json.Unmarshal(job.Payload, &report); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	inserted, err := p.histRepo.Insert(ctx, report)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	if !inserted {
		p.logger.Debug("play report already recorded", zap.String("session_id", report.SessionID.String()))
		return nil
	}

	// Failed sessions never showed anything, so they do not count against
	// the item's fairness weighting.
	if report.Outcome != models.OutcomeFailed {
		if err := p.histRepo.BumpCounters(ctx, report.ContentID, report.EndedAt); err != nil {
			return fmt.Errorf("bump counters: %w", err)
		}
	}

	p.logger.Info("play report recorded",
		zap.String("session_id", report.SessionID.String()),
		zap.String("content_id", report.ContentID.String()),
		zap.String("outcome", string(report.Outcome)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *PlayReportProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("play report worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
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

// Exporter writes the previous day's play history to S3 as newline-delimited
// JSON, once per day shortly after midnight UTC.
type Exporter struct {
	histRepo  *history.Repository
	s3        *storage.S3
	surfaceID string
	logger    *zap.Logger
}

// NewExporter creates a proof-of-play exporter.
func NewExporter(histRepo *history.Repository, s3 *storage.S3, surfaceID string, logger *zap.Logger) *Exporter {
	return &Exporter{histRepo: histRepo, s3: s3, surfaceID: surfaceID, logger: logger}
}

// Run exports once per day until ctx is done.
func (e *Exporter) Run(ctx context.Context) {
	for {
		next := nextExportTime(time.Now().UTC())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		day := next.AddDate(0, 0, -1).Truncate(24 * time.Hour)
		if err := e.Export(ctx, day); err != nil {
			e.logger.Error("daily export failed", zap.Time("day", day), zap.Error(err))
		}
	}
}

// Export uploads one day's reports. Days with no plays are skipped.
func (e *Exporter) Export(ctx context.Context, day time.Time) error {
	from := day.Truncate(24 * time.Hour)
	to := from.AddDate(0, 0, 1)
	reports, err := e.histRepo.ListRange(ctx, e.surfaceID, from, to)
	if err != nil {
		return fmt.Errorf("list range: %w", err)
	}
	if len(reports) == 0 {
		return nil
	}

	var buf []byte
	for _, rep := range reports {
		line, err := json.Marshal(rep)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	url, err := e.s3.UploadReport(ctx, e.surfaceID, from.Format("2006-01-02"), buf)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	e.logger.Info("daily export uploaded",
		zap.Time("day", from), zap.Int("plays", len(reports)), zap.String("url", url))
	return nil
}

// nextExportTime returns 00:10 UTC of the following day.
func nextExportTime(now time.Time) time.Time {
	day := now.Truncate(24 * time.Hour).AddDate(0, 0, 1)
	return day.Add(10 * time.Minute)
}
