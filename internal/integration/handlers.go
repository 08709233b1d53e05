package integration

import (
	"context"
	"encoding/json"

	"syncgate/internal/errs"
	"syncgate/internal/model"
	"syncgate/internal/queue"
)

// SyncHandler runs sync queue jobs. A job for an inactive integration fails without retry.
func (s *Service) SyncHandler() queue.Handler {
	return func(ctx context.Context, job model.Job, progress func(int)) (*model.SyncResult, error) {
		var p model.SyncJob
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, errs.Validation("decode sync job: %v", err)
		}
		cfg, err := s.GetIntegration(ctx, p.IntegrationID)
		if err != nil {
			return nil, err
		}
		if cfg.Status == model.StatusInactive {
			// Failing keeps the skip out of the result cache, so a sync queued after
			// reactivation runs even at the same source version.
			return nil, errs.Configuration("integration %s is inactive", cfg.ID)
		}
		return s.PerformSync(ctx, cfg, p.SyncType, SyncOptions{OnProgress: progress, Metadata: p.Metadata})
	}
}

// ExportHandler runs export queue jobs.
func (s *Service) ExportHandler() queue.Handler {
	return func(ctx context.Context, job model.Job, progress func(int)) (*model.SyncResult, error) {
		var p model.ExportJob
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, errs.Validation("decode export job: %v", err)
		}
		progress(10)
		res, err := s.ExportRecords(ctx, p)
		if err == nil {
			progress(100)
		}
		return res, err
	}
}
