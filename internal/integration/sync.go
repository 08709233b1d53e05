package integration

import (
	"context"
	"time"

	"go.uber.org/zap"

	"syncgate/internal/audit"
	"syncgate/internal/connector"
	"syncgate/internal/errs"
	"syncgate/internal/mapping"
	"syncgate/internal/model"
)

const disconnectTimeout = 10 * time.Second

// ConnectionResult is the outcome of a connection test.
type ConnectionResult struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// withConnector creates and connects a connector for cfg, runs fn and always disconnects.
func (s *Service) withConnector(ctx context.Context, cfg model.IntegrationConfig, fn func(connector.Connector) error) error {
	c, err := s.connectors.CreateConnector(cfg.ConnectorType)
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		defer cancel()
		if err := c.Disconnect(dctx); err != nil {
			s.logger.Warn("disconnect failed", zap.String("integration", cfg.ID), zap.Error(err))
		}
	}()
	ok, err := c.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Connection(nil, "%s connector refused the connection", cfg.ConnectorType)
	}
	return fn(c)
}

// TestIntegrationConnection probes the external system. A failed probe counts against the
// integration's error budget; a passing one resets it.
func (s *Service) TestIntegrationConnection(ctx context.Context, id string) (ConnectionResult, error) {
	cfg, err := s.GetIntegration(ctx, id)
	if err != nil {
		return ConnectionResult{}, err
	}
	start := s.now()
	var ok bool
	err = s.withConnector(ctx, cfg, func(c connector.Connector) error {
		var terr error
		ok, terr = c.TestConnection(ctx)
		return terr
	})
	res := ConnectionResult{OK: ok && err == nil, LatencyMs: s.now().Sub(start).Milliseconds()}
	if errs.IsKind(err, errs.KindUnsupportedConnector) {
		return ConnectionResult{}, err
	}
	if err != nil {
		res.Message = err.Error()
	} else if !ok {
		res.Message = "connection test failed"
	}
	if res.OK {
		if _, err := s.ResetErrorCount(ctx, id, nil); err != nil {
			return res, err
		}
	} else if _, err := s.IncrementErrorCount(ctx, id); err != nil {
		return res, err
	}
	s.logger.Info("connection tested", zap.String("integration", id), zap.Bool("ok", res.OK), zap.String("message", res.Message))
	audit.Log(ctx, s.audit, s.logger, id, audit.ActionConnectionTested, map[string]any{"ok": res.OK, "message": res.Message, "latencyMs": res.LatencyMs})
	return res, nil
}

// SyncOptions carry the caller's progress hook and metadata into an audit entry.
type SyncOptions struct {
	OnProgress func(int)
	Metadata   map[string]any
}

// PerformSync connects, runs one sync type (or every entity type in order for a full
// sync) and disconnects. Progress is reported at milestones 10 through 100. A returned
// error counts against the integration; success resets the count and advances lastSyncAt
// to the time the sync started.
func (s *Service) PerformSync(ctx context.Context, cfg model.IntegrationConfig, syncType model.SyncType, opts SyncOptions) (*model.SyncResult, error) {
	if !syncType.IsValid() {
		return nil, errs.Validation("unknown sync type %q", syncType)
	}
	progress := opts.OnProgress
	if progress == nil {
		progress = func(int) {}
	}
	start := s.now().UTC()
	log := s.logger.With(zap.String("integration", cfg.ID), zap.String("type", string(syncType)))
	progress(10)

	var result *model.SyncResult
	err := s.withConnector(ctx, cfg, func(c connector.Connector) error {
		progress(20)
		mappings, err := s.store.ListMappings(ctx, cfg.ID, syncType)
		if err != nil {
			return err
		}
		progress(30)
		if syncType != model.SyncFull {
			progress(40)
			result, err = connector.Sync(ctx, c, syncType, mappings)
			progress(80)
			return err
		}
		parts := make([]*model.SyncResult, 0, len(model.EntitySyncTypes))
		for i, t := range model.EntitySyncTypes {
			res, err := connector.Sync(ctx, c, t, mapping.ForSyncType(mappings, t))
			if err != nil {
				return err
			}
			parts = append(parts, res)
			progress(40 + (i+1)*10)
		}
		result = model.Aggregate(parts...)
		return nil
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordSyncMetrics(cfg.ID, cfg.ConnectorType, syncType, nil)
		}
		log.Warn("sync failed", zap.String("kind", string(errs.KindOf(err))), zap.Error(err))
		if _, cerr := s.IncrementErrorCount(ctx, cfg.ID); cerr != nil {
			log.Error("record sync failure", zap.Error(cerr))
		}
		audit.Log(ctx, s.audit, s.logger, cfg.ID, audit.ActionSyncFailed, map[string]any{
			"syncType": syncType, "error": err.Error(), "metadata": opts.Metadata,
		})
		return nil, err
	}
	if result == nil {
		result = model.NewSyncResult()
	}
	result.DurationMs = s.now().UTC().Sub(start).Milliseconds()
	progress(90)
	if _, err := s.ResetErrorCount(ctx, cfg.ID, &start); err != nil {
		log.Error("record sync success", zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.RecordSyncMetrics(cfg.ID, cfg.ConnectorType, syncType, result)
	}
	audit.Log(ctx, s.audit, s.logger, cfg.ID, audit.ActionSyncCompleted, map[string]any{
		"syncType":         syncType,
		"success":          result.Success,
		"recordsProcessed": result.RecordsProcessed,
		"recordsCreated":   result.RecordsCreated,
		"recordsUpdated":   result.RecordsUpdated,
		"recordsSkipped":   result.RecordsSkipped,
		"metadata":         opts.Metadata,
	})
	log.Info("sync finished", zap.Bool("success", result.Success), zap.Int("processed", result.RecordsProcessed), zap.Int("skipped", result.RecordsSkipped))
	progress(100)
	return result, nil
}

// ExportRecords writes a CSV snapshot of one catalog kind for the integration's merchant.
func (s *Service) ExportRecords(ctx context.Context, job model.ExportJob) (*model.SyncResult, error) {
	if s.exporter == nil {
		return nil, errs.Configuration("exports are not configured")
	}
	cfg, err := s.store.GetIntegration(ctx, job.IntegrationID)
	if err != nil {
		return nil, err
	}
	start := s.now()
	var since time.Time
	if job.Since != nil {
		since = *job.Since
	}
	out, err := s.exporter.Export(ctx, cfg.MerchantID, cfg.ID, job.Kind, since)
	if err != nil {
		return nil, err
	}
	res := model.NewSyncResult()
	res.RecordsProcessed = out.Records
	res.RecordsUpdated = out.Records
	res.Finish(start)
	audit.Log(ctx, s.audit, s.logger, cfg.ID, audit.ActionExportCompleted, map[string]any{
		"kind": job.Kind, "records": out.Records, "location": out.Location,
	})
	return res, nil
}
