package audit

import (
	"syncgate/internal/metrics"
	"syncgate/internal/model"
)

// Metrics receives the outcome of every sync operation.
type Metrics interface {
	RecordSyncMetrics(integrationID, connectorType string, syncType model.SyncType, res *model.SyncResult)
}

// Prometheus records sync outcomes on the metrics registry. Integration ids are left out
// of the labels to keep cardinality bounded.
type Prometheus struct{}

func (Prometheus) RecordSyncMetrics(_ string, connectorType string, syncType model.SyncType, res *model.SyncResult) {
	if res == nil {
		metrics.SyncRuns.WithLabelValues(connectorType, string(syncType), "error").Inc()
		return
	}
	outcome := "success"
	if !res.Success {
		outcome = "partial"
	}
	metrics.SyncRuns.WithLabelValues(connectorType, string(syncType), outcome).Inc()
	metrics.SyncDuration.WithLabelValues(connectorType, string(syncType)).Observe(float64(res.DurationMs))
	st := string(syncType)
	metrics.SyncRecords.WithLabelValues(st, "created").Add(float64(res.RecordsCreated))
	metrics.SyncRecords.WithLabelValues(st, "updated").Add(float64(res.RecordsUpdated))
	metrics.SyncRecords.WithLabelValues(st, "skipped").Add(float64(res.RecordsSkipped))
}
