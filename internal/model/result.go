package model

import (
	"fmt"
	"time"
)

// SyncResult is the outcome of one sync operation.
// RecordsProcessed always equals Created + Updated + Skipped; use the Record* helpers to keep it so.
type SyncResult struct {
	Success          bool        `json:"success"`
	RecordsProcessed int         `json:"recordsProcessed"`
	RecordsUpdated   int         `json:"recordsUpdated"`
	RecordsCreated   int         `json:"recordsCreated"`
	RecordsSkipped   int         `json:"recordsSkipped"`
	Errors           []SyncError `json:"errors"`
	DurationMs       int64       `json:"durationMs"`
	Timestamp        time.Time   `json:"timestamp"`
}

func NewSyncResult() *SyncResult {
	return &SyncResult{Success: true, Errors: []SyncError{}, Timestamp: time.Now().UTC()}
}

func (r *SyncResult) RecordCreated() {
	r.RecordsCreated++
	r.RecordsProcessed++
}

func (r *SyncResult) RecordUpdated() {
	r.RecordsUpdated++
	r.RecordsProcessed++
}

// RecordSkipped counts a record that produced no write, with the reason.
// Any skipped record marks the result unsuccessful.
func (r *SyncResult) RecordSkipped(recordID, kind, message string) {
	r.Success = false
	r.RecordsSkipped++
	r.RecordsProcessed++
	r.Errors = append(r.Errors, SyncError{
		ID:       fmt.Sprintf("err_%d", len(r.Errors)+1),
		Kind:     kind,
		Message:  message,
		RecordID: recordID,
		Severity: SeverityError,
	})
}

// Warn records a non-fatal problem without touching the counters.
func (r *SyncResult) Warn(recordID, kind, message string) {
	r.Errors = append(r.Errors, SyncError{
		ID:       fmt.Sprintf("err_%d", len(r.Errors)+1),
		Kind:     kind,
		Message:  message,
		RecordID: recordID,
		Severity: SeverityWarning,
	})
}

// Finish stamps the duration measured from start.
func (r *SyncResult) Finish(start time.Time) *SyncResult {
	r.DurationMs = time.Since(start).Milliseconds()
	return r
}

// Consistent reports whether the counter invariant holds.
func (r *SyncResult) Consistent() bool {
	return r.RecordsProcessed == r.RecordsCreated+r.RecordsUpdated+r.RecordsSkipped
}

// Aggregate folds sub-results of a full sync: success is the AND, counts are summed,
// errors are concatenated and durations added.
func Aggregate(results ...*SyncResult) *SyncResult {
	out := NewSyncResult()
	for _, r := range results {
		if r == nil {
			continue
		}
		out.Success = out.Success && r.Success
		out.RecordsProcessed += r.RecordsProcessed
		out.RecordsCreated += r.RecordsCreated
		out.RecordsUpdated += r.RecordsUpdated
		out.RecordsSkipped += r.RecordsSkipped
		out.Errors = append(out.Errors, r.Errors...)
		out.DurationMs += r.DurationMs
	}
	return out
}
