package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"syncgate/internal/model"
)

// SyncKey identifies a sync of one dataset at one source version. An explicit
// IdempotencyKey wins.
func SyncKey(j model.SyncJob) string {
	if j.IdempotencyKey != "" {
		return j.IdempotencyKey
	}
	return "sync:" + digest(j.IntegrationID, string(j.SyncType), j.SourceVersion)
}

// WebhookKey identifies one external event. Events without an id fall back to a digest of
// their type and payload.
func WebhookKey(j model.WebhookJob) string {
	id := j.Event.ID
	if id == "" {
		body, _ := json.Marshal(j.Event.Payload)
		id = "body:" + digest(j.Event.EventType, string(body))
	}
	return "webhook:" + j.IntegrationID + ":" + id
}

// ExportKey identifies one export of a catalog kind at one version and lower bound.
func ExportKey(j model.ExportJob) string {
	since := "all"
	if j.Since != nil {
		since = j.Since.UTC().Format(time.RFC3339Nano)
	}
	return "export:" + digest(j.IntegrationID, string(j.Kind), j.Version, since)
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
