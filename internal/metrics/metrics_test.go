package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDefaultIsIdempotent(t *testing.T) {
	RegisterDefault()
	RegisterDefault()

	QueueJobs.WithLabelValues("sync", "completed").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(QueueJobs.WithLabelValues("sync", "completed")))

	families, err := Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["syncgate_queue_jobs_total"])
}
