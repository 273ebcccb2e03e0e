package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()

	assert.NotNil(t, c.Registry(), "registry should be initialized")
	assert.NotNil(t, c.bridgeCalls, "bridgeCalls should be initialized")
	assert.NotNil(t, c.tasksStarted, "tasksStarted should be initialized")
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordBridgeCall("restore", OutcomeOK, 0.1)
		c.RecordLockWait(0.01)
		c.RecordBackendLoad()
		c.RecordTaskStarted("backup")
		c.TaskRunning(1)
		c.RecordTaskFinished("backup", OutcomeOK)
		c.ObserveEvents(func() uint64 { return 0 }, func() uint64 { return 0 })
	})
	assert.Nil(t, c.Registry())
}

func TestRecordBridgeCall(t *testing.T) {
	c := NewCollector()
	c.RecordBridgeCall("restore", OutcomeOK, 0.2)
	c.RecordBridgeCall("restore", OutcomeOK, 0.3)
	c.RecordBridgeCall("backup", OutcomeError, 0.1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.bridgeCalls.WithLabelValues("restore", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.bridgeCalls.WithLabelValues("backup", OutcomeError)))
}

func TestTaskMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordTaskStarted("backup")
	c.TaskRunning(1)
	c.TaskRunning(-1)
	c.RecordTaskFinished("backup", OutcomeCancelled)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksStarted.WithLabelValues("backup")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.tasksRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksFinished.WithLabelValues("backup", OutcomeCancelled)))
}

func TestHandlerServesEventCounters(t *testing.T) {
	c := NewCollector()
	c.ObserveEvents(func() uint64 { return 7 }, func() uint64 { return 2 })

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "convert_events_published_total 7"), body)
	assert.True(t, strings.Contains(body, "convert_events_dropped_total 2"), body)
}
