package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordFrame(t *testing.T) {
	before := testutil.ToFloat64(FramesProcessedTotal.WithLabelValues("retry"))
	RecordFrame("retry")
	RecordFrame("retry")
	assert.Equal(t, before+2, testutil.ToFloat64(FramesProcessedTotal.WithLabelValues("retry")))
}

func TestRecordHTTPUnmatchedRoute(t *testing.T) {
	RecordHTTP("GET", "", 404)
	assert.Equal(t, 1.0, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestSetStoreConnected(t *testing.T) {
	SetStoreConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(StoreConnected))
	SetStoreConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(StoreConnected))
}

func TestObserveInference(t *testing.T) {
	ObserveInference("forensic-engine", time.Now(), errors.New("boom"))
	assert.Equal(t, 1, testutil.CollectAndCount(InferenceDuration))
}
