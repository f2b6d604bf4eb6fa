package wsmetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOpenClose(t *testing.T) {
	n := testutil.ToFloat64(Consumers)
	OnOpen()
	assert.Equal(t, n+1, testutil.ToFloat64(Consumers))
	OnClose(1000, "peer")
	assert.Equal(t, n, testutil.ToFloat64(Consumers))
	assert.GreaterOrEqual(t, testutil.ToFloat64(ConnClosed.WithLabelValues("1000", "peer")), 1.0)
}

func TestObserveWrite(t *testing.T) {
	msgs, bytes, errs := testutil.ToFloat64(MsgsOut), testutil.ToFloat64(BytesOut), testutil.ToFloat64(WriteErrors)

	ObserveWrite(3, 120, time.Millisecond, nil)
	ObserveWrite(0, 0, time.Millisecond, errors.New("broken pipe"))

	assert.Equal(t, msgs+3, testutil.ToFloat64(MsgsOut))
	assert.Equal(t, bytes+120, testutil.ToFloat64(BytesOut))
	assert.Equal(t, errs+1, testutil.ToFloat64(WriteErrors))
}

func TestLabelledCounters(t *testing.T) {
	before := testutil.ToFloat64(SubOps.WithLabelValues("sub", ResultRateLimited))
	SubOp("sub", ResultRateLimited)
	assert.Equal(t, before+1, testutil.ToFloat64(SubOps.WithLabelValues("sub", ResultRateLimited)))

	before = testutil.ToFloat64(Dropped.WithLabelValues(DropConflated))
	Drop(DropConflated)
	assert.Equal(t, before+1, testutil.ToFloat64(Dropped.WithLabelValues(DropConflated)))

	before = testutil.ToFloat64(Heartbeats.WithLabelValues(PongTimeout))
	Heartbeat(PongTimeout)
	assert.Equal(t, before+1, testutil.ToFloat64(Heartbeats.WithLabelValues(PongTimeout)))
}
