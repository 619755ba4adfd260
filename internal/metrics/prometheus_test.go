package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheus_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.RecordMessage()
	p.RecordMessage()
	p.RecordCancellation()
	p.RecordClaim("won", 120*time.Millisecond)
	p.RecordReconnect()

	assert.Equal(t, 2.0, testutil.ToFloat64(p.messages))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.cancellations))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.claims.WithLabelValues("won")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.reconnects))
}

func TestPrometheus_ConnStateIsExclusive(t *testing.T) {
	p := NewPrometheus(prometheus.NewRegistry(), "")

	p.SetConnState("CONNECTING")
	p.SetConnState("SUBSCRIBED")

	assert.Equal(t, 1.0, testutil.ToFloat64(p.connState.WithLabelValues("SUBSCRIBED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.connState.WithLabelValues("CONNECTING")))
}
