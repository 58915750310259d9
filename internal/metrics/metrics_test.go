package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { Register(reg) })

	FrameProduced()
	FrameDropped("listener")
	FrameDropped("listener")
	StateTransition("armed")
	UtteranceFinished("ok")
	UtteranceFinished("error")
	RecordingSaved()
	UpstreamRequest("whisper", "success", 1.2)
	BreakerState("whisper", 1)

	assert.GreaterOrEqual(t, testutil.ToFloat64(framesProduced), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(framesDropped.WithLabelValues("listener")), 2.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(stateTransitions.WithLabelValues("armed")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(utterancesTotal.WithLabelValues("ok")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(recordingsSaved), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("whisper", "success")), 1.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerState.WithLabelValues("whisper")))
}

func TestRegisterTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	assert.Panics(t, func() { Register(reg) })
}
