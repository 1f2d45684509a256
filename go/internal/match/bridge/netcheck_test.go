package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quickConfig() StabilityConfig {
	return StabilityConfig{
		Samples:        5,
		Gap:            time.Millisecond,
		SpikeThreshold: 150 * time.Millisecond,
		MaxAverage:     60 * time.Millisecond,
		ProbeTimeout:   time.Second,
	}
}

func TestMeasureStability_Stable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	report, err := MeasureStability(context.Background(), srv.Client(), srv.URL, quickConfig())
	require.NoError(t, err)
	assert.True(t, report.Passed, report.String())
	assert.Equal(t, int32(5), hits.Load())
	assert.Len(t, report.Latencies, 5)
	assert.Zero(t, report.Spikes)
}

func TestMeasureStability_SingleSpikeFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 3 {
			time.Sleep(250 * time.Millisecond)
		}
	}))
	defer srv.Close()

	report, err := MeasureStability(context.Background(), srv.Client(), srv.URL, quickConfig())
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, 1, report.Spikes)
}

func TestMeasureStability_HighAverageFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(80 * time.Millisecond)
	}))
	defer srv.Close()

	report, err := MeasureStability(context.Background(), srv.Client(), srv.URL, quickConfig())
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Zero(t, report.Spikes)
	assert.Greater(t, report.Average, 60*time.Millisecond)
}

func TestMeasureStability_FailedProbe(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 2 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	report, err := MeasureStability(context.Background(), srv.Client(), srv.URL, quickConfig())
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, 1, report.Failures)
	assert.Len(t, report.Latencies, 4)
}

func TestMeasureStability_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := MeasureStability(ctx, srv.Client(), srv.URL, quickConfig())
	assert.ErrorIs(t, err, context.Canceled)
}
