package bridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// StabilityConfig controls the pre-match network check.
type StabilityConfig struct {
	Samples        int
	Gap            time.Duration
	SpikeThreshold time.Duration
	MaxAverage     time.Duration
	ProbeTimeout   time.Duration
	Clock          clockwork.Clock
}

func DefaultStabilityConfig() StabilityConfig {
	return StabilityConfig{
		Samples:        5,
		Gap:            200 * time.Millisecond,
		SpikeThreshold: 500 * time.Millisecond,
		MaxAverage:     300 * time.Millisecond,
		ProbeTimeout:   2 * time.Second,
	}
}

// StabilityReport is the outcome of MeasureStability. Average divides the
// latency of successful probes by the number of samples taken.
type StabilityReport struct {
	Passed    bool            `json:"passed"`
	Average   time.Duration   `json:"average"`
	Spikes    int             `json:"spikes"`
	Failures  int             `json:"failures"`
	Latencies []time.Duration `json:"latencies"`
}

func (r StabilityReport) String() string {
	verdict := "unstable"
	if r.Passed {
		verdict = "stable"
	}
	return fmt.Sprintf("%s: avg %s, %d spikes, %d failures", verdict, r.Average.Round(time.Millisecond), r.Spikes, r.Failures)
}

// MeasureStability probes target with HEAD requests. The link is unstable when
// any probe fails or exceeds the spike threshold, or when the average is too high.
func MeasureStability(ctx context.Context, client *http.Client, target string, config StabilityConfig) (StabilityReport, error) {
	if config.Samples <= 0 {
		config = DefaultStabilityConfig()
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if client == nil {
		client = http.DefaultClient
	}

	report := StabilityReport{Latencies: make([]time.Duration, 0, config.Samples)}
	var total time.Duration

	for i := 0; i < config.Samples; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-config.Clock.After(config.Gap):
			}
		}

		latency, err := probe(ctx, client, target, config)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			log.Debug().Err(err).Int("sample", i+1).Msg("stability probe failed")
			report.Failures++
			continue
		}
		report.Latencies = append(report.Latencies, latency)
		total += latency
		if latency > config.SpikeThreshold {
			report.Spikes++
		}
	}

	report.Average = total / time.Duration(config.Samples)
	report.Passed = report.Failures == 0 && report.Spikes == 0 && report.Average <= config.MaxAverage
	log.Info().
		Str("target", target).
		Dur("average", report.Average).
		Int("spikes", report.Spikes).
		Int("failures", report.Failures).
		Bool("passed", report.Passed).
		Msg("network stability measured")
	return report, nil
}

func probe(ctx context.Context, client *http.Client, target string, config StabilityConfig) (time.Duration, error) {
	if config.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ProbeTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Cache-Control", "no-store")

	start := config.Clock.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return 0, fmt.Errorf("probe returned %s", resp.Status)
	}
	return config.Clock.Since(start), nil
}
