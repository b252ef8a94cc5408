package health

import (
	"context"
	"log/slog"
	"time"
)

// Prober is the registry-side seam the probe loop needs: a synthetic,
// no-traffic reachability check for one named provider.
type Prober interface {
	Probe(ctx context.Context, provider string) error
}

const defaultProbeInterval = 30 * time.Second

// ProbeLoop periodically probes every non-healthy provider so the tracker
// can observe recovery without waiting for real traffic. One loop per
// process; probes run sequentially each tick.
type ProbeLoop struct {
	tracker  *Tracker
	prober   Prober
	interval time.Duration
	logger   *slog.Logger
}

// NewProbeLoop builds the loop. An interval at or below zero takes the 30s
// default.
func NewProbeLoop(tracker *Tracker, prober Prober, interval time.Duration, logger *slog.Logger) *ProbeLoop {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProbeLoop{
		tracker:  tracker,
		prober:   prober,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, probing each degraded or errored
// provider once per interval. Intended to run under an errgroup so shutdown
// joins the loop instead of abandoning it; the return value is always
// ctx.Err().
func (l *ProbeLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("health probe loop started", slog.Duration("interval", l.interval))

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("health probe loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.probeAll(ctx)
		}
	}
}

func (l *ProbeLoop) probeAll(ctx context.Context) {
	for _, provider := range l.tracker.DegradedProviders() {
		if ctx.Err() != nil {
			return
		}
		l.tracker.ProbeAndRecover(ctx, provider, func(ctx context.Context) error {
			return l.prober.Probe(ctx, provider)
		})
	}
}
