package persistence

import (
	"context"
	"time"

	"UsdnLedger/internal/observability"

	"github.com/rs/zerolog"
)

// CaptureFunc takes a consistent checkpoint, typically by running on the
// engine's sequencer.
type CaptureFunc func(ctx context.Context) (*Checkpoint, error)

// Snapshotter saves a checkpoint every interval, skipping unchanged state.
type Snapshotter struct {
	store    CheckpointStore
	capture  CaptureFunc
	interval time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger

	lastHash string
}

func NewSnapshotter(store CheckpointStore, capture CaptureFunc, interval time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Snapshotter {
	return &Snapshotter{store: store, capture: capture, interval: interval, metrics: metrics, logger: logger}
}

// Run snapshots until ctx is done, with one final snapshot on shutdown.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if _, err := s.SnapshotNow(shutdownCtx); err != nil {
				s.logger.Error().Err(err).Msg("final snapshot failed")
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SnapshotNow(ctx); err != nil {
				s.logger.Error().Err(err).Msg("snapshot failed")
			}
		}
	}
}

// SnapshotNow captures and saves one checkpoint. It reports false when the
// state hash has not moved since the last save.
func (s *Snapshotter) SnapshotNow(ctx context.Context) (bool, error) {
	start := time.Now()
	cp, err := s.capture(ctx)
	if err != nil {
		return false, err
	}
	if cp.Engine.StateHash == s.lastHash {
		return false, nil
	}
	if err := s.store.Save(ctx, cp); err != nil {
		return false, err
	}
	s.lastHash = cp.Engine.StateHash

	if s.metrics != nil {
		s.metrics.SnapshotsWritten.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	}
	s.logger.Info().Uint64("seq", cp.Engine.Sequence).Str("hash", cp.Engine.StateHash).Msg("snapshot saved")
	return true, nil
}
