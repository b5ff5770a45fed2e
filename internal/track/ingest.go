package track

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rahal-transit/bustrack/internal/metrics"
)

// PositionCache is the optional last-known-position store consulted to
// push a snapshot to new subscribers. A nil cache disables snapshots.
type PositionCache interface {
	Set(ctx context.Context, s PositionSample) error
	Get(ctx context.Context, busID string) (PositionSample, bool, error)
	All(ctx context.Context) ([]PositionSample, error)
}

// Ingestor is the single entry point through which new position
// samples enter the system. It is the timestamp authority, enforces
// per-bus ordering, and hands accepted samples to the fan-out worker
// without making the reporter wait on delivery.
type Ingestor struct {
	reg   *Registry
	cache PositionCache
	queue chan PositionSample
	log   *zap.Logger

	now func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewIngestor(reg *Registry, cache PositionCache, queueSize int, log *zap.Logger) *Ingestor {
	return &Ingestor{
		reg:      reg,
		cache:    cache,
		queue:    make(chan PositionSample, queueSize),
		log:      log,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
}

// Ingest validates and stamps one sample, then queues it for fan-out.
// The returned timestamp is the server-assigned observation time. The
// HTTP boundary must have authenticated the reporter and confirmed its
// bus assignment before calling this.
//
// A sample that does not advance the bus's last timestamp returns
// ErrStale; callers still acknowledge the reporter (the drop is a
// server-side ordering decision, not a reporter error).
func (in *Ingestor) Ingest(ctx context.Context, busID string, lat, lon float64) (time.Time, error) {
	if !ValidCoordinates(lat, lon) {
		return time.Time{}, ErrOutOfRange
	}

	ts := in.now().UTC()

	in.mu.Lock()
	if last, ok := in.lastSeen[busID]; ok && !ts.After(last) {
		in.mu.Unlock()
		metrics.SamplesStale.Inc()
		in.log.Debug("stale sample dropped",
			zap.String("bus_id", busID),
			zap.Time("ts", ts),
			zap.Time("last", last),
		)
		return ts, ErrStale
	}
	in.lastSeen[busID] = ts
	in.mu.Unlock()

	s := PositionSample{BusID: busID, Latitude: lat, Longitude: lon, Timestamp: ts}

	if in.cache != nil {
		if err := in.cache.Set(ctx, s); err != nil {
			in.log.Warn("position cache write failed", zap.String("bus_id", busID), zap.Error(err))
		}
	}

	metrics.SamplesIngested.Inc()

	select {
	case in.queue <- s:
	default:
		// Overloaded fan-out never holds up the reporter ack; the
		// sample is simply not broadcast.
		metrics.UpdatesDropped.WithLabelValues("queue_full").Inc()
		in.log.Warn("fan-out queue full, sample not broadcast", zap.String("bus_id", busID))
	}
	return ts, nil
}

// Run consumes the ingest queue and fans each sample out. It returns
// when ctx is cancelled. Run on its own goroutine; per-vehicle
// delivery order holds because a single worker drains the queue.
func (in *Ingestor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-in.queue:
			in.fanOut(s)
		}
	}
}
