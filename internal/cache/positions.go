// Package cache provides the Redis-backed last-known-position store.
// It only ever holds the most recent sample per bus; history is out of
// scope for this service.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rahal-transit/bustrack/internal/track"
)

const positionsKey = "bustrack:positions"

// Positions implements track.PositionCache on a Redis hash keyed by
// bus id.
type Positions struct {
	client *redis.Client
}

// Open parses the URL, connects, and verifies the connection.
func Open(url string) (*Positions, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Positions{client: client}, nil
}

func (p *Positions) Close() error { return p.client.Close() }

// Set stores the latest sample for its bus, overwriting the prior one.
func (p *Positions) Set(ctx context.Context, s track.PositionSample) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return p.client.HSet(ctx, positionsKey, s.BusID, b).Err()
}

// Get returns the cached sample for one bus, if any.
func (p *Positions) Get(ctx context.Context, busID string) (track.PositionSample, bool, error) {
	raw, err := p.client.HGet(ctx, positionsKey, busID).Bytes()
	if errors.Is(err, redis.Nil) {
		return track.PositionSample{}, false, nil
	}
	if err != nil {
		return track.PositionSample{}, false, err
	}
	var s track.PositionSample
	if err := json.Unmarshal(raw, &s); err != nil {
		return track.PositionSample{}, false, err
	}
	return s, true, nil
}

// All returns every cached sample, one per bus.
func (p *Positions) All(ctx context.Context) ([]track.PositionSample, error) {
	raw, err := p.client.HGetAll(ctx, positionsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]track.PositionSample, 0, len(raw))
	for busID, v := range raw {
		var s track.PositionSample
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			// A corrupt entry shouldn't hide the rest of the fleet.
			continue
		}
		if s.BusID == "" {
			s.BusID = busID
		}
		out = append(out, s)
	}
	return out, nil
}
