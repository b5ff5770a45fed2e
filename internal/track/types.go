// Package track is the live location broadcast core: the connection
// registry, the ingestion gate, and the fan-out engine.
package track

import (
	"errors"
	"time"
)

// Role of an authenticated actor on the tracking surface.
type Role string

const (
	// RoleOperator watches the whole fleet from the operations console.
	RoleOperator Role = "fleet-operator"
	// RoleGuardian watches a single bus it is entitled to.
	RoleGuardian Role = "guardian"
	// RoleReporter is the on-board actor submitting samples. Reporters
	// push over HTTP and never hold an observer connection.
	RoleReporter Role = "reporter"
)

// Identity is the authenticated principal behind a connection or an
// ingest call.
type Identity struct {
	ActorID string
	Role    Role
}

// PositionSample is one reported location for one bus. Timestamp is
// assigned by the ingestion gate; client-supplied time is never
// trusted. Samples are pass-through values, nothing here persists them.
type PositionSample struct {
	BusID     string    `json:"busId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// Target is the subscription scope of a connection: the whole fleet or
// exactly one bus.
type Target struct {
	All   bool
	BusID string
}

func TargetAll() Target             { return Target{All: true} }
func TargetBus(busID string) Target { return Target{BusID: busID} }

func (t Target) String() string {
	if t.All {
		return "all"
	}
	return "bus:" + t.BusID
}

var (
	// ErrOutOfRange rejects coordinates outside ±90/±180.
	ErrOutOfRange = errors.New("track: coordinates out of range")
	// ErrStale marks a sample whose timestamp does not advance the
	// bus's last known one. Dropped silently as far as the reporter
	// is concerned.
	ErrStale = errors.New("track: stale sample")
	// ErrConnClosed reports a delivery attempt on a closed connection.
	ErrConnClosed = errors.New("track: connection closed")
	// ErrBackpressure reports a delivery dropped because the
	// connection's send buffer is full.
	ErrBackpressure = errors.New("track: send buffer full")
)

// ValidCoordinates reports whether lat/lon are within range.
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
