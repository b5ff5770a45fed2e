// Package protocol defines the JSON wire contract between the tracking
// server and its WebSocket observers.
package protocol

import (
	"encoding/json"
	"time"
)

// Message type discriminators.
const (
	TypeSubscribe      = "SUBSCRIBE"
	TypeSubscribed     = "SUBSCRIBED"
	TypeLocationUpdate = "LOCATION_UPDATE"
	TypeError          = "ERROR"
)

// Error reason codes carried in ERROR frames.
const (
	ReasonNotAuthorized = "NOT_AUTHORIZED"
	ReasonBadSubscribe  = "BAD_SUBSCRIBE"
)

type Message struct {
	Type string `json:"type"`
}

// Subscribe is the only client->server message accepted after connect.
// BusID null is only honored for operator-role identities.
type Subscribe struct {
	Message
	BusID *string `json:"busId"`
}

// LocationPayload carries one position sample on the wire. Timestamp
// is RFC 3339 in UTC, assigned by the server.
type LocationPayload struct {
	BusID     string  `json:"busId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`
}

type LocationUpdate struct {
	Message
	Payload LocationPayload `json:"payload"`
}

// Subscribed acknowledges an accepted subscription. BusID is empty
// when the subscription covers the whole fleet.
type Subscribed struct {
	Message
	BusID string `json:"busId,omitempty"`
	All   bool   `json:"all"`
}

type Error struct {
	Message
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// DecodeMessage reads just the discriminator; callers re-decode the
// full shape once they know the type.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// EncodeLocationUpdate builds the LOCATION_UPDATE frame for one sample.
func EncodeLocationUpdate(busID string, lat, lon float64, ts time.Time) ([]byte, error) {
	return json.Marshal(LocationUpdate{
		Message: Message{Type: TypeLocationUpdate},
		Payload: LocationPayload{
			BusID:     busID,
			Latitude:  lat,
			Longitude: lon,
			Timestamp: ts.UTC().Format(time.RFC3339Nano),
		},
	})
}

// EncodeSubscribed builds the SUBSCRIBED ack frame.
func EncodeSubscribed(all bool, busID string) ([]byte, error) {
	return json.Marshal(Subscribed{
		Message: Message{Type: TypeSubscribed},
		BusID:   busID,
		All:     all,
	})
}

// EncodeError builds an ERROR frame.
func EncodeError(reason, detail string) ([]byte, error) {
	return json.Marshal(Error{
		Message: Message{Type: TypeError},
		Reason:  reason,
		Detail:  detail,
	})
}
