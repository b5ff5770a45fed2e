package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeSubscribeNullBusID(t *testing.T) {
	raw := []byte(`{"type":"SUBSCRIBE","busId":null}`)
	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.Type != TypeSubscribe {
		t.Fatalf("type = %q, want %q", msg.Type, TypeSubscribe)
	}

	var sub Subscribe
	if err := json.Unmarshal(raw, &sub); err != nil {
		t.Fatalf("unmarshal subscribe: %v", err)
	}
	if sub.BusID != nil {
		t.Fatalf("BusID = %v, want nil", *sub.BusID)
	}
}

func TestDecodeSubscribeWithBusID(t *testing.T) {
	var sub Subscribe
	if err := json.Unmarshal([]byte(`{"type":"SUBSCRIBE","busId":"bus-3"}`), &sub); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sub.BusID == nil || *sub.BusID != "bus-3" {
		t.Fatalf("BusID = %v, want bus-3", sub.BusID)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := DecodeMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

func TestEncodeLocationUpdateShape(t *testing.T) {
	ts := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	frame, err := EncodeLocationUpdate("bus-7", 23.588, 58.3829, ts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(frame, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != TypeLocationUpdate {
		t.Fatalf("type = %v", got["type"])
	}
	payload, ok := got["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing: %s", frame)
	}
	if payload["busId"] != "bus-7" || payload["latitude"] != 23.588 || payload["longitude"] != 58.3829 {
		t.Fatalf("payload = %v", payload)
	}
	if payload["timestamp"] != "2026-08-01T10:30:00Z" {
		t.Fatalf("timestamp = %v", payload["timestamp"])
	}
}
