package track

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rahal-transit/bustrack/internal/protocol"
)

func drainFrames(t *testing.T, c *Conn) []protocol.LocationUpdate {
	t.Helper()
	var out []protocol.LocationUpdate
	for {
		select {
		case frame := <-c.Outbox():
			var upd protocol.LocationUpdate
			if err := json.Unmarshal(frame, &upd); err != nil {
				t.Fatalf("bad frame %s: %v", frame, err)
			}
			out = append(out, upd)
		default:
			return out
		}
	}
}

func sample(busID string) PositionSample {
	return PositionSample{
		BusID:     busID,
		Latitude:  23.588,
		Longitude: 58.3829,
		Timestamp: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestFanoutDeliversByInterest(t *testing.T) {
	reg := NewRegistry()
	in := NewIngestor(reg, nil, 4, zap.NewNop())

	op := NewConn(Identity{ActorID: "op-1", Role: RoleOperator}, 8)
	g7 := NewConn(Identity{ActorID: "g-7", Role: RoleGuardian}, 8)
	g3 := NewConn(Identity{ActorID: "g-3", Role: RoleGuardian}, 8)
	reg.Register(op, TargetAll())
	reg.Register(g7, TargetBus("bus-7"))
	reg.Register(g3, TargetBus("bus-3"))

	in.fanOut(sample("bus-7"))

	if got := drainFrames(t, op); len(got) != 1 {
		t.Fatalf("fleet subscriber got %d frames, want 1", len(got))
	} else {
		p := got[0].Payload
		if got[0].Type != protocol.TypeLocationUpdate {
			t.Fatalf("frame type = %q", got[0].Type)
		}
		if p.BusID != "bus-7" || p.Latitude != 23.588 || p.Longitude != 58.3829 {
			t.Fatalf("payload = %+v", p)
		}
		if _, err := time.Parse(time.RFC3339Nano, p.Timestamp); err != nil {
			t.Fatalf("timestamp %q not RFC3339: %v", p.Timestamp, err)
		}
	}
	if got := drainFrames(t, g7); len(got) != 1 {
		t.Fatalf("bus-7 subscriber got %d frames, want 1", len(got))
	}
	if got := drainFrames(t, g3); len(got) != 0 {
		t.Fatalf("bus-3 subscriber got %d frames for bus-7, want 0", len(got))
	}
}

func TestFanoutSlowConnDoesNotBlockOthers(t *testing.T) {
	reg := NewRegistry()
	in := NewIngestor(reg, nil, 4, zap.NewNop())

	slow := NewConn(Identity{ActorID: "op-1", Role: RoleOperator}, 1)
	healthy := NewConn(Identity{ActorID: "op-2", Role: RoleOperator}, 8)
	reg.Register(slow, TargetAll())
	reg.Register(healthy, TargetAll())

	// Fill the slow connection's buffer so the next delivery would block.
	if err := slow.Deliver([]byte("{}")); err != nil {
		t.Fatalf("prefill: %v", err)
	}

	done := make(chan struct{})
	go func() {
		in.fanOut(sample("bus-7"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("fan-out blocked on a slow connection")
	}

	if got := drainFrames(t, healthy); len(got) != 1 {
		t.Fatalf("healthy subscriber got %d frames, want 1", len(got))
	}
	// The slow connection stays registered; it only lost that frame.
	if got := connIDs(reg.InterestedIn("bus-7")); !got[slow.ID] {
		t.Fatalf("slow connection was unregistered")
	}
}

func TestFanoutClosedConnIsUnregistered(t *testing.T) {
	reg := NewRegistry()
	in := NewIngestor(reg, nil, 4, zap.NewNop())

	dead := NewConn(Identity{ActorID: "g-7", Role: RoleGuardian}, 8)
	live := NewConn(Identity{ActorID: "op-1", Role: RoleOperator}, 8)
	reg.Register(dead, TargetBus("bus-7"))
	reg.Register(live, TargetAll())

	// Transport dropped but the close notification hasn't reached the
	// registry yet; fan-out must treat the dead conn as cleanup, not
	// as an error.
	dead.Close()

	in.fanOut(sample("bus-7"))

	if got := drainFrames(t, live); len(got) != 1 {
		t.Fatalf("live subscriber got %d frames, want 1", len(got))
	}
	if got := connIDs(reg.InterestedIn("bus-7")); got[dead.ID] {
		t.Fatalf("dead connection still registered after fan-out")
	}
}
