package track

import "testing"

func connIDs(conns []*Conn) map[string]bool {
	out := make(map[string]bool, len(conns))
	for _, c := range conns {
		out[c.ID] = true
	}
	return out
}

func TestInterestedInUnionsFleetAndBusSubscribers(t *testing.T) {
	reg := NewRegistry()
	op := NewConn(Identity{ActorID: "op-1", Role: RoleOperator}, 4)
	g7 := NewConn(Identity{ActorID: "g-7", Role: RoleGuardian}, 4)
	g3 := NewConn(Identity{ActorID: "g-3", Role: RoleGuardian}, 4)

	reg.Register(op, TargetAll())
	reg.Register(g7, TargetBus("bus-7"))
	reg.Register(g3, TargetBus("bus-3"))

	got := connIDs(reg.InterestedIn("bus-7"))
	if len(got) != 2 || !got[op.ID] || !got[g7.ID] {
		t.Fatalf("InterestedIn(bus-7) = %v, want {%s, %s}", got, op.ID, g7.ID)
	}

	got = connIDs(reg.InterestedIn("bus-99"))
	if len(got) != 1 || !got[op.ID] {
		t.Fatalf("InterestedIn(bus-99) = %v, want only the fleet subscriber", got)
	}
}

func TestRegisterReplacesPriorTarget(t *testing.T) {
	reg := NewRegistry()
	c := NewConn(Identity{ActorID: "g-1", Role: RoleGuardian}, 4)

	reg.Register(c, TargetBus("bus-3"))
	reg.Register(c, TargetBus("bus-5"))

	if got := reg.InterestedIn("bus-3"); len(got) != 0 {
		t.Fatalf("still registered under old target: %v", connIDs(got))
	}
	if got := reg.InterestedIn("bus-5"); len(got) != 1 {
		t.Fatalf("not registered under new target")
	}
	if reg.Len() != 1 {
		t.Fatalf("Len = %d, want 1", reg.Len())
	}

	// Moving from a bus target to the fleet must drop the bus entry.
	reg.Register(c, TargetAll())
	if got := reg.InterestedIn("bus-5"); len(got) != 1 {
		t.Fatalf("fleet subscriber should still see bus-5 samples")
	}
	reg.Unregister(c.ID)
	if got := reg.InterestedIn("bus-5"); len(got) != 0 {
		t.Fatalf("unregistered conn still present")
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	c := NewConn(Identity{ActorID: "g-1", Role: RoleGuardian}, 4)
	reg.Register(c, TargetBus("bus-3"))

	reg.Unregister(c.ID)
	reg.Unregister(c.ID) // duplicate close event, must be a no-op
	reg.Unregister("never-registered")

	if reg.Len() != 0 {
		t.Fatalf("Len = %d after unregister, want 0", reg.Len())
	}
}

func TestDrainEmptiesRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewConn(Identity{ActorID: "op-1", Role: RoleOperator}, 4), TargetAll())
	reg.Register(NewConn(Identity{ActorID: "g-1", Role: RoleGuardian}, 4), TargetBus("bus-3"))

	conns := reg.Drain()
	if len(conns) != 2 {
		t.Fatalf("Drain returned %d conns, want 2", len(conns))
	}
	if reg.Len() != 0 {
		t.Fatalf("registry not empty after drain")
	}
}

func TestDrainIncludesUnsubscribedConns(t *testing.T) {
	reg := NewRegistry()
	subscribed := NewConn(Identity{ActorID: "op-1", Role: RoleOperator}, 4)
	idle := NewConn(Identity{ActorID: "g-1", Role: RoleGuardian}, 4)

	reg.Register(subscribed, TargetAll())
	// An observer may stay authenticated without a target indefinitely;
	// shutdown still has to close it.
	reg.Attach(idle)

	got := connIDs(reg.Drain())
	if len(got) != 2 || !got[subscribed.ID] || !got[idle.ID] {
		t.Fatalf("Drain = %v, want both the subscribed and the idle conn", got)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry not empty after drain")
	}
	if view := reg.SnapshotView(); len(view) != 0 {
		t.Fatalf("snapshot after drain = %v, want empty", view)
	}
}

func TestSnapshotViewShowsUnsubscribedAsNone(t *testing.T) {
	reg := NewRegistry()
	idle := NewConn(Identity{ActorID: "g-1", Role: RoleGuardian}, 4)
	reg.Attach(idle)

	view := reg.SnapshotView()
	if len(view) != 1 || view[0].Target != "none" {
		t.Fatalf("snapshot = %+v, want one entry with target none", view)
	}

	reg.Unregister(idle.ID)
	if view := reg.SnapshotView(); len(view) != 0 {
		t.Fatalf("snapshot after unregister = %v, want empty", view)
	}
}

func TestSnapshotView(t *testing.T) {
	reg := NewRegistry()
	op := NewConn(Identity{ActorID: "op-1", Role: RoleOperator}, 4)
	reg.Register(op, TargetAll())

	view := reg.SnapshotView()
	if len(view) != 1 {
		t.Fatalf("snapshot has %d entries, want 1", len(view))
	}
	if view[0].Target != "all" || view[0].Role != RoleOperator || view[0].ID != op.ID {
		t.Fatalf("unexpected snapshot entry: %+v", view[0])
	}
}
