package track

import (
	"errors"
	"testing"
)

func strp(s string) *string { return &s }

func TestResolveTarget(t *testing.T) {
	cases := []struct {
		name    string
		role    Role
		busID   *string
		want    Target
		wantErr error
	}{
		{"operator null gets fleet", RoleOperator, nil, TargetAll(), nil},
		// The client-declared scope is not trusted for privileged
		// semantics; an operator always watches everything.
		{"operator with bus still gets fleet", RoleOperator, strp("bus-7"), TargetAll(), nil},
		{"guardian with bus", RoleGuardian, strp("bus-3"), TargetBus("bus-3"), nil},
		{"guardian null rejected", RoleGuardian, nil, Target{}, ErrNeedBusID},
		{"guardian empty rejected", RoleGuardian, strp(""), Target{}, ErrNeedBusID},
		{"reporter rejected", RoleReporter, strp("bus-7"), Target{}, ErrReporterSubscribe},
		{"unknown role rejected", Role("admin"), nil, Target{}, ErrUnknownRole},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ResolveTarget(Identity{ActorID: "a-1", Role: c.role}, c.busID)
			if !errors.Is(err, c.wantErr) {
				t.Fatalf("err = %v, want %v", err, c.wantErr)
			}
			if err == nil && got != c.want {
				t.Fatalf("target = %v, want %v", got, c.want)
			}
		})
	}
}
