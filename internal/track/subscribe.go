package track

import "errors"

var (
	// ErrNeedBusID rejects a guardian SUBSCRIBE without a concrete bus.
	ErrNeedBusID = errors.New("track: subscription requires a bus id")
	// ErrReporterSubscribe rejects observer subscriptions from the
	// vehicle-side role; reporters push over HTTP only.
	ErrReporterSubscribe = errors.New("track: reporters cannot subscribe")
	// ErrUnknownRole rejects identities outside the known roles.
	ErrUnknownRole = errors.New("track: unknown role")
)

// ResolveTarget maps a SUBSCRIBE message to the target the server is
// willing to grant. The client-declared scope is never trusted for
// privileged semantics: an operator always gets the whole fleet, no
// matter what busId it sent, and only an operator may omit the bus id.
// Guardian entitlement to the named bus is checked separately by the
// authorization collaborator.
func ResolveTarget(identity Identity, busID *string) (Target, error) {
	switch identity.Role {
	case RoleOperator:
		return TargetAll(), nil
	case RoleGuardian:
		if busID == nil || *busID == "" {
			return Target{}, ErrNeedBusID
		}
		return TargetBus(*busID), nil
	case RoleReporter:
		return Target{}, ErrReporterSubscribe
	default:
		return Target{}, ErrUnknownRole
	}
}
