package policy

import "errors"

// Configuration errors are rejected synchronously at the mutation call and
// leave the policy state unchanged.
var (
	// ErrNexthopConfigured rejects binding a nexthop-group while an inline
	// nexthop is present.
	ErrNexthopConfigured = errors.New("an inline nexthop is already configured, remove it first")
	// ErrGroupConfigured rejects adding an inline nexthop while a
	// nexthop-group is bound.
	ErrGroupConfigured = errors.New("a nexthop-group is already configured, remove it first")
	// ErrOtherGroupConfigured rejects replacing a bound nexthop-group
	// without removing it first.
	ErrOtherGroupConfigured = errors.New("a different nexthop-group is already configured, remove it first")
	// ErrGroupNotConfigured rejects removing a nexthop-group binding that
	// does not match the configured one.
	ErrGroupNotConfigured = errors.New("no such nexthop-group is configured")
	// ErrTooManyNexthops rejects a second distinct inline nexthop.
	ErrTooManyNexthops = errors.New("only one inline nexthop is supported, use a nexthop-group")
	// ErrNoNexthops rejects removing an inline nexthop when none is
	// configured.
	ErrNoNexthops = errors.New("no inline nexthop to delete")
	// ErrNexthopNotFound rejects removing an inline nexthop that does not
	// match the configured one.
	ErrNexthopNotFound = errors.New("no matching inline nexthop")
	// ErrVRFNotFound reports an unresolvable VRF name.
	ErrVRFNotFound = errors.New("vrf not found")
	// ErrInterfaceNotFound reports an unresolvable interface name.
	ErrInterfaceNotFound = errors.New("interface not found")
	// ErrFamilyMismatch rejects a match clause whose address family
	// conflicts with the other, still-present clause.
	ErrFamilyMismatch = errors.New("match clauses must share one address family")
	// ErrMapNotFound reports an unknown policy map.
	ErrMapNotFound = errors.New("pbr-map not found")
	// ErrSequenceNotFound reports an unknown sequence number.
	ErrSequenceNotFound = errors.New("pbr-map sequence not found")
)
