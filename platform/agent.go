// Package platform defines the pluggable boundary spec.md §6 specifies
// between the control-plane core and kernel/hardware FIB programming:
// interface/address discovery and unicast/MPLS route install. Out of
// scope per spec.md §1 ("Kernel/hardware FIB programming ... treated
// as external collaborators"), this package supplies the interface
// plus a real Linux implementation and a mock for tests, grounded on
// the teacher's impl/sys_linux.go (which shells out to `ip`) but
// generalized to a structured, idempotent API using
// github.com/vishvananda/netlink instead of exec'ing a CLI.
package platform

import (
	"context"
	"net/netip"

	"github.com/openr/openr-go/state"
)

// InterfaceInfo describes one platform network interface.
type InterfaceInfo struct {
	Name  state.InterfaceName
	Index int
	Up    bool
}

// InterfaceEvent is a link up/down transition.
type InterfaceEvent struct {
	Name  state.InterfaceName
	Index int
	Up    bool
}

// IpAddress is one address assigned to an interface.
type IpAddress struct {
	Address   netip.Addr
	PrefixLen int
}

// AddressEvent is an address add/remove transition.
type AddressEvent struct {
	Iface     state.InterfaceName
	Address   netip.Addr
	PrefixLen int
	Added     bool
}

// Agent is the platform boundary of spec.md §6. Every mutating method
// must be idempotent; sync_* must fully replace prior state atomically
// or report an error, never partially apply.
type Agent interface {
	GetInterfaces(ctx context.Context) ([]InterfaceInfo, error)
	SubscribeInterfaceEvents(ctx context.Context) (<-chan InterfaceEvent, error)

	GetAddresses(ctx context.Context, iface state.InterfaceName) ([]IpAddress, error)
	SubscribeAddressEvents(ctx context.Context) (<-chan AddressEvent, error)

	AddUnicastRoutes(ctx context.Context, routes []state.UnicastRoute) error
	DeleteUnicastRoutes(ctx context.Context, prefixes []netip.Prefix) error
	SyncUnicastRoutes(ctx context.Context, routes []state.UnicastRoute) error

	AddMplsRoutes(ctx context.Context, routes []state.MplsRoute) error
	DeleteMplsRoutes(ctx context.Context, labels []uint32) error
	SyncMplsRoutes(ctx context.Context, routes []state.MplsRoute) error
}
