package platform

import (
	"context"
	"net/netip"
	"sync"

	"github.com/openr/openr-go/state"
)

// MockAgent is an in-memory Agent for unit and integration tests: it
// records installed routes and lets a test inject interface/address
// events, standing in for the platform boundary spec.md §1 excludes
// from scope.
type MockAgent struct {
	mu sync.Mutex

	interfaces []InterfaceInfo
	addresses  map[state.InterfaceName][]IpAddress

	Unicast map[string]state.UnicastRoute
	Mpls    map[uint32]state.MplsRoute

	ifaceEvents chan InterfaceEvent
	addrEvents  chan AddressEvent

	FailNext error // when set, the next mutating call returns this error once
}

func NewMockAgent() *MockAgent {
	return &MockAgent{
		addresses:   make(map[state.InterfaceName][]IpAddress),
		Unicast:     make(map[string]state.UnicastRoute),
		Mpls:        make(map[uint32]state.MplsRoute),
		ifaceEvents: make(chan InterfaceEvent, 64),
		addrEvents:  make(chan AddressEvent, 64),
	}
}

// UnicastSnapshot returns a copy of the currently installed unicast
// routes, safe to read concurrently with the agent's own mutations.
func (m *MockAgent) UnicastSnapshot() map[string]state.UnicastRoute {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]state.UnicastRoute, len(m.Unicast))
	for k, v := range m.Unicast {
		out[k] = v
	}
	return out
}

func (m *MockAgent) takeFailure() error {
	err := m.FailNext
	m.FailNext = nil
	return err
}

func (m *MockAgent) PushInterfaceEvent(ev InterfaceEvent) { m.ifaceEvents <- ev }
func (m *MockAgent) PushAddressEvent(ev AddressEvent)     { m.addrEvents <- ev }

func (m *MockAgent) SetInterfaces(infos []InterfaceInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interfaces = infos
}

func (m *MockAgent) SetAddresses(iface state.InterfaceName, addrs []IpAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addresses[iface] = addrs
}

func (m *MockAgent) GetInterfaces(ctx context.Context) ([]InterfaceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InterfaceInfo(nil), m.interfaces...), nil
}

func (m *MockAgent) SubscribeInterfaceEvents(ctx context.Context) (<-chan InterfaceEvent, error) {
	return m.ifaceEvents, nil
}

func (m *MockAgent) GetAddresses(ctx context.Context, iface state.InterfaceName) ([]IpAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]IpAddress(nil), m.addresses[iface]...), nil
}

func (m *MockAgent) SubscribeAddressEvents(ctx context.Context) (<-chan AddressEvent, error) {
	return m.addrEvents, nil
}

func (m *MockAgent) AddUnicastRoutes(ctx context.Context, routes []state.UnicastRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	for _, r := range routes {
		m.Unicast[r.Prefix.String()] = r
	}
	return nil
}

func (m *MockAgent) DeleteUnicastRoutes(ctx context.Context, prefixes []netip.Prefix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	for _, p := range prefixes {
		delete(m.Unicast, p.String())
	}
	return nil
}

func (m *MockAgent) SyncUnicastRoutes(ctx context.Context, routes []state.UnicastRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.Unicast = make(map[string]state.UnicastRoute, len(routes))
	for _, r := range routes {
		m.Unicast[r.Prefix.String()] = r
	}
	return nil
}

func (m *MockAgent) AddMplsRoutes(ctx context.Context, routes []state.MplsRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	for _, r := range routes {
		m.Mpls[r.Label] = r
	}
	return nil
}

func (m *MockAgent) DeleteMplsRoutes(ctx context.Context, labels []uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	for _, l := range labels {
		delete(m.Mpls, l)
	}
	return nil
}

func (m *MockAgent) SyncMplsRoutes(ctx context.Context, routes []state.MplsRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.Mpls = make(map[uint32]state.MplsRoute, len(routes))
	for _, r := range routes {
		m.Mpls[r.Label] = r
	}
	return nil
}
