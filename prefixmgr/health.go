package prefixmgr

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/digineo/go-ping"

	"github.com/openr/openr-go/state"
)

// HealthChecker gates whether a PrefixEntry is currently eligible for
// advertisement. Directly adapted from the teacher's
// state/prefix_health.go PrefixHealth interface, generalized from
// "returns a metric" (nylon folds health into its distance-vector
// metric) to "is this prefix currently healthy" (Open/R keeps health
// and SPF metric as separate concerns, spec.md §4.5 vs §4.6).
type HealthChecker interface {
	Healthy(e state.PrefixEntry) bool
}

// probe is one running health check for a single prefix.
type probe interface {
	Healthy() bool
	Stop()
}

// Registry runs one probe per monitored prefix and answers Healthy
// lookups by prefix string. Prefixes with no registered probe are
// always healthy (static/config-sourced prefixes need no check).
type Registry struct {
	log *slog.Logger

	mu     sync.RWMutex
	probes map[string]probe
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{log: log, probes: make(map[string]probe)}
}

func (r *Registry) Healthy(e state.PrefixEntry) bool {
	r.mu.RLock()
	p, ok := r.probes[e.Prefix.String()]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return p.Healthy()
}

// RegisterPing starts an ICMP-based health check for prefix, targeting
// addr, adapted from PingPrefixHealth.Start.
func (r *Registry) RegisterPing(prefix netip.Prefix, addr netip.Addr, delay time.Duration, maxFailures int) {
	p := &pingProbe{addr: addr, delay: delay, maxFailures: maxFailures, log: r.log, prefix: prefix}
	p.start()
	r.mu.Lock()
	r.probes[prefix.String()] = p
	r.mu.Unlock()
}

// RegisterHTTP starts an HTTP-based health check for prefix, adapted
// from HTTPPrefixHealth.Start.
func (r *Registry) RegisterHTTP(prefix netip.Prefix, url string, delay time.Duration) {
	p := &httpProbe{url: url, delay: delay, log: r.log, prefix: prefix}
	p.start()
	r.mu.Lock()
	r.probes[prefix.String()] = p
	r.mu.Unlock()
}

// Unregister stops and removes any probe for prefix, spec.md §4.5's
// "removal is immediate on source retraction".
func (r *Registry) Unregister(prefix netip.Prefix) {
	r.mu.Lock()
	p, ok := r.probes[prefix.String()]
	delete(r.probes, prefix.String())
	r.mu.Unlock()
	if ok {
		p.Stop()
	}
}

type pingProbe struct {
	prefix      netip.Prefix
	addr        netip.Addr
	delay       time.Duration
	maxFailures int
	log         *slog.Logger

	healthy atomic.Bool
	running atomic.Bool
}

func (p *pingProbe) Healthy() bool { return p.healthy.Load() }
func (p *pingProbe) Stop()         { p.running.Store(false) }

func (p *pingProbe) start() {
	p.healthy.Store(true)
	p.running.Store(true)
	if p.delay <= 0 {
		p.delay = 5 * time.Second
	}
	if p.maxFailures <= 0 {
		p.maxFailures = 3
	}
	go func() {
		ticker := time.NewTicker(p.delay)
		defer ticker.Stop()
		bind4, bind6 := "0.0.0.0", "::"
		for p.running.Load() {
			<-ticker.C
			pinger, err := ping.New(bind4, bind6)
			if err != nil {
				p.log.Debug("prefix health: pinger init failed", "prefix", p.prefix, "err", err)
				continue
			}
			addr := &net.IPAddr{IP: net.IP(p.addr.AsSlice())}
			_, err = pinger.PingAttempts(addr, p.delay/time.Duration(p.maxFailures), p.maxFailures)
			pinger.Close()
			p.healthy.Store(err == nil)
			if err != nil {
				p.log.Debug("prefix health: ping failed", "prefix", p.prefix, "addr", p.addr, "err", err)
			}
		}
	}()
}

type httpProbe struct {
	prefix netip.Prefix
	url    string
	delay  time.Duration
	log    *slog.Logger

	healthy atomic.Bool
	running atomic.Bool
}

func (p *httpProbe) Healthy() bool { return p.healthy.Load() }
func (p *httpProbe) Stop()         { p.running.Store(false) }

func (p *httpProbe) start() {
	p.healthy.Store(true)
	p.running.Store(true)
	if p.delay <= 0 {
		p.delay = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(p.delay)
		defer ticker.Stop()
		client := http.Client{Timeout: p.delay}
		for p.running.Load() {
			<-ticker.C
			resp, err := client.Get(p.url)
			ok := err == nil && resp.StatusCode == http.StatusOK
			if resp != nil {
				resp.Body.Close()
			}
			p.healthy.Store(ok)
			if !ok {
				p.log.Debug("prefix health: http probe failed", "prefix", p.prefix, "url", p.url, "err", err)
			}
		}
	}()
}
