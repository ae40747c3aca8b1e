// Package core wires every control-plane component into one running
// node, adapted from the teacher's core/entrypoint.go (Bootstrap/Start/
// MainLoop/Stop). Where the teacher hangs everything off one shared
// Env/dispatch channel, this rewrite gives each component its own
// state.Scheduler per spec.md §5 ("Cooperative single-threaded event
// loops, one per component"), and Node.Start/Stop plays the role of
// the teacher's Start/Stop pair.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"

	"github.com/openr/openr-go/decision"
	"github.com/openr/openr-go/errs"
	"github.com/openr/openr-go/fib"
	"github.com/openr/openr-go/kvstore"
	"github.com/openr/openr-go/linkmonitor"
	"github.com/openr/openr-go/metrics"
	"github.com/openr/openr-go/platform"
	"github.com/openr/openr-go/prefixalloc"
	"github.com/openr/openr-go/prefixmgr"
	"github.com/openr/openr-go/spark"
	"github.com/openr/openr-go/state"
	"github.com/openr/openr-go/watchdog"
)

// snapshotFileName is the warm-restart file written under the node's
// state directory, spec.md §4.2/§4.7.
const snapshotFileName = "warm_restart.json"

// Node owns the full set of running components for one process,
// spec.md §2's pipeline: Platform -> LinkMonitor -> Spark -> LinkMonitor
// -> KvStore <-> peers; KvStore -> Decision -> Fib -> Platform;
// PrefixManager -> KvStore independently.
type Node struct {
	log    *slog.Logger
	cfg    *state.Config
	nodeId state.NodeId

	ctx    context.Context
	cancel context.CancelCauseFunc

	metrics *metrics.Sink

	platformAgent platform.Agent

	sparkSched   *state.Scheduler
	lmSched      *state.Scheduler
	kvSched      *state.Scheduler
	decisionSched *state.Scheduler
	fibSched     *state.Scheduler
	pmSched      *state.Scheduler
	wdSched      *state.Scheduler

	sparkComp    *spark.Component
	lmComp       *linkmonitor.Component
	kvStore      *kvstore.Store
	kvTransport  *kvstore.TcpTransport
	sparkTransport *spark.UdpTransport
	decisionComp *decision.Component
	fibComp      *fib.Component
	pmComp       *prefixmgr.Component
	healthReg    *prefixmgr.Registry
	watchdogComp *watchdog.Watchdog

	allocRoot *prefixalloc.Root
	allocLeaf *prefixalloc.Leaf

	persistKey  state.PersistKeypair
	stateDir    string
}

// areaMatcherAdapter satisfies spark.AreaMatcher over the immutable
// Config, avoiding a spark -> state.Config compile-time dependency
// beyond the small interface spark already declares.
type areaMatcherAdapter struct{ cfg *state.Config }

func (a areaMatcherAdapter) MatchesNeighbor(area state.AreaId, peerName string) bool {
	ac := a.cfg.Area(area)
	if ac == nil {
		return false
	}
	return ac.MatchesNeighbor(peerName)
}

// NewNode constructs and wires every component but does not start any
// I/O; call Start to begin running.
func NewNode(cfg *state.Config, stateDir string, logPath string, verbose bool) (*Node, error) {
	if err := state.Validate(cfg, func(field, msg string) {
		slog.Default().Warn("config warning", "field", field, "msg", msg)
	}); err != nil {
		return nil, err
	}

	log, err := buildLogger(cfg.Identity.NodeName, logPath, verbose)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	nodeId := state.NodeId(cfg.Identity.NodeName)
	sink := metrics.NewSink(string(nodeId))

	n := &Node{
		log:      log,
		cfg:      cfg,
		nodeId:   nodeId,
		ctx:      ctx,
		cancel:   cancel,
		metrics:  sink,
		stateDir: stateDir,
	}

	n.platformAgent = platform.NewLinuxAgent(0)

	n.sparkSched = state.NewScheduler(ctx, log.With("component", "spark"), nil)
	n.lmSched = state.NewScheduler(ctx, log.With("component", "linkmonitor"), nil)
	n.kvSched = state.NewScheduler(ctx, log.With("component", "kvstore"), nil)
	n.decisionSched = state.NewScheduler(ctx, log.With("component", "decision"), nil)
	n.fibSched = state.NewScheduler(ctx, log.With("component", "fib"), nil)
	n.pmSched = state.NewScheduler(ctx, log.With("component", "prefixmgr"), nil)
	n.wdSched = state.NewScheduler(ctx, log.With("component", "watchdog"), nil)

	if stateDir != "" {
		key, err := state.LoadOrCreatePersistKey(stateDir)
		if err != nil {
			return nil, err
		}
		n.persistKey = key
	} else {
		key, err := state.NewPersistKeypair()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvariantViolation, err)
		}
		n.persistKey = key
	}

	n.decisionComp = decision.NewComponent(n.decisionSched, log.With("component", "decision"), sink, nodeId, 250*time.Millisecond, n.onRouteDb)

	n.fibComp = fib.NewComponent(n.fibSched, log.With("component", "fib"), sink, n.platformAgent, time.Duration(cfg.RouteDeleteDelayMs)*time.Millisecond, cfg.Spark.GracefulRestartTimeS > 0)

	n.kvTransport = kvstore.NewTcpTransport(log.With("component", "kvstore.transport"))
	n.kvStore = kvstore.New(n.kvSched, sink, log.With("component", "kvstore"), cfg.KvStore, nodeId, n.kvTransport, n.onKvUpdate)
	n.kvTransport.Bind(n.kvStore)

	areaConfigs := make([]*state.AreaConfig, 0, len(cfg.Identity.Areas))
	for i := range cfg.Identity.Areas {
		areaConfigs = append(areaConfigs, &cfg.Identity.Areas[i])
	}

	n.sparkComp = spark.NewComponent(n.sparkSched, sink, nodeId, areaMatcherAdapter{cfg}, 0)
	n.sparkComp.StartHoldTimerLoop(200 * time.Millisecond)

	n.sparkTransport = spark.NewUdpTransport(log.With("component", "spark.transport"), nodeId, cfg.SparkPort, areaConfigs, cfg.Spark)
	n.sparkTransport.Bind(n.sparkComp)
	n.sparkComp.SetTransport(n.sparkTransport)
	n.sparkComp.StartSendLoop(200 * time.Millisecond)

	n.lmComp = linkmonitor.NewComponent(n.lmSched, log.With("component", "linkmonitor"), sink, nodeId, areaConfigs, cfg.LinkMonitor, n.sparkComp, n.platformAgent, n.onAdjacencyDb)
	n.lmComp.SetSparkConfig(cfg.Spark)
	go n.lmComp.ConsumeSparkEvents(n.sparkComp.Events())

	n.healthReg = prefixmgr.NewRegistry(log.With("component", "prefixmgr.health"))
	n.pmComp = prefixmgr.NewComponent(n.pmSched, log.With("component", "prefixmgr"), sink, nodeId, n.healthReg, n.onPrefixDb)

	if cfg.PrefixAllocationEnabled && cfg.PrefixAllocation != nil {
		switch cfg.PrefixAllocation.Mode {
		case state.PrefixAllocationDynamicRootNode:
			root, err := prefixalloc.NewRoot(log.With("component", "prefixalloc"), sink, *cfg.PrefixAllocation, n.onAllocGrant)
			if err != nil {
				return nil, err
			}
			n.allocRoot = root
		case state.PrefixAllocationDynamicLeafNode:
			n.allocLeaf = prefixalloc.NewLeaf(nodeId, n.onLeafGrant)
		}
	}

	n.watchdogComp = watchdog.New(n.wdSched, log.With("component", "watchdog"), sink, cfg.Watchdog, n.onWatchdogShutdown)

	n.seedStaticPrefixes()

	return n, nil
}

func (n *Node) seedStaticPrefixes() {
	byArea := make(map[state.AreaId][]state.PrefixEntry)
	for _, p := range n.cfg.StaticPrefixes {
		byArea[p.Area] = append(byArea[p.Area], p)
	}
	for area, entries := range byArea {
		n.pmComp.SetSourcePrefixes(area, prefixmgr.SourceStaticConfig, entries)
	}
}

// onAdjacencyDb is LinkMonitor's publish callback, spec.md §2's
// LinkMonitor -> KvStore edge.
func (n *Node) onAdjacencyDb(area state.AreaId, db state.AdjacencyDb) {
	n.kvStore.Set(area, decision.AdjacencyKey(n.nodeId), decision.EncodeAdjacencyDb(db), 0, kvTtl(n.cfg))
}

// onPrefixDb is PrefixManager's publish callback, spec.md §2's
// "PrefixManager writes to KvStore independently".
func (n *Node) onPrefixDb(area state.AreaId, db state.PrefixDb) {
	n.kvStore.Set(area, decision.PrefixKey(n.nodeId), decision.EncodePrefixDb(db), 0, kvTtl(n.cfg))
}

func kvTtl(cfg *state.Config) time.Duration {
	if cfg.KvStore.TtlMs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(cfg.KvStore.TtlMs) * time.Millisecond
}

// onKvUpdate fans a winning KvStore merge out to every consumer that
// cares about AdjacencyDb/PrefixDb changes, spec.md §2's
// "KvStore -> Decision" edge, plus the prefix-allocation leaf path.
func (n *Node) onKvUpdate(area state.AreaId, v state.KvValue) {
	n.decisionComp.OnKvUpdate(area, v)
	if n.allocLeaf != nil {
		n.allocLeaf.OnKvUpdate(v.Key, v.Value)
	}
}

// onRouteDb is Decision's publish callback, spec.md §2's
// "Decision -> Fib" edge.
func (n *Node) onRouteDb(routes state.RouteDb) {
	n.fibComp.SetDesired(routes)
}

func (n *Node) onAllocGrant(key string, value []byte) {
	n.kvStore.Set(n.rootAllocationArea(), key, value, 0, kvTtl(n.cfg))
}

func (n *Node) rootAllocationArea() state.AreaId {
	if len(n.cfg.Identity.Areas) == 0 {
		return ""
	}
	return n.cfg.Identity.Areas[0].AreaId
}

func (n *Node) onLeafGrant(prefix netip.Prefix) {
	entry := state.PrefixEntry{
		Prefix:         prefix,
		Type:           state.PrefixConfig,
		ForwardingType: state.ForwardingIP,
		ForwardingAlgo: state.AlgoSpEcmp,
		Area:           n.rootAllocationArea(),
	}
	n.pmComp.SetSourcePrefixes(n.rootAllocationArea(), prefixmgr.SourceRuntimeApi, []state.PrefixEntry{entry})
}

func (n *Node) onWatchdogShutdown(reason string) {
	n.log.Error("watchdog triggered shutdown", "reason", reason)
	n.cancel(fmt.Errorf("watchdog: %s", reason))
}

// Start begins platform event consumption, KvStore transport listening
// and configured peer dials, and the watchdog loop, then blocks until
// the node's context is cancelled (by signal or watchdog).
func (n *Node) Start() error {
	n.startPlatformFeeds()

	if n.cfg.KvListenAddr != "" {
		go func() {
			if err := n.kvTransport.Listen(n.ctx, n.cfg.KvListenAddr); err != nil {
				n.log.Error("kvstore listen failed", "err", err)
			}
		}()
	}
	for _, peer := range n.cfg.Peers {
		peer := peer
		go n.dialPeerWithRetry(peer)
	}

	n.watchdogComp.Start(n.ctx)
	for _, c := range []watchdog.Component{"spark", "linkmonitor", "kvstore", "decision", "fib"} {
		n.watchdogComp.Register(c)
	}

	n.restoreSnapshot()

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-c:
		n.cancel(fmt.Errorf("received shutdown signal"))
	case <-n.ctx.Done():
	}

	return n.Stop()
}

func (n *Node) dialPeerWithRetry(peer state.PeerConfig) {
	backoff := 500 * time.Millisecond
	const maxBackoff = 30 * time.Second
	for n.ctx.Err() == nil {
		err := n.kvTransport.Connect(n.ctx, kvstore.PeerId(peer.NodeId), peer.KvAddr, peer.Area)
		if err == nil {
			return
		}
		n.log.Warn("kvstore peer dial failed, retrying", "peer", peer.NodeId, "err", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-n.ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (n *Node) startPlatformFeeds() {
	ifaces, err := n.platformAgent.GetInterfaces(n.ctx)
	if err != nil {
		n.log.Warn("initial interface enumeration failed", "err", err)
	}
	for _, info := range ifaces {
		n.lmComp.OnInterfaceEvent(platform.InterfaceEvent{Name: info.Name, Index: info.Index, Up: info.Up})
		addrs, err := n.platformAgent.GetAddresses(n.ctx, info.Name)
		if err == nil {
			for _, a := range addrs {
				n.lmComp.OnAddressEvent(platform.AddressEvent{Iface: info.Name, Address: a.Address, PrefixLen: a.PrefixLen, Added: true})
			}
		}
	}

	ifaceEvents, err := n.platformAgent.SubscribeInterfaceEvents(n.ctx)
	if err == nil {
		go func() {
			for ev := range ifaceEvents {
				n.lmComp.OnInterfaceEvent(ev)
			}
		}()
	}
	addrEvents, err := n.platformAgent.SubscribeAddressEvents(n.ctx)
	if err == nil {
		go func() {
			for ev := range addrEvents {
				n.lmComp.OnAddressEvent(ev)
			}
		}()
	}
}

// Stop performs the two-phase shutdown of spec.md §5: stop admitting
// new work, then drain what is already queued in each scheduler,
// leaving routes programmed if graceful restart is enabled.
func (n *Node) Stop() error {
	n.saveSnapshot()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.fibComp.Shutdown(shutdownCtx); err != nil {
		n.log.Warn("fib shutdown error", "err", err)
	}

	n.watchdogComp.Stop()
	n.sparkTransport.Close()
	n.sparkSched.Stop()
	n.lmSched.Stop()
	n.kvSched.Stop()
	n.decisionSched.Stop()
	n.fibSched.Stop()
	n.pmSched.Stop()
	n.wdSched.Stop()

	n.log.Info("node stopped", "reason", context.Cause(n.ctx))
	return nil
}

func (n *Node) saveSnapshot() {
	if n.stateDir == "" {
		return
	}
	snap := state.Snapshot{NodeId: n.nodeId}
	if n.allocLeaf != nil {
		if p, ok := n.allocLeaf.Assigned(); ok {
			snap.AllocatedPrefix = &p
		}
	}
	path := filepath.Join(n.stateDir, snapshotFileName)
	if err := state.SaveSnapshot(path, snap, n.persistKey); err != nil {
		n.log.Warn("save warm-restart snapshot failed", "err", err)
	}
}

func (n *Node) restoreSnapshot() {
	if n.stateDir == "" {
		return
	}
	path := filepath.Join(n.stateDir, snapshotFileName)
	snap, ok, err := state.LoadSnapshot(path, n.persistKey)
	if err != nil {
		n.log.Warn("warm-restart snapshot rejected", "err", err)
		return
	}
	if !ok {
		return
	}
	n.log.Info("restored warm-restart snapshot", "node_id", snap.NodeId, "peers", len(snap.LastSeenPeers))
}

func buildLogger(nodeName, logPath string, verbose bool) (*slog.Logger, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handlers := []slog.Handler{
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: nodeName,
		}),
	}
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o700)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slogmulti.Fanout(handlers...)), nil
}
