package state

import (
	"net/netip"
	"os"
	"regexp"

	"github.com/goccy/go-yaml"
)

// NodeIdentityConfig is the node-local identity and per-area membership.
type NodeIdentityConfig struct {
	NodeName string       `yaml:"node_name" json:"node_name"`
	Areas    []AreaConfig `yaml:"areas" json:"areas"`
}

// AreaConfig configures one flooding/SPF scope, spec.md §4.1.
type AreaConfig struct {
	AreaId AreaId `yaml:"area_id" json:"area_id"`

	IncludeInterfaceRegexes      []string `yaml:"include_interface_regexes,omitempty" json:"include_interface_regexes,omitempty"`
	ExcludeInterfaceRegexes      []string `yaml:"exclude_interface_regexes,omitempty" json:"exclude_interface_regexes,omitempty"`
	RedistributeInterfaceRegexes []string `yaml:"redistribute_interface_regexes,omitempty" json:"redistribute_interface_regexes,omitempty"`
	NeighborRegexes              []string `yaml:"neighbor_regexes,omitempty" json:"neighbor_regexes,omitempty"`

	// DomainName is required when the include and exclude interface
	// regex lists and the neighbor regex list are all empty, spec.md §4.1.
	DomainName string `yaml:"domain_name,omitempty" json:"domain_name,omitempty"`

	compiledInclude  []*regexp.Regexp
	compiledExclude  []*regexp.Regexp
	compiledRedist   []*regexp.Regexp
	compiledNeighbor []*regexp.Regexp
}

// SparkConfig configures the per-interface neighbor-discovery FSM,
// spec.md §4.2.
type SparkConfig struct {
	FastInitHelloTimeMs  int64 `yaml:"fastinit_hello_time_ms" json:"fastinit_hello_time_ms"`
	HelloTimeS           int64 `yaml:"hello_time_s" json:"hello_time_s"`
	KeepAliveTimeS       int64 `yaml:"keepalive_time_s" json:"keepalive_time_s"`
	HoldTimeS            int64 `yaml:"hold_time_s" json:"hold_time_s"`
	GracefulRestartTimeS int64 `yaml:"graceful_restart_time_s" json:"graceful_restart_time_s"`
	HandshakeHoldTimeMs  int64 `yaml:"handshake_hold_time_ms" json:"handshake_hold_time_ms"`

	// FastInitWindow bounds how long the FSM stays in fast-init hello
	// cadence before falling back to HelloTimeS.
	FastInitWindow int `yaml:"fastinit_window,omitempty" json:"fastinit_window,omitempty"`

	StepDetector StepDetectorConfig `yaml:"step_detector" json:"step_detector"`
}

// StepDetectorConfig configures RTT smoothing thresholds, spec.md §4.1/§4.2.
type StepDetectorConfig struct {
	FastWindowMs     int64 `yaml:"fast_window_ms" json:"fast_window_ms"`
	SlowWindowMs     int64 `yaml:"slow_window_ms" json:"slow_window_ms"`
	LowerThresholdMs int64 `yaml:"lower_threshold_ms" json:"lower_threshold_ms"`
	UpperThresholdMs int64 `yaml:"upper_threshold_ms" json:"upper_threshold_ms"`
}

// KvStoreConfig configures flood control, spec.md §4.3.
type KvStoreConfig struct {
	FloodMsgPerSec        float64 `yaml:"flood_msg_per_sec,omitempty" json:"flood_msg_per_sec,omitempty"`
	FloodMsgBurstSize      int     `yaml:"flood_msg_burst_size,omitempty" json:"flood_msg_burst_size,omitempty"`
	EnableFloodOptimization bool   `yaml:"enable_flood_optimization,omitempty" json:"enable_flood_optimization,omitempty"`
	TtlMs                 int64   `yaml:"ttl_ms,omitempty" json:"ttl_ms,omitempty"`
}

// LinkMonitorConfig configures flap damping, spec.md §4.4.
type LinkMonitorConfig struct {
	LinkflapInitialBackoffMs int64 `yaml:"linkflap_initial_backoff_ms" json:"linkflap_initial_backoff_ms"`
	LinkflapMaxBackoffMs     int64 `yaml:"linkflap_max_backoff_ms" json:"linkflap_max_backoff_ms"`
}

// PrefixAllocationMode selects how a node obtains its advertised prefix.
type PrefixAllocationMode int

const (
	PrefixAllocationStatic PrefixAllocationMode = iota
	PrefixAllocationDynamicRootNode
	PrefixAllocationDynamicLeafNode
)

// PrefixAllocationConfig configures the PrefixManager's dynamic
// allocation service, spec.md §4.1.
type PrefixAllocationConfig struct {
	Mode               PrefixAllocationMode `yaml:"mode" json:"mode"`
	SeedPrefix         *netip.Prefix        `yaml:"seed_prefix,omitempty" json:"seed_prefix,omitempty"`
	AllocatePrefixLen  int                  `yaml:"allocate_prefix_len,omitempty" json:"allocate_prefix_len,omitempty"`
	StaticPrefix       *netip.Prefix        `yaml:"static_prefix,omitempty" json:"static_prefix,omitempty"`
}

// BgpTranslationConfig configures BGP<->Open/R route translation
// consistency, spec.md §4.1.
type BgpTranslationConfig struct {
	LegacyTranslationEnabled bool `yaml:"legacy_translation_enabled" json:"legacy_translation_enabled"`
	TranslateBgpToOpenr      bool `yaml:"translate_bgp_to_openr" json:"translate_bgp_to_openr"`
	TranslateOpenrToBgp      bool `yaml:"translate_openr_to_bgp" json:"translate_openr_to_bgp"`
}

// BgpConfig configures BGP peering integration, spec.md §4.1.
type BgpConfig struct {
	Enabled     bool                  `yaml:"enabled" json:"enabled"`
	Translation *BgpTranslationConfig `yaml:"translation,omitempty" json:"translation,omitempty"`
	// AddPathModePresent records whether an add-path mode was configured;
	// SR policies require it.
	AddPathModePresent bool `yaml:"add_path_mode_present,omitempty" json:"add_path_mode_present,omitempty"`
}

// SrPolicy is a segment-routing policy, spec.md §4.1.
type SrPolicy struct {
	Name    string   `yaml:"name" json:"name"`
	Areas   []AreaId `yaml:"areas" json:"areas"`
	Matcher string   `yaml:"matcher" json:"matcher"`
}

// SegmentRoutingConfig configures segment routing and its policies.
type SegmentRoutingConfig struct {
	Enabled  bool       `yaml:"enabled" json:"enabled"`
	Policies []SrPolicy `yaml:"policies,omitempty" json:"policies,omitempty"`
}

// WatchdogConfig configures liveness/memory enforcement, spec.md §4.8.
type WatchdogConfig struct {
	Enabled            bool  `yaml:"enabled" json:"enabled"`
	MemLimitMb         int64 `yaml:"mem_limit_mb,omitempty" json:"mem_limit_mb,omitempty"`
	MaxMissedTicks     int   `yaml:"max_missed_ticks,omitempty" json:"max_missed_ticks,omitempty"`
	TickIntervalMs     int64 `yaml:"tick_interval_ms,omitempty" json:"tick_interval_ms,omitempty"`
	// PolicyRef names an operator-defined policy that must resolve
	// against the running config; a bare presence check stands in for
	// the operational policy engine which is out of scope here.
	PolicyRef string `yaml:"policy_ref,omitempty" json:"policy_ref,omitempty"`
}

// VipServiceConfig configures the VIP allocation service referenced by
// PrefixManager, spec.md §4.1/§4.5.
type VipServiceConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	PolicyRef string   `yaml:"policy_ref,omitempty" json:"policy_ref,omitempty"`
	Vips      []string `yaml:"vips,omitempty" json:"vips,omitempty"`
}

// PeerConfig statically names a KvStore peer's TCP sync endpoint,
// grounded on the teacher's RouterCfg.Endpoints (nylon's central
// config lists every router's dial-able addresses; spec.md leaves
// peer discovery for the KvStore full-duplex sync channel unspecified,
// so this rewrite keeps the teacher's static-endpoint-list shape
// rather than inventing a discovery protocol out of scope).
type PeerConfig struct {
	NodeId  NodeId `yaml:"node_id" json:"node_id"`
	Area    AreaId `yaml:"area" json:"area"`
	KvAddr  string `yaml:"kv_addr" json:"kv_addr"`
}

// Config is the full immutable configuration tree for one node,
// spec.md §4.1/§5 ("Config is immutable after start; reconfiguration
// implies restart").
type Config struct {
	Identity NodeIdentityConfig `yaml:"identity" json:"identity"`

	Peers []PeerConfig `yaml:"peers,omitempty" json:"peers,omitempty"`

	// KvListenAddr is this node's own KvStore TCP sync listen address.
	KvListenAddr string `yaml:"kv_listen_addr" json:"kv_listen_addr"`

	// SparkPort is the UDP port Spark's multicast discovery socket binds
	// to on every participating interface; defaults to 6668 when unset.
	SparkPort int `yaml:"spark_port,omitempty" json:"spark_port,omitempty"`

	Spark       SparkConfig             `yaml:"spark" json:"spark"`
	KvStore     KvStoreConfig           `yaml:"kvstore" json:"kvstore"`
	LinkMonitor LinkMonitorConfig       `yaml:"link_monitor" json:"link_monitor"`
	Watchdog    WatchdogConfig          `yaml:"watchdog,omitempty" json:"watchdog,omitempty"`
	Vip         VipServiceConfig        `yaml:"vip,omitempty" json:"vip,omitempty"`
	Bgp         *BgpConfig              `yaml:"bgp,omitempty" json:"bgp,omitempty"`
	Sr          SegmentRoutingConfig    `yaml:"segment_routing,omitempty" json:"segment_routing,omitempty"`

	PrefixAllocationEnabled bool                     `yaml:"prefix_allocation_enabled,omitempty" json:"prefix_allocation_enabled,omitempty"`
	PrefixAllocation        *PrefixAllocationConfig  `yaml:"prefix_allocation_config,omitempty" json:"prefix_allocation_config,omitempty"`

	// StaticPrefixes feeds PrefixManager's "static config" source,
	// spec.md §4.5. Each entry's own Area field selects which area it is
	// originated into.
	StaticPrefixes []PrefixEntry `yaml:"static_prefixes,omitempty" json:"static_prefixes,omitempty"`

	V4Enabled bool `yaml:"v4_enabled,omitempty" json:"v4_enabled,omitempty"`
	V6Enabled bool `yaml:"v6_enabled,omitempty" json:"v6_enabled,omitempty"`

	RouteDeleteDelayMs int64 `yaml:"route_delete_delay_ms" json:"route_delete_delay_ms"`

	// EorTimeS ("end of RIB") defaults to 3*keepalive when unset,
	// computed by applyDefaults (run from Validate).
	EorTimeS int64 `yaml:"eor_time_s,omitempty" json:"eor_time_s,omitempty"`
}

// LoadConfig reads and decodes a Config from path. spec.md §6 specifies
// JSON on disk; JSON is valid YAML, so this uses the teacher's
// goccy/go-yaml decoder unchanged rather than adding a second decode
// path for the JSON case. Callers must still run Validate — LoadConfig
// only parses.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
