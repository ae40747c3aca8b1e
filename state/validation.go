package state

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/openr/openr-go/errs"
)

// WarnFunc receives non-fatal configuration warnings, e.g. the
// translation-without-bgp case resolved in SPEC_FULL.md §5(1). A nil
// WarnFunc discards warnings.
type WarnFunc func(field, msg string)

func invalid(field, reason string) error {
	return fmt.Errorf("%w: field=%s: %s", errs.ErrInvalidConfiguration, field, reason)
}

// Validate performs the total validation pass required by spec.md
// §4.1: the node refuses to start on any violation. It also compiles
// every area's regexes and fills in derived defaults, so a validated
// Config is immediately usable.
func Validate(cfg *Config, warn WarnFunc) error {
	if warn == nil {
		warn = func(string, string) {}
	}
	if cfg.Identity.NodeName == "" {
		return invalid("identity.node_name", "must not be empty")
	}
	if len(cfg.Identity.Areas) == 0 {
		return invalid("identity.areas", "at least one area is required")
	}

	seenAreas := make(map[AreaId]bool, len(cfg.Identity.Areas))
	for i := range cfg.Identity.Areas {
		area := &cfg.Identity.Areas[i]
		if seenAreas[area.AreaId] {
			return fmt.Errorf("%w: field=identity.areas[%d].area_id: duplicate area %q", errs.ErrDuplicateKey, i, area.AreaId)
		}
		seenAreas[area.AreaId] = true

		if err := compileAreaRegexes(area); err != nil {
			return err
		}

		if len(area.IncludeInterfaceRegexes) == 0 && len(area.ExcludeInterfaceRegexes) == 0 && len(area.NeighborRegexes) == 0 {
			if area.DomainName == "" {
				return invalid(fmt.Sprintf("identity.areas[%d].domain_name", i), "areas with no interface or neighbor regexes require a non-empty domain name")
			}
		}
	}

	if err := validatePrefixAllocation(cfg); err != nil {
		return err
	}
	if err := validateSpark(&cfg.Spark); err != nil {
		return err
	}
	if err := validateKvStore(&cfg.KvStore); err != nil {
		return err
	}
	if err := validateStepDetector(&cfg.Spark.StepDetector); err != nil {
		return err
	}
	if err := validateLinkMonitor(&cfg.LinkMonitor); err != nil {
		return err
	}
	if err := validateBgpAndSr(cfg, warn); err != nil {
		return err
	}
	if err := validateWatchdogAndVip(cfg); err != nil {
		return err
	}

	if cfg.RouteDeleteDelayMs < 0 {
		return invalid("route_delete_delay_ms", "must be >= 0")
	}

	applyDefaults(cfg)

	return nil
}

func compileAreaRegexes(area *AreaConfig) error {
	compile := func(field string, patterns []string) ([]*regexp.Regexp, error) {
		out := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("%w: field=%s: pattern %q: %v", errs.ErrInvalidConfiguration, field, p, err)
			}
			out = append(out, re)
		}
		return out, nil
	}
	var err error
	if area.compiledInclude, err = compile("include_interface_regexes", area.IncludeInterfaceRegexes); err != nil {
		return err
	}
	if area.compiledExclude, err = compile("exclude_interface_regexes", area.ExcludeInterfaceRegexes); err != nil {
		return err
	}
	if area.compiledRedist, err = compile("redistribute_interface_regexes", area.RedistributeInterfaceRegexes); err != nil {
		return err
	}
	if area.compiledNeighbor, err = compile("neighbor_regexes", area.NeighborRegexes); err != nil {
		return err
	}
	return nil
}

// MatchesInterface reports whether iface participates in this area:
// included (or no include list) and not excluded, spec.md §4.4.
func (a *AreaConfig) MatchesInterface(iface string) bool {
	included := len(a.compiledInclude) == 0
	for _, re := range a.compiledInclude {
		if re.MatchString(iface) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, re := range a.compiledExclude {
		if re.MatchString(iface) {
			return false
		}
	}
	return true
}

// Redistributes reports whether iface's addresses should be injected
// into PrefixManager, spec.md §4.4.
func (a *AreaConfig) Redistributes(iface string) bool {
	for _, re := range a.compiledRedist {
		if re.MatchString(iface) {
			return true
		}
	}
	return false
}

// MatchesNeighbor reports whether a peer's (area, name) pair is
// acceptable, spec.md §4.2 (WARM -> NEGOTIATE gate).
func (a *AreaConfig) MatchesNeighbor(peerName string) bool {
	if len(a.compiledNeighbor) == 0 {
		return true
	}
	for _, re := range a.compiledNeighbor {
		if re.MatchString(peerName) {
			return true
		}
	}
	return false
}

func validatePrefixAllocation(cfg *Config) error {
	if !cfg.PrefixAllocationEnabled {
		return nil
	}
	if cfg.PrefixAllocation == nil {
		return invalid("prefix_allocation_config", "required when prefix_allocation is enabled")
	}
	pa := cfg.PrefixAllocation
	if pa.Mode == PrefixAllocationDynamicRootNode {
		if pa.SeedPrefix == nil {
			return invalid("prefix_allocation_config.seed_prefix", "required for DYNAMIC_ROOT_NODE")
		}
		if pa.AllocatePrefixLen == 0 {
			return invalid("prefix_allocation_config.allocate_prefix_len", "required for DYNAMIC_ROOT_NODE")
		}
		if pa.AllocatePrefixLen <= pa.SeedPrefix.Bits() {
			return invalid("prefix_allocation_config.allocate_prefix_len", "must be greater than seed prefix length")
		}
		if pa.SeedPrefix.Addr().Is4() && !cfg.V4Enabled {
			return invalid("prefix_allocation_config.seed_prefix", "a v4 seed prefix requires v4 enabled")
		}
	}
	return nil
}

func validateSpark(sc *SparkConfig) error {
	positive := map[string]int64{
		"spark.fastinit_hello_time_ms":  sc.FastInitHelloTimeMs,
		"spark.hello_time_s":            sc.HelloTimeS,
		"spark.keepalive_time_s":        sc.KeepAliveTimeS,
		"spark.hold_time_s":             sc.HoldTimeS,
		"spark.graceful_restart_time_s": sc.GracefulRestartTimeS,
		"spark.handshake_hold_time_ms":  sc.HandshakeHoldTimeMs,
	}
	for field, v := range positive {
		if v <= 0 {
			return invalid(field, "must be positive")
		}
	}
	fastInitS := float64(sc.FastInitHelloTimeMs) / 1000
	if fastInitS > float64(sc.HelloTimeS) {
		return fmt.Errorf("%w: field=spark.fastinit_hello_time_ms,spark.hello_time_s: fastinit_hello must be <= hello", errs.ErrInvalidConfiguration)
	}
	if sc.KeepAliveTimeS > sc.HoldTimeS {
		return fmt.Errorf("%w: field=spark.keepalive_time_s,spark.hold_time_s: keepalive must be <= hold", errs.ErrInvalidConfiguration)
	}
	if sc.GracefulRestartTimeS < 3*sc.KeepAliveTimeS {
		return fmt.Errorf("%w: field=spark.graceful_restart_time_s: must be >= 3*keepalive", errs.ErrInvalidConfiguration)
	}
	return nil
}

func validateKvStore(kc *KvStoreConfig) error {
	if kc.FloodMsgPerSec != 0 && kc.FloodMsgPerSec < 0 {
		return invalid("kvstore.flood_msg_per_sec", "must be positive when set")
	}
	if kc.FloodMsgBurstSize != 0 && kc.FloodMsgBurstSize < 0 {
		return invalid("kvstore.flood_msg_burst_size", "must be positive when set")
	}
	return nil
}

func validateStepDetector(sd *StepDetectorConfig) error {
	fields := map[string]int64{
		"spark.step_detector.fast_window_ms":     sd.FastWindowMs,
		"spark.step_detector.slow_window_ms":     sd.SlowWindowMs,
		"spark.step_detector.lower_threshold_ms": sd.LowerThresholdMs,
		"spark.step_detector.upper_threshold_ms": sd.UpperThresholdMs,
	}
	for field, v := range fields {
		if v <= 0 {
			return invalid(field, "must be positive")
		}
	}
	if sd.FastWindowMs > sd.SlowWindowMs {
		return fmt.Errorf("%w: field=spark.step_detector.fast_window_ms: fast_window must be <= slow_window", errs.ErrInvalidConfiguration)
	}
	if sd.LowerThresholdMs > sd.UpperThresholdMs {
		return fmt.Errorf("%w: field=spark.step_detector.lower_threshold_ms: lower_threshold must be <= upper_threshold", errs.ErrInvalidConfiguration)
	}
	return nil
}

func validateLinkMonitor(lc *LinkMonitorConfig) error {
	if lc.LinkflapInitialBackoffMs < 0 {
		return invalid("link_monitor.linkflap_initial_backoff_ms", "must be >= 0")
	}
	if lc.LinkflapMaxBackoffMs < 0 {
		return invalid("link_monitor.linkflap_max_backoff_ms", "must be >= 0")
	}
	if lc.LinkflapInitialBackoffMs > lc.LinkflapMaxBackoffMs {
		return fmt.Errorf("%w: field=link_monitor.linkflap_initial_backoff_ms: initial must be <= max", errs.ErrInvalidConfiguration)
	}
	return nil
}

func validateBgpAndSr(cfg *Config, warn WarnFunc) error {
	if cfg.Bgp != nil && cfg.Bgp.Enabled {
		if cfg.Bgp.Translation != nil {
			t := cfg.Bgp.Translation
			if !t.LegacyTranslationEnabled {
				if !t.TranslateBgpToOpenr || !t.TranslateOpenrToBgp {
					return invalid("bgp.translation", "legacy-off requires both translation directions enabled")
				}
			}
		}
	} else if cfg.Bgp == nil || !cfg.Bgp.Enabled {
		if cfg.Bgp != nil && cfg.Bgp.Translation != nil {
			// Open Question (1) in SPEC_FULL.md: translation config
			// present without an enabled bgp_config is a warning, not
			// a rejection.
			warn("bgp.translation", "translation config present without enabled bgp peering")
		}
	}

	if cfg.Sr.Enabled {
		areaIds := make(map[AreaId]bool, len(cfg.Identity.Areas))
		for _, a := range cfg.Identity.Areas {
			areaIds[a.AreaId] = true
		}
		for i, policy := range cfg.Sr.Policies {
			if cfg.Bgp == nil || !cfg.Bgp.AddPathModePresent {
				return invalid(fmt.Sprintf("segment_routing.policies[%d]", i), "requires bgp add-path mode to be present")
			}
			for _, area := range policy.Areas {
				if !areaIds[area] {
					return invalid(fmt.Sprintf("segment_routing.policies[%d].areas", i), fmt.Sprintf("references undefined area %q", area))
				}
			}
			if policy.Matcher == "" {
				return invalid(fmt.Sprintf("segment_routing.policies[%d].matcher", i), "must not be empty")
			}
		}
	} else if len(cfg.Sr.Policies) > 0 {
		return invalid("segment_routing.policies", "segment routing must be enabled to define policies")
	}
	return nil
}

func validateWatchdogAndVip(cfg *Config) error {
	if cfg.Watchdog.Enabled {
		if cfg.Watchdog.MemLimitMb <= 0 {
			return invalid("watchdog.mem_limit_mb", "required and must be positive when watchdog is enabled")
		}
		if cfg.Watchdog.TickIntervalMs <= 0 {
			return invalid("watchdog.tick_interval_ms", "required and must be positive when watchdog is enabled")
		}
		if cfg.Watchdog.MaxMissedTicks <= 0 {
			return invalid("watchdog.max_missed_ticks", "required and must be positive when watchdog is enabled")
		}
	}
	if cfg.Vip.Enabled && cfg.Vip.PolicyRef == "" {
		return invalid("vip.policy_ref", "required when the VIP service is enabled")
	}
	return nil
}

// defaultSparkPort is the UDP port Spark's multicast discovery socket
// binds to when a config leaves spark_port unset.
const defaultSparkPort = 6668

func applyDefaults(cfg *Config) {
	if cfg.EorTimeS == 0 {
		cfg.EorTimeS = 3 * cfg.Spark.KeepAliveTimeS
	}
	if cfg.SparkPort == 0 {
		cfg.SparkPort = defaultSparkPort
	}
}

// AreaIds returns the sorted list of area identifiers this node
// belongs to, used wherever iteration order must be deterministic
// (spec.md §4.6 "Determinism").
func (c *Config) AreaIds() []AreaId {
	ids := make([]AreaId, 0, len(c.Identity.Areas))
	for _, a := range c.Identity.Areas {
		ids = append(ids, a.AreaId)
	}
	slices.Sort(ids)
	return ids
}

// Area returns the AreaConfig for id, or nil.
func (c *Config) Area(id AreaId) *AreaConfig {
	for i := range c.Identity.Areas {
		if c.Identity.Areas[i].AreaId == id {
			return &c.Identity.Areas[i]
		}
	}
	return nil
}
