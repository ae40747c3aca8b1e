package state

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openr/openr-go/errs"
)

// validConfig returns a config that satisfies every rule in Validate,
// so each test below can mutate exactly the field under test without
// tripping an unrelated one.
func validConfig() *Config {
	return &Config{
		Identity: NodeIdentityConfig{
			NodeName: "node1",
			Areas: []AreaConfig{
				{AreaId: "area1", DomainName: "domain1"},
			},
		},
		KvListenAddr: "127.0.0.1:6669",
		Spark: SparkConfig{
			FastInitHelloTimeMs:  100,
			HelloTimeS:           2,
			KeepAliveTimeS:       1,
			HoldTimeS:            6,
			GracefulRestartTimeS: 10,
			HandshakeHoldTimeMs:  1000,
			StepDetector: StepDetectorConfig{
				FastWindowMs:     100,
				SlowWindowMs:     500,
				LowerThresholdMs: 1,
				UpperThresholdMs: 100,
			},
		},
		LinkMonitor: LinkMonitorConfig{
			LinkflapInitialBackoffMs: 100,
			LinkflapMaxBackoffMs:     1000,
		},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, Validate(cfg, nil))
}

func TestValidateRejectsEmptyNodeName(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.NodeName = ""
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateRejectsNoAreas(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.Areas = nil
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateRejectsDuplicateAreaId(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.Areas = append(cfg.Identity.Areas, AreaConfig{AreaId: "area1", DomainName: "domain2"})
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrDuplicateKey)
}

func TestValidateRejectsUncompilableRegex(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.Areas[0].IncludeInterfaceRegexes = []string{"["}
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateRequiresDomainNameWithoutRegexes(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.Areas[0].DomainName = ""
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateAllowsMissingDomainNameWithInterfaceRegex(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.Areas[0].DomainName = ""
	cfg.Identity.Areas[0].IncludeInterfaceRegexes = []string{"^eth"}
	require.NoError(t, Validate(cfg, nil))
}

// --- prefix_allocation ---

func TestValidatePrefixAllocationRequiresConfigWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.PrefixAllocationEnabled = true
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidatePrefixAllocationDynamicRootRequiresSeedPrefix(t *testing.T) {
	cfg := validConfig()
	cfg.PrefixAllocationEnabled = true
	cfg.PrefixAllocation = &PrefixAllocationConfig{Mode: PrefixAllocationDynamicRootNode, AllocatePrefixLen: 64}
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidatePrefixAllocationDynamicRootRequiresAllocateLen(t *testing.T) {
	cfg := validConfig()
	seed := netip.MustParsePrefix("fc00::/32")
	cfg.PrefixAllocationEnabled = true
	cfg.PrefixAllocation = &PrefixAllocationConfig{Mode: PrefixAllocationDynamicRootNode, SeedPrefix: &seed}
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidatePrefixAllocationAllocateLenMustExceedSeedLen(t *testing.T) {
	cfg := validConfig()
	seed := netip.MustParsePrefix("fc00::/64")
	cfg.PrefixAllocationEnabled = true
	cfg.PrefixAllocation = &PrefixAllocationConfig{Mode: PrefixAllocationDynamicRootNode, SeedPrefix: &seed, AllocatePrefixLen: 64}
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidatePrefixAllocationV4SeedRequiresV4Enabled(t *testing.T) {
	cfg := validConfig()
	seed := netip.MustParsePrefix("10.0.0.0/8")
	cfg.PrefixAllocationEnabled = true
	cfg.PrefixAllocation = &PrefixAllocationConfig{Mode: PrefixAllocationDynamicRootNode, SeedPrefix: &seed, AllocatePrefixLen: 24}
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
	cfg.V4Enabled = true
	require.NoError(t, Validate(cfg, nil))
}

// --- spark timers, spec.md §8's S6 scenario and its siblings ---

func TestValidateSparkRejectsNonPositiveTimers(t *testing.T) {
	fields := []func(*SparkConfig){
		func(sc *SparkConfig) { sc.FastInitHelloTimeMs = 0 },
		func(sc *SparkConfig) { sc.HelloTimeS = 0 },
		func(sc *SparkConfig) { sc.KeepAliveTimeS = 0 },
		func(sc *SparkConfig) { sc.HoldTimeS = 0 },
		func(sc *SparkConfig) { sc.GracefulRestartTimeS = 0 },
		func(sc *SparkConfig) { sc.HandshakeHoldTimeMs = 0 },
	}
	for _, mutate := range fields {
		cfg := validConfig()
		mutate(&cfg.Spark)
		require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
	}
}

// TestValidateSparkRejectsFastInitExceedingHello is spec.md §8's S6:
// fastinit_hello_time_ms=10000, hello_time_s=2 must be rejected.
func TestValidateSparkRejectsFastInitExceedingHello(t *testing.T) {
	cfg := validConfig()
	cfg.Spark.FastInitHelloTimeMs = 10000
	cfg.Spark.HelloTimeS = 2
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateSparkRejectsKeepaliveExceedingHold(t *testing.T) {
	cfg := validConfig()
	cfg.Spark.KeepAliveTimeS = 10
	cfg.Spark.HoldTimeS = 6
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateSparkRejectsGracefulRestartBelowThreeKeepalives(t *testing.T) {
	cfg := validConfig()
	cfg.Spark.KeepAliveTimeS = 5
	cfg.Spark.HoldTimeS = 20
	cfg.Spark.GracefulRestartTimeS = 10
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

// --- kvstore ---

func TestValidateKvStoreRejectsNegativeFloodRate(t *testing.T) {
	cfg := validConfig()
	cfg.KvStore.FloodMsgPerSec = -1
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateKvStoreRejectsNegativeBurstSize(t *testing.T) {
	cfg := validConfig()
	cfg.KvStore.FloodMsgBurstSize = -1
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateKvStoreAllowsUnsetFloodControls(t *testing.T) {
	cfg := validConfig()
	cfg.KvStore.FloodMsgPerSec = 0
	cfg.KvStore.FloodMsgBurstSize = 0
	require.NoError(t, Validate(cfg, nil))
}

// --- step detector ---

func TestValidateStepDetectorRejectsNonPositiveFields(t *testing.T) {
	fields := []func(*StepDetectorConfig){
		func(sd *StepDetectorConfig) { sd.FastWindowMs = 0 },
		func(sd *StepDetectorConfig) { sd.SlowWindowMs = 0 },
		func(sd *StepDetectorConfig) { sd.LowerThresholdMs = 0 },
		func(sd *StepDetectorConfig) { sd.UpperThresholdMs = 0 },
	}
	for _, mutate := range fields {
		cfg := validConfig()
		mutate(&cfg.Spark.StepDetector)
		require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
	}
}

func TestValidateStepDetectorRejectsFastWindowExceedingSlow(t *testing.T) {
	cfg := validConfig()
	cfg.Spark.StepDetector.FastWindowMs = 1000
	cfg.Spark.StepDetector.SlowWindowMs = 500
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateStepDetectorRejectsLowerExceedingUpperThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.Spark.StepDetector.LowerThresholdMs = 500
	cfg.Spark.StepDetector.UpperThresholdMs = 100
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

// --- link monitor / flap damping ---

func TestValidateLinkMonitorRejectsNegativeBackoffs(t *testing.T) {
	cfg := validConfig()
	cfg.LinkMonitor.LinkflapInitialBackoffMs = -1
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)

	cfg = validConfig()
	cfg.LinkMonitor.LinkflapMaxBackoffMs = -1
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateLinkMonitorRejectsInitialExceedingMaxBackoff(t *testing.T) {
	cfg := validConfig()
	cfg.LinkMonitor.LinkflapInitialBackoffMs = 2000
	cfg.LinkMonitor.LinkflapMaxBackoffMs = 1000
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

// --- bgp / segment routing ---

func TestValidateBgpTranslationLegacyOffRequiresBothDirections(t *testing.T) {
	cfg := validConfig()
	cfg.Bgp = &BgpConfig{
		Enabled: true,
		Translation: &BgpTranslationConfig{
			LegacyTranslationEnabled: false,
			TranslateBgpToOpenr:      true,
			TranslateOpenrToBgp:      false,
		},
	}
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateBgpTranslationLegacyOnAllowsOneDirection(t *testing.T) {
	cfg := validConfig()
	cfg.Bgp = &BgpConfig{
		Enabled: true,
		Translation: &BgpTranslationConfig{
			LegacyTranslationEnabled: true,
			TranslateBgpToOpenr:      true,
			TranslateOpenrToBgp:      false,
		},
	}
	require.NoError(t, Validate(cfg, nil))
}

// TestValidateBgpTranslationWithoutEnabledPeeringWarns covers
// SPEC_FULL.md's Open Question (1): translation config present with no
// enabled bgp_config is a warning, not a rejection.
func TestValidateBgpTranslationWithoutEnabledPeeringWarns(t *testing.T) {
	cfg := validConfig()
	cfg.Bgp = &BgpConfig{Enabled: false, Translation: &BgpTranslationConfig{}}

	var warned bool
	err := Validate(cfg, func(field, msg string) {
		warned = true
		require.Equal(t, "bgp.translation", field)
	})

	require.NoError(t, err)
	require.True(t, warned, "expected a warning to be emitted")
}

func TestValidateSrPoliciesRejectedWhenSrDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Sr.Policies = []SrPolicy{{Name: "p1", Matcher: "m"}}
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateSrPolicyRequiresBgpAddPathMode(t *testing.T) {
	cfg := validConfig()
	cfg.Sr.Enabled = true
	cfg.Sr.Policies = []SrPolicy{{Name: "p1", Matcher: "m", Areas: []AreaId{"area1"}}}
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateSrPolicyRejectsUndefinedArea(t *testing.T) {
	cfg := validConfig()
	cfg.Bgp = &BgpConfig{Enabled: true, AddPathModePresent: true}
	cfg.Sr.Enabled = true
	cfg.Sr.Policies = []SrPolicy{{Name: "p1", Matcher: "m", Areas: []AreaId{"nope"}}}
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateSrPolicyRejectsEmptyMatcher(t *testing.T) {
	cfg := validConfig()
	cfg.Bgp = &BgpConfig{Enabled: true, AddPathModePresent: true}
	cfg.Sr.Enabled = true
	cfg.Sr.Policies = []SrPolicy{{Name: "p1", Areas: []AreaId{"area1"}}}
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateSrPolicyValid(t *testing.T) {
	cfg := validConfig()
	cfg.Bgp = &BgpConfig{Enabled: true, AddPathModePresent: true}
	cfg.Sr.Enabled = true
	cfg.Sr.Policies = []SrPolicy{{Name: "p1", Matcher: "m", Areas: []AreaId{"area1"}}}
	require.NoError(t, Validate(cfg, nil))
}

// --- watchdog / vip ---

func TestValidateWatchdogRequiresPositiveFieldsWhenEnabled(t *testing.T) {
	fields := []func(*WatchdogConfig){
		func(w *WatchdogConfig) { w.MemLimitMb = 0; w.TickIntervalMs = 1; w.MaxMissedTicks = 1 },
		func(w *WatchdogConfig) { w.MemLimitMb = 1; w.TickIntervalMs = 0; w.MaxMissedTicks = 1 },
		func(w *WatchdogConfig) { w.MemLimitMb = 1; w.TickIntervalMs = 1; w.MaxMissedTicks = 0 },
	}
	for _, mutate := range fields {
		cfg := validConfig()
		cfg.Watchdog.Enabled = true
		mutate(&cfg.Watchdog)
		require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
	}
}

func TestValidateWatchdogValidWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Watchdog = WatchdogConfig{Enabled: true, MemLimitMb: 512, TickIntervalMs: 1000, MaxMissedTicks: 3}
	require.NoError(t, Validate(cfg, nil))
}

func TestValidateVipRequiresPolicyRefWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Vip.Enabled = true
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

func TestValidateVipValidWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Vip = VipServiceConfig{Enabled: true, PolicyRef: "policy1"}
	require.NoError(t, Validate(cfg, nil))
}

// --- misc ---

func TestValidateRejectsNegativeRouteDeleteDelay(t *testing.T) {
	cfg := validConfig()
	cfg.RouteDeleteDelayMs = -1
	require.ErrorIs(t, Validate(cfg, nil), errs.ErrInvalidConfiguration)
}

// --- defaults ---

func TestValidateApplyDefaultsFillsEorTimeFromKeepalive(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, Validate(cfg, nil))
	require.Equal(t, 3*cfg.Spark.KeepAliveTimeS, cfg.EorTimeS)
}

func TestValidateApplyDefaultsFillsSparkPort(t *testing.T) {
	cfg := validConfig()
	require.Zero(t, cfg.SparkPort)
	require.NoError(t, Validate(cfg, nil))
	require.Equal(t, defaultSparkPort, cfg.SparkPort)
}

func TestValidateApplyDefaultsLeavesExplicitValuesAlone(t *testing.T) {
	cfg := validConfig()
	cfg.EorTimeS = 42
	cfg.SparkPort = 9999
	require.NoError(t, Validate(cfg, nil))
	require.Equal(t, int64(42), cfg.EorTimeS)
	require.Equal(t, 9999, cfg.SparkPort)
}
