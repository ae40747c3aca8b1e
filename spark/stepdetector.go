package spark

import (
	"time"

	"github.com/openr/openr-go/state"
)

// StepDetector smooths RTT samples over a fast and a slow moving
// average and reports a metric change only when the two diverge past
// configured thresholds, spec.md §4.2 ("step-detector smoothes RTT for
// metric derivation: lower/upper thresholds gate whether a metric
// change is published"). Grounded on the teacher's UdpDpLink.UpdatePing
// latency-to-metric mapping (impl/udp_link.go), generalized from a
// Kalman filter (unavailable outside the dropped dataplane stack) to
// the dual-EWMA step detector spec.md actually specifies.
type StepDetector struct {
	cfg state.StepDetectorConfig

	fastAvg time.Duration
	slowAvg time.Duration
	warm    bool

	lastPublished uint32
}

func NewStepDetector(cfg state.StepDetectorConfig) *StepDetector {
	return &StepDetector{cfg: cfg}
}

// ewma applies an exponentially weighted moving average with the given
// window (in samples-equivalent) as the smoothing constant.
func ewma(prev, sample time.Duration, windowMs int64) time.Duration {
	if windowMs <= 0 {
		return sample
	}
	alpha := 2.0 / float64(windowMs+1)
	return time.Duration(float64(sample)*alpha + float64(prev)*(1-alpha))
}

// Observe feeds one RTT sample and reports whether the resulting
// metric crossed a publish threshold, and the metric to publish if so.
// Metric units are milliseconds, matching the teacher's adjacency
// metric scale.
func (d *StepDetector) Observe(rtt time.Duration) (changed bool, metric uint32) {
	if !d.warm {
		d.fastAvg = rtt
		d.slowAvg = rtt
		d.warm = true
		d.lastPublished = uint32(rtt.Milliseconds())
		return true, d.lastPublished
	}
	d.fastAvg = ewma(d.fastAvg, rtt, d.cfg.FastWindowMs)
	d.slowAvg = ewma(d.slowAvg, rtt, d.cfg.SlowWindowMs)

	delta := d.fastAvg - d.slowAvg
	if delta < 0 {
		delta = -delta
	}
	lower := time.Duration(d.cfg.LowerThresholdMs) * time.Millisecond
	upper := time.Duration(d.cfg.UpperThresholdMs) * time.Millisecond
	if delta < lower {
		return false, d.lastPublished
	}
	if delta > upper {
		delta = upper
	}
	newMetric := uint32(d.fastAvg.Milliseconds())
	if newMetric == d.lastPublished {
		return false, d.lastPublished
	}
	d.lastPublished = newMetric
	return true, newMetric
}
