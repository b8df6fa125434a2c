// Package metrics exports BBRplus diagnostics to Prometheus.
package metrics

import (
	"sync"

	"github.com/sagernet/sing-bbrplus/congestion_bbrplus"
	"github.com/sagernet/sing/common"
	E "github.com/sagernet/sing/common/exceptions"

	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "bbrplus"

var modes = []congestion_bbrplus.Mode{
	congestion_bbrplus.ModeStartup,
	congestion_bbrplus.ModeDrain,
	congestion_bbrplus.ModeProbeBW,
	congestion_bbrplus.ModeProbeRTT,
}

// DiagnosticsProvider is implemented by congestion_bbrplus.Sender. Diagnostics
// is called from the scraping goroutine.
type DiagnosticsProvider interface {
	Diagnostics() congestion_bbrplus.Diagnostics
}

// Collector reports the diagnostics of registered flows, labelled by flow name.
type Collector struct {
	access sync.RWMutex
	flows  map[string]DiagnosticsProvider

	bandwidthDesc  *prometheus.Desc
	minRTTDesc     *prometheus.Desc
	pacingGainDesc *prometheus.Desc
	cwndGainDesc   *prometheus.Desc
	pacingRateDesc *prometheus.Desc
	cwndDesc       *prometheus.Desc
	modeDesc       *prometheus.Desc
	policedDesc    *prometheus.Desc
	roundsDesc     *prometheus.Desc
}

// NewCollector creates a Collector under namespace.
func NewCollector(namespace string) *Collector {
	flowLabel := []string{"flow"}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}
	return &Collector{
		flows:          make(map[string]DiagnosticsProvider),
		bandwidthDesc:  desc("bandwidth_bytes_per_second", "Bandwidth estimate", flowLabel),
		minRTTDesc:     desc("min_rtt_seconds", "Minimum RTT estimate, zero while unknown", flowLabel),
		pacingGainDesc: desc("pacing_gain", "Current pacing gain", flowLabel),
		cwndGainDesc:   desc("cwnd_gain", "Current congestion window gain", flowLabel),
		pacingRateDesc: desc("pacing_rate_bytes_per_second", "Recommended pacing rate", flowLabel),
		cwndDesc:       desc("congestion_window_segments", "Recommended congestion window", flowLabel),
		modeDesc:       desc("mode", "Current mode (1 = active)", []string{"flow", "mode"}),
		policedDesc:    desc("policed", "Whether a traffic policer rate is in use", flowLabel),
		roundsDesc:     desc("rounds_total", "Round trips counted", flowLabel),
	}
}

// Register adds a flow. Flow names must be unique.
func (c *Collector) Register(flow string, provider DiagnosticsProvider) error {
	c.access.Lock()
	defer c.access.Unlock()
	if _, loaded := c.flows[flow]; loaded {
		return E.New("flow already registered: ", flow)
	}
	c.flows[flow] = provider
	return nil
}

// MustRegister is like Register but panics on a duplicate name.
func (c *Collector) MustRegister(flow string, provider DiagnosticsProvider) {
	common.Must(c.Register(flow, provider))
}

// Unregister removes a flow.
func (c *Collector) Unregister(flow string) {
	c.access.Lock()
	delete(c.flows, flow)
	c.access.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bandwidthDesc
	ch <- c.minRTTDesc
	ch <- c.pacingGainDesc
	ch <- c.cwndGainDesc
	ch <- c.pacingRateDesc
	ch <- c.cwndDesc
	ch <- c.modeDesc
	ch <- c.policedDesc
	ch <- c.roundsDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.access.RLock()
	defer c.access.RUnlock()
	for flow, provider := range c.flows {
		d := provider.Diagnostics()
		gauge := func(desc *prometheus.Desc, value float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, flow)
		}
		gauge(c.bandwidthDesc, float64(d.Bandwidth))
		gauge(c.minRTTDesc, d.MinRTT.Seconds())
		gauge(c.pacingGainDesc, float64(d.PacingGain)/float64(congestion_bbrplus.GainUnit))
		gauge(c.cwndGainDesc, float64(d.CwndGain)/float64(congestion_bbrplus.GainUnit))
		gauge(c.pacingRateDesc, float64(d.PacingRate))
		gauge(c.cwndDesc, float64(d.CongestionWindow))
		var policed float64
		if d.LongTermPoliced {
			policed = 1
		}
		gauge(c.policedDesc, policed)
		ch <- prometheus.MustNewConstMetric(c.roundsDesc, prometheus.CounterValue, float64(d.RoundCount), flow)
		for _, mode := range modes {
			var active float64
			if mode == d.Mode {
				active = 1
			}
			ch <- prometheus.MustNewConstMetric(c.modeDesc, prometheus.GaugeValue, active, flow, mode.String())
		}
	}
}
