package congestion_bbrplus

import (
	"math"
	"time"

	"github.com/sagernet/quic-go/monotime"
)

// longTermSampler detects token bucket policers: two consecutive lossy
// sampling intervals with consistent throughput. While policed, the
// average of both intervals replaces the max filter estimate.
type longTermSampler struct {
	bandwidth    Bandwidth
	useBandwidth bool
	isSampling   bool
	// Rounds in the current interval, or rounds spent using the policed rate.
	roundCount uint32

	lastDelivered uint32
	lost          uint32
	// Interval start in milliseconds.
	lastStampMs int64
}

func millis(t monotime.Time) int64 {
	return int64(t) / int64(time.Millisecond)
}

// LongTermBandwidth returns the policed rate and whether it is in use.
func (m *Model) LongTermBandwidth() (Bandwidth, bool) {
	return m.longTerm.bandwidth, m.longTerm.useBandwidth
}

func (m *Model) resetLongTermInterval(conn Connection) {
	m.longTerm.lastStampMs = millis(conn.DeliveredTime())
	m.longTerm.lastDelivered = conn.Delivered()
	m.longTerm.lost = conn.Lost()
	m.longTerm.roundCount = 0
}

func (m *Model) resetLongTermSampling(conn Connection) {
	if m.longTerm.useBandwidth {
		m.logger.Debug("bbrplus: stop using policed bandwidth ", uint64(m.longTerm.bandwidth))
	}
	m.longTerm.bandwidth = 0
	m.longTerm.useBandwidth = false
	m.longTerm.isSampling = false
	m.resetLongTermInterval(conn)
}

// longTermIntervalDone compares the finished interval with the previous one
// and switches to the policed rate when they agree.
func (m *Model) longTermIntervalDone(conn Connection, bandwidth Bandwidth) {
	if m.longTerm.bandwidth > 0 {
		var diff Bandwidth
		if bandwidth > m.longTerm.bandwidth {
			diff = bandwidth - m.longTerm.bandwidth
		} else {
			diff = m.longTerm.bandwidth - bandwidth
		}
		if uint64(diff)*uint64(GainUnit) <= uint64(longTermBandwidthRatio)*uint64(m.longTerm.bandwidth) ||
			diff.BytesPerSecond(conn.SegmentSize(), GainUnit) <= longTermBandwidthDiff {
			m.longTerm.bandwidth = (bandwidth + m.longTerm.bandwidth) >> 1
			m.longTerm.useBandwidth = true
			m.pacingGain = GainUnit
			m.longTerm.roundCount = 0
			m.logger.Debug("bbrplus: policer detected, bandwidth ", uint64(m.longTerm.bandwidth))
			return
		}
	}
	m.longTerm.bandwidth = bandwidth
	m.resetLongTermInterval(conn)
}

// sampleLongTermBandwidth runs once per observation and on RTO.
func (m *Model) sampleLongTermBandwidth(conn Connection, sample *RateSample) {
	if !m.config.LongTermEnabled {
		return
	}
	if m.longTerm.useBandwidth {
		if m.mode == ModeProbeBW && m.roundStart {
			m.longTerm.roundCount++
			if m.longTerm.roundCount >= m.config.LongTermMaxRTTs {
				m.resetLongTermSampling(conn)
				m.resetProbeBandwidthMode(conn)
			}
		}
		return
	}

	// Sampling starts at the first loss, once the policer has exhausted
	// its tokens; earlier bursts would overestimate the policed rate.
	if !m.longTerm.isSampling {
		if sample.Losses == 0 {
			return
		}
		m.resetLongTermInterval(conn)
		m.longTerm.isSampling = true
	}

	if sample.IsAppLimited {
		m.resetLongTermSampling(conn)
		return
	}

	if m.roundStart {
		m.longTerm.roundCount++
	}
	if m.longTerm.roundCount < m.config.LongTermMinRTTs {
		return
	}
	if m.longTerm.roundCount > 4*m.config.LongTermMinRTTs {
		m.resetLongTermSampling(conn)
		return
	}

	// The interval ends on a loss, when the tokens are estimated to be
	// exhausted.
	if sample.Losses == 0 {
		return
	}

	lost := conn.Lost() - m.longTerm.lost
	delivered := conn.Delivered() - m.longTerm.lastDelivered
	if delivered == 0 || uint64(lost)<<GainScale < uint64(m.config.LongTermLossThreshold)*uint64(delivered) {
		return
	}

	elapsedMs := millis(conn.DeliveredTime()) - m.longTerm.lastStampMs
	if elapsedMs < 1 {
		return
	}
	if elapsedMs >= math.MaxUint32/int64(time.Millisecond/time.Microsecond) {
		m.resetLongTermSampling(conn)
		return
	}
	bandwidth := Bandwidth(uint64(delivered) * uint64(BandwidthUnit) / uint64(elapsedMs*int64(time.Millisecond/time.Microsecond)))
	m.longTermIntervalDone(conn, bandwidth)
}
