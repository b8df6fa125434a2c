package congestion_bbrplus

import (
	"math"
	"time"
)

// bdp returns bandwidth x min_rtt x gain in segments, rounded up, or the
// initial window while min_rtt is unknown.
func (m *Model) bdp(bandwidth Bandwidth, gain Gain) uint32 {
	if m.minRTT == unknownMinRTT {
		return m.config.InitialCwnd
	}
	minRTTUs := uint64(m.minRTT / time.Microsecond)
	if minRTTUs > math.MaxUint32 {
		minRTTUs = math.MaxUint32
	}
	w := uint64(bandwidth) * minRTTUs
	scaled := mulShift(w, uint64(gain), GainScale)
	if scaled > math.MaxUint64-uint64(BandwidthUnit) {
		return math.MaxUint32
	}
	segments := (scaled + uint64(BandwidthUnit) - 1) / uint64(BandwidthUnit)
	if segments > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(segments)
}

// quantizationBudget adds headroom for one burst each in the sender's
// queue, its offload engine and the receiver's aggregation.
func (m *Model) quantizationBudget(cwnd uint32) uint32 {
	return saturatingAdd(cwnd, 3*m.segmentsGoal)
}

// inflight returns the in-flight target for bandwidth at gain.
func (m *Model) inflight(bandwidth Bandwidth, gain Gain) uint32 {
	return m.quantizationBudget(m.bdp(bandwidth, gain))
}

// recoverOrRestoreCwnd applies loss recovery to the window. The first
// round of recovery uses packet conservation; leaving recovery restores
// the window saved when it started.
func (m *Model) recoverOrRestoreCwnd(conn Connection, sample *RateSample) (cwnd uint32, conserving bool) {
	prevState, state := m.prevCAState, conn.CAState()
	cwnd = conn.CongestionWindow()
	acked := sample.AckedSacked

	if sample.Losses > 0 {
		if cwnd > sample.Losses {
			cwnd -= sample.Losses
		} else {
			cwnd = 1
		}
	}

	if state == CARecovery && prevState != CARecovery {
		m.packetConservation = true
		m.nextRoundDelivered = conn.Delivered()
		cwnd = conn.PacketsInFlight() + acked
	} else if prevState >= CARecovery && state < CARecovery {
		m.restoreCwnd = true
		m.packetConservation = false
	}
	m.prevCAState = state

	if m.restoreCwnd {
		cwnd = max(cwnd, m.priorCwnd)
		m.restoreCwnd = false
	}

	if m.packetConservation {
		return max(cwnd, conn.PacketsInFlight()+acked), true
	}
	return cwnd, false
}

// setCongestionWindow slow starts toward the target window, or cuts down
// to it once the pipe has been filled.
func (m *Model) setCongestionWindow(conn Connection, sample *RateSample, bandwidth Bandwidth, gain Gain) {
	acked := sample.AckedSacked
	if acked == 0 {
		return
	}

	cwnd, conserving := m.recoverOrRestoreCwnd(conn, sample)
	if !conserving {
		target := m.bdp(bandwidth, gain)
		target = saturatingAdd(target, m.ackAggregationCwnd())
		target = m.quantizationBudget(target)
		if m.isFullBandwidthReached() {
			cwnd = min(saturatingAdd(cwnd, acked), target)
		} else if cwnd < target || conn.Delivered() < m.config.InitialCwnd {
			cwnd = saturatingAdd(cwnd, acked)
		}
	}

	cwnd = max(cwnd, m.config.CwndMinTarget)
	cwnd = min(cwnd, m.config.CwndClamp)
	if m.mode == ModeProbeRTT {
		cwnd = min(cwnd, m.config.CwndMinTarget)
	}
	m.cwnd = cwnd
}

func saturatingAdd(a, b uint32) uint32 {
	if a > math.MaxUint32-b {
		return math.MaxUint32
	}
	return a + b
}
