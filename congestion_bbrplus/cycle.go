package congestion_bbrplus

import "time"

func (m *Model) updateCyclePhase(conn Connection, sample *RateSample) {
	if m.mode != ModeProbeBW {
		return
	}
	switch m.config.CyclePolicy {
	case CyclePolicyFixedTime:
		if !m.longTerm.useBandwidth && m.isNextCyclePhase(conn, sample) {
			m.advanceCyclePhase(conn)
		}
	default:
		m.drainToTargetCycle(conn, sample)
	}
}

// drainToTargetCycle probes for bandwidth once every cycleLength min_rtt,
// then holds the drain phase until in-flight data falls to the BDP before
// cruising at unity gain.
func (m *Model) drainToTargetCycle(conn Connection, sample *RateSample) {
	elapsed := stampDelta(conn.DeliveredTime(), m.cycleStamp)

	if m.minRTT != unknownMinRTT && elapsed > time.Duration(m.cycleLength)*m.minRTT {
		m.cycleStamp = conn.DeliveredTime()
		m.cycleLength = CycleLength - m.random.Intn(cycleRand)
		m.setCycleIndex(phaseProbeUp)
		return
	}

	if m.pacingGain == GainUnit {
		return
	}
	inflight := sample.PriorInFlight
	bandwidth := m.MaxBandwidth()

	if m.pacingGain < GainUnit {
		if inflight <= m.inflight(bandwidth, GainUnit) {
			m.setCycleIndex(phaseCruise)
		}
		return
	}

	// Probing may need longer than min_rtt to raise in-flight data to the
	// target on small-RTT paths. It stops early on loss, or when the
	// application or the receive window kept the target out of reach.
	if elapsed > m.minRTT &&
		(inflight >= m.inflight(bandwidth, m.pacingGain) ||
			sample.Losses > 0 ||
			sample.IsAppLimited ||
			!conn.HasPendingData() ||
			!conn.SendWindowOpen()) {
		m.setCycleIndex(phaseProbeDown)
	}
}

// isNextCyclePhase ends a phase after one min_rtt, or once the phase's
// in-flight target is met.
func (m *Model) isNextCyclePhase(conn Connection, sample *RateSample) bool {
	isFullLength := stampDelta(conn.DeliveredTime(), m.cycleStamp) > m.minRTT

	if m.pacingGain == GainUnit {
		return isFullLength
	}

	inflight := sample.PriorInFlight
	bandwidth := m.MaxBandwidth()

	if m.pacingGain > GainUnit {
		return isFullLength && (sample.Losses > 0 || inflight >= m.inflight(bandwidth, m.pacingGain))
	}

	return isFullLength || inflight <= m.inflight(bandwidth, GainUnit)
}

func (m *Model) setCycleIndex(index int) {
	m.cycleIndex = index
	if m.longTerm.useBandwidth {
		m.pacingGain = GainUnit
	} else {
		m.pacingGain = PacingGain[index]
	}
}

func (m *Model) advanceCyclePhase(conn Connection) {
	m.cycleIndex = (m.cycleIndex + 1) & (CycleLength - 1)
	m.cycleStamp = conn.DeliveredTime()
	m.pacingGain = PacingGain[m.cycleIndex]
}

func (m *Model) resetStartupMode() {
	m.setMode(ModeStartup)
	m.pacingGain = HighGain
	m.cwndGain = HighGain
}

// resetProbeBandwidthMode enters PROBE_BW at a random phase other than
// the drain phase.
func (m *Model) resetProbeBandwidthMode(conn Connection) {
	m.setMode(ModeProbeBW)
	m.pacingGain = GainUnit
	m.cwndGain = CwndGain
	m.cycleIndex = CycleLength - 1 - m.random.Intn(cycleRand)
	m.advanceCyclePhase(conn)
}

func (m *Model) resetMode(conn Connection) {
	if !m.isFullBandwidthReached() {
		m.resetStartupMode()
	} else {
		m.resetProbeBandwidthMode(conn)
	}
}

// checkDrain moves STARTUP to DRAIN once the pipe is full, and DRAIN to
// PROBE_BW once in-flight data is down to the BDP.
func (m *Model) checkDrain(conn Connection) {
	if m.mode == ModeStartup && m.isFullBandwidthReached() {
		m.setMode(ModeDrain)
		m.pacingGain = DrainGain
		m.cwndGain = HighGain
	}
	if m.mode == ModeDrain && conn.PacketsInFlight() <= m.inflight(m.MaxBandwidth(), GainUnit) {
		m.resetProbeBandwidthMode(conn)
	}
}
