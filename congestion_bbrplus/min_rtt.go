package congestion_bbrplus

// updateMinRTT tracks min_rtt over MinRTTWindow and runs PROBE_RTT when
// the window expires without a lower sample.
func (m *Model) updateMinRTT(conn Connection, sample *RateSample) {
	now := conn.Now()
	expired := now.After(m.minRTTStamp.Add(m.config.MinRTTWindow))
	if sample.HasRTT() && (sample.RTT <= m.minRTT || expired) {
		m.minRTT = sample.RTT
		m.minRTTStamp = now
	}

	if expired && !m.idleRestart && m.mode != ModeProbeRTT {
		m.setMode(ModeProbeRTT)
		m.pacingGain = GainUnit
		m.cwndGain = GainUnit
		m.saveCwnd(conn)
		m.probeRTTDoneStamp = 0
	}

	if m.mode == ModeProbeRTT {
		m.probeRTT(conn)
	}
	m.idleRestart = false
}

// probeRTT holds in-flight data at CwndMinTarget for at least
// ProbeRTTDuration and one round trip, then restores the previous mode.
func (m *Model) probeRTT(conn Connection) {
	now := conn.Now()
	inflight := conn.PacketsInFlight()

	// Samples taken while the window is capped understate the path rate.
	marker := conn.Delivered() + inflight
	if marker == 0 {
		marker = 1
	}
	conn.MarkAppLimited(marker)

	if m.probeRTTDoneStamp.IsZero() && inflight <= m.config.CwndMinTarget {
		m.probeRTTDoneStamp = now.Add(m.config.ProbeRTTDuration)
		m.probeRTTRoundDone = false
		m.nextRoundDelivered = conn.Delivered()
	} else if !m.probeRTTDoneStamp.IsZero() {
		if m.roundStart {
			m.probeRTTRoundDone = true
		}
		if m.probeRTTRoundDone && now.After(m.probeRTTDoneStamp) {
			m.minRTTStamp = now
			m.restoreCwnd = true
			m.logger.Trace("bbrplus: probe_rtt done, min_rtt ", m.MinRTT())
			m.resetMode(conn)
		}
	}
}
