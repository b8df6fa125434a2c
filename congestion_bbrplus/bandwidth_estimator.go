package congestion_bbrplus

// updateBandwidth advances the round counter and feeds the delivery rate
// sample into the max filter.
func (m *Model) updateBandwidth(conn Connection, sample *RateSample, sampleBandwidth Bandwidth) {
	m.roundStart = false
	if !seqBefore(sample.PriorDelivered, m.nextRoundDelivered) {
		m.nextRoundDelivered = conn.Delivered()
		m.roundCount++
		m.roundStart = true
		m.packetConservation = false
	}

	m.sampleLongTermBandwidth(conn, sample)

	// An application limited sample reflects the application's rate rather
	// than the path's, so it may only raise the estimate.
	if !sample.IsAppLimited || sampleBandwidth >= m.MaxBandwidth() {
		m.bandwidth.Update(sampleBandwidth, m.roundCount)
	}
}

// checkFullBandwidthReached declares the pipe full once the estimate stops
// growing by FullBandwidthThreshold for FullBandwidthCount rounds that were
// not application limited.
func (m *Model) checkFullBandwidthReached(sample *RateSample) {
	if m.isFullBandwidthReached() || !m.roundStart || sample.IsAppLimited {
		return
	}
	threshold := Bandwidth(uint64(m.fullBandwidth) * uint64(m.config.FullBandwidthThreshold) >> GainScale)
	if m.MaxBandwidth() >= threshold {
		m.fullBandwidth = m.MaxBandwidth()
		m.fullBandwidthCount = 0
		return
	}
	m.fullBandwidthCount++
}
