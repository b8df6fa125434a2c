package congestion_bbrplus

import "time"

const (
	// Bytes reserved for headers below the offload size limit.
	gsoHeaderReserve = 320
	// Pacing rate is divided by 1 << pacingShift to size a ~1ms burst.
	pacingShift = 10
)

// pacingRateFor converts a bandwidth and gain to a pacing rate in bytes
// per second, bounded by the transport's maximum.
func pacingRateFor(conn Connection, bandwidth Bandwidth, gain Gain) uint64 {
	rate := bandwidth.BytesPerSecond(conn.SegmentSize(), gain)
	if maxRate := conn.MaxPacingRate(); maxRate > 0 && rate > maxRate {
		rate = maxRate
	}
	return rate
}

// initPacingRateFromRTT paces the initial window over the smoothed RTT at
// high gain, or over a nominal 1ms before any RTT is known.
func (m *Model) initPacingRateFromRTT(conn Connection) {
	rttUs := uint64(time.Millisecond / time.Microsecond)
	if srtt := conn.SmoothedRTT(); srtt > 0 {
		rttUs = max(uint64(srtt/time.Microsecond), 1)
		m.hasSeenRTT = true
	}
	bandwidth := Bandwidth(uint64(m.cwnd) * uint64(BandwidthUnit) / rttUs)
	m.pacingRate = m.capPacingRate(pacingRateFor(conn, bandwidth, HighGain))
}

// setPacingRate never lowers the rate before the pipe is full, since the
// estimate is still ramping up.
func (m *Model) setPacingRate(conn Connection, bandwidth Bandwidth, gain Gain) {
	rate := m.capPacingRate(pacingRateFor(conn, bandwidth, gain))
	if !m.hasSeenRTT && conn.SmoothedRTT() > 0 {
		m.initPacingRateFromRTT(conn)
	}
	if m.isFullBandwidthReached() || rate > m.pacingRate {
		m.pacingRate = rate
	}
}

func (m *Model) capPacingRate(rate uint64) uint64 {
	if m.config.MaxPacingRate > 0 && rate > m.config.MaxPacingRate {
		return m.config.MaxPacingRate
	}
	return rate
}

// setSegmentsGoal sizes transmission bursts to about 1ms of pacing, at
// least two segments above minTSORate.
func (m *Model) setSegmentsGoal(conn Connection) {
	var minSegments uint64 = 2
	if m.pacingRate < minTSORate>>3 {
		minSegments = 1
	}
	segmentSize := uint64(max(conn.SegmentSize(), 1))
	bytes := min(m.pacingRate>>pacingShift, uint64(m.config.GSOMaxSize)-1-gsoHeaderReserve)
	segments := max(bytes/segmentSize, minSegments)
	m.segmentsGoal = uint32(min(segments, uint64(m.config.TSOMaxSegments)))
}
