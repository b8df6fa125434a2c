package congestion_bbrplus

import (
	"time"

	"github.com/sagernet/quic-go/monotime"
)

const (
	// An epoch is restarted before its acked count reaches this value.
	ackEpochResetThreshold = 1 << 20
	ackEpochAckedMax       = ackEpochResetThreshold - 1
)

// ackAggregation estimates how many segments arrive in excess of the
// bandwidth estimate, as a max over two slots of ExtraAckedWindowRounds
// rounds each.
type ackAggregation struct {
	epochStamp monotime.Time
	epochAcked uint32
	extraAcked [2]uint32
	slotRounds uint32
	slotIndex  int
}

func (a *ackAggregation) reset(now monotime.Time) {
	a.epochStamp = now
	a.epochAcked = 0
}

func (a *ackAggregation) extra() uint32 {
	return max(a.extraAcked[0], a.extraAcked[1])
}

// stampDelta returns t1 - t0, or zero when t1 is not after t0.
func stampDelta(t1, t0 monotime.Time) time.Duration {
	if !t1.After(t0) {
		return 0
	}
	return t1.Sub(t0)
}

func (m *Model) updateAckAggregation(conn Connection, sample *RateSample) {
	if m.config.ExtraAckedGain == 0 || sample.AckedSacked == 0 {
		return
	}
	a := &m.ackAggregation
	if m.roundStart {
		a.slotRounds = min(0x1f, a.slotRounds+1)
		if a.slotRounds >= m.config.ExtraAckedWindowRounds {
			a.slotRounds = 0
			a.slotIndex ^= 1
			a.extraAcked[a.slotIndex] = 0
		}
	}

	deliveredTime := conn.DeliveredTime()
	expected := m.Bandwidth().SegmentsOver(stampDelta(deliveredTime, a.epochStamp))
	if uint64(a.epochAcked) <= expected || uint64(a.epochAcked)+uint64(sample.AckedSacked) >= ackEpochResetThreshold {
		a.epochAcked = 0
		a.epochStamp = deliveredTime
		expected = 0
	}

	a.epochAcked = uint32(min(ackEpochAckedMax, uint64(a.epochAcked)+uint64(sample.AckedSacked)))
	extra := uint32(uint64(a.epochAcked) - expected)
	extra = min(extra, conn.CongestionWindow())
	if extra > a.extraAcked[a.slotIndex] {
		a.extraAcked[a.slotIndex] = extra
	}
}

// ackAggregationCwnd returns the window increment for ack aggregation,
// applied once the pipe is full and bounded by ExtraAckedMax worth of data.
func (m *Model) ackAggregationCwnd() uint32 {
	if m.config.ExtraAckedGain == 0 || !m.isFullBandwidthReached() {
		return 0
	}
	maxAggregation := m.Bandwidth().SegmentsOver(m.config.ExtraAckedMax)
	aggregation := uint64(m.config.ExtraAckedGain) * uint64(m.ackAggregation.extra()) >> GainScale
	return uint32(min(aggregation, maxAggregation))
}
