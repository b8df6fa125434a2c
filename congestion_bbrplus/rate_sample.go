package congestion_bbrplus

import (
	"time"
)

// NoRTTSample marks a RateSample without a round-trip measurement.
const NoRTTSample = time.Duration(-1)

// RateSample is the delivery observation produced by the transport for one
// acknowledgment event.
type RateSample struct {
	// Segments delivered between the send of the sampled packet and this
	// acknowledgment. Negative when no packet could be sampled.
	Delivered int32
	// Longer of the send and ack phases of the sample.
	Interval time.Duration
	// RTT of the most recently sent acknowledged packet, or NoRTTSample.
	RTT time.Duration
	// Segments newly marked lost by this event.
	Losses uint32
	// Whether the sampled packet was sent while application limited.
	IsAppLimited bool
	// Segments in flight before this acknowledgment.
	PriorInFlight uint32
	// Segments newly acknowledged or selectively acknowledged.
	AckedSacked uint32
	// Connection delivered count when the sampled packet was sent.
	PriorDelivered uint32
}

// HasRTT reports whether the sample carries an RTT measurement.
func (s *RateSample) HasRTT() bool {
	return s.RTT >= 0
}

// Bandwidth returns the delivery rate of the sample. ok is false for
// samples that must be discarded.
func (s *RateSample) Bandwidth() (bandwidth Bandwidth, ok bool) {
	if s.Delivered < 0 || s.Interval <= 0 {
		return 0, false
	}
	return BandwidthFromDelivery(uint32(s.Delivered), s.Interval)
}

// seqBefore reports whether a precedes b on the wrapping 32 bit delivered counter.
func seqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}
