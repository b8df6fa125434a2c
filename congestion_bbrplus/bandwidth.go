// Copyright 2016 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package congestion_bbrplus

import (
	"math"
	"math/bits"
	"time"
)

const (
	// BandwidthScale is the fixed point shift of Bandwidth.
	BandwidthScale = 24
	// BandwidthUnit is one segment per microsecond.
	BandwidthUnit Bandwidth = 1 << BandwidthScale

	// GainScale is the fixed point shift of Gain.
	GainScale = 8
	// GainUnit is a gain of 1.0.
	GainUnit Gain = 1 << GainScale
)

// Bandwidth is a delivery rate in segments per microsecond, scaled by
// BandwidthUnit. Valid estimates fit in 32 bits.
type Bandwidth uint64

// Gain is a multiplier scaled by GainUnit.
type Gain uint32

// BandwidthFromDelivery returns the rate of delivered segments over interval.
// ok is false when the interval rounds to zero microseconds or the result
// does not fit the 32 bit estimate range.
func BandwidthFromDelivery(delivered uint32, interval time.Duration) (bandwidth Bandwidth, ok bool) {
	intervalUs := interval.Microseconds()
	if intervalUs <= 0 {
		return 0, false
	}
	bandwidth = Bandwidth(uint64(delivered) * uint64(BandwidthUnit) / uint64(intervalUs))
	if bandwidth > math.MaxUint32 {
		return 0, false
	}
	return bandwidth, true
}

// BytesPerSecond converts the bandwidth to bytes per second for segments of
// segmentSize bytes, applying gain. Multiplications happen before each shift
// and the final step is widened so multi-terabit rates do not overflow.
func (b Bandwidth) BytesPerSecond(segmentSize uint32, gain Gain) uint64 {
	rate := uint64(b) * uint64(segmentSize)
	rate = mulShift(rate, uint64(gain), GainScale)
	return mulShift(rate, uint64(time.Second/time.Microsecond), BandwidthScale)
}

// SegmentsOver returns the whole segments delivered at this rate within d.
func (b Bandwidth) SegmentsOver(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return mulShift(uint64(b), uint64(d.Microseconds()), BandwidthScale)
}

// mulShift returns (a*b)>>shift, saturating instead of wrapping.
func mulShift(a, b uint64, shift uint) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi>>shift != 0 {
		return math.MaxUint64
	}
	if shift == 0 {
		return lo
	}
	return hi<<(64-shift) | lo>>shift
}
