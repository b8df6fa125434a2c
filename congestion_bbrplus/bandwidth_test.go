package congestion_bbrplus

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBandwidthFromDelivery(t *testing.T) {
	bandwidth, ok := BandwidthFromDelivery(1000, 1000*time.Microsecond)
	require.True(t, ok)
	assert.Equal(t, BandwidthUnit, bandwidth)

	bandwidth, ok = BandwidthFromDelivery(1, 2*time.Microsecond)
	require.True(t, ok)
	assert.Equal(t, BandwidthUnit/2, bandwidth)

	bandwidth, ok = BandwidthFromDelivery(0, time.Millisecond)
	require.True(t, ok)
	assert.Zero(t, bandwidth)
}

func TestBandwidthFromDelivery_Invalid(t *testing.T) {
	_, ok := BandwidthFromDelivery(10, 0)
	assert.False(t, ok, "zero interval")

	_, ok = BandwidthFromDelivery(10, 999*time.Nanosecond)
	assert.False(t, ok, "interval rounds to zero microseconds")

	// 256 segments per microsecond does not fit the 32 bit estimate.
	_, ok = BandwidthFromDelivery(256, time.Microsecond)
	assert.False(t, ok)
	_, ok = BandwidthFromDelivery(255, time.Microsecond)
	assert.True(t, ok)
}

func TestBandwidth_BytesPerSecond(t *testing.T) {
	// One 1000 byte segment per microsecond.
	assert.Equal(t, uint64(1_000_000_000), BandwidthUnit.BytesPerSecond(1000, GainUnit))
	assert.Equal(t, uint64(1_250_000_000), BandwidthUnit.BytesPerSecond(1000, PacingGain[phaseProbeUp]))
	assert.Equal(t, uint64(750_000_000), BandwidthUnit.BytesPerSecond(1000, PacingGain[phaseProbeDown]))
	assert.Zero(t, Bandwidth(0).BytesPerSecond(1500, HighGain))
}

func TestBandwidth_BytesPerSecondSaturates(t *testing.T) {
	bandwidth := Bandwidth(math.MaxUint32)
	assert.NotPanics(t, func() {
		rate := bandwidth.BytesPerSecond(math.MaxUint32, HighGain)
		assert.Greater(t, rate, uint64(0))
	})
}

func TestBandwidth_SegmentsOver(t *testing.T) {
	assert.Equal(t, uint64(1000), BandwidthUnit.SegmentsOver(time.Millisecond))
	assert.Equal(t, uint64(0), BandwidthUnit.SegmentsOver(0))
	assert.Equal(t, uint64(0), BandwidthUnit.SegmentsOver(-time.Millisecond))
	assert.Equal(t, uint64(5), (BandwidthUnit / 2).SegmentsOver(10*time.Microsecond))
}

func TestMulShift(t *testing.T) {
	assert.Equal(t, uint64(6), mulShift(3, 4, 1))
	assert.Equal(t, uint64(12), mulShift(3, 4, 0))
	assert.Equal(t, uint64(1)<<40, mulShift(1<<40, 1<<24, 24))
	assert.Equal(t, uint64(math.MaxUint64), mulShift(math.MaxUint64, math.MaxUint64, 8))
}

func TestRateSample_Bandwidth(t *testing.T) {
	sample := RateSample{Delivered: 1000, Interval: time.Millisecond, RTT: NoRTTSample}
	bandwidth, ok := sample.Bandwidth()
	require.True(t, ok)
	assert.Equal(t, BandwidthUnit, bandwidth)
	assert.False(t, sample.HasRTT())

	sample.Delivered = -1
	_, ok = sample.Bandwidth()
	assert.False(t, ok)

	sample.Delivered = 10
	sample.Interval = -1
	_, ok = sample.Bandwidth()
	assert.False(t, ok)

	sample.RTT = 0
	assert.True(t, sample.HasRTT())
}

func TestSeqBefore(t *testing.T) {
	assert.True(t, seqBefore(1, 2))
	assert.False(t, seqBefore(2, 2))
	assert.False(t, seqBefore(3, 2))
	assert.True(t, seqBefore(math.MaxUint32, 1))
}
