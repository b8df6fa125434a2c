// Copyright 2016 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package congestion_bbrplus

import (
	"math/bits"
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/quic-go/monotime"
)

const (
	// minPacingDelay is the minimum delay between packets.
	minPacingDelay = time.Millisecond
	// minBurstPackets bounds the burst size from below when the segments
	// goal is smaller.
	minBurstPackets = 2
)

// Pacer is a token bucket refilled at the model's pacing rate. The bucket
// holds one segments goal worth of packets.
type Pacer struct {
	budgetAtLastSent congestion.ByteCount
	maxDatagramSize  congestion.ByteCount
	lastSentTime     monotime.Time
	pacingRate       func() uint64
	burstPackets     func() uint32
}

// NewPacer creates a Pacer. pacingRate returns bytes per second, zero for
// unpaced; burstPackets returns the segments goal.
func NewPacer(pacingRate func() uint64, burstPackets func() uint32) *Pacer {
	return &Pacer{
		pacingRate:      pacingRate,
		burstPackets:    burstPackets,
		maxDatagramSize: congestion.InitialPacketSize,
	}
}

// SetMaxDatagramSize sets the maximum datagram size.
func (p *Pacer) SetMaxDatagramSize(size congestion.ByteCount) {
	p.maxDatagramSize = size
}

// Budget returns the number of bytes that can be sent at now.
func (p *Pacer) Budget(now monotime.Time) congestion.ByteCount {
	if p.lastSentTime.IsZero() {
		return p.maxBurstSize()
	}
	return min(p.budgetAtLastSent+p.bytesForInterval(stampDelta(now, p.lastSentTime)), p.maxBurstSize())
}

// TimeUntilSend returns when the next packet may be sent, or zero to send
// immediately.
func (p *Pacer) TimeUntilSend() monotime.Time {
	if p.lastSentTime.IsZero() || p.budgetAtLastSent >= p.maxDatagramSize {
		return 0
	}
	return p.lastSentTime.Add(p.intervalForBytes(p.maxDatagramSize - p.budgetAtLastSent))
}

// OnPacketSent charges a sent packet against the budget.
func (p *Pacer) OnPacketSent(sentTime monotime.Time, size congestion.ByteCount) {
	budget := p.Budget(sentTime)
	p.lastSentTime = sentTime
	if size > budget {
		p.budgetAtLastSent = 0
	} else {
		p.budgetAtLastSent = budget - size
	}
}

func (p *Pacer) maxBurstSize() congestion.ByteCount {
	return congestion.ByteCount(max(p.burstPackets(), minBurstPackets)) * p.maxDatagramSize
}

func (p *Pacer) bytesForInterval(interval time.Duration) congestion.ByteCount {
	rate := p.pacingRate()
	if rate == 0 {
		return p.maxBurstSize()
	}
	hi, lo := bits.Mul64(rate, uint64(interval))
	if hi >= uint64(time.Second) {
		return p.maxBurstSize()
	}
	bytes, _ := bits.Div64(hi, lo, uint64(time.Second))
	return congestion.ByteCount(min(bytes, uint64(p.maxBurstSize())))
}

func (p *Pacer) intervalForBytes(bytes congestion.ByteCount) time.Duration {
	rate := p.pacingRate()
	if rate == 0 {
		return 0
	}
	interval := time.Duration(uint64(bytes) * uint64(time.Second) / rate)
	return max(interval, minPacingDelay)
}
