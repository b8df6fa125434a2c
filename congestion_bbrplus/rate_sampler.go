// Copyright 2016 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package congestion_bbrplus

import (
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/quic-go/monotime"
)

// sentPacketState is the connection's delivery state when a packet was sent.
type sentPacketState struct {
	sentTime      monotime.Time
	delivered     uint32
	deliveredTime monotime.Time
	firstSentTime monotime.Time
	isAppLimited  bool
}

// RateSampler turns acknowledgments of individual packets into one
// RateSample per congestion event. The rate of a sample is the delivery
// rate of the most recently sent acknowledged packet, over the longer of
// its send phase and its ack phase, so ack compression cannot inflate it.
type RateSampler struct {
	packets sentPacketQueue[sentPacketState]

	delivered     uint32
	deliveredTime monotime.Time
	// Send time of the packet that started the current send phase.
	firstSentTime monotime.Time
	lost          uint32
	// Non-zero while application limited: samples are marked until
	// delivered passes this value.
	appLimited uint32

	// State of the event being accumulated.
	acked          uint32
	losses         uint32
	hasPrior       bool
	newestPacket   congestion.PacketNumber
	priorDelivered uint32
	priorTime      monotime.Time
	sendInterval   time.Duration
	priorAppLimit  bool
	rtt            time.Duration
}

// NewRateSampler creates a RateSampler.
func NewRateSampler() *RateSampler {
	return &RateSampler{}
}

// PacketsInFlight returns the number of tracked packets.
func (r *RateSampler) PacketsInFlight() uint32 {
	return uint32(r.packets.Len())
}

// Delivered returns the total delivered packet count.
func (r *RateSampler) Delivered() uint32 {
	return r.delivered
}

// DeliveredTime returns when Delivered last advanced.
func (r *RateSampler) DeliveredTime() monotime.Time {
	return r.deliveredTime
}

// Lost returns the total lost packet count.
func (r *RateSampler) Lost() uint32 {
	return r.lost
}

// IsAppLimited reports whether new packets are sent application limited.
func (r *RateSampler) IsAppLimited() bool {
	return r.appLimited != 0
}

// MarkAppLimited marks packets as application limited until the delivered
// count passes marker.
func (r *RateSampler) MarkAppLimited(marker uint32) {
	r.appLimited = max(marker, 1)
}

// OnAppLimited is called when the sender runs out of data.
func (r *RateSampler) OnAppLimited() {
	r.MarkAppLimited(r.delivered + r.PacketsInFlight())
}

// OnPacketSent records the delivery state for a packet.
func (r *RateSampler) OnPacketSent(sentTime monotime.Time, packetNumber congestion.PacketNumber) {
	if r.packets.Len() == 0 {
		r.firstSentTime = sentTime
		r.deliveredTime = sentTime
	}
	r.packets.Push(packetNumber, sentPacketState{
		sentTime:      sentTime,
		delivered:     r.delivered,
		deliveredTime: r.deliveredTime,
		firstSentTime: r.firstSentTime,
		isAppLimited:  r.appLimited != 0,
	})
}

// OnPacketAcked accounts one acknowledged packet of the current event.
func (r *RateSampler) OnPacketAcked(ackTime monotime.Time, packetNumber congestion.PacketNumber) {
	state, ok := r.packets.Pop(packetNumber)
	if !ok {
		return
	}
	r.delivered++
	r.acked++
	if r.hasPrior && packetNumber < r.newestPacket {
		return
	}
	r.hasPrior = true
	r.newestPacket = packetNumber
	r.priorDelivered = state.delivered
	r.priorTime = state.deliveredTime
	r.priorAppLimit = state.isAppLimited
	r.sendInterval = stampDelta(state.sentTime, state.firstSentTime)
	r.rtt = stampDelta(ackTime, state.sentTime)
	// The next send phase starts at this packet.
	r.firstSentTime = state.sentTime
}

// OnPacketLost accounts one lost packet of the current event.
func (r *RateSampler) OnPacketLost(packetNumber congestion.PacketNumber) {
	if _, ok := r.packets.Pop(packetNumber); !ok {
		return
	}
	r.lost++
	r.losses++
}

// DropBefore forgets packets numbered below leastUnacked.
func (r *RateSampler) DropBefore(leastUnacked congestion.PacketNumber) {
	r.packets.DropBefore(leastUnacked)
}

// GenerateSample closes the current event and returns its RateSample.
// Intervals shorter than minRTT are implausible and produce an invalid
// sample.
func (r *RateSampler) GenerateSample(now monotime.Time, priorInFlight uint32, minRTT time.Duration) RateSample {
	if r.appLimited != 0 && seqBefore(r.appLimited, r.delivered) {
		r.appLimited = 0
	}
	if r.acked > 0 {
		r.deliveredTime = now
	}
	sample := RateSample{
		Delivered:     -1,
		Interval:      -1,
		RTT:           NoRTTSample,
		Losses:        r.losses,
		PriorInFlight: priorInFlight,
		AckedSacked:   r.acked,
	}
	if r.hasPrior {
		sample.Delivered = int32(r.delivered - r.priorDelivered)
		sample.PriorDelivered = r.priorDelivered
		sample.IsAppLimited = r.priorAppLimit
		sample.RTT = r.rtt
		sample.Interval = max(r.sendInterval, stampDelta(now, r.priorTime))
		if sample.Interval < minRTT {
			sample.Interval = -1
		}
	}
	r.acked = 0
	r.losses = 0
	r.hasPrior = false
	return sample
}
