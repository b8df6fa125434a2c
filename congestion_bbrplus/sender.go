// Copyright 2016 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package congestion_bbrplus

import (
	"math"
	"time"

	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/quic-go/monotime"
	"github.com/sagernet/sing/common/atomic"
)

const (
	// InitialCongestionWindowPackets is the initial window of a Sender.
	InitialCongestionWindowPackets = InitialCwnd
	// MaxCongestionWindowPackets caps the window of a Sender unless the
	// configuration sets a lower clamp.
	MaxCongestionWindowPackets = 10000
)

var _ congestion.CongestionControlEx = (*Sender)(nil)

// Sender runs a BBRplus Model as a quic-go congestion controller. Segments
// are QUIC packets of up to the maximum datagram size.
type Sender struct {
	model    *Model
	clock    Clock
	rttStats congestion.RTTStatsProvider
	sampler  *RateSampler
	pacer    *Pacer

	maxDatagramSize congestion.ByteCount
	// Window enforced on the connection, in packets.
	congestionWindow uint32
	caState          CAState
	// Recovery ends once this packet is acknowledged.
	recoveryEnd    congestion.PacketNumber
	lastSentPacket congestion.PacketNumber
	// Timestamp of the event being processed.
	now monotime.Time

	diagnostics atomic.TypedValue[Diagnostics]
}

// NewSender creates a Sender with the given configuration.
func NewSender(clock Clock, initialMaxDatagramSize congestion.ByteCount, config Config) (*Sender, error) {
	if config.CwndClamp == math.MaxUint32 {
		config.CwndClamp = MaxCongestionWindowPackets
	}
	model, err := NewModel(config)
	if err != nil {
		return nil, err
	}
	s := &Sender{
		model:            model,
		clock:            clock,
		sampler:          NewRateSampler(),
		maxDatagramSize:  initialMaxDatagramSize,
		congestionWindow: config.InitialCwnd,
		lastSentPacket:   -1,
	}
	s.pacer = NewPacer(model.PacingRate, model.SegmentsGoal)
	s.pacer.SetMaxDatagramSize(initialMaxDatagramSize)
	s.now = clock.Now()
	model.Init(s.connection())
	s.congestionWindow = model.CongestionWindow()
	s.publishDiagnostics()
	return s, nil
}

func (s *Sender) connection() *senderConnection {
	return (*senderConnection)(s)
}

// SetRTTStatsProvider sets the RTT stats provider.
func (s *Sender) SetRTTStatsProvider(provider congestion.RTTStatsProvider) {
	s.rttStats = provider
}

// TimeUntilSend returns when the next packet may be sent.
func (s *Sender) TimeUntilSend(bytesInFlight congestion.ByteCount) monotime.Time {
	return s.pacer.TimeUntilSend()
}

// HasPacingBudget returns whether the pacer has budget to send.
func (s *Sender) HasPacingBudget(now monotime.Time) bool {
	return s.pacer.Budget(now) >= s.maxDatagramSize
}

// OnPacketSent is called when a packet is sent.
func (s *Sender) OnPacketSent(
	sentTime monotime.Time,
	bytesInFlight congestion.ByteCount,
	packetNumber congestion.PacketNumber,
	bytes congestion.ByteCount,
	isRetransmittable bool,
) {
	s.pacer.OnPacketSent(sentTime, bytes)
	if !isRetransmittable {
		return
	}
	s.now = sentTime
	if s.sampler.PacketsInFlight() == 0 && s.sampler.IsAppLimited() {
		s.model.OnIdleRestart(s.connection())
	}
	s.sampler.OnPacketSent(sentTime, packetNumber)
	s.lastSentPacket = packetNumber
}

// CanSend returns whether the window admits more data.
func (s *Sender) CanSend(bytesInFlight congestion.ByteCount) bool {
	return bytesInFlight < s.GetCongestionWindow()
}

// MaybeExitSlowStart is not used by BBRplus.
func (s *Sender) MaybeExitSlowStart() {}

// OnPacketAcked is not used by BBRplus (uses OnCongestionEventEx instead).
func (s *Sender) OnPacketAcked(number congestion.PacketNumber, ackedBytes congestion.ByteCount, priorInFlight congestion.ByteCount, eventTime monotime.Time) {
}

// OnCongestionEvent is not used by BBRplus (uses OnCongestionEventEx instead).
func (s *Sender) OnCongestionEvent(number congestion.PacketNumber, lostBytes congestion.ByteCount, priorInFlight congestion.ByteCount) {
}

// OnCongestionEventEx turns the acked and lost packets of one ACK frame
// into a single observation.
func (s *Sender) OnCongestionEventEx(
	priorInFlight congestion.ByteCount,
	eventTime monotime.Time,
	ackedPackets []congestion.AckedPacketInfo,
	lostPackets []congestion.LostPacketInfo,
) {
	s.now = eventTime
	conn := s.connection()
	priorPackets := s.sampler.PacketsInFlight()

	for _, p := range lostPackets {
		s.sampler.OnPacketLost(p.PacketNumber)
	}
	if len(lostPackets) > 0 && s.caState < CARecovery {
		s.model.Ssthresh(conn)
		s.caState = CARecovery
		s.recoveryEnd = s.lastSentPacket
	}

	var largestAcked congestion.PacketNumber = -1
	for _, p := range ackedPackets {
		s.sampler.OnPacketAcked(eventTime, p.PacketNumber)
		largestAcked = max(largestAcked, p.PacketNumber)
	}
	if s.caState >= CARecovery && largestAcked >= s.recoveryEnd {
		s.caState = CAOpen
	}

	var minRTT time.Duration
	if s.rttStats != nil {
		minRTT = s.rttStats.MinRTT()
	}
	sample := s.sampler.GenerateSample(eventTime, priorPackets, minRTT)
	s.model.OnObservation(conn, &sample)
	s.congestionWindow = s.model.CongestionWindow()
	s.publishDiagnostics()
}

// OnPacketsLost forgets packets below leastUnacked.
func (s *Sender) OnPacketsLost(leastUnacked congestion.PacketNumber) {
	s.sampler.DropBefore(leastUnacked)
}

// OnAppLimited is called when the application has no data to send.
func (s *Sender) OnAppLimited(bytesInFlight congestion.ByteCount) {
	if bytesInFlight >= s.GetCongestionWindow() {
		return
	}
	s.sampler.OnAppLimited()
}

// OnRetransmissionTimeout collapses the window to the data in flight and
// enters the loss state.
func (s *Sender) OnRetransmissionTimeout(packetsRetransmitted bool) {
	if !packetsRetransmitted {
		return
	}
	s.now = s.clock.Now()
	conn := s.connection()
	s.model.Ssthresh(conn)
	s.congestionWindow = s.sampler.PacketsInFlight() + 1
	s.caState = CALoss
	s.recoveryEnd = s.lastSentPacket
	s.model.OnStateChange(conn, CALoss)
	s.publishDiagnostics()
}

// SetMaxDatagramSize sets the maximum datagram size.
func (s *Sender) SetMaxDatagramSize(size congestion.ByteCount) {
	if size < s.maxDatagramSize {
		panic("cannot decrease max datagram size")
	}
	s.maxDatagramSize = size
	s.pacer.SetMaxDatagramSize(size)
}

// InSlowStart returns whether the model is in STARTUP.
func (s *Sender) InSlowStart() bool {
	return s.model.Mode() == ModeStartup
}

// InRecovery returns whether loss recovery is in progress.
func (s *Sender) InRecovery() bool {
	return s.caState >= CARecovery
}

// GetCongestionWindow returns the congestion window in bytes.
func (s *Sender) GetCongestionWindow() congestion.ByteCount {
	return congestion.ByteCount(s.congestionWindow) * s.maxDatagramSize
}

// PacingRate returns the pacing rate in bytes per second.
func (s *Sender) PacingRate() uint64 {
	return s.model.PacingRate()
}

// Diagnostics returns the snapshot published after the last event. It is
// safe to call from any goroutine.
func (s *Sender) Diagnostics() Diagnostics {
	return s.diagnostics.Load()
}

func (s *Sender) publishDiagnostics() {
	s.diagnostics.Store(s.model.Diagnostics())
}

// senderConnection is the Connection view of a Sender.
type senderConnection Sender

func (c *senderConnection) Now() monotime.Time {
	return c.now
}

func (c *senderConnection) Delivered() uint32 {
	return c.sampler.Delivered()
}

func (c *senderConnection) DeliveredTime() monotime.Time {
	return c.sampler.DeliveredTime()
}

func (c *senderConnection) Lost() uint32 {
	return c.sampler.Lost()
}

func (c *senderConnection) PacketsInFlight() uint32 {
	return c.sampler.PacketsInFlight()
}

func (c *senderConnection) CongestionWindow() uint32 {
	return c.congestionWindow
}

func (c *senderConnection) CAState() CAState {
	return c.caState
}

func (c *senderConnection) SmoothedRTT() time.Duration {
	if c.rttStats == nil {
		return 0
	}
	return c.rttStats.SmoothedRTT()
}

// MaxPacingRate is unlimited; Config.MaxPacingRate applies inside the model.
func (c *senderConnection) MaxPacingRate() uint64 {
	return 0
}

func (c *senderConnection) SegmentSize() uint32 {
	return uint32(c.maxDatagramSize)
}

// HasPendingData is approximated by the sampler: quic-go reports running
// out of data through OnAppLimited.
func (c *senderConnection) HasPendingData() bool {
	return !c.sampler.IsAppLimited()
}

// SendWindowOpen is always true: quic-go applies flow control before
// asking the congestion controller.
func (c *senderConnection) SendWindowOpen() bool {
	return true
}

func (c *senderConnection) MarkAppLimited(marker uint32) {
	c.sampler.MarkAppLimited(marker)
}
