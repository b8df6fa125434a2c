// Package congestion_bbrplus implements the BBRplus congestion control
// model: BBR with a drain-to-target gain cycle, randomized probing cycle
// length and ack aggregation compensation. All arithmetic is fixed point.
package congestion_bbrplus

import (
	"math"
	"math/rand"
	"time"

	"github.com/sagernet/quic-go/monotime"
	"github.com/sagernet/sing/common/logger"
)

const (
	// CycleLength is the number of phases in the PROBE_BW gain cycle.
	CycleLength = 8
	// Starting cycle phases are drawn from this many candidates.
	cycleRand = 7

	// BandwidthWindowRounds is the default max bandwidth filter window.
	BandwidthWindowRounds = CycleLength + 2
	// MinRTTWindow is the default min_rtt filter window.
	MinRTTWindow = 10 * time.Second
	// ProbeRTTDuration is the default minimum PROBE_RTT duration.
	ProbeRTTDuration = 200 * time.Millisecond

	// CwndMinTarget allows two outstanding two-segment bursts under
	// delayed ACKs.
	CwndMinTarget = 4
	// InitialCwnd is used as the BDP until the first RTT sample.
	InitialCwnd = 10

	// HighGain is 2/ln(2), the smallest gain that doubles the sending
	// rate each round.
	HighGain = GainUnit*2885/1000 + 1
	// DrainGain is the reciprocal of HighGain.
	DrainGain = GainUnit * 1000 / 2885
	// CwndGain is the PROBE_BW congestion window gain.
	CwndGain = GainUnit * 2

	// FullBandwidthThreshold is the growth per round expected in STARTUP.
	FullBandwidthThreshold = GainUnit * 5 / 4
	// FullBandwidthCount is the number of rounds without growth that
	// declare the pipe full.
	FullBandwidthCount = 3

	LongTermMinRTTs       = 4
	LongTermLossThreshold = 50
	LongTermMaxRTTs       = 48
	// Two long-term intervals match if they differ by at most 1/8 ...
	longTermBandwidthRatio = GainUnit / 8
	// ... or by at most 4 kbit/s.
	longTermBandwidthDiff = 4000 / 8

	ExtraAckedWindowRounds = 10
	ExtraAckedMax          = 100 * time.Millisecond

	// Pacing below this rate in bits per second uses one segment bursts.
	minTSORate = 1200000

	DefaultGSOMaxSize = 65536
	MaxTSOSegments    = 0x7f
)

const (
	phaseProbeUp   = 0
	phaseProbeDown = 1
	phaseCruise    = 2
)

// PacingGain is the PROBE_BW pacing gain cycle.
var PacingGain = [CycleLength]Gain{
	GainUnit * 5 / 4,
	GainUnit * 3 / 4,
	GainUnit, GainUnit, GainUnit, GainUnit, GainUnit, GainUnit,
}

// unknownMinRTT compares greater than any RTT sample.
const unknownMinRTT = time.Duration(math.MaxInt64)

// Mode represents the current mode of BBRplus.
type Mode int

const (
	// ModeStartup ramps up the sending rate rapidly to fill the pipe.
	ModeStartup Mode = iota
	// ModeDrain drains the queue created in STARTUP.
	ModeDrain
	// ModeProbeBW cycles the pacing gain to discover and share bandwidth.
	ModeProbeBW
	// ModeProbeRTT cuts in-flight data to refresh min_rtt.
	ModeProbeRTT
)

func (m Mode) String() string {
	switch m {
	case ModeStartup:
		return "startup"
	case ModeDrain:
		return "drain"
	case ModeProbeBW:
		return "probe_bw"
	case ModeProbeRTT:
		return "probe_rtt"
	default:
		return "unknown"
	}
}

var _ CongestionControl = (*Model)(nil)

// Model is the per-connection BBRplus state.
type Model struct {
	config Config
	logger logger.Logger
	random *rand.Rand

	mode Mode

	// Max filter of delivery rate samples, keyed by round count.
	bandwidth *WindowedFilter[Bandwidth, uint32]
	// Round trips counted since Init.
	roundCount uint32
	// A round ends once a packet sent at this delivered count is acked.
	nextRoundDelivered uint32
	roundStart         bool

	minRTT      time.Duration
	minRTTStamp monotime.Time

	probeRTTDoneStamp monotime.Time
	probeRTTRoundDone bool
	// Set by OnIdleRestart, cleared by the next observation.
	idleRestart bool

	cycleIndex  int
	cycleStamp  monotime.Time
	cycleLength int

	pacingGain Gain
	cwndGain   Gain

	fullBandwidth      Bandwidth
	fullBandwidthCount uint32

	longTerm       longTermSampler
	ackAggregation ackAggregation

	// Last known good window, restored after recovery or PROBE_RTT.
	priorCwnd          uint32
	prevCAState        CAState
	packetConservation bool
	restoreCwnd        bool
	hasSeenRTT         bool

	// Segment size seen by the last event, for Diagnostics.
	segmentSize uint32

	pacingRate   uint64
	cwnd         uint32
	segmentsGoal uint32
}

// NewModel creates a model. Init must be called before the first event.
func NewModel(config Config) (*Model, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}
	m := &Model{
		config: config,
		logger: config.Logger,
	}
	if m.logger == nil {
		m.logger = logger.NOP()
	}
	if config.RandomSeed != 0 {
		m.random = rand.New(rand.NewSource(config.RandomSeed))
	}
	return m, nil
}

// Init implements CongestionControl.
func (m *Model) Init(conn Connection) {
	now := conn.Now()
	if m.random == nil {
		m.random = rand.New(rand.NewSource(int64(now)))
	}
	m.bandwidth = NewWindowedMaxFilter[Bandwidth, uint32](m.config.BandwidthWindowRounds)
	m.bandwidth.Reset(0, 0)
	m.roundCount = 0
	m.nextRoundDelivered = 0
	m.roundStart = false
	m.priorCwnd = 0
	m.segmentsGoal = 0
	m.prevCAState = CAOpen
	m.packetConservation = false
	m.restoreCwnd = false

	m.probeRTTDoneStamp = 0
	m.probeRTTRoundDone = false
	m.idleRestart = false
	m.minRTT = unknownMinRTT
	m.minRTTStamp = now

	m.segmentSize = conn.SegmentSize()
	m.cwnd = conn.CongestionWindow()
	if m.cwnd == 0 {
		m.cwnd = m.config.InitialCwnd
	}
	m.cwnd = min(max(m.cwnd, m.config.CwndMinTarget), m.config.CwndClamp)
	m.hasSeenRTT = false
	m.initPacingRateFromRTT(conn)

	m.fullBandwidth = 0
	m.fullBandwidthCount = 0
	m.cycleStamp = 0
	m.cycleIndex = 0
	m.cycleLength = 0
	m.resetLongTermSampling(conn)
	m.mode = ModeStartup
	m.pacingGain = HighGain
	m.cwndGain = HighGain
	m.ackAggregation.reset(now)
}

// OnObservation implements CongestionControl. Invalid samples leave the
// model and its recommendations unchanged.
func (m *Model) OnObservation(conn Connection, sample *RateSample) {
	sampleBandwidth, ok := sample.Bandwidth()
	if !ok {
		return
	}
	m.segmentSize = conn.SegmentSize()
	m.updateBandwidth(conn, sample, sampleBandwidth)
	m.updateAckAggregation(conn, sample)
	m.updateCyclePhase(conn, sample)
	m.checkFullBandwidthReached(sample)
	m.checkDrain(conn)
	m.updateMinRTT(conn, sample)

	bandwidth := m.Bandwidth()
	m.setPacingRate(conn, bandwidth, m.pacingGain)
	m.setSegmentsGoal(conn)
	m.setCongestionWindow(conn, sample, bandwidth, m.cwndGain)
}

// OnStateChange implements CongestionControl. An RTO is treated as the end
// of a round with a loss.
func (m *Model) OnStateChange(conn Connection, state CAState) {
	if state != CALoss {
		return
	}
	m.prevCAState = CALoss
	m.fullBandwidth = 0
	m.roundStart = true
	m.sampleLongTermBandwidth(conn, &RateSample{Losses: 1})
}

// OnIdleRestart implements CongestionControl.
func (m *Model) OnIdleRestart(conn Connection) {
	m.idleRestart = true
	m.ackAggregation.reset(conn.Now())
	if m.mode == ModeProbeBW {
		m.setPacingRate(conn, m.Bandwidth(), GainUnit)
	}
}

// Ssthresh implements CongestionControl.
func (m *Model) Ssthresh(conn Connection) uint32 {
	m.saveCwnd(conn)
	return InfiniteSsthresh
}

// UndoCongestionWindow implements CongestionControl. Losses never shrink
// the window speculatively, so there is nothing to undo.
func (m *Model) UndoCongestionWindow(conn Connection) uint32 {
	return conn.CongestionWindow()
}

// PacingRate implements CongestionControl.
func (m *Model) PacingRate() uint64 {
	return m.pacingRate
}

// CongestionWindow implements CongestionControl.
func (m *Model) CongestionWindow() uint32 {
	return m.cwnd
}

// SegmentsGoal implements CongestionControl.
func (m *Model) SegmentsGoal() uint32 {
	return m.segmentsGoal
}

// Mode returns the current mode.
func (m *Model) Mode() Mode {
	return m.mode
}

// MinRTT returns the min_rtt estimate, or zero while unknown.
func (m *Model) MinRTT() time.Duration {
	if m.minRTT == unknownMinRTT {
		return 0
	}
	return m.minRTT
}

// MaxBandwidth returns the windowed max delivery rate.
func (m *Model) MaxBandwidth() Bandwidth {
	return m.bandwidth.Best()
}

// Bandwidth returns the bandwidth estimate in use: the policed rate while
// a policer is detected, otherwise the windowed max.
func (m *Model) Bandwidth() Bandwidth {
	if m.longTerm.useBandwidth {
		return m.longTerm.bandwidth
	}
	return m.MaxBandwidth()
}

// Diagnostics implements CongestionControl.
func (m *Model) Diagnostics() Diagnostics {
	return Diagnostics{
		Mode:             m.mode,
		Bandwidth:        m.Bandwidth().BytesPerSecond(m.segmentSize, GainUnit),
		MinRTT:           m.MinRTT(),
		PacingGain:       m.pacingGain,
		CwndGain:         m.cwndGain,
		PacingRate:       m.pacingRate,
		CongestionWindow: m.cwnd,
		LongTermPoliced:  m.longTerm.useBandwidth,
		RoundCount:       m.roundCount,
	}
}

func (m *Model) isFullBandwidthReached() bool {
	return m.fullBandwidthCount >= m.config.FullBandwidthCount
}

// saveCwnd records the last known good window. Recovery and PROBE_RTT
// have already cut the window, so only a larger value is kept then.
func (m *Model) saveCwnd(conn Connection) {
	cwnd := conn.CongestionWindow()
	if m.prevCAState < CARecovery && m.mode != ModeProbeRTT {
		m.priorCwnd = cwnd
	} else {
		m.priorCwnd = max(m.priorCwnd, cwnd)
	}
}

func (m *Model) setMode(mode Mode) {
	if m.mode != mode {
		m.logger.Debug("bbrplus: ", m.mode, " -> ", mode, ", bandwidth ", uint64(m.Bandwidth()), ", min_rtt ", m.MinRTT())
	}
	m.mode = mode
}
