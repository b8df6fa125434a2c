package congestion_bbrplus

import (
	"time"

	"github.com/sagernet/quic-go/monotime"
)

// CAState is the loss recovery state of the transport, ordered by severity.
type CAState uint8

const (
	CAOpen CAState = iota
	CADisorder
	CACWR
	CARecovery
	CALoss
)

func (s CAState) String() string {
	switch s {
	case CAOpen:
		return "open"
	case CADisorder:
		return "disorder"
	case CACWR:
		return "cwr"
	case CARecovery:
		return "recovery"
	case CALoss:
		return "loss"
	default:
		return "unknown"
	}
}

// InfiniteSsthresh is returned by Ssthresh: BBRplus does not use a slow
// start threshold.
const InfiniteSsthresh uint32 = 0x7fffffff

// Connection is the transport snapshot read while handling an event. All
// counts are in segments.
type Connection interface {
	// Now returns the current timestamp.
	Now() monotime.Time
	// Delivered returns the total delivered segment count, including this event.
	Delivered() uint32
	// DeliveredTime returns when Delivered last advanced.
	DeliveredTime() monotime.Time
	// Lost returns the total lost segment count.
	Lost() uint32
	// PacketsInFlight returns the segments currently in flight.
	PacketsInFlight() uint32
	// CongestionWindow returns the window the transport is enforcing.
	CongestionWindow() uint32
	// CAState returns the current loss recovery state.
	CAState() CAState
	// SmoothedRTT returns the smoothed RTT, or zero before the first sample.
	SmoothedRTT() time.Duration
	// MaxPacingRate returns the pacing rate limit in bytes per second, zero for none.
	MaxPacingRate() uint64
	// SegmentSize returns the current segment size in bytes.
	SegmentSize() uint32
	// HasPendingData reports whether data is queued for sending.
	HasPendingData() bool
	// SendWindowOpen reports whether the peer's receive window admits the next segment.
	SendWindowOpen() bool
	// MarkAppLimited marks samples as application limited until the
	// delivered count passes marker.
	MarkAppLimited(marker uint32)
}

// CongestionControl is the interface the transport drives. Calls for one
// connection must be serialized by the caller.
type CongestionControl interface {
	// Init resets the model for a new flow.
	Init(conn Connection)
	// OnObservation updates the model with one delivery observation and
	// recomputes the pacing rate and congestion window.
	OnObservation(conn Connection, sample *RateSample)
	// OnStateChange is signaled when the loss recovery state changes.
	OnStateChange(conn Connection, state CAState)
	// OnIdleRestart is signaled when an application limited flow resumes
	// sending after being idle.
	OnIdleRestart(conn Connection)
	// PacingRate returns the pacing rate in bytes per second.
	PacingRate() uint64
	// CongestionWindow returns the recommended window in segments.
	CongestionWindow() uint32
	// SegmentsGoal returns the advisory segments per transmission burst.
	SegmentsGoal() uint32
	// Ssthresh saves the current window and returns InfiniteSsthresh.
	Ssthresh(conn Connection) uint32
	// UndoCongestionWindow returns the window to restore after a spurious
	// loss recovery.
	UndoCongestionWindow(conn Connection) uint32
	// Diagnostics returns a snapshot of the model for monitoring.
	Diagnostics() Diagnostics
}

// Diagnostics is a read-only snapshot of the model.
type Diagnostics struct {
	Mode Mode
	// Bandwidth estimate in bytes per second.
	Bandwidth uint64
	// MinRTT is zero while unknown.
	MinRTT           time.Duration
	PacingGain       Gain
	CwndGain         Gain
	PacingRate       uint64
	CongestionWindow uint32
	LongTermPoliced  bool
	RoundCount       uint32
}
