package congestion_bbrplus

import (
	"testing"
	"time"

	"github.com/sagernet/quic-go/monotime"

	"github.com/stretchr/testify/require"
)

// fakeConnection is a Connection whose fields are set by the test.
type fakeConnection struct {
	now              monotime.Time
	delivered        uint32
	deliveredTime    monotime.Time
	lost             uint32
	inflight         uint32
	cwnd             uint32
	state            CAState
	srtt             time.Duration
	maxPacingRate    uint64
	segmentSize      uint32
	pendingData      bool
	sendWindowOpen   bool
	appLimitedMarker uint32
}

func newFakeConnection() *fakeConnection {
	start := monotime.Time(int64(time.Second))
	return &fakeConnection{
		now:            start,
		deliveredTime:  start,
		cwnd:           InitialCwnd,
		segmentSize:    1000,
		pendingData:    true,
		sendWindowOpen: true,
	}
}

// Advance moves the clock forward. Panics if d is negative.
func (c *fakeConnection) Advance(d time.Duration) {
	if d < 0 {
		panic("fakeConnection.Advance: duration must be non-negative")
	}
	c.now = c.now.Add(d)
}

func (c *fakeConnection) Now() monotime.Time            { return c.now }
func (c *fakeConnection) Delivered() uint32             { return c.delivered }
func (c *fakeConnection) DeliveredTime() monotime.Time  { return c.deliveredTime }
func (c *fakeConnection) Lost() uint32                  { return c.lost }
func (c *fakeConnection) PacketsInFlight() uint32       { return c.inflight }
func (c *fakeConnection) CongestionWindow() uint32      { return c.cwnd }
func (c *fakeConnection) CAState() CAState              { return c.state }
func (c *fakeConnection) SmoothedRTT() time.Duration    { return c.srtt }
func (c *fakeConnection) MaxPacingRate() uint64         { return c.maxPacingRate }
func (c *fakeConnection) SegmentSize() uint32           { return c.segmentSize }
func (c *fakeConnection) HasPendingData() bool          { return c.pendingData }
func (c *fakeConnection) SendWindowOpen() bool          { return c.sendWindowOpen }
func (c *fakeConnection) MarkAppLimited(marker uint32)  { c.appLimitedMarker = marker }

// ack describes one observation. Every observation completes a round trip.
type ack struct {
	delivered uint32
	interval  time.Duration
	// Clock advance before the observation, defaults to interval.
	advance       time.Duration
	rtt           time.Duration
	losses        uint32
	appLimited    bool
	priorInFlight uint32
	inflight      uint32
}

type testFlow struct {
	t     *testing.T
	model *Model
	conn  *fakeConnection
}

func newTestFlow(t *testing.T, configure func(*Config)) *testFlow {
	config := DefaultConfig()
	config.RandomSeed = 1
	if configure != nil {
		configure(&config)
	}
	model, err := NewModel(config)
	require.NoError(t, err)
	conn := newFakeConnection()
	model.Init(conn)
	return &testFlow{t: t, model: model, conn: conn}
}

// observe applies an acknowledgment to the connection, feeds the model and
// enforces the recommended window.
func (f *testFlow) observe(a ack) RateSample {
	advance := a.advance
	if advance == 0 {
		advance = a.interval
	}
	prior := f.conn.delivered
	f.conn.Advance(advance)
	f.conn.delivered += a.delivered
	f.conn.lost += a.losses
	f.conn.deliveredTime = f.conn.now
	f.conn.inflight = a.inflight
	sample := RateSample{
		Delivered:      int32(a.delivered),
		Interval:       a.interval,
		RTT:            a.rtt,
		Losses:         a.losses,
		IsAppLimited:   a.appLimited,
		PriorInFlight:  a.priorInFlight,
		AckedSacked:    a.delivered,
		PriorDelivered: prior,
	}
	f.model.OnObservation(f.conn, &sample)
	f.conn.cwnd = f.model.CongestionWindow()
	return sample
}

// enterProbeBW fills the pipe with a steady 10 segments per millisecond
// and a 10ms RTT, then drains straight into PROBE_BW.
func (f *testFlow) enterProbeBW() {
	for i := 0; i < 4; i++ {
		f.observe(ack{delivered: 10, interval: time.Millisecond, rtt: 10 * time.Millisecond, priorInFlight: 1, inflight: 1})
	}
	require.Equal(f.t, ModeProbeBW, f.model.Mode())
	require.True(f.t, f.model.isFullBandwidthReached())
}
