package congestion_bbrplus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeTransitions_StartupDrainProbeBW(t *testing.T) {
	f := newTestFlow(t, nil)
	const queued = 100000

	for i := 0; i < 5; i++ {
		f.observe(ack{delivered: 10 << i, interval: 10 * time.Millisecond, rtt: 10 * time.Millisecond, inflight: queued})
		require.Equal(t, ModeStartup, f.model.Mode())
	}

	// The estimate stops growing. The third flat round fills the pipe and
	// enters DRAIN in the same observation.
	for i := 0; i < 2; i++ {
		f.observe(ack{delivered: 160, interval: 10 * time.Millisecond, rtt: 10 * time.Millisecond, inflight: queued})
		require.Equal(t, ModeStartup, f.model.Mode())
	}
	f.observe(ack{delivered: 160, interval: 10 * time.Millisecond, rtt: 10 * time.Millisecond, inflight: queued})
	require.Equal(t, ModeDrain, f.model.Mode())
	assert.Equal(t, Gain(DrainGain), f.model.pacingGain)
	assert.Equal(t, Gain(HighGain), f.model.cwndGain)

	// DRAIN holds while the queue is above the BDP.
	f.observe(ack{delivered: 160, interval: 10 * time.Millisecond, rtt: 10 * time.Millisecond, inflight: queued})
	require.Equal(t, ModeDrain, f.model.Mode())

	target := f.model.inflight(f.model.MaxBandwidth(), GainUnit)
	f.observe(ack{delivered: 160, interval: 10 * time.Millisecond, rtt: 10 * time.Millisecond, inflight: target})
	require.Equal(t, ModeProbeBW, f.model.Mode())
	assert.Equal(t, Gain(CwndGain), f.model.cwndGain)
	assert.NotEqual(t, PacingGain[phaseProbeDown], f.model.pacingGain)
}

func TestModeTransitions_DrainExitsImmediately(t *testing.T) {
	f := newTestFlow(t, nil)
	f.enterProbeBW()
	assert.NotEqual(t, phaseProbeDown, f.model.cycleIndex)
}

func TestDrainToTarget_Cycle(t *testing.T) {
	f := newTestFlow(t, nil)
	f.enterProbeBW()
	step := func(losses uint32, priorInFlight uint32) {
		f.observe(ack{delivered: 10, interval: time.Millisecond, rtt: NoRTTSample, losses: losses, priorInFlight: priorInFlight, inflight: 1})
	}

	// A new cycle starts at the first observation in PROBE_BW.
	step(0, 1)
	require.Equal(t, phaseProbeUp, f.model.cycleIndex)
	require.Equal(t, PacingGain[phaseProbeUp], f.model.pacingGain)
	cycleStamp := f.model.cycleStamp
	assert.GreaterOrEqual(t, f.model.cycleLength, CycleLength-cycleRand+1)
	assert.LessOrEqual(t, f.model.cycleLength, CycleLength)

	// Probing lasts at least min_rtt, even through losses.
	for i := 0; i < 10; i++ {
		step(1, 1)
		require.Equal(t, phaseProbeUp, f.model.cycleIndex, "elapsed %v", f.conn.now.Sub(cycleStamp))
	}
	// Past min_rtt, below the target and without loss it keeps probing.
	step(0, 1)
	require.Equal(t, phaseProbeUp, f.model.cycleIndex)

	step(1, 1)
	require.Equal(t, phaseProbeDown, f.model.cycleIndex)
	require.Equal(t, PacingGain[phaseProbeDown], f.model.pacingGain)

	// The drain phase holds until in-flight data is down to the BDP.
	step(0, 100000)
	require.Equal(t, phaseProbeDown, f.model.cycleIndex)
	step(0, 1)
	require.Equal(t, phaseCruise, f.model.cycleIndex)
	require.Equal(t, GainUnit, f.model.pacingGain)

	cycleLength := time.Duration(f.model.cycleLength) * 10 * time.Millisecond
	for i := 0; i < 100 && f.model.cycleIndex != phaseProbeUp; i++ {
		step(0, 1)
	}
	require.Equal(t, phaseProbeUp, f.model.cycleIndex)
	assert.Equal(t, cycleLength+time.Millisecond, f.conn.now.Sub(cycleStamp))
}

func TestDrainToTarget_ProbeEndsWhenAppLimited(t *testing.T) {
	f := newTestFlow(t, nil)
	f.enterProbeBW()
	f.observe(ack{delivered: 10, interval: time.Millisecond, rtt: NoRTTSample, priorInFlight: 1, inflight: 1})
	require.Equal(t, phaseProbeUp, f.model.cycleIndex)
	for i := 0; i < 10; i++ {
		f.observe(ack{delivered: 10, interval: time.Millisecond, rtt: NoRTTSample, priorInFlight: 1, inflight: 1})
	}
	require.Equal(t, phaseProbeUp, f.model.cycleIndex)

	f.conn.pendingData = false
	f.observe(ack{delivered: 10, interval: time.Millisecond, rtt: NoRTTSample, priorInFlight: 1, inflight: 1})
	assert.Equal(t, phaseProbeDown, f.model.cycleIndex)
}

func TestFixedTime_AdvancesEveryMinRTT(t *testing.T) {
	f := newTestFlow(t, func(config *Config) {
		config.CyclePolicy = CyclePolicyFixedTime
	})
	f.enterProbeBW()
	require.NotEqual(t, phaseProbeDown, f.model.cycleIndex)

	for phase := 0; phase < 2*CycleLength; phase++ {
		index := f.model.cycleIndex
		observations := 0
		for f.model.cycleIndex == index {
			f.observe(ack{delivered: 10, interval: time.Millisecond, rtt: NoRTTSample, priorInFlight: 100000, inflight: 1})
			observations++
			require.LessOrEqual(t, observations, 11)
		}
		// Each phase lasts just over one 10ms min_rtt.
		assert.Equal(t, 11, observations)
		assert.Equal(t, (index+1)%CycleLength, f.model.cycleIndex)
		assert.Equal(t, PacingGain[f.model.cycleIndex], f.model.pacingGain)
	}
}

func TestFixedTime_DrainPhaseEndsAtTarget(t *testing.T) {
	f := newTestFlow(t, func(config *Config) {
		config.CyclePolicy = CyclePolicyFixedTime
	})
	f.enterProbeBW()
	for i := 0; i < 200 && f.model.cycleIndex != phaseProbeDown; i++ {
		f.observe(ack{delivered: 10, interval: time.Millisecond, rtt: NoRTTSample, priorInFlight: 100000, inflight: 1})
	}
	require.Equal(t, phaseProbeDown, f.model.cycleIndex)

	f.observe(ack{delivered: 10, interval: time.Millisecond, rtt: NoRTTSample, priorInFlight: 1, inflight: 1})
	assert.Equal(t, phaseCruise, f.model.cycleIndex)
}

func TestResetProbeBandwidthMode_NeverStartsInDrainPhase(t *testing.T) {
	f := newTestFlow(t, nil)
	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		f.model.resetProbeBandwidthMode(f.conn)
		require.NotEqual(t, phaseProbeDown, f.model.cycleIndex)
		seen[f.model.cycleIndex] = true
	}
	assert.Len(t, seen, cycleRand)
}
