package congestion_bbrplus

import (
	"testing"
	"time"

	"github.com/sagernet/quic-go/congestion"

	"github.com/stretchr/testify/assert"
)

func TestPacer_Budget(t *testing.T) {
	clock := newMockClock()
	rate := uint64(1_000_000)
	p := NewPacer(func() uint64 { return rate }, func() uint32 { return 10 })
	p.SetMaxDatagramSize(1000)

	start := clock.Now()
	assert.Equal(t, congestion.ByteCount(10000), p.Budget(start))
	assert.Zero(t, p.TimeUntilSend())

	for i := 0; i < 10; i++ {
		p.OnPacketSent(start, 1000)
	}
	assert.Zero(t, p.Budget(start))
	assert.Equal(t, start.Add(time.Millisecond), p.TimeUntilSend())

	// 1 MB/s refills 5000 bytes in 5ms, up to the burst size.
	assert.Equal(t, congestion.ByteCount(5000), p.Budget(start.Add(5*time.Millisecond)))
	assert.Equal(t, congestion.ByteCount(10000), p.Budget(start.Add(time.Second)))
}

func TestPacer_MinimumDelay(t *testing.T) {
	clock := newMockClock()
	p := NewPacer(func() uint64 { return 1_000_000_000 }, func() uint32 { return 0 })
	p.SetMaxDatagramSize(1000)

	start := clock.Now()
	// The burst never drops below two packets.
	assert.Equal(t, congestion.ByteCount(2000), p.Budget(start))
	for i := 0; i < 3; i++ {
		p.OnPacketSent(start, 1000)
	}
	assert.Equal(t, start.Add(minPacingDelay), p.TimeUntilSend())
}

func TestPacer_Unpaced(t *testing.T) {
	clock := newMockClock()
	p := NewPacer(func() uint64 { return 0 }, func() uint32 { return 4 })
	start := clock.Now()
	for i := 0; i < 10; i++ {
		p.OnPacketSent(start, congestion.InitialPacketSize)
	}
	assert.Equal(t, 4*congestion.InitialPacketSize, p.Budget(start.Add(time.Microsecond)))
}
