package bbrplus

import (
	"context"

	"github.com/sagernet/quic-go"
	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/sing-bbrplus/congestion_bbrplus"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	"github.com/sagernet/sing/common/ntp"
)

const (
	// CongestionBBRPlus selects BBRplus with drain-to-target gain cycling.
	CongestionBBRPlus = "bbrplus"
	// CongestionBBRPlusFixedTime selects BBRplus with one gain phase per min_rtt.
	CongestionBBRPlusFixedTime = "bbrplus_fixed_time"
)

// Connection is the part of a QUIC connection a congestion controller is
// attached to.
type Connection interface {
	Config() *quic.Config
	SetCongestionControl(congestion.CongestionControl)
}

// Options configure SetCongestion.
type Options struct {
	// Config overrides the defaults. The cycle policy is taken from the
	// congestion control name.
	Config *congestion_bbrplus.Config
	Logger logger.ContextLogger
}

// NewSender creates a BBRplus sender for the named congestion control. The
// clock follows the NTP time function in ctx when one is present.
func NewSender(ctx context.Context, name string, initialPacketSize congestion.ByteCount, options Options) (*congestion_bbrplus.Sender, error) {
	config := congestion_bbrplus.DefaultConfig()
	if options.Config != nil {
		config = *options.Config
	}
	switch name {
	case CongestionBBRPlus:
		config.CyclePolicy = congestion_bbrplus.CyclePolicyDrainToTarget
	case CongestionBBRPlusFixedTime:
		config.CyclePolicy = congestion_bbrplus.CyclePolicyFixedTime
	default:
		return nil, E.New("unknown congestion control: ", name)
	}
	if config.Logger == nil && options.Logger != nil {
		config.Logger = options.Logger
	}
	sender, err := congestion_bbrplus.NewSender(congestion_bbrplus.DefaultClock{TimeFunc: ntp.TimeFuncFromContext(ctx)}, initialPacketSize, config)
	if err != nil {
		return nil, E.Cause(err, "create ", name, " sender")
	}
	return sender, nil
}

// SetCongestion attaches a BBRplus sender to connection and returns it, so
// callers may export its diagnostics.
func SetCongestion(ctx context.Context, connection Connection, name string, options Options) (*congestion_bbrplus.Sender, error) {
	sender, err := NewSender(ctx, name, congestion.ByteCount(connection.Config().InitialPacketSize), options)
	if err != nil {
		return nil, err
	}
	connection.SetCongestionControl(sender)
	if options.Logger != nil {
		options.Logger.DebugContext(ctx, "congestion control: ", name)
	}
	return sender, nil
}
