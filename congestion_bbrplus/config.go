package congestion_bbrplus

import (
	"math"
	"os"
	"time"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"

	"gopkg.in/yaml.v3"
)

// CyclePolicy selects how PROBE_BW moves through the pacing gain cycle.
type CyclePolicy string

const (
	// CyclePolicyDrainToTarget restarts a probing cycle every 2-8 min_rtt and
	// holds the 0.75x phase until in-flight data falls to the estimated BDP.
	CyclePolicyDrainToTarget CyclePolicy = "drain_to_target"
	// CyclePolicyFixedTime advances one phase per min_rtt, ending early only
	// when the phase's in-flight target is reached.
	CyclePolicyFixedTime CyclePolicy = "fixed_time"
)

func (p CyclePolicy) String() string {
	return string(p)
}

// Config contains BBRplus tunable parameters.
type Config struct {
	CyclePolicy CyclePolicy `yaml:"cycle_policy"`

	// Rounds covered by the max bandwidth filter.
	BandwidthWindowRounds uint32 `yaml:"bandwidth_window_rounds"`
	// The min_rtt filter window. PROBE_RTT is entered when it expires.
	MinRTTWindow time.Duration `yaml:"min_rtt_window"`
	// Minimum time spent at the minimum in-flight target in PROBE_RTT.
	ProbeRTTDuration time.Duration `yaml:"probe_rtt_duration"`

	// Congestion window floor in segments.
	CwndMinTarget uint32 `yaml:"cwnd_min_target"`
	// Global congestion window cap in segments.
	CwndClamp uint32 `yaml:"cwnd_clamp"`
	// Window used before any RTT sample exists.
	InitialCwnd uint32 `yaml:"initial_cwnd"`

	// STARTUP exits after FullBandwidthCount rounds without the estimate
	// growing by FullBandwidthThreshold (fixed point, 256 = 1.0).
	FullBandwidthThreshold Gain   `yaml:"full_bandwidth_threshold"`
	FullBandwidthCount     uint32 `yaml:"full_bandwidth_count"`

	LongTermEnabled bool `yaml:"long_term_enabled"`
	// Minimum rounds in a long-term sampling interval. Intervals longer
	// than four times this value are abandoned.
	LongTermMinRTTs uint32 `yaml:"long_term_min_rtts"`
	// Loss ratio (fixed point, 256 = 100%) above which an interval may be
	// considered policed.
	LongTermLossThreshold uint32 `yaml:"long_term_loss_threshold"`
	// Rounds the policed rate is used before sampling starts over.
	LongTermMaxRTTs uint32 `yaml:"long_term_max_rtts"`

	// Gain applied to the aggregation estimate. Zero disables it.
	ExtraAckedGain         Gain          `yaml:"extra_acked_gain"`
	ExtraAckedWindowRounds uint32        `yaml:"extra_acked_window_rounds"`
	ExtraAckedMax          time.Duration `yaml:"extra_acked_max"`

	// Pacing rate cap in bytes per second, zero for none.
	MaxPacingRate uint64 `yaml:"max_pacing_rate"`
	// Largest segmentation offload burst in bytes.
	GSOMaxSize uint32 `yaml:"gso_max_size"`
	// Upper bound of the advisory segmentation goal.
	TSOMaxSegments uint32 `yaml:"tso_max_segments"`

	// Seed for the gain cycle randomization. Zero seeds from the first
	// timestamp seen by Init.
	RandomSeed int64 `yaml:"random_seed"`

	Logger logger.Logger `yaml:"-"`
}

// DefaultConfig returns the default BBRplus configuration.
func DefaultConfig() Config {
	return Config{
		CyclePolicy:            CyclePolicyDrainToTarget,
		BandwidthWindowRounds:  BandwidthWindowRounds,
		MinRTTWindow:           MinRTTWindow,
		ProbeRTTDuration:       ProbeRTTDuration,
		CwndMinTarget:          CwndMinTarget,
		CwndClamp:              math.MaxUint32,
		InitialCwnd:            InitialCwnd,
		FullBandwidthThreshold: FullBandwidthThreshold,
		FullBandwidthCount:     FullBandwidthCount,
		LongTermEnabled:        true,
		LongTermMinRTTs:        LongTermMinRTTs,
		LongTermLossThreshold:  LongTermLossThreshold,
		LongTermMaxRTTs:        LongTermMaxRTTs,
		ExtraAckedGain:         GainUnit,
		ExtraAckedWindowRounds: ExtraAckedWindowRounds,
		ExtraAckedMax:          ExtraAckedMax,
		GSOMaxSize:             DefaultGSOMaxSize,
		TSOMaxSegments:         MaxTSOSegments,
	}
}

// Validate reports the first invalid parameter.
func (c *Config) Validate() error {
	switch c.CyclePolicy {
	case CyclePolicyDrainToTarget, CyclePolicyFixedTime:
	default:
		return E.New("unknown cycle policy: ", c.CyclePolicy)
	}
	if c.BandwidthWindowRounds < 2 || c.BandwidthWindowRounds > 255 {
		return E.New("bandwidth window must be between 2 and 255 rounds, got ", c.BandwidthWindowRounds)
	}
	if c.MinRTTWindow <= 0 {
		return E.New("min_rtt window must be positive")
	}
	if c.ProbeRTTDuration <= 0 || c.ProbeRTTDuration >= c.MinRTTWindow {
		return E.New("probe_rtt duration must be positive and shorter than the min_rtt window")
	}
	if c.CwndMinTarget == 0 {
		return E.New("minimum congestion window must be positive")
	}
	if c.CwndClamp < c.CwndMinTarget {
		return E.New("congestion window clamp ", c.CwndClamp, " is below the minimum target ", c.CwndMinTarget)
	}
	if c.InitialCwnd < c.CwndMinTarget {
		return E.New("initial congestion window ", c.InitialCwnd, " is below the minimum target ", c.CwndMinTarget)
	}
	if c.FullBandwidthThreshold <= GainUnit {
		return E.New("full bandwidth threshold must exceed 1.0")
	}
	if c.FullBandwidthCount == 0 {
		return E.New("full bandwidth count must be positive")
	}
	if c.LongTermEnabled {
		if c.LongTermMinRTTs == 0 || c.LongTermMaxRTTs == 0 {
			return E.New("long-term sampling rounds must be positive")
		}
		if c.LongTermLossThreshold == 0 || c.LongTermLossThreshold > uint32(GainUnit) {
			return E.New("long-term loss threshold must be in (0, 256]")
		}
	}
	if c.ExtraAckedGain > 0 && (c.ExtraAckedWindowRounds == 0 || c.ExtraAckedMax <= 0) {
		return E.New("ack aggregation window must be positive")
	}
	if c.GSOMaxSize <= gsoHeaderReserve+1 {
		return E.New("gso max size ", c.GSOMaxSize, " leaves no room for payload")
	}
	if c.TSOMaxSegments == 0 {
		return E.New("segmentation goal bound must be positive")
	}
	return nil
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(content []byte) (Config, error) {
	config := DefaultConfig()
	err := yaml.Unmarshal(content, &config)
	if err != nil {
		return Config{}, E.Cause(err, "decode bbrplus config")
	}
	err = config.Validate()
	if err != nil {
		return Config{}, err
	}
	return config, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, E.Cause(err, "read bbrplus config")
	}
	return ParseConfig(content)
}
