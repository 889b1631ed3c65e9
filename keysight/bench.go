package keysight

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ammarkh95/gopm/comm"
	"github.com/ammarkh95/gopm/usbtmc"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

// SweepTimeout is the transport timeout used for SMU sessions.  Array
// queries block for the whole sweep, which can run into the minutes.
const SweepTimeout = 120 * time.Second

// MeterConfig describes the multimeter side of a U3606.  Zero values
// take the instrument defaults (AUTO range, MIN resolution, DC).
type MeterConfig struct {
	Mode       MeterMode
	Range      Range
	Resolution Resolution
	Signal     Signal
}

// SupplySetup describes the DC output side of a U3606.
type SupplySetup struct {
	Mode  SourceMode
	Level float64
	Limit float64
	Range Range
}

// SupplyConfig is everything OpenSupply needs.  Meter and Supply are
// optional; a nil section leaves that side of the instrument alone.
type SupplyConfig struct {
	Serial      string
	Meter       *MeterConfig
	Supply      *SupplySetup
	Handshaking bool

	// CommandRateHz throttles outbound commands when positive; some
	// bench gear drops bytes past ~20 commands per second.
	CommandRateHz float64

	// Timeout overrides the transport read timeout.
	Timeout time.Duration
}

// Supply is an open, configured U3606 bench scope.  Close tears the
// instrument down to a quiet state in fixed order.
type Supply struct {
	*U3606
	sess   comm.Session
	closed bool
}

func verifyModel(id, model string) error {
	if !strings.Contains(id, model) {
		return errors.Errorf("instrument is not a %s: %q", model, id)
	}
	return nil
}

// NewSupply programs an already open session as a U3606 bench scope:
// identity check, preset and status clear, then the optional meter and
// supply sections.  Outputs are never enabled here; that is always an
// explicit caller action.  On error the session is closed and a
// ConfigError names the stage that failed.
func NewSupply(sess comm.Session, cfg SupplyConfig) (*Supply, error) {
	u := NewU3606(sess)
	u.Handshaking = cfg.Handshaking
	if cfg.CommandRateHz > 0 {
		u.Pace = rate.NewLimiter(rate.Limit(cfg.CommandRateHz), 1)
	}
	fail := func(stage string, err error) (*Supply, error) {
		sess.Close()
		return nil, &ConfigError{Stage: stage, Err: err}
	}
	id, err := u.Identification()
	if err != nil {
		return fail("identify", err)
	}
	if err := verifyModel(id, "U3606"); err != nil {
		return fail("identify", err)
	}
	if err := u.ClearPresets(); err != nil {
		return fail("reset", err)
	}
	if err := u.ClearStatus(); err != nil {
		return fail("reset", err)
	}
	if m := cfg.Meter; m != nil {
		if err := u.ConfigureMeter(m.Mode, m.Range, m.Resolution, m.Signal); err != nil {
			return fail("multimeter", err)
		}
	}
	if s := cfg.Supply; s != nil {
		if err := u.ConfigureSupply(s.Mode, s.Level, s.Limit, s.Range); err != nil {
			return fail("supply", err)
		}
	}
	return &Supply{U3606: u, sess: sess}, nil
}

// OpenSupply opens the U3606 with the given serial number over USBTMC
// and programs it per cfg.
func OpenSupply(cfg SupplyConfig) (*Supply, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = usbtmc.DefaultTimeout
	}
	sess, err := usbtmc.NewSession(cfg.Serial, timeout)
	if err != nil {
		return nil, &ConfigError{Stage: "open", Err: err}
	}
	return NewSupply(sess, cfg)
}

// Close quiets the instrument and releases the transport.  Steps run
// in fixed order and are best effort: acquisition off, output off,
// reset, close.  Failures are logged, collected and returned together,
// first failure first.  A second Close is a no-op.
func (s *Supply) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs error
	step := func(name string, err error) {
		if err == nil {
			return
		}
		log.Printf("u3606 teardown, %s: %v", name, err)
		errs = multierr.Append(errs, errors.Wrap(err, name))
	}
	step("abort", s.AbortMeasure())
	step("continuous off", s.DisableContinuous())
	step("output off", s.DisableOutput())
	step("preset clear", s.ClearPresets())
	step("status clear", s.ClearStatus())
	step("close", s.sess.Close())
	return errs
}

// ChannelConfig describes one SMU channel at open time.  Ranges are
// optional but must come as a pair; they are applied before the level.
type ChannelConfig struct {
	Mode         ChannelMode
	Level        float64
	VoltageRange VoltageRange
	CurrentRange CurrentRange
}

// SourceMeasureConfig is everything OpenSourceMeasure needs.  Channels
// maps channel number (1-3) to its setup; absent channels are left
// alone.
type SourceMeasureConfig struct {
	Serial        string
	Channels      map[int]ChannelConfig
	Handshaking   bool
	CommandRateHz float64
	Timeout       time.Duration
}

// SourceMeasure is an open, configured U2723 bench scope.
type SourceMeasure struct {
	*U2723
	sess   comm.Session
	closed bool
}

// NewSourceMeasure programs an already open session as a U2723 bench
// scope.  Channels are configured in ascending order.  Outputs are
// never enabled here.  On error the session is closed and a
// ConfigError names the stage that failed.
func NewSourceMeasure(sess comm.Session, cfg SourceMeasureConfig) (*SourceMeasure, error) {
	u := NewU2723(sess)
	u.Handshaking = cfg.Handshaking
	if cfg.CommandRateHz > 0 {
		u.Pace = rate.NewLimiter(rate.Limit(cfg.CommandRateHz), 1)
	}
	fail := func(stage string, err error) (*SourceMeasure, error) {
		sess.Close()
		return nil, &ConfigError{Stage: stage, Err: err}
	}
	id, err := u.Identification()
	if err != nil {
		return fail("identify", err)
	}
	if err := verifyModel(id, "U2723"); err != nil {
		return fail("identify", err)
	}
	if err := u.ClearPresets(); err != nil {
		return fail("reset", err)
	}
	if err := u.ClearStatus(); err != nil {
		return fail("reset", err)
	}
	for ch := 1; ch <= SMUChannels; ch++ {
		c, ok := cfg.Channels[ch]
		if !ok {
			continue
		}
		if err := u.ConfigureChannel(ch, c.Mode, c.Level, c.VoltageRange, c.CurrentRange); err != nil {
			return fail(fmt.Sprintf("channel %d", ch), err)
		}
	}
	return &SourceMeasure{U2723: u, sess: sess}, nil
}

// OpenSourceMeasure opens the U2723 with the given serial number over
// USBTMC and programs it per cfg.  The transport timeout defaults to
// SweepTimeout.
func OpenSourceMeasure(cfg SourceMeasureConfig) (*SourceMeasure, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = SweepTimeout
	}
	sess, err := usbtmc.NewSession(cfg.Serial, timeout)
	if err != nil {
		return nil, &ConfigError{Stage: "open", Err: err}
	}
	return NewSourceMeasure(sess, cfg)
}

// Close quiets all three channels and releases the transport: trigger
// systems aborted first, then outputs off, then reset and close.  Best
// effort; failures are logged, collected and returned together.  A
// second Close is a no-op.
func (s *SourceMeasure) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs error
	step := func(name string, err error) {
		if err == nil {
			return
		}
		log.Printf("u2723 teardown, %s: %v", name, err)
		errs = multierr.Append(errs, errors.Wrap(err, name))
	}
	for ch := 1; ch <= SMUChannels; ch++ {
		step(fmt.Sprintf("abort transient %d", ch), s.AbortTransient(ch))
	}
	for ch := 1; ch <= SMUChannels; ch++ {
		step(fmt.Sprintf("output off %d", ch), s.DisableChannel(ch))
	}
	step("preset clear", s.ClearPresets())
	step("status clear", s.ClearStatus())
	step("close", s.sess.Close())
	return errs
}
