package keysight

import (
	"fmt"

	"github.com/ammarkh95/gopm/comm"
	"github.com/ammarkh95/gopm/scpi"
)

// SMUChannels is the number of source/measure channels on the U2723.
const SMUChannels = 3

// Hard source limits of the U2723, symmetric around zero.
const (
	MaxSMUVoltage = 20   // V
	MaxSMUCurrent = 0.12 // A
)

// Sweep parameter bounds.
const (
	MaxSweepPoints     = 4096
	MaxSweepIntervalMS = 32767
)

// ChannelMode selects which quantity a channel sources; the other is
// the one it measures.
type ChannelMode string

const (
	// SourceVoltageMeasureCurrent - SVMI operation
	SourceVoltageMeasureCurrent ChannelMode = "SVMI"

	// SourceCurrentMeasureVoltage - SIMV operation
	SourceCurrentMeasureVoltage ChannelMode = "SIMV"
)

// VoltageRange is a U2723 source voltage range mnemonic.
type VoltageRange string

const (
	Range2V  VoltageRange = "R2V"
	Range20V VoltageRange = "R20V"
)

// CurrentRange is a U2723 source current range mnemonic.
type CurrentRange string

const (
	Range1uA   CurrentRange = "R1uA"
	Range10uA  CurrentRange = "R10uA"
	Range100uA CurrentRange = "R100uA"
	Range1mA   CurrentRange = "R1mA"
	Range10mA  CurrentRange = "R10mA"
	Range120mA CurrentRange = "R120mA"
)

// smuChannel is the modeled state of one channel.
type smuChannel struct {
	output     bool
	mode       ChannelMode
	acq        AcquisitionState
	sweepPts   int
	sweepIntMS int
}

// U2723 is a Keysight U2723 three channel source measure unit.
//
// Channel numbers are 1 through 3 everywhere.  The struct tracks
// per-channel output, sweep and acquisition state so illegal requests
// fail before touching the wire.  Not safe for concurrent use.
type U2723 struct {
	instrument

	ch [SMUChannels]smuChannel
}

// NewU2723 wraps an open session in a U2723 driver.
func NewU2723(sess comm.Session) *U2723 {
	return &U2723{instrument: instrument{scpi.SCPI{Session: sess}}}
}

func validChannel(op string, ch int) error {
	if ch < 1 || ch > SMUChannels {
		return RangeError{Op: op, Value: float64(ch), Min: 1, Max: SMUChannels}
	}
	return nil
}

// chState returns the model slot for a validated channel number.
func (u *U2723) chState(ch int) *smuChannel {
	return &u.ch[ch-1]
}

// ConfigureChannel programs one channel for SVMI or SIMV operation.
// Ranges are optional but must be given together; they are applied
// before the source level so the level lands in the right range.
// Configuring a channel whose output is enabled is an invalid-state
// error; enabling afterwards is a separate, explicit call.
func (u *U2723) ConfigureChannel(ch int, mode ChannelMode, level float64, vr VoltageRange, cr CurrentRange) error {
	if err := validChannel("configure channel", ch); err != nil {
		return err
	}
	if u.chState(ch).output {
		return StateError{Op: "configure channel", Reason: "channel output is enabled; disable it before changing mode"}
	}
	switch mode {
	case SourceVoltageMeasureCurrent, SourceCurrentMeasureVoltage:
	default:
		return StateError{Op: "configure channel", Reason: fmt.Sprintf("unknown channel mode %q", mode)}
	}
	if (vr == "") != (cr == "") {
		return StateError{Op: "configure channel", Reason: "voltage and current ranges must be given together"}
	}
	if vr != "" {
		if err := u.SetVoltageRange(ch, vr); err != nil {
			return err
		}
		if err := u.SetCurrentRange(ch, cr); err != nil {
			return err
		}
	}
	var err error
	if mode == SourceVoltageMeasureCurrent {
		err = u.SetChannelVoltage(ch, level)
	} else {
		err = u.SetChannelCurrent(ch, level)
	}
	if err == nil {
		u.chState(ch).mode = mode
	}
	return err
}

// SetChannelVoltage sets the source voltage level on a channel.
func (u *U2723) SetChannelVoltage(ch int, volts float64) error {
	if err := validChannel("set channel voltage", ch); err != nil {
		return err
	}
	if volts < -MaxSMUVoltage || volts > MaxSMUVoltage {
		return RangeError{Op: "set channel voltage", Value: volts, Min: -MaxSMUVoltage, Max: MaxSMUVoltage}
	}
	return u.Write(fmt.Sprintf("SOUR:VOLT:LEV:IMM:AMPL %s, (@%d)", ftoa(volts), ch))
}

// SetChannelCurrent sets the source current level on a channel.
func (u *U2723) SetChannelCurrent(ch int, amps float64) error {
	if err := validChannel("set channel current", ch); err != nil {
		return err
	}
	if amps < -MaxSMUCurrent || amps > MaxSMUCurrent {
		return RangeError{Op: "set channel current", Value: amps, Min: -MaxSMUCurrent, Max: MaxSMUCurrent}
	}
	return u.Write(fmt.Sprintf("SOUR:CURR:LEV:IMM:AMPL %s, (@%d)", ftoa(amps), ch))
}

// SetVoltageLimit bounds the channel voltage while sourcing current.
func (u *U2723) SetVoltageLimit(ch int, volts float64) error {
	if err := validChannel("set voltage limit", ch); err != nil {
		return err
	}
	return u.Write(fmt.Sprintf("SOUR:VOLT:LIM %s, (@%d)", ftoa(volts), ch))
}

// SetCurrentLimit bounds the channel current while sourcing voltage.
func (u *U2723) SetCurrentLimit(ch int, amps float64) error {
	if err := validChannel("set current limit", ch); err != nil {
		return err
	}
	return u.Write(fmt.Sprintf("SOUR:CURR:LIM %s, (@%d)", ftoa(amps), ch))
}

// SetVoltageRange selects the channel source voltage range.
func (u *U2723) SetVoltageRange(ch int, rng VoltageRange) error {
	if err := validChannel("set voltage range", ch); err != nil {
		return err
	}
	switch rng {
	case Range2V, Range20V:
	default:
		return StateError{Op: "set voltage range", Reason: fmt.Sprintf("unknown voltage range %q", rng)}
	}
	return u.Write(fmt.Sprintf("SOUR:VOLT:RANG %s, (@%d)", rng, ch))
}

// SetCurrentRange selects the channel source current range.
func (u *U2723) SetCurrentRange(ch int, rng CurrentRange) error {
	if err := validChannel("set current range", ch); err != nil {
		return err
	}
	switch rng {
	case Range1uA, Range10uA, Range100uA, Range1mA, Range10mA, Range120mA:
	default:
		return StateError{Op: "set current range", Reason: fmt.Sprintf("unknown current range %q", rng)}
	}
	return u.Write(fmt.Sprintf("SOUR:CURR:RANG %s, (@%d)", rng, ch))
}

// SetTriggerVoltage stores the voltage level taken on a trigger.
func (u *U2723) SetTriggerVoltage(ch int, volts float64) error {
	if err := validChannel("set trigger voltage", ch); err != nil {
		return err
	}
	if volts < -MaxSMUVoltage || volts > MaxSMUVoltage {
		return RangeError{Op: "set trigger voltage", Value: volts, Min: -MaxSMUVoltage, Max: MaxSMUVoltage}
	}
	return u.Write(fmt.Sprintf("SOUR:VOLT:TRIG %s, (@%d)", ftoa(volts), ch))
}

// SetTriggerCurrent stores the current level taken on a trigger.
func (u *U2723) SetTriggerCurrent(ch int, amps float64) error {
	if err := validChannel("set trigger current", ch); err != nil {
		return err
	}
	if amps < -MaxSMUCurrent || amps > MaxSMUCurrent {
		return RangeError{Op: "set trigger current", Value: amps, Min: -MaxSMUCurrent, Max: MaxSMUCurrent}
	}
	return u.Write(fmt.Sprintf("SOUR:CURR:TRIG %s, (@%d)", ftoa(amps), ch))
}

// EnableChannel turns a channel output on.
func (u *U2723) EnableChannel(ch int) error {
	if err := validChannel("enable channel", ch); err != nil {
		return err
	}
	err := u.Write(fmt.Sprintf("OUTP 1, (@%d)", ch))
	if err == nil {
		u.chState(ch).output = true
	}
	return err
}

// DisableChannel turns a channel output off.
func (u *U2723) DisableChannel(ch int) error {
	if err := validChannel("disable channel", ch); err != nil {
		return err
	}
	err := u.Write(fmt.Sprintf("OUTP 0, (@%d)", ch))
	if err == nil {
		u.chState(ch).output = false
	}
	return err
}

// ChannelEnabled queries the live output state of a channel.
func (u *U2723) ChannelEnabled(ch int) (bool, error) {
	if err := validChannel("channel enabled", ch); err != nil {
		return false, err
	}
	on, err := u.ReadBool(fmt.Sprintf("OUTP? (@%d)", ch))
	if err == nil {
		u.chState(ch).output = on
	}
	return on, err
}

// MeasureVoltage takes a scalar voltage reading.  Legal in any state.
func (u *U2723) MeasureVoltage(ch int) (float64, error) {
	if err := validChannel("measure voltage", ch); err != nil {
		return 0, err
	}
	return u.ReadFloat(fmt.Sprintf("MEAS:SCAL:VOLT? (@%d)", ch))
}

// MeasureCurrent takes a scalar current reading.  Legal in any state.
func (u *U2723) MeasureCurrent(ch int) (float64, error) {
	if err := validChannel("measure current", ch); err != nil {
		return 0, err
	}
	return u.ReadFloat(fmt.Sprintf("MEAS:SCAL:CURR? (@%d)", ch))
}

// VoltageAperture returns the voltage measurement aperture in seconds.
func (u *U2723) VoltageAperture(ch int) (float64, error) {
	if err := validChannel("voltage aperture", ch); err != nil {
		return 0, err
	}
	return u.ReadFloat(fmt.Sprintf("SENS:VOLT:APER? (@%d)", ch))
}

// CurrentAperture returns the current measurement aperture in seconds.
func (u *U2723) CurrentAperture(ch int) (float64, error) {
	if err := validChannel("current aperture", ch); err != nil {
		return 0, err
	}
	return u.ReadFloat(fmt.Sprintf("SENS:CURR:APER? (@%d)", ch))
}

// ConfigureSweep arms a timed sweep on a channel: points readings taken
// intervalMS apart.  Both parameters must be positive; the channel is
// SweepArmed afterwards and array measurements become legal.
func (u *U2723) ConfigureSweep(ch, points, intervalMS int) error {
	if err := validChannel("configure sweep", ch); err != nil {
		return err
	}
	if points <= 0 || intervalMS <= 0 {
		return StateError{Op: "configure sweep", Reason: "sweep points and interval must both be positive"}
	}
	if points > MaxSweepPoints {
		return RangeError{Op: "configure sweep", Value: float64(points), Min: 1, Max: MaxSweepPoints}
	}
	if intervalMS > MaxSweepIntervalMS {
		return RangeError{Op: "configure sweep", Value: float64(intervalMS), Min: 1, Max: MaxSweepIntervalMS}
	}
	if err := u.Write(fmt.Sprintf("SENS:SWE:POIN %d, (@%d)", points, ch)); err != nil {
		return err
	}
	if err := u.Write(fmt.Sprintf("SENS:SWE:TINT %d, (@%d)", intervalMS, ch)); err != nil {
		return err
	}
	c := u.chState(ch)
	c.sweepPts = points
	c.sweepIntMS = intervalMS
	c.acq = SweepArmed
	return nil
}

// SweepSetup returns the armed sweep parameters from the model; zeros
// mean the channel has no sweep armed.
func (u *U2723) SweepSetup(ch int) (points, intervalMS int) {
	if ch < 1 || ch > SMUChannels {
		return 0, 0
	}
	c := u.chState(ch)
	return c.sweepPts, c.sweepIntMS
}

// requireSweepArmed rejects array measurements on unarmed channels
// before anything hits the wire.
func (u *U2723) requireSweepArmed(op string, ch int) error {
	if err := validChannel(op, ch); err != nil {
		return err
	}
	if u.chState(ch).acq != SweepArmed {
		return StateError{Op: op, Reason: "no sweep armed on this channel"}
	}
	return nil
}

func (u *U2723) measureArray(op, cmd string, ch int) ([]float64, error) {
	if err := u.requireSweepArmed(op, ch); err != nil {
		return nil, err
	}
	fs, err := u.ReadFloats(fmt.Sprintf(cmd, ch))
	if err != nil {
		return nil, err
	}
	if want := u.chState(ch).sweepPts; len(fs) != want {
		return nil, comm.Wrap(op, fmt.Errorf("expected %d readings, got %d", want, len(fs)))
	}
	return fs, nil
}

// MeasureVoltageArray runs the armed sweep and returns one voltage
// reading per point.  The query itself initiates and triggers the
// sweep, so the call blocks for points x interval; the channel stays
// SweepArmed because the parameters persist on the instrument.
func (u *U2723) MeasureVoltageArray(ch int) ([]float64, error) {
	return u.measureArray("measure voltage array", "MEAS:ARR:VOLT? (@%d)", ch)
}

// MeasureCurrentArray runs the armed sweep and returns one current
// reading per point.
func (u *U2723) MeasureCurrentArray(ch int) ([]float64, error) {
	return u.measureArray("measure current array", "MEAS:ARR:CURR? (@%d)", ch)
}

// InitiateTransient arms the channel transient trigger system.
func (u *U2723) InitiateTransient(ch int) error {
	if err := validChannel("initiate transient", ch); err != nil {
		return err
	}
	err := u.Write(fmt.Sprintf("INIT:TRAN (@%d)", ch))
	if err == nil {
		u.chState(ch).acq = TriggeredArmed
	}
	return err
}

// AbortTransient cancels the channel trigger system and drops the
// channel back to Idle.  Armed sweep parameters are discarded from the
// model as well; re-arm with ConfigureSweep before the next array.
func (u *U2723) AbortTransient(ch int) error {
	if err := validChannel("abort transient", ch); err != nil {
		return err
	}
	err := u.Write(fmt.Sprintf("ABOR:TRAN (@%d)", ch))
	if err == nil {
		c := u.chState(ch)
		c.acq = Idle
		c.sweepPts = 0
		c.sweepIntMS = 0
	}
	return err
}

// OperationCondition reads the Operation Status condition register.
func (u *U2723) OperationCondition() (int, error) {
	return u.ReadInt("STAT:OPER:COND?")
}

// TransientRunning reports whether the channel transient system is
// executing, from the DTG bits of the condition register.
func (u *U2723) TransientRunning(ch int) (bool, error) {
	if err := validChannel("transient running", ch); err != nil {
		return false, err
	}
	cond, err := u.OperationCondition()
	if err != nil {
		return false, err
	}
	return cond&(4<<uint(ch-1)) != 0, nil
}

// TransientWaiting reports whether the channel transient system is
// waiting for a trigger, from the WTG bits of the condition register.
func (u *U2723) TransientWaiting(ch int) (bool, error) {
	if err := validChannel("transient waiting", ch); err != nil {
		return false, err
	}
	cond, err := u.OperationCondition()
	if err != nil {
		return false, err
	}
	return cond&(32<<uint(ch-1)) != 0, nil
}
