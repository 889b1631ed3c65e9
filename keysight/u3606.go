package keysight

import (
	"fmt"

	"github.com/ammarkh95/gopm/comm"
	"github.com/ammarkh95/gopm/scpi"
)

// Hard output limits of the U3606 supply.
const (
	MaxSupplyVoltage = 30   // V
	MaxSupplyCurrent = 1.05 // A
)

// SourceMode selects which quantity the DC supply regulates.
type SourceMode string

const (
	// SourceVoltage - constant voltage output
	SourceVoltage SourceMode = "VOLT"

	// SourceCurrent - constant current output
	SourceCurrent SourceMode = "CURR"
)

// MeterMode selects the quantity the multimeter measures.
type MeterMode string

const (
	MeterVoltage    MeterMode = "VOLT"
	MeterCurrent    MeterMode = "CURR"
	MeterResistance MeterMode = "RES"
)

// Signal selects the measured signal component.
type Signal string

const (
	SignalAC Signal = "AC"
	SignalDC Signal = "DC"
)

// Range is a range mnemonic for source and measure settings.  RangeDefault
// only applies to the supply current range (1 A on this unit).
type Range string

const (
	RangeAuto    Range = "AUTO"
	RangeMax     Range = "MAX"
	RangeMin     Range = "MIN"
	RangeDefault Range = "DEF"
)

// Resolution is the measurement resolution; MIN is 5.5 digits on this
// unit and the power-on default.
type Resolution string

const (
	ResolutionMax Resolution = "MAX"
	ResolutionMin Resolution = "MIN"
)

// Calculation names the multimeter post-processing functions.
type Calculation string

const (
	CalcAverage Calculation = "AVER"
	CalcDB      Calculation = "DB"
	CalcDBM     Calculation = "DBM"
	CalcHold    Calculation = "HOLD"
	CalcLimit   Calculation = "LIM"
	CalcNull    Calculation = "NULL"
)

// Questionable Data register bits, by their documented decimal weights.
const (
	QuesVoltageOverload    = 1
	QuesCurrentOverload    = 2
	QuesOutputOverVoltage  = 4
	QuesOutputOverCurrent  = 8
	QuesResistanceOverload = 512
	QuesLowerLimitFailed   = 2048
	QuesUpperLimitFailed   = 4096
)

// U3606 is a Keysight U3606 DC power supply and multimeter.
//
// The struct tracks the output, meter and acquisition state so illegal
// requests fail before touching the wire.  Not safe for concurrent use.
type U3606 struct {
	instrument

	output     bool
	supplyMode SourceMode
	meterMode  MeterMode
	acq        AcquisitionState
}

// NewU3606 wraps an open session in a U3606 driver.  The model starts
// from the power-on defaults: output off, acquisition idle.
func NewU3606(sess comm.Session) *U3606 {
	return &U3606{instrument: instrument{scpi.SCPI{Session: sess}}}
}

// ConfigureSupply programs the DC output for constant voltage or
// constant current operation.  Changing mode while the output is
// enabled is an invalid-state error; disable it first.  limit bounds
// the complementary quantity (current in CV mode, voltage in CC mode)
// and defaults to 1 A / 30 V when zero.  rng defaults to AUTO.
func (u *U3606) ConfigureSupply(mode SourceMode, level, limit float64, rng Range) error {
	if u.output {
		return StateError{Op: "configure supply", Reason: "output is enabled; disable it before changing mode"}
	}
	if rng == "" {
		rng = RangeAuto
	}
	switch mode {
	case SourceVoltage:
		if limit == 0 {
			limit = 1
		}
		if err := u.DisableOutput(); err != nil {
			return err
		}
		if err := u.SetOutputVoltage(level); err != nil {
			return err
		}
		if err := u.SetCurrentLimit(limit); err != nil {
			return err
		}
		if err := u.Write(fmt.Sprintf("SOUR:VOLT:RANG %s", rng)); err != nil {
			return err
		}
	case SourceCurrent:
		if limit == 0 {
			limit = 30
		}
		if err := u.DisableOutput(); err != nil {
			return err
		}
		if err := u.SetOutputCurrent(level); err != nil {
			return err
		}
		if err := u.SetVoltageLimit(limit); err != nil {
			return err
		}
		if err := u.Write(fmt.Sprintf("SOUR:CURR:RANG %s", rng)); err != nil {
			return err
		}
	default:
		return StateError{Op: "configure supply", Reason: fmt.Sprintf("unknown source mode %q", mode)}
	}
	u.supplyMode = mode
	return nil
}

// SetOutputVoltage sets the constant voltage level.
func (u *U3606) SetOutputVoltage(volts float64) error {
	if volts < 0 || volts > MaxSupplyVoltage {
		return RangeError{Op: "set output voltage", Value: volts, Min: 0, Max: MaxSupplyVoltage}
	}
	return u.Write(fmt.Sprintf("SOUR:VOLT:LEV:IMM:AMPL %s", ftoa(volts)))
}

// SetOutputCurrent sets the constant current level.
func (u *U3606) SetOutputCurrent(amps float64) error {
	if amps < 0 || amps > MaxSupplyCurrent {
		return RangeError{Op: "set output current", Value: amps, Min: 0, Max: MaxSupplyCurrent}
	}
	return u.Write(fmt.Sprintf("SOUR:CURR:LEV:IMM:AMPL %s", ftoa(amps)))
}

// SetCurrentLimit bounds the output current in constant voltage mode.
func (u *U3606) SetCurrentLimit(amps float64) error {
	return u.Write(fmt.Sprintf("SOUR:CURR:LIM %s", ftoa(amps)))
}

// SetVoltageLimit bounds the output voltage in constant current mode.
func (u *U3606) SetVoltageLimit(volts float64) error {
	return u.Write(fmt.Sprintf("SOUR:VOLT:LIM %s", ftoa(volts)))
}

// SetProtectionVoltage programs the over-voltage protection trip point.
// Exceeding it disables the output.
func (u *U3606) SetProtectionVoltage(volts float64) error {
	return u.Write(fmt.Sprintf("VOLT:PROT %s V", ftoa(volts)))
}

// SetProtectionCurrent programs the over-current protection trip point.
func (u *U3606) SetProtectionCurrent(amps float64) error {
	return u.Write(fmt.Sprintf("CURR:PROT %s A", ftoa(amps)))
}

// SetSoftStartSteps sets the soft start step count for the output.
func (u *U3606) SetSoftStartSteps(n int) error {
	return u.Write(fmt.Sprintf("SST:STEP %d", n))
}

// EnableOutput turns the supply output on.
func (u *U3606) EnableOutput() error {
	err := u.Write("OUTP:STAT ON")
	if err == nil {
		u.output = true
	}
	return err
}

// DisableOutput puts the supply output on standby.
func (u *U3606) DisableOutput() error {
	err := u.Write("OUTP:STAT OFF")
	if err == nil {
		u.output = false
	}
	return err
}

// OutputEnabled queries the instrument for the live output state.
func (u *U3606) OutputEnabled() (bool, error) {
	on, err := u.ReadBool("OUTP?")
	if err == nil {
		u.output = on
	}
	return on, err
}

// OutputVoltage returns the programmed constant voltage level.
func (u *U3606) OutputVoltage() (float64, error) {
	return u.ReadFloat("VOLT?")
}

// OutputCurrent returns the programmed constant current level.
func (u *U3606) OutputCurrent() (float64, error) {
	return u.ReadFloat("CURR?")
}

// VoltageLimit returns the over-voltage limit for CC operation.
func (u *U3606) VoltageLimit() (float64, error) {
	return u.ReadFloat("VOLT:LIM?")
}

// CurrentLimit returns the over-current limit for CV operation.
func (u *U3606) CurrentLimit() (float64, error) {
	return u.ReadFloat("CURR:LIM?")
}

// SenseVoltage returns the voltage sensed at the output terminals.
func (u *U3606) SenseVoltage() (float64, error) {
	return u.ReadFloat("SENS:VOLT?")
}

// SenseCurrent returns the current sensed at the output terminals.
func (u *U3606) SenseCurrent() (float64, error) {
	return u.ReadFloat("SENS:CURR?")
}

func validMeterArgs(op string, mode MeterMode, rng Range, res Resolution, sig Signal) (Range, Resolution, Signal, error) {
	switch mode {
	case MeterVoltage, MeterCurrent, MeterResistance:
	default:
		return rng, res, sig, StateError{Op: op, Reason: fmt.Sprintf("unknown meter mode %q", mode)}
	}
	if rng == "" {
		rng = RangeAuto
	}
	if res == "" {
		res = ResolutionMin
	}
	if sig == "" {
		sig = SignalDC
	}
	return rng, res, sig, nil
}

// ConfigureMeter sets up the multimeter side: measured quantity, range,
// resolution and, for voltage or current, the AC or DC component.
// Resistance measurements have no signal component.  Reconfiguring
// while continuous acquisition runs is an invalid-state error.
func (u *U3606) ConfigureMeter(mode MeterMode, rng Range, res Resolution, sig Signal) error {
	if u.acq == ContinuousRunning {
		return StateError{Op: "configure multimeter", Reason: "continuous acquisition is running; disable it first"}
	}
	rng, res, sig, err := validMeterArgs("configure multimeter", mode, rng, res, sig)
	if err != nil {
		return err
	}
	if mode == MeterResistance {
		err = u.Write(fmt.Sprintf("CONF:%s %s, %s", mode, rng, res))
	} else {
		err = u.Write(fmt.Sprintf("CONF:%s:%s %s, %s", mode, sig, rng, res))
	}
	if err == nil {
		u.meterMode = mode
	}
	return err
}

// MeterConfiguration returns the active measurement configuration, e.g.
// `"VOLT +1.000000E+01,+1.000000E-05"`.
func (u *U3606) MeterConfiguration() (string, error) {
	return u.ReadString("CONF?")
}

// Measure configures and triggers a one-shot measurement.  It counts
// as a meter reconfiguration, so it is rejected while continuous
// acquisition runs.
func (u *U3606) Measure(mode MeterMode, rng Range, res Resolution, sig Signal) (float64, error) {
	if u.acq == ContinuousRunning {
		return 0, StateError{Op: "measure", Reason: "continuous acquisition is running; disable it first"}
	}
	rng, res, sig, err := validMeterArgs("measure", mode, rng, res, sig)
	if err != nil {
		return 0, err
	}
	var f float64
	if mode == MeterResistance {
		f, err = u.ReadFloat(fmt.Sprintf("MEAS:%s? %s, %s", mode, rng, res))
	} else {
		f, err = u.ReadFloat(fmt.Sprintf("MEAS:%s:%s? %s, %s", mode, sig, rng, res))
	}
	if err == nil {
		u.meterMode = mode
		u.acq = Idle
	}
	return f, err
}

// Read triggers a measurement with the active configuration and returns
// the reading.  The instrument drops out of continuous mode as a side
// effect, so the model lands in Idle.
func (u *U3606) Read() (float64, error) {
	f, err := u.ReadFloat("READ?")
	if err == nil {
		u.acq = Idle
	}
	return f, err
}

// Fetch transfers the latest reading from instrument memory without
// triggering.  Only legal while continuous acquisition is running;
// otherwise there is nothing to fetch and the call is rejected before
// any traffic is sent.
func (u *U3606) Fetch() (float64, error) {
	if u.acq != ContinuousRunning {
		return 0, StateError{Op: "fetch", Reason: "continuous acquisition is not running"}
	}
	return u.ReadFloat("FETC?")
}

// AbortMeasure cancels a measurement in progress.
func (u *U3606) AbortMeasure() error {
	err := u.Write("ABOR")
	if err == nil {
		u.acq = Idle
	}
	return err
}

// EnableContinuous puts the meter in free-run acquisition; readings can
// then be pulled with Fetch without triggering.
func (u *U3606) EnableContinuous() error {
	err := u.Write("INIT:CONT ON")
	if err == nil {
		u.acq = ContinuousRunning
	}
	return err
}

// DisableContinuous stops free-run acquisition.
func (u *U3606) DisableContinuous() error {
	err := u.Write("INIT:CONT OFF")
	if err == nil {
		u.acq = Idle
	}
	return err
}

// ContinuousEnabled queries the live continuous-mode state and brings
// the model back in line with it.
func (u *U3606) ContinuousEnabled() (bool, error) {
	on, err := u.ReadBool("INIT:CONT?")
	if err == nil {
		if on {
			u.acq = ContinuousRunning
		} else {
			u.acq = Idle
		}
	}
	return on, err
}

// ConfigureRamp programs the ramp function: the output walks to level in
// steps.  The output is disabled first.
func (u *U3606) ConfigureRamp(mode SourceMode, level float64, steps int) error {
	if err := u.DisableOutput(); err != nil {
		return err
	}
	switch mode {
	case SourceVoltage:
		if err := u.Write(fmt.Sprintf("VOLT:RAMP %s", ftoa(level))); err != nil {
			return err
		}
		return u.Write(fmt.Sprintf("VOLT:RAMP:STEP %d", steps))
	case SourceCurrent:
		if err := u.Write(fmt.Sprintf("CURR:RAMP %s", ftoa(level))); err != nil {
			return err
		}
		return u.Write(fmt.Sprintf("CURR:RAMP:STEP %d", steps))
	default:
		return StateError{Op: "configure ramp", Reason: fmt.Sprintf("unknown source mode %q", mode)}
	}
}

// ConfigureScan programs the scan function: steps to level, dwelling
// dwellSec at each step.  The output is disabled first.
func (u *U3606) ConfigureScan(mode SourceMode, level float64, steps int, dwellSec float64) error {
	if err := u.DisableOutput(); err != nil {
		return err
	}
	switch mode {
	case SourceVoltage:
		if err := u.Write(fmt.Sprintf("VOLT:SCAN %s", ftoa(level))); err != nil {
			return err
		}
		if err := u.Write(fmt.Sprintf("VOLT:SCAN:STEP %d", steps)); err != nil {
			return err
		}
		return u.Write(fmt.Sprintf("VOLT:SCAN:DWEL %s", ftoa(dwellSec)))
	case SourceCurrent:
		if err := u.Write(fmt.Sprintf("CURR:SCAN %s", ftoa(level))); err != nil {
			return err
		}
		if err := u.Write(fmt.Sprintf("CURR:SCAN:STEP %d", steps)); err != nil {
			return err
		}
		return u.Write(fmt.Sprintf("CURR:SCAN:DWEL %s", ftoa(dwellSec)))
	default:
		return StateError{Op: "configure scan", Reason: fmt.Sprintf("unknown source mode %q", mode)}
	}
}

// ConfigureSquare programs the square wave output: amplitude in volts,
// frequency from the supported discrete set, duty cycle in percent and
// pulse width in seconds.  The output is disabled first.
func (u *U3606) ConfigureSquare(amplitude float64, freqHz int, dutyPct, widthSec float64) error {
	if err := u.DisableOutput(); err != nil {
		return err
	}
	if err := u.Write(fmt.Sprintf("SQU:AMPL %s", ftoa(amplitude))); err != nil {
		return err
	}
	if err := u.Write(fmt.Sprintf("SQU:FREQ %d", freqHz)); err != nil {
		return err
	}
	if err := u.Write(fmt.Sprintf("SQU:DCYC %s", ftoa(dutyPct))); err != nil {
		return err
	}
	return u.Write(fmt.Sprintf("SQU:PWID %s", ftoa(widthSec)))
}

// SetCalculation selects the post-processing function.  Changing the
// function turns the calculation subsystem off.
func (u *U3606) SetCalculation(c Calculation) error {
	switch c {
	case CalcAverage, CalcDB, CalcDBM, CalcHold, CalcLimit, CalcNull:
	default:
		return StateError{Op: "set calculation", Reason: fmt.Sprintf("unknown calculation %q", c)}
	}
	return u.Write(fmt.Sprintf("CALC:FUNC %s", c))
}

// ActiveCalculation returns the selected post-processing function.
func (u *U3606) ActiveCalculation() (string, error) {
	return u.ReadString("CALC:FUNC?")
}

// EnableCalc turns the calculation subsystem on.
func (u *U3606) EnableCalc() error {
	return u.Write("CALC ON")
}

// DisableCalc turns the calculation subsystem off.
func (u *U3606) DisableCalc() error {
	return u.Write("CALC OFF")
}

// CalcEnabled reports whether the calculation subsystem is on.
func (u *U3606) CalcEnabled() (bool, error) {
	return u.ReadBool("CALC?")
}

// AverageReading returns the running mean since averaging was enabled.
func (u *U3606) AverageReading() (float64, error) {
	return u.ReadFloat("CALC:AVER:AVER?")
}

// MaxReading returns the highest reading since averaging was enabled.
func (u *U3606) MaxReading() (float64, error) {
	return u.ReadFloat("CALC:AVER:MAX?")
}

// MinReading returns the lowest reading since averaging was enabled.
func (u *U3606) MinReading() (float64, error) {
	return u.ReadFloat("CALC:AVER:MIN?")
}

// PresentReading returns the most recent reading while averaging.
func (u *U3606) PresentReading() (float64, error) {
	return u.ReadFloat("CALC:AVER:PRES?")
}

// SetDBReference stores the dB function reference value.
func (u *U3606) SetDBReference(ref float64) error {
	return u.Write(fmt.Sprintf("CALC:DB:REF %s", ftoa(ref)))
}

// SetDBMReference selects the dBm reference resistance in ohms.
func (u *U3606) SetDBMReference(ohms int) error {
	return u.Write(fmt.Sprintf("CALC:DBM:REF %d", ohms))
}

// SetHoldVariation sets the hold function variation in percent; zero
// selects data hold, anything else refresh hold.
func (u *U3606) SetHoldVariation(pct float64) error {
	return u.Write(fmt.Sprintf("CALC:HOLD:VAR %s", ftoa(pct)))
}

// SetHoldThreshold sets the hold function threshold in percent.
func (u *U3606) SetHoldThreshold(pct float64) error {
	return u.Write(fmt.Sprintf("CALC:HOLD:THR %s", ftoa(pct)))
}

// SetCalcLimits sets the upper and lower bounds for limit testing.
func (u *U3606) SetCalcLimits(upper, lower float64) error {
	if err := u.Write(fmt.Sprintf("CALC:LIM:UPP %s", ftoa(upper))); err != nil {
		return err
	}
	return u.Write(fmt.Sprintf("CALC:LIM:LOW %s", ftoa(lower)))
}

// SetNullOffset stores the offset used by the null function.
func (u *U3606) SetNullOffset(offset float64) error {
	return u.Write(fmt.Sprintf("CALC:NULL:OFFS %s", ftoa(offset)))
}

// StartLogging begins recording readings to instrument memory.  New
// data appends to whatever is already stored.
func (u *U3606) StartLogging() error {
	return u.Write("LOG ON")
}

// StopLogging halts recording.
func (u *U3606) StopLogging() error {
	return u.Write("LOG OFF")
}

// LoggingEnabled reports whether a logging run is active.
func (u *U3606) LoggingEnabled() (bool, error) {
	return u.ReadBool("LOG?")
}

// DeleteLoggedData erases all stored logging data.
func (u *U3606) DeleteLoggedData() error {
	return u.Write("LOG:DATA:DEL")
}

// RewindLogIndex resets the log read cursor to the start.
func (u *U3606) RewindLogIndex() error {
	return u.Write("LOG:LOAD DATA")
}

// ReadLoggedDatum returns the next stored reading.  end is true when
// the instrument answers END, meaning the log has been fully drained.
func (u *U3606) ReadLoggedDatum() (value float64, end bool, err error) {
	resp, err := u.ReadString("LOG:DATA?")
	if err != nil {
		return 0, false, err
	}
	if resp == "END" {
		return 0, true, nil
	}
	f, perr := parseFloat(resp)
	if perr != nil {
		return 0, false, comm.Wrap("LOG:DATA?", perr)
	}
	return f, false, nil
}

// EnableQuestionable sets bits in the Questionable Data enable register;
// mask is a sum of the Ques* weights.
func (u *U3606) EnableQuestionable(mask int) error {
	return u.Write(fmt.Sprintf("STAT:QUES:ENAB %d", mask))
}

// QuestionableEnabled reads back the enable register.
func (u *U3606) QuestionableEnabled() (int, error) {
	return u.ReadInt("STAT:QUES:ENAB?")
}

// QuestionableEvent reads and clears the event register.
func (u *U3606) QuestionableEvent() (int, error) {
	return u.ReadInt("STAT:QUES?")
}

// QuestionableCondition reads the live condition register.
func (u *U3606) QuestionableCondition() (int, error) {
	return u.ReadInt("STAT:QUES:COND?")
}
