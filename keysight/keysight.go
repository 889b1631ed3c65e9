// Package keysight provides control of their bench power and measure
// instruments in Go.
//
// Two instruments are supported: the U3606 combined DC supply and
// multimeter, and the U2723 three channel source-measure unit.  Both
// drivers sit on a comm.Session (USBTMC hardware, or the simulators in
// this package) and track an in-memory model of the instrument state so
// illegal requests are rejected before anything reaches the wire.
//
// Handles are not safe for concurrent use; one caller drives one
// instrument at a time.
package keysight

import (
	"errors"
	"strconv"
	"strings"

	"github.com/ammarkh95/gopm/comm"
	"github.com/ammarkh95/gopm/scpi"
)

// Commands shared by both instruments.
const (
	cmdIdentify       = "*IDN?"
	cmdReset          = "*RST"
	cmdClearStatus    = "*CLS"
	cmdWaitComplete   = "*WAI"
	cmdOperationDone  = "*OPC?"
	cmdPresetClear    = "*rst; status:preset; *cls"
	cmdSystemError    = "SYST:ERR?"
	cmdSelfCalibrate  = "CAL?"
)

// AcquisitionState is the acquisition lane of the instrument model.
// The U3606 moves between Idle and ContinuousRunning; the U2723 tracks
// one state per channel between Idle, SweepArmed and TriggeredArmed.
type AcquisitionState int

const (
	// Idle - no acquisition armed or running
	Idle AcquisitionState = iota

	// TriggeredArmed - a transient trigger has been initiated
	TriggeredArmed

	// ContinuousRunning - free running acquisition, fetch is legal
	ContinuousRunning

	// SweepArmed - sweep point count and interval are programmed
	SweepArmed
)

func (s AcquisitionState) String() string {
	switch s {
	case TriggeredArmed:
		return "triggered-armed"
	case ContinuousRunning:
		return "continuous-running"
	case SweepArmed:
		return "sweep-armed"
	default:
		return "idle"
	}
}

// ftoa renders a float the way the instruments like to see them,
// shortest round-trip form ("0.1", "30", "1e-06").
func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// instrument carries the protocol plumbing common to both units.
type instrument struct {
	scpi.SCPI
}

// Identification returns the *IDN? string of the instrument.
func (i *instrument) Identification() (string, error) {
	return i.ReadString(cmdIdentify)
}

// ResetDefaults restores the factory default state.
func (i *instrument) ResetDefaults() error {
	return i.Write(cmdReset)
}

// ClearStatus clears the event status registers and the error queue.
func (i *instrument) ClearStatus() error {
	return i.Write(cmdClearStatus)
}

// ClearPresets resets the instrument and its preset status registers.
func (i *instrument) ClearPresets() error {
	return i.Write(cmdPresetClear)
}

// WaitComplete holds the output buffer until pending operations finish.
func (i *instrument) WaitComplete() error {
	return i.Write(cmdWaitComplete)
}

// OperationComplete reports whether the previous operation has finished.
func (i *instrument) OperationComplete() (bool, error) {
	resp, err := i.ReadString(cmdOperationDone)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(resp, "1"), nil
}

// SystemError pops one record from the instrument error queue and
// returns it verbatim, e.g. `+0,"No error"`.  Codes are not interpreted.
func (i *instrument) SystemError() (string, error) {
	return i.ReadString(cmdSystemError)
}

// SelfCal runs the self calibration and returns an error if the
// instrument reports anything but a pass.
func (i *instrument) SelfCal() error {
	resp, err := i.ReadString(cmdSelfCalibrate)
	if err != nil {
		return err
	}
	if code := strings.TrimPrefix(resp, "+"); code != "0" {
		return &comm.Error{Op: "self calibration", Err: errors.New("failed with code " + resp)}
	}
	return nil
}

// Send writes a raw command after settling pending operations, for
// traffic the typed surface does not cover.
func (i *instrument) Send(cmd string) error {
	if err := i.Write(cmdWaitComplete); err != nil {
		return err
	}
	return i.Write(cmd)
}

// Ask sends a raw query after settling pending operations.
func (i *instrument) Ask(cmd string) (string, error) {
	if err := i.Write(cmdWaitComplete); err != nil {
		return "", err
	}
	return i.ReadString(cmd)
}
