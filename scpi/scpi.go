// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ammarkh95/gopm/comm"
)

// errQueueDepth is how many errors the instruments buffer; draining
// reads at most this many before giving up.
const errQueueDepth = 20

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Session comm.Session

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool

	// Pace, when non-nil, throttles outgoing traffic.  Some bench gear
	// drops bytes when commands arrive faster than ~20/sec.
	Pace *rate.Limiter
}

func (s *SCPI) pace() {
	if s.Pace != nil {
		time.Sleep(s.Pace.Reserve().Delay())
	}
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK.
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	s.pace()
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
		str := strings.Join(cmds, " ")
		resp, err := s.Session.Query(str)
		if err != nil {
			return comm.Wrap(str, err)
		}
		if !strings.HasPrefix(resp, "+0") {
			return errors.New(resp)
		}
		return nil
	}
	str := strings.Join(cmds, " ")
	return comm.Wrap(str, s.Session.Write(str))
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) (string, error) {
	s.pace()
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	str := strings.Join(cmds, " ")
	resp, err := s.Session.Query(str)
	if err != nil {
		return "", comm.Wrap(str, err)
	}
	if s.Handshaking {
		pieces := strings.Split(resp, ";")
		errS := pieces[len(pieces)-1]
		if !strings.HasPrefix(errS, "+0") {
			return resp, errors.New(errS)
		}
		return strings.Join(pieces[:len(pieces)-1], ""), nil
	}
	return resp, nil
}

// ReadString sends a command to the device, then reads the response
// and returns it with framing whitespace removed
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	return strings.TrimSpace(resp), err
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, comm.Wrap("parsing reply to "+strings.Join(cmds, " "), err)
	}
	return f, nil
}

// ReadFloats sends a command to the device, then reads the response and
// parses it as a comma separated list of floating point values
func (s *SCPI) ReadFloats(cmds ...string) ([]float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return nil, err
	}
	if resp == "" {
		return nil, comm.Wrap(strings.Join(cmds, " "), errors.New("empty reply"))
	}
	pieces := strings.Split(resp, ",")
	out := make([]float64, len(pieces))
	for i, p := range pieces {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, comm.Wrap("parsing reply to "+strings.Join(cmds, " "), err)
		}
		out[i] = f
	}
	return out, nil
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(resp)
	if err != nil {
		return false, comm.Wrap("parsing reply to "+strings.Join(cmds, " "), err)
	}
	return b, nil
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer.  A leading + is accepted;
// the instruments write register values as "+514" and the like.
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	resp = strings.TrimPrefix(resp, "+")
	i, err := strconv.Atoi(resp)
	if err != nil {
		return 0, comm.Wrap("parsing reply to "+strings.Join(cmds, " "), err)
	}
	return i, nil
}

// Raw sends a command to the device and returns a response if it was a
// query, else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	prev := s.Handshaking
	s.Handshaking = false
	defer func() { s.Handshaking = prev }()
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Write(str)
}

// PopError gets a single error from the queue on the device.  The text
// is surfaced verbatim; codes are not interpreted.
func (s *SCPI) PopError() error {
	str, err := s.ReadString("SYST:ERR?")
	if err != nil {
		return err
	}
	if strings.HasPrefix(str, "+0") || strings.HasPrefix(str, "0,") {
		return nil
	}
	return errors.New(str)
}

// AllErrors drains the error queue on the device.  The queue holds at
// most errQueueDepth records; draining stops there, or earlier on a
// communication failure.
func (s *SCPI) AllErrors() []error {
	var errs []error
	for i := 0; i < errQueueDepth; i++ {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
		var ce *comm.Error
		if errors.As(err, &ce) {
			break
		}
	}
	return errs
}

// AllErrorsString is equivalent to AllErrors, but joining by newline.
// if there were no errors, the error return value is nil, otherwise
// it is the first error in the list and has no particular meaning
func (s *SCPI) AllErrorsString() (string, error) {
	errs := s.AllErrors()
	if len(errs) == 0 {
		return "", nil
	}
	strs := make([]string, len(errs))
	for i := 0; i < len(errs); i++ {
		strs[i] = errs[i].Error()
	}
	return strings.Join(strs, "\n"), errs[0]
}
