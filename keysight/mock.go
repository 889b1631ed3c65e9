package keysight

import (
	"fmt"
	"strings"
	"sync"
)

// The simulated instruments below implement comm.Session with enough
// behavior to exercise the drivers without hardware: identity, output
// and acquisition state, levels echoed back, sweeps that return the
// programmed number of points, and an error queue that answers
// +0,"No error" unless primed.  Unknown queries are an error so driver
// typos surface in tests; unknown writes are accepted like the real
// units accept commands we never read back.

func efmt(f float64) string {
	return fmt.Sprintf("%+.8E", f)
}

func b2s(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

const hsSuffix = " ;:SYSTem:ERRor?"

// SimU3606 is an in-memory stand-in for a U3606.
type SimU3606 struct {
	sync.Mutex

	// Reading is returned by every measurement query.
	Reading float64

	// LogData is drained by LOG:DATA?, then END.
	LogData []float64

	// WriteErr and QueryErr, when set, fail every call.
	WriteErr error
	QueryErr error

	output     bool
	continuous bool
	logging    bool
	volts      float64
	amps       float64
	vlim       float64
	ilim       float64
	conf       string
	calcFunc   string
	quesEnab   int
	errq       []string
	trace      []string
	closes     int
}

// NewSimU3606 returns a simulator in the power-on state.
func NewSimU3606() *SimU3606 {
	return &SimU3606{conf: `"VOLT +1.000000E+01,+1.000000E-05"`, calcFunc: "NULL"}
}

// Trace returns every command received, in order.
func (s *SimU3606) Trace() []string {
	s.Lock()
	defer s.Unlock()
	out := make([]string, len(s.trace))
	copy(out, s.trace)
	return out
}

// Closed reports whether Close has been called.
func (s *SimU3606) Closed() bool {
	s.Lock()
	defer s.Unlock()
	return s.closes > 0
}

// PushError primes the error queue, e.g. `-113,"Undefined header"`.
func (s *SimU3606) PushError(e string) {
	s.Lock()
	defer s.Unlock()
	s.errq = append(s.errq, e)
}

func (s *SimU3606) popError() string {
	if len(s.errq) == 0 {
		return `+0,"No error"`
	}
	e := s.errq[0]
	s.errq = s.errq[1:]
	return e
}

func (s *SimU3606) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closes++
	return nil
}

func (s *SimU3606) Write(cmd string) error {
	s.Lock()
	defer s.Unlock()
	s.trace = append(s.trace, cmd)
	if s.WriteErr != nil {
		return s.WriteErr
	}
	return s.apply(cmd)
}

func (s *SimU3606) Query(cmd string) (string, error) {
	s.Lock()
	defer s.Unlock()
	s.trace = append(s.trace, cmd)
	if s.QueryErr != nil {
		return "", s.QueryErr
	}
	if inner := strings.TrimSuffix(cmd, hsSuffix); inner != cmd {
		inner = strings.TrimPrefix(inner, "*CLS; ")
		if strings.Contains(inner, "?") {
			resp, err := s.answer(inner)
			if err != nil {
				return "", err
			}
			return resp + ";" + s.popError(), nil
		}
		if err := s.apply(inner); err != nil {
			return "", err
		}
		return s.popError(), nil
	}
	return s.answer(cmd)
}

func (s *SimU3606) apply(cmd string) error {
	var f float64
	switch {
	case cmd == "OUTP:STAT ON":
		s.output = true
	case cmd == "OUTP:STAT OFF":
		s.output = false
	case cmd == "INIT:CONT ON":
		s.continuous = true
	case cmd == "INIT:CONT OFF", cmd == "ABOR":
		s.continuous = false
	case cmd == "LOG ON":
		s.logging = true
	case cmd == "LOG OFF":
		s.logging = false
	case scan(cmd, "SOUR:VOLT:LEV:IMM:AMPL %g", &f):
		s.volts = f
	case scan(cmd, "SOUR:CURR:LEV:IMM:AMPL %g", &f):
		s.amps = f
	case scan(cmd, "SOUR:VOLT:LIM %g", &f):
		s.vlim = f
	case scan(cmd, "SOUR:CURR:LIM %g", &f):
		s.ilim = f
	case strings.HasPrefix(cmd, "CONF:"):
		s.conf = strings.TrimPrefix(cmd, "CONF:")
	case strings.HasPrefix(cmd, "CALC:FUNC "):
		s.calcFunc = strings.TrimPrefix(cmd, "CALC:FUNC ")
	case scan(cmd, "STAT:QUES:ENAB %d", &s.quesEnab):
	case cmd == "*RST", strings.HasPrefix(cmd, "*rst"):
		s.output = false
		s.continuous = false
		s.logging = false
		s.volts, s.amps, s.vlim, s.ilim = 0, 0, 0, 0
	}
	return nil
}

func (s *SimU3606) answer(cmd string) (string, error) {
	switch {
	case cmd == "*IDN?":
		return "Keysight Technologies,U3606B,MY53090001,02.17-02.00-02.02", nil
	case cmd == "OUTP?":
		return b2s(s.output), nil
	case cmd == "VOLT?":
		return efmt(s.volts), nil
	case cmd == "CURR?":
		return efmt(s.amps), nil
	case cmd == "VOLT:LIM?":
		return efmt(s.vlim), nil
	case cmd == "CURR:LIM?":
		return efmt(s.ilim), nil
	case cmd == "INIT:CONT?":
		return b2s(s.continuous), nil
	case cmd == "CONF?":
		return s.conf, nil
	case cmd == "CALC:FUNC?":
		return s.calcFunc, nil
	case cmd == "CALC?":
		return "0", nil
	case cmd == "LOG?":
		return b2s(s.logging), nil
	case cmd == "LOG:DATA?":
		if len(s.LogData) == 0 {
			return "END", nil
		}
		v := s.LogData[0]
		s.LogData = s.LogData[1:]
		return efmt(v), nil
	case cmd == "READ?":
		s.continuous = false
		return efmt(s.Reading), nil
	case strings.HasPrefix(cmd, "MEAS:"):
		s.continuous = false
		return efmt(s.Reading), nil
	case cmd == "FETC?", cmd == "SENS:VOLT?", cmd == "SENS:CURR?",
		strings.HasPrefix(cmd, "CALC:AVER:"):
		return efmt(s.Reading), nil
	case cmd == "SYST:ERR?":
		return s.popError(), nil
	case cmd == "*OPC?":
		return "1", nil
	case cmd == "CAL?":
		return "+0", nil
	case cmd == "STAT:QUES:ENAB?":
		return fmt.Sprintf("+%d", s.quesEnab), nil
	case cmd == "STAT:QUES?", cmd == "STAT:QUES:COND?":
		return "+0", nil
	}
	return "", fmt.Errorf("simulated u3606 has no answer for %q", cmd)
}

// scan is Sscanf with a full-match requirement.
func scan(cmd, format string, args ...interface{}) bool {
	n, err := fmt.Sscanf(cmd, format, args...)
	return err == nil && n == len(args)
}

// SimU2723 is an in-memory stand-in for a U2723.
type SimU2723 struct {
	sync.Mutex

	// Readings holds the per-channel value returned by scalar and
	// array measurements (index = channel - 1).
	Readings [SMUChannels]float64

	// MemoryData is returned by MEM:LIST:DATA?; empty slots answer
	// the no-measurement marker.
	MemoryData [SMUChannels][]float64

	WriteErr error
	QueryErr error

	output  [SMUChannels]bool
	volts   [SMUChannels]float64
	amps    [SMUChannels]float64
	points  [SMUChannels]int
	tint    [SMUChannels]int
	waiting [SMUChannels]bool
	errq    []string
	trace   []string
	closes  int
}

// NewSimU2723 returns a simulator in the power-on state.
func NewSimU2723() *SimU2723 {
	return &SimU2723{}
}

// Trace returns every command received, in order.
func (s *SimU2723) Trace() []string {
	s.Lock()
	defer s.Unlock()
	out := make([]string, len(s.trace))
	copy(out, s.trace)
	return out
}

// Closed reports whether Close has been called.
func (s *SimU2723) Closed() bool {
	s.Lock()
	defer s.Unlock()
	return s.closes > 0
}

// PushError primes the error queue.
func (s *SimU2723) PushError(e string) {
	s.Lock()
	defer s.Unlock()
	s.errq = append(s.errq, e)
}

func (s *SimU2723) popError() string {
	if len(s.errq) == 0 {
		return `+0,"No error"`
	}
	e := s.errq[0]
	s.errq = s.errq[1:]
	return e
}

func (s *SimU2723) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closes++
	return nil
}

func (s *SimU2723) Write(cmd string) error {
	s.Lock()
	defer s.Unlock()
	s.trace = append(s.trace, cmd)
	if s.WriteErr != nil {
		return s.WriteErr
	}
	return s.apply(cmd)
}

func (s *SimU2723) Query(cmd string) (string, error) {
	s.Lock()
	defer s.Unlock()
	s.trace = append(s.trace, cmd)
	if s.QueryErr != nil {
		return "", s.QueryErr
	}
	if inner := strings.TrimSuffix(cmd, hsSuffix); inner != cmd {
		inner = strings.TrimPrefix(inner, "*CLS; ")
		if strings.Contains(inner, "?") {
			resp, err := s.answer(inner)
			if err != nil {
				return "", err
			}
			return resp + ";" + s.popError(), nil
		}
		if err := s.apply(inner); err != nil {
			return "", err
		}
		return s.popError(), nil
	}
	return s.answer(cmd)
}

func (s *SimU2723) apply(cmd string) error {
	var (
		f  float64
		n  int
		ch int
	)
	switch {
	case scan(cmd, "OUTP %d, (@%d)", &n, &ch):
		s.output[ch-1] = n != 0
	case scan(cmd, "SOUR:VOLT:LEV:IMM:AMPL %g, (@%d)", &f, &ch):
		s.volts[ch-1] = f
	case scan(cmd, "SOUR:CURR:LEV:IMM:AMPL %g, (@%d)", &f, &ch):
		s.amps[ch-1] = f
	case scan(cmd, "SENS:SWE:POIN %d, (@%d)", &n, &ch):
		s.points[ch-1] = n
	case scan(cmd, "SENS:SWE:TINT %d, (@%d)", &n, &ch):
		s.tint[ch-1] = n
	case scan(cmd, "INIT:TRAN (@%d)", &ch):
		s.waiting[ch-1] = true
	case scan(cmd, "ABOR:TRAN (@%d)", &ch):
		s.waiting[ch-1] = false
	case cmd == "*RST", strings.HasPrefix(cmd, "*rst"):
		s.output = [SMUChannels]bool{}
		s.volts = [SMUChannels]float64{}
		s.amps = [SMUChannels]float64{}
		s.points = [SMUChannels]int{}
		s.tint = [SMUChannels]int{}
		s.waiting = [SMUChannels]bool{}
	}
	return nil
}

func (s *SimU2723) array(ch int) (string, error) {
	n := s.points[ch-1]
	if n == 0 {
		return "", fmt.Errorf("simulated u2723 channel %d has no sweep configured", ch)
	}
	vals := make([]string, n)
	for i := range vals {
		vals[i] = efmt(s.Readings[ch-1])
	}
	return strings.Join(vals, ","), nil
}

func (s *SimU2723) answer(cmd string) (string, error) {
	var ch int
	switch {
	case cmd == "*IDN?":
		return "Keysight Technologies,U2723A,MY57180004,1.18", nil
	case scan(cmd, "OUTP? (@%d)", &ch):
		return b2s(s.output[ch-1]), nil
	case scan(cmd, "MEAS:SCAL:VOLT? (@%d)", &ch), scan(cmd, "MEAS:SCAL:CURR? (@%d)", &ch):
		return efmt(s.Readings[ch-1]), nil
	case scan(cmd, "MEAS:ARR:VOLT? (@%d)", &ch), scan(cmd, "MEAS:ARR:CURR? (@%d)", &ch):
		return s.array(ch)
	case scan(cmd, "SENS:VOLT:APER? (@%d)", &ch), scan(cmd, "SENS:CURR:APER? (@%d)", &ch):
		return "+2.50000000E-05", nil
	case cmd == "STAT:OPER:COND?":
		cond := 0
		for i := range s.waiting {
			if s.waiting[i] {
				cond |= 32 << uint(i)
			}
		}
		return fmt.Sprintf("+%d", cond), nil
	case scan(cmd, "MEM:LIST:DATA? (@%d)", &ch):
		data := s.MemoryData[ch-1]
		if len(data) == 0 {
			return "+9.99999999E+10", nil
		}
		vals := make([]string, len(data))
		for i, v := range data {
			vals[i] = efmt(v)
		}
		return strings.Join(vals, ","), nil
	case cmd == "SYST:ERR?":
		return s.popError(), nil
	case cmd == "*OPC?":
		return "1", nil
	case cmd == "CAL?":
		return "+0", nil
	}
	return "", fmt.Errorf("simulated u2723 has no answer for %q", cmd)
}
