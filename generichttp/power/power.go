// Package power exposes control of bench power supplies and source
// measure units over HTTP
package power

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/ammarkh95/gopm/generichttp"
	"github.com/ammarkh95/gopm/generichttp/ascii"
)

// Supply is a basic interface for programmable DC supplies
type Supply interface {
	// SetOutputVoltage sets the constant voltage level
	SetOutputVoltage(float64) error

	// OutputVoltage retrieves the constant voltage level
	OutputVoltage() (float64, error)

	// SetOutputCurrent sets the constant current level
	SetOutputCurrent(float64) error

	// OutputCurrent retrieves the constant current level
	OutputCurrent() (float64, error)

	// SetCurrentLimit bounds the current in constant voltage operation
	SetCurrentLimit(float64) error

	// CurrentLimit retrieves the current bound
	CurrentLimit() (float64, error)

	// SetVoltageLimit bounds the voltage in constant current operation
	SetVoltageLimit(float64) error

	// VoltageLimit retrieves the voltage bound
	VoltageLimit() (float64, error)

	// EnableOutput connects the output to the terminals
	EnableOutput() error

	// DisableOutput puts the output on standby
	DisableOutput() error

	// OutputEnabled queries whether the output is live
	OutputEnabled() (bool, error)
}

// Meter is the measurement side of a supply with a built-in meter
type Meter interface {
	// Read triggers a measurement and returns the reading
	Read() (float64, error)

	// Fetch returns the latest reading without triggering
	Fetch() (float64, error)

	// EnableContinuous starts free-run acquisition
	EnableContinuous() error

	// DisableContinuous stops free-run acquisition
	DisableContinuous() error

	// ContinuousEnabled queries free-run acquisition
	ContinuousEnabled() (bool, error)

	// AbortMeasure cancels a measurement in progress
	AbortMeasure() error

	// SenseVoltage reads the voltage at the output terminals
	SenseVoltage() (float64, error)

	// SenseCurrent reads the current at the output terminals
	SenseCurrent() (float64, error)
}

// MultiChannelSMU sources and measures on numbered channels
type MultiChannelSMU interface {
	// SetChannelVoltage sets the source voltage on a channel
	SetChannelVoltage(int, float64) error

	// SetChannelCurrent sets the source current on a channel
	SetChannelCurrent(int, float64) error

	// EnableChannel connects a channel output
	EnableChannel(int) error

	// DisableChannel disconnects a channel output
	DisableChannel(int) error

	// ChannelEnabled queries whether a channel output is live
	ChannelEnabled(int) (bool, error)

	// MeasureVoltage takes a scalar voltage reading
	MeasureVoltage(int) (float64, error)

	// MeasureCurrent takes a scalar current reading
	MeasureCurrent(int) (float64, error)

	// ConfigureSweep arms a timed sweep on a channel
	ConfigureSweep(ch, points, intervalMS int) error

	// MeasureVoltageArray runs the armed sweep, one voltage per point
	MeasureVoltageArray(int) ([]float64, error)

	// MeasureCurrentArray runs the armed sweep, one current per point
	MeasureCurrentArray(int) ([]float64, error)

	// AbortTransient cancels the channel trigger system
	AbortTransient(int) error
}

// Identifier reports the instrument identification string
type Identifier interface {
	Identification() (string, error)
}

// SweepT describes a sweep over JSON
type SweepT struct {
	Points     int `json:"points"`
	IntervalMS int `json:"intervalMS"`
}

// lockRoutes wraps every handler so one request at a time reaches the
// instrument; the drivers are not safe for concurrent use.
func lockRoutes(mu *sync.Mutex, rt generichttp.RouteTable) generichttp.RouteTable {
	out := make(generichttp.RouteTable, len(rt))
	for mp, handler := range rt {
		handler := handler
		out[mp] = func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			handler(w, r)
		}
	}
	return out
}

// GetOutputVoltage queries the programmed constant voltage level
func GetOutputVoltage(s Supply) http.HandlerFunc {
	return generichttp.GetFloat(s.OutputVoltage)
}

// SetOutputVoltage programs the constant voltage level
func SetOutputVoltage(s Supply) http.HandlerFunc {
	return generichttp.SetFloat(s.SetOutputVoltage)
}

// GetOutputCurrent queries the programmed constant current level
func GetOutputCurrent(s Supply) http.HandlerFunc {
	return generichttp.GetFloat(s.OutputCurrent)
}

// SetOutputCurrent programs the constant current level
func SetOutputCurrent(s Supply) http.HandlerFunc {
	return generichttp.SetFloat(s.SetOutputCurrent)
}

// GetCurrentLimit queries the current bound for CV operation
func GetCurrentLimit(s Supply) http.HandlerFunc {
	return generichttp.GetFloat(s.CurrentLimit)
}

// SetCurrentLimit programs the current bound for CV operation
func SetCurrentLimit(s Supply) http.HandlerFunc {
	return generichttp.SetFloat(s.SetCurrentLimit)
}

// GetVoltageLimit queries the voltage bound for CC operation
func GetVoltageLimit(s Supply) http.HandlerFunc {
	return generichttp.GetFloat(s.VoltageLimit)
}

// SetVoltageLimit programs the voltage bound for CC operation
func SetVoltageLimit(s Supply) http.HandlerFunc {
	return generichttp.SetFloat(s.SetVoltageLimit)
}

// GetOutputEnabled queries the live output state
func GetOutputEnabled(s Supply) http.HandlerFunc {
	return generichttp.GetBool(s.OutputEnabled)
}

// SetOutputEnabled enables or disables the output
func SetOutputEnabled(s Supply) http.HandlerFunc {
	return generichttp.SetBool(func(b bool) error {
		if b {
			return s.EnableOutput()
		}
		return s.DisableOutput()
	})
}

// ReadMeasurement triggers a measurement with the active configuration
func ReadMeasurement(m Meter) http.HandlerFunc {
	return generichttp.GetFloat(m.Read)
}

// FetchMeasurement pulls the latest reading without triggering
func FetchMeasurement(m Meter) http.HandlerFunc {
	return generichttp.GetFloat(m.Fetch)
}

// GetContinuous queries free-run acquisition
func GetContinuous(m Meter) http.HandlerFunc {
	return generichttp.GetBool(m.ContinuousEnabled)
}

// SetContinuous starts or stops free-run acquisition
func SetContinuous(m Meter) http.HandlerFunc {
	return generichttp.SetBool(func(b bool) error {
		if b {
			return m.EnableContinuous()
		}
		return m.DisableContinuous()
	})
}

// AbortMeasure cancels a measurement in progress
func AbortMeasure(m Meter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.AbortMeasure(); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetSenseVoltage reads the voltage at the output terminals
func GetSenseVoltage(m Meter) http.HandlerFunc {
	return generichttp.GetFloat(m.SenseVoltage)
}

// GetSenseCurrent reads the current at the output terminals
func GetSenseCurrent(m Meter) http.HandlerFunc {
	return generichttp.GetFloat(m.SenseCurrent)
}

// GetIdentification returns the *IDN? string
func GetIdentification(id Identifier) http.HandlerFunc {
	return generichttp.GetString(id.Identification)
}

// HTTPSupply wraps a Supply in an HTTP route table
type HTTPSupply struct {
	// Supply is the underlying instrument
	Supply Supply

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable

	mu *sync.Mutex
}

// NewHTTPSupply returns a new HTTP wrapper around an existing supply.
// If the supply also measures (Meter), identifies itself (Identifier),
// or passes raw commands, those routes are added too.  One request at
// a time reaches the instrument.
func NewHTTPSupply(s Supply) HTTPSupply {
	h := HTTPSupply{Supply: s, mu: &sync.Mutex{}}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/output-voltage"}:  GetOutputVoltage(s),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/output-voltage"}: SetOutputVoltage(s),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/output-current"}:  GetOutputCurrent(s),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/output-current"}: SetOutputCurrent(s),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/current-limit"}:   GetCurrentLimit(s),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/current-limit"}:  SetCurrentLimit(s),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/voltage-limit"}:   GetVoltageLimit(s),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/voltage-limit"}:  SetVoltageLimit(s),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/output-enabled"}:  GetOutputEnabled(s),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/output-enabled"}: SetOutputEnabled(s),
	}
	if m, ok := interface{}(s).(Meter); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/read"}] = ReadMeasurement(m)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/fetch"}] = FetchMeasurement(m)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/continuous"}] = GetContinuous(m)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/continuous"}] = SetContinuous(m)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/abort"}] = AbortMeasure(m)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/sense-voltage"}] = GetSenseVoltage(m)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/sense-current"}] = GetSenseCurrent(m)
	}
	if id, ok := interface{}(s).(Identifier); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/idn"}] = GetIdentification(id)
	}
	if raw, ok := interface{}(s).(ascii.RawCommunicator); ok {
		ascii.InjectRawComm(rt, raw)
	}
	h.RouteTable = lockRoutes(h.mu, rt)
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPSupply) RT() generichttp.RouteTable {
	return h.RouteTable
}

// channel pulls the target channel from the ch query parameter
func channel(r *http.Request) (int, error) {
	q := r.URL.Query().Get("ch")
	if q == "" {
		return 0, errors.New("query parameter ch is required")
	}
	return strconv.Atoi(q)
}

// SetChannelVoltage programs the source voltage on ?ch=N
func SetChannelVoltage(m MultiChannelSMU) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := channel(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f := generichttp.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := m.SetChannelVoltage(ch, f.F64); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// SetChannelCurrent programs the source current on ?ch=N
func SetChannelCurrent(m MultiChannelSMU) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := channel(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f := generichttp.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := m.SetChannelCurrent(ch, f.F64); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetChannelEnabled queries the output state of ?ch=N
func GetChannelEnabled(m MultiChannelSMU) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := channel(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		generichttp.GetBool(func() (bool, error) { return m.ChannelEnabled(ch) })(w, r)
	}
}

// SetChannelEnabled enables or disables the output of ?ch=N
func SetChannelEnabled(m MultiChannelSMU) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := channel(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		generichttp.SetBool(func(b bool) error {
			if b {
				return m.EnableChannel(ch)
			}
			return m.DisableChannel(ch)
		})(w, r)
	}
}

// MeasureVoltage takes a scalar voltage reading on ?ch=N
func MeasureVoltage(m MultiChannelSMU) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := channel(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		generichttp.GetFloat(func() (float64, error) { return m.MeasureVoltage(ch) })(w, r)
	}
}

// MeasureCurrent takes a scalar current reading on ?ch=N
func MeasureCurrent(m MultiChannelSMU) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := channel(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		generichttp.GetFloat(func() (float64, error) { return m.MeasureCurrent(ch) })(w, r)
	}
}

// ConfigureSweep arms a timed sweep on ?ch=N from a JSON body
func ConfigureSweep(m MultiChannelSMU) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := channel(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sw := SweepT{}
		err = json.NewDecoder(r.Body).Decode(&sw)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := m.ConfigureSweep(ch, sw.Points, sw.IntervalMS); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// respondFloats writes a float slice as a JSON array
func respondFloats(w http.ResponseWriter, fs []float64) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(fs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// SweepVoltage runs the armed sweep on ?ch=N and returns the voltages
func SweepVoltage(m MultiChannelSMU) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := channel(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fs, err := m.MeasureVoltageArray(ch)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		respondFloats(w, fs)
	}
}

// SweepCurrent runs the armed sweep on ?ch=N and returns the currents
func SweepCurrent(m MultiChannelSMU) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := channel(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fs, err := m.MeasureCurrentArray(ch)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		respondFloats(w, fs)
	}
}

// AbortTransient cancels the trigger system on ?ch=N
func AbortTransient(m MultiChannelSMU) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := channel(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := m.AbortTransient(ch); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// HTTPSMU wraps a MultiChannelSMU in an HTTP route table
type HTTPSMU struct {
	// SMU is the underlying instrument
	SMU MultiChannelSMU

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable

	mu *sync.Mutex
}

// NewHTTPSMU returns a new HTTP wrapper around an existing SMU.
// Channels are addressed with the ch query parameter.  One request at
// a time reaches the instrument.
func NewHTTPSMU(m MultiChannelSMU) HTTPSMU {
	h := HTTPSMU{SMU: m, mu: &sync.Mutex{}}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/voltage"}:         SetChannelVoltage(m),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/current"}:         SetChannelCurrent(m),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/output-enabled"}:   GetChannelEnabled(m),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/output-enabled"}:  SetChannelEnabled(m),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/measure-voltage"}:  MeasureVoltage(m),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/measure-current"}:  MeasureCurrent(m),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/sweep"}:           ConfigureSweep(m),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/sweep/voltage"}:    SweepVoltage(m),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/sweep/current"}:    SweepCurrent(m),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/abort-transient"}: AbortTransient(m),
	}
	if id, ok := interface{}(m).(Identifier); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/idn"}] = GetIdentification(id)
	}
	if raw, ok := interface{}(m).(ascii.RawCommunicator); ok {
		ascii.InjectRawComm(rt, raw)
	}
	h.RouteTable = lockRoutes(h.mu, rt)
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPSMU) RT() generichttp.RouteTable {
	return h.RouteTable
}
