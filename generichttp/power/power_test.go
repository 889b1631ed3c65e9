package power_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/ammarkh95/gopm/generichttp"
	"github.com/ammarkh95/gopm/generichttp/power"
	"github.com/ammarkh95/gopm/keysight"
)

func router(h generichttp.HTTPer) chi.Router {
	r := chi.NewRouter()
	h.RT().Bind(r)
	return r
}

func supplyFixture(t *testing.T) (*keysight.SimU3606, string) {
	t.Helper()
	sim := keysight.NewSimU3606()
	srv := httptest.NewServer(router(power.NewHTTPSupply(keysight.NewU3606(sim))))
	t.Cleanup(srv.Close)
	return sim, srv.URL
}

func smuFixture(t *testing.T) (*keysight.SimU2723, string) {
	t.Helper()
	sim := keysight.NewSimU2723()
	srv := httptest.NewServer(router(power.NewHTTPSMU(keysight.NewU2723(sim))))
	t.Cleanup(srv.Close)
	return sim, srv.URL
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", buf)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, into interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if into != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatal(err)
		}
	}
	return resp
}

func sawCommand(trace []string, cmd string) bool {
	for _, c := range trace {
		if c == cmd {
			return true
		}
	}
	return false
}

func TestSupplyVoltageRoundTrip(t *testing.T) {
	sim, url := supplyFixture(t)
	resp := postJSON(t, url+"/output-voltage", generichttp.FloatT{F64: 5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 setting voltage, got %d", resp.StatusCode)
	}
	if !sawCommand(sim.Trace(), "SOUR:VOLT:LEV:IMM:AMPL 5") {
		t.Errorf("set voltage never reached the instrument, trace %v", sim.Trace())
	}
	var f generichttp.FloatT
	getJSON(t, url+"/output-voltage", &f)
	if f.F64 != 5 {
		t.Errorf("expected 5 V back, got %v", f.F64)
	}
}

func TestSupplyOutputEnableRoundTrip(t *testing.T) {
	sim, url := supplyFixture(t)
	resp := postJSON(t, url+"/output-enabled", generichttp.BoolT{Bool: true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 enabling output, got %d", resp.StatusCode)
	}
	if !sawCommand(sim.Trace(), "OUTP:STAT ON") {
		t.Errorf("enable never reached the instrument, trace %v", sim.Trace())
	}
	var b generichttp.BoolT
	getJSON(t, url+"/output-enabled", &b)
	if !b.Bool {
		t.Error("expected the output to read back enabled")
	}
}

func TestRangeErrorMapsToBadRequest(t *testing.T) {
	_, url := supplyFixture(t)
	resp := postJSON(t, url+"/output-voltage", generichttp.FloatT{F64: 31})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for out of range level, got %d", resp.StatusCode)
	}
}

func TestStateErrorMapsToConflict(t *testing.T) {
	_, url := supplyFixture(t)
	resp := getJSON(t, url+"/fetch", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 fetching without continuous acquisition, got %d", resp.StatusCode)
	}
}

func TestTransportErrorMapsToServerFault(t *testing.T) {
	sim, url := supplyFixture(t)
	sim.QueryErr = errors.New("usb endpoint stalled")
	resp := getJSON(t, url+"/read", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500 for a transport fault, got %d", resp.StatusCode)
	}
}

func TestMeterRoutesPresentOnSupply(t *testing.T) {
	sim, url := supplyFixture(t)
	sim.Reading = 1.25
	var f generichttp.FloatT
	resp := getJSON(t, url+"/read", &f)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 reading, got %d", resp.StatusCode)
	}
	if f.F64 != 1.25 {
		t.Errorf("expected 1.25 from the meter, got %v", f.F64)
	}
}

func TestIdentificationRoute(t *testing.T) {
	_, url := supplyFixture(t)
	var s generichttp.StrT
	getJSON(t, url+"/idn", &s)
	if !strings.Contains(s.Str, "U3606B") {
		t.Errorf("expected the model in the IDN string, got %q", s.Str)
	}
}

func TestRawRouteSpeaksSCPI(t *testing.T) {
	_, url := supplyFixture(t)
	resp := postJSON(t, url+"/raw", generichttp.StrT{Str: "*IDN?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from raw, got %d", resp.StatusCode)
	}
	var s generichttp.StrT
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(s.Str, "U3606B") {
		t.Errorf("expected a raw IDN reply, got %q", s.Str)
	}
}

func TestSMUSetChannelVoltage(t *testing.T) {
	sim, url := smuFixture(t)
	resp := postJSON(t, url+"/voltage?ch=2", generichttp.FloatT{F64: -2.5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 setting channel voltage, got %d", resp.StatusCode)
	}
	if !sawCommand(sim.Trace(), "SOUR:VOLT:LEV:IMM:AMPL -2.5, (@2)") {
		t.Errorf("channel 2 level never reached the instrument, trace %v", sim.Trace())
	}
}

func TestSMUMissingChannelIsBadRequest(t *testing.T) {
	_, url := smuFixture(t)
	resp := postJSON(t, url+"/voltage", generichttp.FloatT{F64: 1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without a ch parameter, got %d", resp.StatusCode)
	}
}

func TestSMUChannelOutOfRangeIsBadRequest(t *testing.T) {
	_, url := smuFixture(t)
	resp := getJSON(t, url+"/measure-voltage?ch=9", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for channel 9, got %d", resp.StatusCode)
	}
}

func TestSMUSweepFlow(t *testing.T) {
	sim, url := smuFixture(t)
	sim.Readings[0] = 0.25
	resp := postJSON(t, url+"/sweep?ch=1", power.SweepT{Points: 4, IntervalMS: 10})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 arming the sweep, got %d", resp.StatusCode)
	}
	if !sawCommand(sim.Trace(), "SENS:SWE:POIN 4, (@1)") {
		t.Fatalf("sweep points never reached the instrument, trace %v", sim.Trace())
	}
	resp = getJSON(t, url+"/sweep/current?ch=1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 running the sweep, got %d", resp.StatusCode)
	}
	var fs []float64
	if err := json.NewDecoder(resp.Body).Decode(&fs); err != nil {
		t.Fatal(err)
	}
	if len(fs) != 4 {
		t.Fatalf("expected 4 points, got %d", len(fs))
	}
	for i, f := range fs {
		if f != 0.25 {
			t.Errorf("point %d: expected 0.25, got %v", i, f)
		}
	}
}

func TestSMUSweepWithoutArmIsConflict(t *testing.T) {
	_, url := smuFixture(t)
	resp := getJSON(t, url+"/sweep/voltage?ch=2", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 sweeping an unarmed channel, got %d", resp.StatusCode)
	}
}

func TestSMUAbortTransient(t *testing.T) {
	sim, url := smuFixture(t)
	resp := postJSON(t, url+"/abort-transient?ch=1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 aborting, got %d", resp.StatusCode)
	}
	if !sawCommand(sim.Trace(), "ABOR:TRAN (@1)") {
		t.Errorf("abort never reached the instrument, trace %v", sim.Trace())
	}
}

func TestSupplyEndpointsPublished(t *testing.T) {
	h := power.NewHTTPSupply(keysight.NewU3606(keysight.NewSimU3606()))
	eps := h.RT().Endpoints()
	for _, want := range []string{"GET /output-voltage", "GET /read", "POST /raw", "GET /idn"} {
		found := false
		for _, ep := range eps {
			if ep == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("endpoint %q missing from %v", want, eps)
		}
	}
}
