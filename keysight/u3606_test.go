package keysight_test

import (
	"errors"
	"testing"

	"github.com/ammarkh95/gopm/comm"
	"github.com/ammarkh95/gopm/keysight"
	"github.com/google/go-cmp/cmp"
)

func TestConfigureSupplyConstantVoltage(t *testing.T) {
	sim := keysight.NewSimU3606()
	u := keysight.NewU3606(sim)
	err := u.ConfigureSupply(keysight.SourceVoltage, 5, 0, "")
	if err != nil {
		t.Fatalf("ConfigureSupply: %v", err)
	}
	expected := []string{
		"OUTP:STAT OFF",
		"SOUR:VOLT:LEV:IMM:AMPL 5",
		"SOUR:CURR:LIM 1",
		"SOUR:VOLT:RANG AUTO",
	}
	if diff := cmp.Diff(expected, sim.Trace()); diff != "" {
		t.Errorf("command stream mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigureSupplyConstantCurrent(t *testing.T) {
	sim := keysight.NewSimU3606()
	u := keysight.NewU3606(sim)
	err := u.ConfigureSupply(keysight.SourceCurrent, 0.05, 12, keysight.RangeMax)
	if err != nil {
		t.Fatalf("ConfigureSupply: %v", err)
	}
	expected := []string{
		"OUTP:STAT OFF",
		"SOUR:CURR:LEV:IMM:AMPL 0.05",
		"SOUR:VOLT:LIM 12",
		"SOUR:CURR:RANG MAX",
	}
	if diff := cmp.Diff(expected, sim.Trace()); diff != "" {
		t.Errorf("command stream mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigureSupplyWhileOutputEnabledIsStateError(t *testing.T) {
	sim := keysight.NewSimU3606()
	u := keysight.NewU3606(sim)
	if err := u.EnableOutput(); err != nil {
		t.Fatalf("EnableOutput: %v", err)
	}
	err := u.ConfigureSupply(keysight.SourceCurrent, 0.1, 0, "")
	var se keysight.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if got := sim.Trace(); len(got) != 1 {
		t.Errorf("rejected reconfiguration reached the wire: %v", got)
	}
	if err := u.DisableOutput(); err != nil {
		t.Fatalf("DisableOutput: %v", err)
	}
	if err := u.ConfigureSupply(keysight.SourceCurrent, 0.1, 0, ""); err != nil {
		t.Errorf("ConfigureSupply after disabling the output: %v", err)
	}
}

func TestOutputToggleKeepsProgrammedLevel(t *testing.T) {
	sim := keysight.NewSimU3606()
	u := keysight.NewU3606(sim)
	if err := u.ConfigureSupply(keysight.SourceVoltage, 3.6, 0, ""); err != nil {
		t.Fatalf("ConfigureSupply: %v", err)
	}
	if err := u.EnableOutput(); err != nil {
		t.Fatalf("EnableOutput: %v", err)
	}
	if err := u.DisableOutput(); err != nil {
		t.Fatalf("DisableOutput: %v", err)
	}
	if err := u.EnableOutput(); err != nil {
		t.Fatalf("EnableOutput: %v", err)
	}
	v, err := u.OutputVoltage()
	if err != nil {
		t.Fatalf("OutputVoltage: %v", err)
	}
	if v != 3.6 {
		t.Errorf("level should survive an output toggle, got %v", v)
	}
}

func TestSetOutputVoltageRejectsOutOfRange(t *testing.T) {
	sim := keysight.NewSimU3606()
	u := keysight.NewU3606(sim)
	err := u.SetOutputVoltage(31)
	var re keysight.RangeError
	if !errors.As(err, &re) {
		t.Fatalf("expected RangeError, got %v", err)
	}
	if len(sim.Trace()) != 0 {
		t.Errorf("rejected request reached the wire: %v", sim.Trace())
	}
}

func TestSetOutputCurrentRejectsNegative(t *testing.T) {
	sim := keysight.NewSimU3606()
	u := keysight.NewU3606(sim)
	err := u.SetOutputCurrent(-0.1)
	var re keysight.RangeError
	if !errors.As(err, &re) {
		t.Fatalf("expected RangeError, got %v", err)
	}
	if len(sim.Trace()) != 0 {
		t.Errorf("rejected request reached the wire: %v", sim.Trace())
	}
}

func TestFetchRequiresContinuous(t *testing.T) {
	sim := keysight.NewSimU3606()
	sim.Reading = 1.25
	u := keysight.NewU3606(sim)

	_, err := u.Fetch()
	var se keysight.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError before continuous mode, got %v", err)
	}
	if len(sim.Trace()) != 0 {
		t.Fatalf("rejected fetch reached the wire: %v", sim.Trace())
	}

	if err := u.EnableContinuous(); err != nil {
		t.Fatalf("EnableContinuous: %v", err)
	}
	f, err := u.Fetch()
	if err != nil {
		t.Fatalf("Fetch after EnableContinuous: %v", err)
	}
	if f != 1.25 {
		t.Errorf("expected 1.25, got %v", f)
	}
}

func TestReadDropsContinuous(t *testing.T) {
	sim := keysight.NewSimU3606()
	u := keysight.NewU3606(sim)
	if err := u.EnableContinuous(); err != nil {
		t.Fatalf("EnableContinuous: %v", err)
	}
	if _, err := u.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	_, err := u.Fetch()
	var se keysight.StateError
	if !errors.As(err, &se) {
		t.Errorf("fetch after READ? should be invalid-state, got %v", err)
	}
}

func TestMeasureCommandShapes(t *testing.T) {
	sim := keysight.NewSimU3606()
	u := keysight.NewU3606(sim)
	if _, err := u.Measure(keysight.MeterResistance, "", "", ""); err != nil {
		t.Fatalf("Measure resistance: %v", err)
	}
	if _, err := u.Measure(keysight.MeterVoltage, "", "", ""); err != nil {
		t.Fatalf("Measure voltage: %v", err)
	}
	expected := []string{
		"MEAS:RES? AUTO, MIN",
		"MEAS:VOLT:DC? AUTO, MIN",
	}
	if diff := cmp.Diff(expected, sim.Trace()); diff != "" {
		t.Errorf("command stream mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigureMeterCatalogue(t *testing.T) {
	sim := keysight.NewSimU3606()
	u := keysight.NewU3606(sim)
	err := u.ConfigureMeter(keysight.MeterCurrent, keysight.RangeMin, keysight.ResolutionMax, keysight.SignalAC)
	if err != nil {
		t.Fatalf("ConfigureMeter: %v", err)
	}
	expected := []string{"CONF:CURR:AC MIN, MAX"}
	if diff := cmp.Diff(expected, sim.Trace()); diff != "" {
		t.Errorf("command stream mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigureMeterRejectsUnknownMode(t *testing.T) {
	sim := keysight.NewSimU3606()
	u := keysight.NewU3606(sim)
	err := u.ConfigureMeter("TEMP", "", "", "")
	var se keysight.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if len(sim.Trace()) != 0 {
		t.Errorf("rejected request reached the wire: %v", sim.Trace())
	}
}

func TestConfigureMeterWhileContinuousIsStateError(t *testing.T) {
	sim := keysight.NewSimU3606()
	u := keysight.NewU3606(sim)
	if err := u.EnableContinuous(); err != nil {
		t.Fatalf("EnableContinuous: %v", err)
	}
	err := u.ConfigureMeter(keysight.MeterVoltage, "", "", "")
	var se keysight.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if err := u.DisableContinuous(); err != nil {
		t.Fatalf("DisableContinuous: %v", err)
	}
	if err := u.ConfigureMeter(keysight.MeterVoltage, "", "", ""); err != nil {
		t.Errorf("ConfigureMeter after disabling continuous: %v", err)
	}
}

func TestVoltageAdjustmentWithLiveOutput(t *testing.T) {
	sim := keysight.NewSimU3606()
	sim.Reading = 0.042
	u := keysight.NewU3606(sim)
	if err := u.ConfigureSupply(keysight.SourceVoltage, 3.6, 0, ""); err != nil {
		t.Fatalf("ConfigureSupply: %v", err)
	}
	if err := u.ConfigureMeter(keysight.MeterCurrent, "", "", ""); err != nil {
		t.Fatalf("ConfigureMeter: %v", err)
	}
	if err := u.EnableOutput(); err != nil {
		t.Fatalf("EnableOutput: %v", err)
	}
	if _, err := u.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := u.SetOutputVoltage(5); err != nil {
		t.Fatalf("SetOutputVoltage with output enabled: %v", err)
	}
	if _, err := u.Read(); err != nil {
		t.Fatalf("Read after level change: %v", err)
	}
}

func TestReadLoggedDatumDrainsToEnd(t *testing.T) {
	sim := keysight.NewSimU3606()
	sim.LogData = []float64{1.5, 2.5}
	u := keysight.NewU3606(sim)

	var got []float64
	for {
		v, end, err := u.ReadLoggedDatum()
		if err != nil {
			t.Fatalf("ReadLoggedDatum: %v", err)
		}
		if end {
			break
		}
		got = append(got, v)
	}
	if diff := cmp.Diff([]float64{1.5, 2.5}, got); diff != "" {
		t.Errorf("logged data mismatch (-want +got):\n%s", diff)
	}
}

func TestQuestionableMaskRoundTrip(t *testing.T) {
	sim := keysight.NewSimU3606()
	u := keysight.NewU3606(sim)
	mask := keysight.QuesVoltageOverload | keysight.QuesUpperLimitFailed
	if err := u.EnableQuestionable(mask); err != nil {
		t.Fatalf("EnableQuestionable: %v", err)
	}
	if got := sim.Trace()[0]; got != "STAT:QUES:ENAB 4097" {
		t.Errorf("expected STAT:QUES:ENAB 4097, got %q", got)
	}
	got, err := u.QuestionableEnabled()
	if err != nil {
		t.Fatalf("QuestionableEnabled: %v", err)
	}
	if got != mask {
		t.Errorf("expected %d, got %d", mask, got)
	}
}

func TestRampDisablesOutputFirst(t *testing.T) {
	sim := keysight.NewSimU3606()
	u := keysight.NewU3606(sim)
	if err := u.ConfigureRamp(keysight.SourceVoltage, 10, 50); err != nil {
		t.Fatalf("ConfigureRamp: %v", err)
	}
	expected := []string{
		"OUTP:STAT OFF",
		"VOLT:RAMP 10",
		"VOLT:RAMP:STEP 50",
	}
	if diff := cmp.Diff(expected, sim.Trace()); diff != "" {
		t.Errorf("command stream mismatch (-want +got):\n%s", diff)
	}
}

func TestHandshakingSurfacesDeviceError(t *testing.T) {
	sim := keysight.NewSimU3606()
	sim.PushError(`-113,"Undefined header"`)
	u := keysight.NewU3606(sim)
	u.Handshaking = true
	err := u.EnableOutput()
	if err == nil {
		t.Fatal("expected the primed device error to surface")
	}
	if err.Error() != `-113,"Undefined header"` {
		t.Errorf("device error text not verbatim: %q", err.Error())
	}
}

func TestWriteFailureIsCommunicationError(t *testing.T) {
	sim := keysight.NewSimU3606()
	sim.WriteErr = errors.New("endpoint stalled")
	u := keysight.NewU3606(sim)
	err := u.EnableOutput()
	var ce *comm.Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected comm.Error, got %v", err)
	}
}
