package keysight_test

import (
	"errors"
	"testing"

	"github.com/ammarkh95/gopm/keysight"
	"github.com/google/go-cmp/cmp"
)

func TestProgramSourceVoltageMeasureCurrentSequence(t *testing.T) {
	sim := keysight.NewSimU2723()
	u := keysight.NewU2723(sim)
	err := u.ProgramSourceVoltageMeasureCurrent(1, 3.3,
		keysight.WithMeasureCount(2), keysight.WithMeasureDelay(50))
	if err != nil {
		t.Fatalf("ProgramSourceVoltageMeasureCurrent: %v", err)
	}
	expected := []string{
		"MEM:LIST 1, (@1)",
		"MEM:LIST:CLEAR (@1)",
		"MEM:VOLT:RANG R20V, (@1)",
		"MEM:CURR:RANG R120mA, (@1)",
		"MEM:CURR:LIM 0.1, (@1)",
		"MEM:SOUR:DEL:AUTO ON, (@1)",
		"MEM:VOLT:SOUR 3.3, (@1)",
		"MEM:OUTP ON, (@1)",
		"MEM:SOUR:DEL SING,50,(@1)",
		"MEM:VOLT:SOUR 3.3, (@1)",
		"MEM:CURR:MEAS (@1)",
		"MEM:CURR:MEAS (@1)",
		"MEM:OUTP OFF, (@1)",
		"MEM:LIST:STOR (@1)",
	}
	if diff := cmp.Diff(expected, sim.Trace()); diff != "" {
		t.Errorf("command stream mismatch (-want +got):\n%s", diff)
	}
}

func TestProgramSourceCurrentMeasureVoltageDefaults(t *testing.T) {
	sim := keysight.NewSimU2723()
	u := keysight.NewU2723(sim)
	if err := u.ProgramSourceCurrentMeasureVoltage(2, 0.02); err != nil {
		t.Fatalf("ProgramSourceCurrentMeasureVoltage: %v", err)
	}
	expected := []string{
		"MEM:LIST 1, (@2)",
		"MEM:LIST:CLEAR (@2)",
		"MEM:VOLT:RANG R20V, (@2)",
		"MEM:CURR:RANG R120mA, (@2)",
		"MEM:VOLT:LIM 5, (@2)",
		"MEM:SOUR:DEL:AUTO ON, (@2)",
		"MEM:CURR:SOUR 0.02, (@2)",
		"MEM:OUTP ON, (@2)",
		"MEM:VOLT:MEAS (@2)",
		"MEM:OUTP OFF, (@2)",
		"MEM:LIST:STOR (@2)",
	}
	if diff := cmp.Diff(expected, sim.Trace()); diff != "" {
		t.Errorf("command stream mismatch (-want +got):\n%s", diff)
	}
}

func TestProgramPulseCurrentSequence(t *testing.T) {
	sim := keysight.NewSimU2723()
	u := keysight.NewU2723(sim)
	err := u.ProgramPulseCurrent(3, -0.05, 0.5, keysight.WithLoops(4))
	if err != nil {
		t.Fatalf("ProgramPulseCurrent: %v", err)
	}
	expected := []string{
		"MEM:LIST 1, (@3)",
		"MEM:LIST:CLEAR (@3)",
		"MEM:VOLT:RANG R20V, (@3)",
		"MEM:CURR:RANG R120mA, (@3)",
		"MEM:VOLT:LIM 20, (@3)",
		"MEM:CURR:LIM 0.1, (@3)",
		"MEM:SOUR:DEL:AUTO ON, (@3)",
		"MEM:SOUR:DEL SING,0.5,(@3)",
		"MEM:CURR:SOUR -0.05, (@3)",
		"MEM:CURR:SOUR 0, (@3)",
		"MEM:CONF:POIN 1,8,4,(@3)",
		"MEM:LIST:STOR (@3)",
	}
	if diff := cmp.Diff(expected, sim.Trace()); diff != "" {
		t.Errorf("command stream mismatch (-want +got):\n%s", diff)
	}
}

func TestProgramPulseNeverTouchesOutput(t *testing.T) {
	sim := keysight.NewSimU2723()
	u := keysight.NewU2723(sim)
	if err := u.ProgramPulseVoltage(1, 5, 10); err != nil {
		t.Fatalf("ProgramPulseVoltage: %v", err)
	}
	for _, cmd := range sim.Trace() {
		if cmd == "MEM:OUTP ON, (@1)" || cmd == "MEM:OUTP OFF, (@1)" {
			t.Errorf("pulse program must not switch the output: %q", cmd)
		}
	}
}

func TestProgramRejectsUnknownList(t *testing.T) {
	sim := keysight.NewSimU2723()
	u := keysight.NewU2723(sim)
	err := u.ProgramSourceVoltageMeasureCurrent(1, 1, keysight.WithMemoryList(3))
	var se keysight.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if len(sim.Trace()) != 0 {
		t.Errorf("rejected request reached the wire: %v", sim.Trace())
	}
}

func TestReadMemoryListResults(t *testing.T) {
	sim := keysight.NewSimU2723()
	sim.MemoryData[0] = []float64{0.001, 0.002}
	u := keysight.NewU2723(sim)
	got, err := u.ReadMemoryListResults(1)
	if err != nil {
		t.Fatalf("ReadMemoryListResults: %v", err)
	}
	if diff := cmp.Diff([]float64{0.001, 0.002}, got); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	// an empty buffer answers the no-measurement marker
	got, err = u.ReadMemoryListResults(2)
	if err != nil {
		t.Fatalf("ReadMemoryListResults: %v", err)
	}
	if len(got) != 1 || got[0] != 9.99999999e10 {
		t.Errorf("expected the no-measurement marker, got %v", got)
	}
}
