package scpi_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ammarkh95/gopm/comm"
	"github.com/ammarkh95/gopm/scpi"
)

// script is a canned comm.Session; replies maps commands to responses
// and errq feeds SYST:ERR? one record at a time.
type script struct {
	replies map[string]string
	errq    []string
	wrote   []string
	err     error
}

func (s *script) Write(cmd string) error {
	if s.err != nil {
		return s.err
	}
	s.wrote = append(s.wrote, cmd)
	return nil
}

func (s *script) Query(cmd string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.wrote = append(s.wrote, cmd)
	if cmd == "SYST:ERR?" && len(s.errq) > 0 {
		head := s.errq[0]
		s.errq = s.errq[1:]
		return head, nil
	}
	return s.replies[cmd], nil
}

func (s *script) Close() error { return nil }

func TestWriteJoinsWithSpaces(t *testing.T) {
	sess := &script{}
	s := scpi.SCPI{Session: sess}
	err := s.Write("CONF:VOLT:DC", "AUTO")
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.wrote) != 1 || sess.wrote[0] != "CONF:VOLT:DC AUTO" {
		t.Errorf("wrote %v, want one command joined by a space", sess.wrote)
	}
}

func TestHandshakingChecksErrorReply(t *testing.T) {
	sess := &script{replies: map[string]string{
		"*CLS; OUTP:STAT ON ;:SYSTem:ERRor?": `+0,"No error"`,
	}}
	s := scpi.SCPI{Session: sess, Handshaking: true}
	if err := s.Write("OUTP:STAT ON"); err != nil {
		t.Errorf("clean handshake returned error %v", err)
	}

	sess = &script{replies: map[string]string{
		"*CLS; OUTP:STAT ON ;:SYSTem:ERRor?": `-113,"Undefined header"`,
	}}
	s = scpi.SCPI{Session: sess, Handshaking: true}
	err := s.Write("OUTP:STAT ON")
	if err == nil {
		t.Fatal("handshake with device error reported success")
	}
	if err.Error() != `-113,"Undefined header"` {
		t.Errorf("device error text mangled: %q", err.Error())
	}
}

func TestReadFloat(t *testing.T) {
	sess := &script{replies: map[string]string{"VOLT?": "+2.997000E+00"}}
	s := scpi.SCPI{Session: sess}
	f, err := s.ReadFloat("VOLT?")
	if err != nil {
		t.Fatal(err)
	}
	if f != 2.997 {
		t.Errorf("got %v, want 2.997", f)
	}
}

func TestReadFloatsSplitsCSV(t *testing.T) {
	sess := &script{replies: map[string]string{
		"MEAS:ARR:CURR? (@1)": "1.0,2.5,3.25",
	}}
	s := scpi.SCPI{Session: sess}
	got, err := s.ReadFloats("MEAS:ARR:CURR? (@1)")
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 2.5, 3.25}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("array parse mismatch (-want +got):\n%s", diff)
	}
}

func TestReadFloatBadReplyIsCommError(t *testing.T) {
	sess := &script{replies: map[string]string{"VOLT?": "garbage"}}
	s := scpi.SCPI{Session: sess}
	_, err := s.ReadFloat("VOLT?")
	var ce *comm.Error
	if !errors.As(err, &ce) {
		t.Errorf("unparsable reply produced %T, want *comm.Error", err)
	}
}

func TestReadIntAcceptsLeadingPlus(t *testing.T) {
	sess := &script{replies: map[string]string{"STAT:QUES?": "+514"}}
	s := scpi.SCPI{Session: sess}
	i, err := s.ReadInt("STAT:QUES?")
	if err != nil {
		t.Fatal(err)
	}
	if i != 514 {
		t.Errorf("got %d, want 514", i)
	}
}

func TestRawRoutesQueriesAndCommands(t *testing.T) {
	sess := &script{replies: map[string]string{"*IDN?": "Keysight,U3606B"}}
	s := scpi.SCPI{Session: sess}
	resp, err := s.Raw("*IDN?")
	if err != nil {
		t.Fatal(err)
	}
	if resp != "Keysight,U3606B" {
		t.Errorf("query response %q", resp)
	}
	resp, err = s.Raw("*RST")
	if err != nil {
		t.Fatal(err)
	}
	if resp != "" {
		t.Errorf("bare command returned response %q", resp)
	}
}

func TestAllErrorsDrainsQueue(t *testing.T) {
	sess := &script{errq: []string{
		`-113,"Undefined header"`,
		`-222,"Data out of range"`,
		`+0,"No error"`,
	}}
	s := scpi.SCPI{Session: sess}
	errs := s.AllErrors()
	if len(errs) != 2 {
		t.Fatalf("drained %d errors, want 2: %v", len(errs), errs)
	}
	if errs[0].Error() != `-113,"Undefined header"` {
		t.Errorf("first error text mangled: %q", errs[0])
	}
}

func TestWriteFailureIsCommError(t *testing.T) {
	boom := errors.New("endpoint stalled")
	sess := &script{err: boom}
	s := scpi.SCPI{Session: sess}
	err := s.Write("OUTP:STAT ON")
	var ce *comm.Error
	if !errors.As(err, &ce) {
		t.Fatalf("transport failure produced %T, want *comm.Error", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("underlying cause lost: %v", err)
	}
}
