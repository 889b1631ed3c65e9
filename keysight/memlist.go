package keysight

import "fmt"

// MemoryList names one of the two stored command lists per channel.
type MemoryList int

const (
	Mem1 MemoryList = 1
	Mem2 MemoryList = 2
)

// memProgram collects the tunable parts of a memory list program.
// Defaults differ per program and are set before options run.
type memProgram struct {
	list    MemoryList
	count   int
	delayMS float64
	loops   int
	vLimit  float64
	iLimit  float64
	vRange  VoltageRange
	iRange  CurrentRange
}

// MemoryOption adjusts a memory list program.
type MemoryOption func(*memProgram)

// WithMemoryList selects which of the channel's two lists to program.
func WithMemoryList(l MemoryList) MemoryOption {
	return func(p *memProgram) { p.list = l }
}

// WithMeasureCount sets how many measurement steps the list records.
// The result buffer holds 200 readings before wrapping.
func WithMeasureCount(n int) MemoryOption {
	return func(p *memProgram) { p.count = n }
}

// WithMeasureDelay inserts a single delay step of ms milliseconds
// before the measurements.
func WithMeasureDelay(ms float64) MemoryOption {
	return func(p *memProgram) { p.delayMS = ms }
}

// WithLoops repeats a pulse program n times per trigger.
func WithLoops(n int) MemoryOption {
	return func(p *memProgram) { p.loops = n }
}

// WithVoltageLimit overrides the programmed voltage limit.
func WithVoltageLimit(volts float64) MemoryOption {
	return func(p *memProgram) { p.vLimit = volts }
}

// WithCurrentLimit overrides the programmed current limit.
func WithCurrentLimit(amps float64) MemoryOption {
	return func(p *memProgram) { p.iLimit = amps }
}

// WithRanges overrides the source ranges used by the program.
func WithRanges(vr VoltageRange, cr CurrentRange) MemoryOption {
	return func(p *memProgram) {
		p.vRange = vr
		p.iRange = cr
	}
}

func (p *memProgram) apply(op string, opts []MemoryOption) error {
	for _, o := range opts {
		o(p)
	}
	if p.list != Mem1 && p.list != Mem2 {
		return StateError{Op: op, Reason: fmt.Sprintf("no memory list %d on this unit", p.list)}
	}
	if p.count < 1 {
		return StateError{Op: op, Reason: "measure count must be positive"}
	}
	if p.loops < 1 {
		return StateError{Op: op, Reason: "loop count must be positive"}
	}
	return nil
}

func (u *U2723) programList(cmds []string) error {
	for _, c := range cmds {
		if err := u.Write(c); err != nil {
			return err
		}
	}
	return nil
}

// ProgramSourceVoltageMeasureCurrent stores a source-then-measure
// program in a channel memory list: select and clear the list, apply
// ranges and the current limit, source volts with the output on, take
// the configured number of current readings and switch the output back
// off.  Execute it later with TriggerMemoryList.
func (u *U2723) ProgramSourceVoltageMeasureCurrent(ch int, volts float64, opts ...MemoryOption) error {
	const op = "program source voltage measure current"
	if err := validChannel(op, ch); err != nil {
		return err
	}
	if volts < -MaxSMUVoltage || volts > MaxSMUVoltage {
		return RangeError{Op: op, Value: volts, Min: -MaxSMUVoltage, Max: MaxSMUVoltage}
	}
	p := memProgram{list: Mem1, count: 1, loops: 1, iLimit: 0.1, vRange: Range20V, iRange: Range120mA}
	if err := p.apply(op, opts); err != nil {
		return err
	}
	cmds := []string{
		fmt.Sprintf("MEM:LIST %d, (@%d)", p.list, ch),
		fmt.Sprintf("MEM:LIST:CLEAR (@%d)", ch),
		fmt.Sprintf("MEM:VOLT:RANG %s, (@%d)", p.vRange, ch),
		fmt.Sprintf("MEM:CURR:RANG %s, (@%d)", p.iRange, ch),
		fmt.Sprintf("MEM:CURR:LIM %s, (@%d)", ftoa(p.iLimit), ch),
		fmt.Sprintf("MEM:SOUR:DEL:AUTO ON, (@%d)", ch),
		fmt.Sprintf("MEM:VOLT:SOUR %s, (@%d)", ftoa(volts), ch),
		fmt.Sprintf("MEM:OUTP ON, (@%d)", ch),
	}
	if p.delayMS > 0 {
		cmds = append(cmds,
			fmt.Sprintf("MEM:SOUR:DEL SING,%s,(@%d)", ftoa(p.delayMS), ch),
			fmt.Sprintf("MEM:VOLT:SOUR %s, (@%d)", ftoa(volts), ch))
	}
	for n := 0; n < p.count; n++ {
		cmds = append(cmds, fmt.Sprintf("MEM:CURR:MEAS (@%d)", ch))
	}
	cmds = append(cmds,
		fmt.Sprintf("MEM:OUTP OFF, (@%d)", ch),
		fmt.Sprintf("MEM:LIST:STOR (@%d)", ch))
	return u.programList(cmds)
}

// ProgramSourceCurrentMeasureVoltage is the mirror image: source amps,
// measure voltage, bounded by the voltage limit (5 V unless overridden).
func (u *U2723) ProgramSourceCurrentMeasureVoltage(ch int, amps float64, opts ...MemoryOption) error {
	const op = "program source current measure voltage"
	if err := validChannel(op, ch); err != nil {
		return err
	}
	if amps < -MaxSMUCurrent || amps > MaxSMUCurrent {
		return RangeError{Op: op, Value: amps, Min: -MaxSMUCurrent, Max: MaxSMUCurrent}
	}
	p := memProgram{list: Mem1, count: 1, loops: 1, vLimit: 5, vRange: Range20V, iRange: Range120mA}
	if err := p.apply(op, opts); err != nil {
		return err
	}
	cmds := []string{
		fmt.Sprintf("MEM:LIST %d, (@%d)", p.list, ch),
		fmt.Sprintf("MEM:LIST:CLEAR (@%d)", ch),
		fmt.Sprintf("MEM:VOLT:RANG %s, (@%d)", p.vRange, ch),
		fmt.Sprintf("MEM:CURR:RANG %s, (@%d)", p.iRange, ch),
		fmt.Sprintf("MEM:VOLT:LIM %s, (@%d)", ftoa(p.vLimit), ch),
		fmt.Sprintf("MEM:SOUR:DEL:AUTO ON, (@%d)", ch),
		fmt.Sprintf("MEM:CURR:SOUR %s, (@%d)", ftoa(amps), ch),
		fmt.Sprintf("MEM:OUTP ON, (@%d)", ch),
	}
	if p.delayMS > 0 {
		cmds = append(cmds,
			fmt.Sprintf("MEM:SOUR:DEL SING,%s,(@%d)", ftoa(p.delayMS), ch),
			fmt.Sprintf("MEM:CURR:SOUR %s, (@%d)", ftoa(amps), ch))
	}
	for n := 0; n < p.count; n++ {
		cmds = append(cmds, fmt.Sprintf("MEM:VOLT:MEAS (@%d)", ch))
	}
	cmds = append(cmds,
		fmt.Sprintf("MEM:OUTP OFF, (@%d)", ch),
		fmt.Sprintf("MEM:LIST:STOR (@%d)", ch))
	return u.programList(cmds)
}

// pulseProgram writes the shared pulse sequence; source templates carry
// either VOLT or CURR.
func (u *U2723) pulseProgram(ch int, quantity string, peak, widthMS float64, p memProgram) error {
	return u.programList([]string{
		fmt.Sprintf("MEM:LIST %d, (@%d)", p.list, ch),
		fmt.Sprintf("MEM:LIST:CLEAR (@%d)", ch),
		fmt.Sprintf("MEM:VOLT:RANG %s, (@%d)", p.vRange, ch),
		fmt.Sprintf("MEM:CURR:RANG %s, (@%d)", p.iRange, ch),
		fmt.Sprintf("MEM:VOLT:LIM %s, (@%d)", ftoa(p.vLimit), ch),
		fmt.Sprintf("MEM:CURR:LIM %s, (@%d)", ftoa(p.iLimit), ch),
		fmt.Sprintf("MEM:SOUR:DEL:AUTO ON, (@%d)", ch),
		fmt.Sprintf("MEM:SOUR:DEL SING,%s,(@%d)", ftoa(widthMS), ch),
		fmt.Sprintf("MEM:%s:SOUR %s, (@%d)", quantity, ftoa(peak), ch),
		fmt.Sprintf("MEM:%s:SOUR %s, (@%d)", quantity, ftoa(0), ch),
		fmt.Sprintf("MEM:CONF:POIN %d,%d,%d,(@%d)", 1, 8, p.loops, ch),
		fmt.Sprintf("MEM:LIST:STOR (@%d)", ch),
	})
}

// ProgramPulseCurrent stores a current pulse of the given peak and
// width: the level steps to peak, holds for widthMS, steps back to
// zero, looping per WithLoops.  Negative peaks sink current.  The
// program does not switch the channel output; enable it before
// triggering.
func (u *U2723) ProgramPulseCurrent(ch int, peak, widthMS float64, opts ...MemoryOption) error {
	const op = "program pulse current"
	if err := validChannel(op, ch); err != nil {
		return err
	}
	if peak < -MaxSMUCurrent || peak > MaxSMUCurrent {
		return RangeError{Op: op, Value: peak, Min: -MaxSMUCurrent, Max: MaxSMUCurrent}
	}
	p := memProgram{list: Mem1, count: 1, loops: 1, vLimit: 20, iLimit: 0.1, vRange: Range20V, iRange: Range120mA}
	if err := p.apply(op, opts); err != nil {
		return err
	}
	return u.pulseProgram(ch, "CURR", peak, widthMS, p)
}

// ProgramPulseVoltage stores a voltage pulse; see ProgramPulseCurrent.
func (u *U2723) ProgramPulseVoltage(ch int, peak, widthMS float64, opts ...MemoryOption) error {
	const op = "program pulse voltage"
	if err := validChannel(op, ch); err != nil {
		return err
	}
	if peak < -MaxSMUVoltage || peak > MaxSMUVoltage {
		return RangeError{Op: op, Value: peak, Min: -MaxSMUVoltage, Max: MaxSMUVoltage}
	}
	p := memProgram{list: Mem1, count: 1, loops: 1, vLimit: 20, iLimit: 0.1, vRange: Range20V, iRange: Range120mA}
	if err := p.apply(op, opts); err != nil {
		return err
	}
	return u.pulseProgram(ch, "VOLT", peak, widthMS, p)
}

// TriggerMemoryList executes the channel's active memory list.
func (u *U2723) TriggerMemoryList(ch int) error {
	if err := validChannel("trigger memory list", ch); err != nil {
		return err
	}
	return u.Write(fmt.Sprintf("MEM:TRIG (@%d)", ch))
}

// ReadMemoryListResults returns the readings recorded by the last
// memory list execution.  Steps that measured nothing report
// +9.99999999E+10; values are surfaced as parsed.
func (u *U2723) ReadMemoryListResults(ch int) ([]float64, error) {
	if err := validChannel("read memory list results", ch); err != nil {
		return nil, err
	}
	return u.ReadFloats(fmt.Sprintf("MEM:LIST:DATA? (@%d)", ch))
}
