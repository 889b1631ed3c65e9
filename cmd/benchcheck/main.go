// benchcheck exercises the bench instruments end to end: identify each
// one, take a reading, optionally run a sweep, and quiet everything on
// the way out.  It exits nonzero if any instrument misbehaves, so it
// can gate automated test runs.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/theckman/yacspin"

	"github.com/ammarkh95/gopm/keysight"
)

var (
	u3606Serial = flag.String("u3606", "", "serial number of the U3606 to check, empty to skip")
	u2723Serial = flag.String("u2723", "", "serial number of the U2723 to check, empty to skip")
	sweep       = flag.Bool("sweep", false, "run a channel 1 sweep on the U2723")
	points      = flag.Int("points", 100, "sweep points")
	interval    = flag.Int("interval", 10, "sweep interval, ms")
	mock        = flag.Bool("mock", false, "use simulated instruments instead of USB")
)

func openSupply() (*keysight.Supply, error) {
	cfg := keysight.SupplyConfig{
		Serial: *u3606Serial,
		Meter:  &keysight.MeterConfig{Mode: keysight.MeterVoltage},
	}
	if *mock {
		return keysight.NewSupply(keysight.NewSimU3606(), cfg)
	}
	return keysight.OpenSupply(cfg)
}

func openSMU() (*keysight.SourceMeasure, error) {
	cfg := keysight.SourceMeasureConfig{Serial: *u2723Serial}
	if *mock {
		return keysight.NewSourceMeasure(keysight.NewSimU2723(), cfg)
	}
	return keysight.OpenSourceMeasure(cfg)
}

func checkSupply() error {
	s, err := openSupply()
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Println("u3606 teardown:", err)
		}
	}()
	id, err := s.Identification()
	if err != nil {
		return err
	}
	fmt.Println("U3606:", id)
	v, err := s.Read()
	if err != nil {
		return err
	}
	fmt.Printf("U3606 reading: %g V\n", v)
	return nil
}

func stats(fs []float64) (min, mean, max float64) {
	min = math.Inf(1)
	max = math.Inf(-1)
	var sum float64
	for _, f := range fs {
		if f < min {
			min = f
		}
		if f > max {
			max = f
		}
		sum += f
	}
	if len(fs) > 0 {
		mean = sum / float64(len(fs))
	}
	return min, mean, max
}

func sweepChannel1(m *keysight.SourceMeasure) error {
	if err := m.ConfigureSweep(1, *points, *interval); err != nil {
		return err
	}
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[59],
		Suffix:            fmt.Sprintf(" sweeping channel 1, %d points", *points),
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return err
	}
	spinner.Start()
	fs, err := m.MeasureCurrentArray(1)
	if err != nil {
		spinner.StopFail()
		return err
	}
	spinner.Stop()
	min, mean, max := stats(fs)
	fmt.Printf("%d points: min %g  mean %g  max %g A\n", len(fs), min, mean, max)
	return nil
}

func checkSMU() error {
	m, err := openSMU()
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Println("u2723 teardown:", err)
		}
	}()
	id, err := m.Identification()
	if err != nil {
		return err
	}
	fmt.Println("U2723:", id)
	v, err := m.MeasureVoltage(1)
	if err != nil {
		return err
	}
	fmt.Printf("U2723 channel 1: %g V\n", v)
	if *sweep {
		return sweepChannel1(m)
	}
	return nil
}

func main() {
	flag.Parse()
	if *u3606Serial == "" && *u2723Serial == "" && !*mock {
		fmt.Println("benchcheck: nothing to do; name an instrument or pass -mock")
		flag.Usage()
		os.Exit(2)
	}
	failed := false
	if *u3606Serial != "" || *mock {
		if err := checkSupply(); err != nil {
			log.Println("u3606:", err)
			failed = true
		}
	}
	if *u2723Serial != "" || *mock {
		if err := checkSMU(); err != nil {
			log.Println("u2723:", err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}
