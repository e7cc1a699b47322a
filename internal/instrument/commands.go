package instrument

import (
	"fmt"
	"math"
	"strconv"
)

// DefaultPort is the SCPI socket port of Keysight LAN instruments.
const DefaultPort = 5025

// SampleCapacity is the largest reading count accepted in continuous mode.
const SampleCapacity = "1E6"

const (
	CmdReset        = "*RST"
	CmdIdentify     = "*IDN?"
	CmdStart        = "INIT:IMM"
	CmdDataPoints   = "DATA:POIN?"
	CmdRemoveSample = "DATA:REM? 1"
	CmdSystemError  = "SYST:ERR?"
	// CmdSync is answered with "1" once every earlier command has completed.
	CmdSync = "*OPC?"
)

// Settings selects the input conditioning and gate of the measurement.
type Settings struct {
	Channel   string
	Coupling  string // AC or DC
	Impedance string // 50 or 1M
	GateTime  float64
}

// ConfigureCommands returns the command sequence that drives the counter into
// gap-free continuous frequency measurement. Order matters: the measurement
// function must be selected before mode, gate and trigger, and the command
// timeout must be disabled before a long gate is armed.
func ConfigureCommands(s Settings) ([]string, error) {
	if s.Channel == "" {
		return nil, fmt.Errorf("configure: empty input channel")
	}
	if !(s.GateTime > 0) || math.IsInf(s.GateTime, 1) {
		return nil, fmt.Errorf("configure: gate time %g must be positive and finite", s.GateTime)
	}

	impedance := "1.0E6"
	if s.Impedance == "50" {
		impedance = "50"
	}
	coupling := "DC"
	if s.Coupling == "AC" {
		coupling = "AC"
	}

	return []string{
		CmdReset,
		"DISP:DIG:MASK:AUTO OFF",
		fmt.Sprintf("INP%s:IMP %s", s.Channel, impedance),
		fmt.Sprintf("INP%s:COUP %s", s.Channel, coupling),
		"SYST:TIM INF",
		fmt.Sprintf("CONF:FREQ (@%s)", s.Channel),
		"SAMP:COUN " + SampleCapacity,
		"SENS:FREQ:MODE CONT",
		"SENS:FREQ:GATE:SOUR TIME",
		"SENS:FREQ:GATE:TIME " + strconv.FormatFloat(s.GateTime, 'g', -1, 64),
		"TRIG:SOUR IMM",
	}, nil
}
