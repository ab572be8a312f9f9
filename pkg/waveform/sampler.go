// Package waveform computes the instantaneous three-phase samples carried in
// each SV dataset.
package waveform

import (
	"fmt"
	"math"
)

const (
	// SamplesPerCycle is the 9-2LE protection profile rate.
	SamplesPerCycle = 80

	// engineering-unit scaling: 1 mA per LSB for currents, 10 mV per LSB for voltages
	CurrentScale = 1000
	VoltageScale = 100
)

// Role separates current from voltage channels.
type Role uint8

const (
	RoleCurrent Role = iota
	RoleVoltage
)

func (r Role) String() string {
	switch r {
	case RoleCurrent:
		return "current"
	case RoleVoltage:
		return "voltage"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Channel is one dataset entry. Phase is 0..2 for A..C; neutral channels
// always sample to zero.
type Channel struct {
	Name    string
	Role    Role
	Phase   int
	Neutral bool
}

// Channels is the dataset order written into every frame.
var Channels = [8]Channel{
	{Name: "Ia", Role: RoleCurrent, Phase: 0},
	{Name: "Ib", Role: RoleCurrent, Phase: 1},
	{Name: "Ic", Role: RoleCurrent, Phase: 2},
	{Name: "In", Role: RoleCurrent, Phase: 3, Neutral: true},
	{Name: "Va", Role: RoleVoltage, Phase: 0},
	{Name: "Vb", Role: RoleVoltage, Phase: 1},
	{Name: "Vc", Role: RoleVoltage, Phase: 2},
	{Name: "Vn", Role: RoleVoltage, Phase: 3, Neutral: true},
}

// Params are the electrical parameters shared by every channel.
type Params struct {
	FrequencyHz float64
	CurrentRMS  float64
	VoltageRMS  float64
}

// SamplingRate returns samples per second.
func (p Params) SamplingRate() float64 {
	return SamplesPerCycle * p.FrequencyHz
}

// PhaseOffset returns the phase shift in radians for a phase index.
func PhaseOffset(phase int) float64 {
	return 2 * math.Pi / 3 * float64(phase)
}

// OverflowError is returned when a scaled sample does not fit an int32.
type OverflowError struct {
	Channel string
	Step    int
	Value   float64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("sample %s at step %d: %g does not fit in int32", e.Channel, e.Step, e.Value)
}

// Sample returns the scaled, rounded sample for ch at the given time step.
func Sample(ch Channel, step int, p Params) (int32, error) {
	if ch.Neutral {
		return 0, nil
	}
	angle := 2*math.Pi*p.FrequencyHz*float64(step)/p.SamplingRate() + PhaseOffset(ch.Phase)

	var v float64
	switch ch.Role {
	case RoleCurrent:
		v = CurrentScale * p.CurrentRMS * math.Sqrt2 * math.Sin(angle)
	case RoleVoltage:
		v = VoltageScale * p.VoltageRMS * math.Sqrt2 * math.Cos(angle)
	default:
		return 0, fmt.Errorf("channel %s: unknown role %v", ch.Name, ch.Role)
	}

	v = math.Round(v)
	if math.IsNaN(v) || v > math.MaxInt32 || v < math.MinInt32 {
		return 0, &OverflowError{Channel: ch.Name, Step: step, Value: v}
	}
	return int32(v), nil
}
