package svgen

import (
	"bytes"
	"fmt"
	"math"
	"net"
	"os"
	"runtime"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"

	"github.com/takehaya/svpcap/pkg/sv"
	"github.com/takehaya/svpcap/pkg/waveform"
)

const (
	MinAppID         = 0x4000
	MaxAppID         = 0x4FFF
	MinDigits        = 1
	MaxDigits        = 8
	MaxIterations    = 65536
	MaxSamplingRate  = 1_000_000 // one sample per microsecond timestamp tick
	samplingRateSlop = 1e-9
)

// Params are the raw generation parameters as given on the command line or
// in a YAML file. Wide signed types let Validate report out-of-range input
// instead of silently truncating it.
type Params struct {
	AppID          int64   `yaml:"app_id" default:"16384"`
	StartID        int64   `yaml:"start_id"`
	StreamCount    int64   `yaml:"streams" default:"64"`
	Prefix         string  `yaml:"prefix" default:"svID"`
	Digits         int     `yaml:"digits" default:"4"`
	Iterations     int64   `yaml:"loop" default:"4000"`
	FrequencyHz    float64 `yaml:"frequency" default:"60"`
	CurrentRMS     float64 `yaml:"i_rms" default:"1"`
	VoltageRMS     float64 `yaml:"v_rms" default:"57"`
	DstMAC         string  `yaml:"dst_mac" default:"01:0c:cd:04:00:01"`
	SrcMAC         string  `yaml:"src_mac" default:"c4:b5:12:00:00:01"`
	Workers        int     `yaml:"workers"`
	MaxOutputBytes int64   `yaml:"max_output_bytes" default:"1073741824"`
}

// DefaultParams returns Params populated from the default tags.
func DefaultParams() Params {
	var p Params
	defaults.SetDefaults(&p)
	return p
}

// LoadParams reads a YAML parameter file on top of the defaults. Unknown keys
// are rejected.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, &IOError{Op: "read", Path: path, Err: err}
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("parse %s: %w", path, err)
	}
	return p, nil
}

// Config is a validated, immutable generation configuration.
type Config struct {
	AppID          uint16
	StartID        uint32
	StreamCount    uint32
	Prefix         string
	Digits         int
	Iterations     int
	Waveform       waveform.Params
	DstMAC         net.HardwareAddr
	SrcMAC         net.HardwareAddr
	Workers        int
	MaxOutputBytes int64
}

// SamplingRate is the integral number of samples per second.
func (c Config) SamplingRate() int {
	return int(math.Round(c.Waveform.SamplingRate()))
}

// SvID returns the identifier of the given stream index (0-based).
func (c Config) SvID(stream int) string {
	return fmt.Sprintf("%s%0*d", c.Prefix, c.Digits, int(c.StartID)+stream)
}

// SvIDLen is the byte length shared by every identifier of the run.
func (c Config) SvIDLen() int {
	return len(c.Prefix) + c.Digits
}

// RecordLen is the size of one capture record, record header included.
func (c Config) RecordLen() (int, error) {
	l, err := sv.NewLayout(c.SvIDLen())
	if err != nil {
		return 0, err
	}
	return RecordHeaderLength + EthernetHeaderLength + l.Length, nil
}

// OutputSize is the exact size of the capture file this config produces.
func (c Config) OutputSize() (int64, error) {
	rl, err := c.RecordLen()
	if err != nil {
		return 0, err
	}
	return PcapHeaderLength + int64(c.Iterations)*int64(c.StreamCount)*int64(rl), nil
}

// Validate runs every range check in a fixed order and returns the first
// violation.
func (p Params) Validate() (Config, error) {
	fail := func(c Constraint, field string, value interface{}, format string, args ...interface{}) (Config, error) {
		return Config{}, &ConfigError{Constraint: c, Field: field, Value: value, Reason: fmt.Sprintf(format, args...)}
	}

	for i := 0; i < len(p.Prefix); i++ {
		if p.Prefix[i] > 0x7F {
			return fail(ConstraintASCII, "id prefix", fmt.Sprintf("%q", p.Prefix), "must be an ASCII string")
		}
	}
	if p.Digits < MinDigits || p.Digits > MaxDigits {
		return fail(ConstraintDigits, "digits", p.Digits, "must be between %d and %d", MinDigits, MaxDigits)
	}
	if p.AppID < MinAppID || p.AppID > MaxAppID {
		return fail(ConstraintAppID, "app id", fmt.Sprintf("0x%X", p.AppID), "must be between 0x%X and 0x%X", MinAppID, MaxAppID)
	}
	idMax := int64(math.Pow10(p.Digits)) - 1
	if p.StartID < 0 || p.StartID > idMax || p.StreamCount > idMax-p.StartID {
		return fail(ConstraintIDRange, "start id", p.StartID, "start id + %d streams must stay within [0, %d]", p.StreamCount, idMax)
	}
	if p.StreamCount < 1 || p.StreamCount > idMax {
		return fail(ConstraintStreamCount, "streams", p.StreamCount, "must be between 1 and %d", idMax)
	}
	if p.Iterations < 1 || p.Iterations > MaxIterations {
		return fail(ConstraintIterations, "loop", p.Iterations, "must be between 1 and %d", MaxIterations)
	}
	if math.IsNaN(p.FrequencyHz) || math.IsInf(p.FrequencyHz, 0) || p.FrequencyHz <= 0 {
		return fail(ConstraintFrequency, "frequency", p.FrequencyHz, "must be greater than 0")
	}
	rate := waveform.SamplesPerCycle * p.FrequencyHz
	if math.Abs(rate-math.Round(rate)) > samplingRateSlop || math.Round(rate) < 1 {
		return fail(ConstraintSamplingRate, "frequency", p.FrequencyHz,
			"sampling rate %d x %g = %g samples/s must be a positive integer", waveform.SamplesPerCycle, p.FrequencyHz, rate)
	}
	if math.Round(rate) > MaxSamplingRate {
		return fail(ConstraintSamplingRate, "frequency", p.FrequencyHz,
			"sampling rate %g samples/s exceeds %d (microsecond timestamps would collide)", rate, MaxSamplingRate)
	}
	// stream s is stamped s microseconds after its iteration, all inside one sample period
	if period := MaxSamplingRate / int64(math.Round(rate)); p.StreamCount > period {
		return fail(ConstraintStreamSpacing, "streams", p.StreamCount,
			"at %g samples/s one sample period holds at most %d streams 1us apart", rate, period)
	}
	for _, rms := range []struct {
		name  string
		value float64
	}{{"i rms", p.CurrentRMS}, {"v rms", p.VoltageRMS}} {
		if math.IsNaN(rms.value) || math.IsInf(rms.value, 0) || rms.value < 0 {
			return fail(ConstraintRMS, rms.name, rms.value, "must be a finite value >= 0")
		}
	}
	if n := len(p.Prefix) + p.Digits; n > sv.MaxSvIDLength {
		return fail(ConstraintSvIDLength, "id prefix", len(p.Prefix), "svID length %d exceeds %d bytes", n, sv.MaxSvIDLength)
	}

	dst, err := net.ParseMAC(p.DstMAC)
	if err != nil || !sv.IsMulticastAddr(dst) {
		return fail(ConstraintMAC, "dst mac", p.DstMAC, "must be an SV multicast address in %s-%s", sv.MulticastFirst, sv.MulticastLast)
	}
	src, err := net.ParseMAC(p.SrcMAC)
	if err != nil || len(src) != 6 || src[0]&0x01 != 0 {
		return fail(ConstraintMAC, "src mac", p.SrcMAC, "must be a 6-byte unicast address")
	}

	if p.Workers < 0 {
		return fail(ConstraintWorkers, "workers", p.Workers, "must be >= 0")
	}
	workers := p.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	cfg := Config{
		AppID:       uint16(p.AppID),
		StartID:     uint32(p.StartID),
		StreamCount: uint32(p.StreamCount),
		Prefix:      p.Prefix,
		Digits:      p.Digits,
		Iterations:  int(p.Iterations),
		Waveform: waveform.Params{
			FrequencyHz: p.FrequencyHz,
			CurrentRMS:  p.CurrentRMS,
			VoltageRMS:  p.VoltageRMS,
		},
		DstMAC:         dst,
		SrcMAC:         src,
		Workers:        workers,
		MaxOutputBytes: p.MaxOutputBytes,
	}

	size, err := cfg.OutputSize()
	if err != nil {
		return fail(ConstraintSvIDLength, "id prefix", len(p.Prefix), "%v", err)
	}
	if size > math.MaxInt || (p.MaxOutputBytes > 0 && size > p.MaxOutputBytes) {
		return fail(ConstraintOutputSize, "output size", size, "exceeds limit of %d bytes", p.MaxOutputBytes)
	}
	return cfg, nil
}
