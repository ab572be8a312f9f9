package svgen

import "fmt"

// Constraint identifies which generation parameter check failed.
type Constraint int

const (
	ConstraintASCII Constraint = iota + 1
	ConstraintDigits
	ConstraintAppID
	ConstraintIDRange
	ConstraintStreamCount
	ConstraintIterations
	ConstraintFrequency
	ConstraintSamplingRate
	ConstraintStreamSpacing
	ConstraintRMS
	ConstraintSvIDLength
	ConstraintMAC
	ConstraintWorkers
	ConstraintOutputSize
)

var constraintNames = map[Constraint]string{
	ConstraintASCII:         "ascii",
	ConstraintDigits:        "digits",
	ConstraintAppID:         "app-id",
	ConstraintIDRange:       "id-range",
	ConstraintStreamCount:   "stream-count",
	ConstraintIterations:    "iterations",
	ConstraintFrequency:     "frequency",
	ConstraintSamplingRate:  "sampling-rate",
	ConstraintStreamSpacing: "stream-spacing",
	ConstraintRMS:           "rms",
	ConstraintSvIDLength:    "svid-length",
	ConstraintMAC:           "mac",
	ConstraintWorkers:       "workers",
	ConstraintOutputSize:    "output-size",
}

func (c Constraint) String() string {
	if s, ok := constraintNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Constraint(%d)", int(c))
}

// ConfigError reports a parameter outside its documented domain. Nothing has
// been generated when it is returned.
type ConfigError struct {
	Constraint Constraint
	Field      string
	Value      interface{}
	Reason     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// EncodingError aborts a run when a field cannot be packed into its fixed
// width or the computed layout is inconsistent.
type EncodingError struct {
	Iteration int
	Stream    int
	Field     string
	Err       error
}

func (e *EncodingError) Error() string {
	if e.Iteration < 0 {
		return fmt.Sprintf("encode %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("encode %s (iteration %d, stream %d): %v", e.Field, e.Iteration, e.Stream, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// IOError wraps a failure to read or write a capture file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
