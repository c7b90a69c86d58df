// Package errs defines the error taxonomy shared by the modeling core.
//
// Configuration and shape errors are detected at construction time and are
// fatal to the caller. Numerical errors abort a training run; they carry the
// epoch and batch where the non-finite value appeared.
package errs

import "fmt"

// ConfigurationError reports an invalid construction-time option. Param names
// the offending option so the caller can correct it without guessing.
type ConfigurationError struct {
	Param  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("bioproc: invalid configuration %s=%v: %s", e.Param, e.Value, e.Reason)
}

// Configuration builds a ConfigurationError.
func Configuration(param string, value any, reason string) *ConfigurationError {
	return &ConfigurationError{Param: param, Value: value, Reason: reason}
}

// NumericalError reports a non-finite value produced during integration or
// training. Epoch and Batch are -1 when the failure happened outside the
// training loop.
type NumericalError struct {
	Where string
	Epoch int
	Batch int
}

func (e *NumericalError) Error() string {
	if e.Epoch >= 0 {
		return fmt.Sprintf("bioproc: non-finite value in %s (epoch %d, batch %d)", e.Where, e.Epoch, e.Batch)
	}
	return fmt.Sprintf("bioproc: non-finite value in %s", e.Where)
}

// Numerical builds a NumericalError outside any training context.
func Numerical(where string) *NumericalError {
	return &NumericalError{Where: where, Epoch: -1, Batch: -1}
}

// DataShapeError reports a state/channel dimension mismatch between the
// mechanistic and learner components, or between a dataset and the model.
type DataShapeError struct {
	Context string
	Want    int
	Got     int
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("bioproc: dimension mismatch in %s: want %d, got %d", e.Context, e.Want, e.Got)
}

// Shape builds a DataShapeError.
func Shape(context string, want, got int) *DataShapeError {
	return &DataShapeError{Context: context, Want: want, Got: got}
}
