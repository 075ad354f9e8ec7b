package params

import "fmt"

// MissingParameterError reports a required parameter that was not supplied.
type MissingParameterError struct {
	Name  string
	Label string
}

func (e *MissingParameterError) Error() string {
	if e.Label != "" && e.Label != e.Name {
		return fmt.Sprintf("missing required parameter %q (%s)", e.Name, e.Label)
	}
	return fmt.Sprintf("missing required parameter %q", e.Name)
}

// InvalidParameterError reports a supplied value that cannot be used.
type InvalidParameterError struct {
	Name   string
	Value  any
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid value %v for parameter %q: %s", e.Value, e.Name, e.Reason)
}
