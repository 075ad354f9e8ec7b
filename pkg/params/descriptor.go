package params

import (
	"fmt"
	"regexp"
)

// Kind is the value type of a parameter.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindList
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Widget hints used by UIs rendering a parameter form.
const (
	WidgetText     = "textfield"
	WidgetTextArea = "textarea"
	WidgetNumber   = "numberfield"
	WidgetCheckbox = "checkbox"
	WidgetFile     = "filefield"
)

// Descriptor declares one typed step parameter. It is read-only once the
// owning provider is registered.
type Descriptor struct {
	Name        string
	Label       string
	Description string
	Widget      string
	Kind        Kind
	Default     any
	Required    bool

	// Delimiter and StripPattern apply to KindList only.
	Delimiter    string
	StripPattern string

	// Min and Max apply to KindInt and KindFloat only.
	Min *float64
	Max *float64

	strip *regexp.Regexp
}

// Option customizes a Descriptor at declaration time.
type Option func(*Descriptor)

// Default sets the value used when the parameter is absent.
func Default(v any) Option {
	return func(d *Descriptor) { d.Default = v }
}

// Required marks the parameter as mandatory.
func Required() Option {
	return func(d *Descriptor) { d.Required = true }
}

// Range bounds a numeric parameter.
func Range(minValue, maxValue float64) Option {
	return func(d *Descriptor) {
		d.Min = &minValue
		d.Max = &maxValue
	}
}

// Min sets only the lower bound of a numeric parameter.
func Min(minValue float64) Option {
	return func(d *Descriptor) { d.Min = &minValue }
}

// Strip removes matches of pattern from every token of a list parameter.
func Strip(pattern string) Option {
	return func(d *Descriptor) { d.StripPattern = pattern }
}

// Widget overrides the default UI hint.
func Widget(w string) Option {
	return func(d *Descriptor) { d.Widget = w }
}

func newDescriptor(kind Kind, widget, name, label, description string, opts []Option) Descriptor {
	d := Descriptor{
		Name:        name,
		Label:       label,
		Description: description,
		Widget:      widget,
		Kind:        kind,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// String declares a free-text parameter.
func String(name, label, description string, opts ...Option) Descriptor {
	return newDescriptor(KindString, WidgetText, name, label, description, opts)
}

// Int declares an integer parameter.
func Int(name, label, description string, opts ...Option) Descriptor {
	return newDescriptor(KindInt, WidgetNumber, name, label, description, opts)
}

// Float declares a floating point parameter.
func Float(name, label, description string, opts ...Option) Descriptor {
	return newDescriptor(KindFloat, WidgetNumber, name, label, description, opts)
}

// Bool declares a checkbox parameter.
func Bool(name, label, description string, opts ...Option) Descriptor {
	return newDescriptor(KindBool, WidgetCheckbox, name, label, description, opts)
}

// List declares a delimiter separated list parameter.
func List(name, label, description, delimiter string, opts ...Option) Descriptor {
	d := newDescriptor(KindList, WidgetTextArea, name, label, description, opts)
	d.Delimiter = delimiter
	return d
}

// File declares a parameter referencing a file.
func File(name, label, description string, opts ...Option) Descriptor {
	return newDescriptor(KindFile, WidgetFile, name, label, description, opts)
}

// Validate checks the descriptor is internally consistent and compiles its
// strip pattern. Providers call it once at registration time.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("parameter name is required")
	}

	if d.Kind == KindList {
		if d.Delimiter == "" {
			return fmt.Errorf("parameter %q: list parameters require a delimiter", d.Name)
		}
		if d.StripPattern != "" {
			re, err := regexp.Compile(d.StripPattern)
			if err != nil {
				return fmt.Errorf("parameter %q: compiling strip pattern: %w", d.Name, err)
			}
			d.strip = re
		}
	} else {
		if d.Delimiter != "" {
			return fmt.Errorf("parameter %q: delimiter is only valid for list parameters", d.Name)
		}
		if d.StripPattern != "" {
			return fmt.Errorf("parameter %q: strip pattern is only valid for list parameters", d.Name)
		}
	}

	if (d.Min != nil || d.Max != nil) && d.Kind != KindInt && d.Kind != KindFloat {
		return fmt.Errorf("parameter %q: range is only valid for numeric parameters", d.Name)
	}
	if d.Min != nil && d.Max != nil && *d.Min > *d.Max {
		return fmt.Errorf("parameter %q: min %v is greater than max %v", d.Name, *d.Min, *d.Max)
	}

	if d.Default != nil {
		v, err := d.coerce(d.Default)
		if err != nil {
			return fmt.Errorf("parameter %q: invalid default: %w", d.Name, err)
		}
		if err := d.checkRange(v); err != nil {
			return fmt.Errorf("parameter %q: invalid default: %w", d.Name, err)
		}
	}

	return nil
}
