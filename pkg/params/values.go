package params

// Values holds the resolved parameters of one step instance, keyed by name.
type Values map[string]any

func (v Values) String(name string) string {
	s, _ := v[name].(string)
	return s
}

func (v Values) Int(name string) int {
	i, _ := v[name].(int)
	return i
}

func (v Values) Float(name string) float64 {
	f, _ := v[name].(float64)
	return f
}

func (v Values) Bool(name string) bool {
	b, _ := v[name].(bool)
	return b
}

func (v Values) List(name string) []string {
	l, _ := v[name].([]string)
	return l
}

// Has reports whether name resolved to a non-nil value.
func (v Values) Has(name string) bool {
	return v[name] != nil
}
