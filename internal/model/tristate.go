package model

import "github.com/obsenv/exposurelog/internal/errs"

// Tristate is a three-valued boolean filter: require true, require false,
// or no constraint. The zero value is TristateAny, so an unset filter
// field means "unconstrained" rather than "false".
type Tristate int

const (
	TristateAny Tristate = iota
	TristateTrue
	TristateFalse
)

// ParseTristate maps a query-string value to a Tristate. The empty string
// and "any" both mean unconstrained.
func ParseTristate(s string) (Tristate, error) {
	switch s {
	case "", "any", "either":
		return TristateAny, nil
	case "true":
		return TristateTrue, nil
	case "false":
		return TristateFalse, nil
	}
	return TristateAny, errs.Validationf("tristate value %q not in [true false any]", s)
}

func (t Tristate) String() string {
	switch t {
	case TristateTrue:
		return "true"
	case TristateFalse:
		return "false"
	}
	return "any"
}
