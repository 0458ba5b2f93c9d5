package domain

import (
	"errors"
	"fmt"
)

// ErrNoMatch is returned when no rule matches a request, including the
// empty rule set. Callers must treat it as an implicit deny.
var ErrNoMatch = errors.New("no matching policy rule")

// ParseError describes a malformed policy file line. It is fatal to the load
// attempt that produced it; a previously loaded rule set stays active.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("policy line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// IsParseError reports whether any error in err's chain is a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
