package filter

import "errors"

// Sentinel errors for filter compilation. Each is reported wrapped together
// with types.ErrInvalid so event-rule validation can treat every compile
// failure as a bad request.
var (
	// ErrSyntax indicates the filter text does not parse.
	ErrSyntax = errors.New("filter syntax error")

	// ErrTooComplex indicates the filter exceeds nesting, instruction or
	// cost limits.
	ErrTooComplex = errors.New("filter too complex")

	// ErrUnsupportedGlob indicates a string literal with a '*' in a
	// position other than the first or last character.
	ErrUnsupportedGlob = errors.New("unsupported glob pattern")

	// ErrTypeMismatch indicates a comparison the filter language does not
	// define, e.g. ordering against a string.
	ErrTypeMismatch = errors.New("filter type mismatch")
)
