package depgraph

import "golang.org/x/xerrors"

// ParseError is a structured error describing why a per-file dependency
// artifact failed to parse. Parsing is strict: any single malformed record
// fails the whole file (§4.1).
type ParseError struct {
	Kind   string // bad_magic, unknown_kind, bogus_name_or_context, ...
	Offset int
	Detail string
}

func (e *ParseError) Error() string {
	return xerrors.Errorf("depgraph: %s at offset %d: %s", e.Kind, e.Offset, e.Detail).Error()
}

func newParseError(kind string, offset int, format string, args ...interface{}) error {
	return &ParseError{Kind: kind, Offset: offset, Detail: xerrors.Errorf(format, args...).Error()}
}

// IsParseError reports whether err is a *ParseError of the given kind.
func IsParseError(err error, kind string) bool {
	var pe *ParseError
	if xerrors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
