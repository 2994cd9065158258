package schemaregistry

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tryfix/schemaregistry/v3/compatibility"
)

// ErrorKind classifies the errors a Registry surfaces to its callers
type ErrorKind int

const (
	// KindUnknown is reported for errors that did not originate from the registry
	// (storage or I/O failures)
	KindUnknown ErrorKind = iota
	KindNotFound
	KindAlreadyExists
	KindIncompatibleSchema
	KindInvalidDefinition
	KindInvalidArgument
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return `NotFound`
	case KindAlreadyExists:
		return `AlreadyExists`
	case KindIncompatibleSchema:
		return `IncompatibleSchema`
	case KindInvalidDefinition:
		return `InvalidDefinition`
	case KindInvalidArgument:
		return `InvalidArgument`
	}

	return `Unknown`
}

// Error is the structured error returned by Registry operations. Only the
// fields relevant to Kind are set.
type Error struct {
	Kind      ErrorKind
	Schema    string
	Version   int
	VersionID uuid.UUID
	Path      string
	// Violations carries the compatibility result of a rejected registration
	Violations []compatibility.Violation
	Err        error
}

func (e *Error) Error() string {
	b := new(strings.Builder)
	b.WriteString(`schemaregistry: `)

	switch e.Kind {
	case KindNotFound:
		b.WriteString(`not found`)
	case KindAlreadyExists:
		b.WriteString(`already exists`)
	case KindIncompatibleSchema:
		b.WriteString(`incompatible schema`)
	case KindInvalidDefinition:
		b.WriteString(`invalid definition`)
	case KindInvalidArgument:
		b.WriteString(`invalid argument`)
	default:
		b.WriteString(`error`)
	}

	if e.Schema != `` {
		fmt.Fprintf(b, ` schema [%s]`, e.Schema)
	}
	if e.Version > 0 {
		fmt.Fprintf(b, ` version [%d]`, e.Version)
	}
	if e.VersionID != uuid.Nil {
		fmt.Fprintf(b, ` id [%s]`, e.VersionID)
	}
	if e.Path != `` {
		fmt.Fprintf(b, ` at [%s]`, e.Path)
	}

	if len(e.Violations) > 0 {
		v := make([]string, len(e.Violations))
		for i := range e.Violations {
			v[i] = e.Violations[i].String()
		}
		fmt.Fprintf(b, `: %s`, strings.Join(v, `; `))
	}

	if e.Err != nil {
		fmt.Fprintf(b, `: %s`, e.Err)
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: KindNotFound}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) ErrorKind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsAlreadyExists(err error) bool {
	return KindOf(err) == KindAlreadyExists
}

// IsIncompatible reports whether err is a registration rejected by the compatibility check
func IsIncompatible(err error) bool {
	return KindOf(err) == KindIncompatibleSchema
}

func IsInvalidDefinition(err error) bool {
	return KindOf(err) == KindInvalidDefinition
}

func IsInvalidArgument(err error) bool {
	return KindOf(err) == KindInvalidArgument
}

func notFound(schema string, version int) *Error {
	return &Error{Kind: KindNotFound, Schema: schema, Version: version}
}

func invalidArgument(schema, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidArgument, Schema: schema, Err: fmt.Errorf(format, args...)}
}
