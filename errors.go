package dcquery

import "fmt"

// Kind is a typed error classification. HTTP status is derived from Kind at
// the router boundary, never attached to the error at the call site.
type Kind string

const (
	KindColumnNotFound         Kind = "ColumnNotFound"
	KindTableNotFound          Kind = "TableNotFound"
	KindSystemNotFound         Kind = "SystemNotFound"
	KindParsingError           Kind = "ParsingError"
	KindInvalidFilterError     Kind = "InvalidFilterError"
	KindEmptyQueryError        Kind = "EmptyQueryError"
	KindRelationshipNotFound   Kind = "RelationshipNotFound"
	KindRelationshipError      Kind = "RelationshipError"
	KindMappingError           Kind = "MappingError"
	KindDatabaseConnectionDrop Kind = "DatabaseConnectionDrop"
	KindInternalError          Kind = "InternalError"
)

// Status returns the HTTP status code bound to a Kind.
func (k Kind) Status() int {
	switch k {
	case KindColumnNotFound, KindTableNotFound, KindSystemNotFound,
		KindParsingError, KindInvalidFilterError, KindEmptyQueryError:
		return 400
	case KindRelationshipNotFound, KindRelationshipError, KindMappingError,
		KindDatabaseConnectionDrop, KindInternalError:
		return 500
	default:
		return 500
	}
}

// Error is the single typed error carried through the compiler and router.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// newErr builds a typed Error.
func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// AsError unwraps to a *Error if the chain contains one, reporting whether it was found.
func AsError(err error) (*Error, bool) {
	var e *Error
	for err != nil {
		if de, ok := err.(*Error); ok {
			e = de
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return nil, false
	}
	return e, true
}
