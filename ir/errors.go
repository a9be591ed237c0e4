package ir

import (
	"fmt"
	"strconv"
)

// Class groups fatal compilation errors by their cause.
type Class uint8

const (
	// ClassStructural errors are malformed instruction streams: dangling references,
	// unbalanced control flow or values escaping their scope.
	ClassStructural Class = iota + 1
	// ClassType errors are operands whose types do not fit the operation.
	ClassType
	// ClassLinkage errors are calls to callables missing from the registry.
	ClassLinkage
)

func (c Class) String() string {
	switch c {
	case ClassStructural:
		return "structural"
	case ClassType:
		return "type"
	case ClassLinkage:
		return "linkage"
	}
	return "Class(" + strconv.Itoa(int(c)) + ")"
}

// Error is the fatal error raised by recording and compilation passes.
// Passes raise an *Error by panicking; public entry points recover it with [Catch].
type Error struct {
	Class Class
	// Index is the offending instruction or Null if the error is not tied to one.
	Index Index
	Kind  Kind
	Msg   string
}

// Sentinel errors for use with errors.Is. An *Error matches a sentinel of the same class.
var (
	ErrStructural = &Error{Class: ClassStructural, Index: Null}
	ErrType       = &Error{Class: ClassType, Index: Null}
	ErrLinkage    = &Error{Class: ClassLinkage, Index: Null}
)

func (e *Error) Error() string {
	if e.Index.IsNull() {
		return "ir: " + e.Class.String() + " error: " + e.Msg
	}
	return fmt.Sprintf("ir: %s error at %d (%s): %s", e.Class, e.Index, e.Kind, e.Msg)
}

// Is reports whether target is a sentinel with the same class as e.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Class == e.Class
}

// Fatalf raises an *Error by panicking. It never returns.
func Fatalf(class Class, idx Index, kind Kind, format string, args ...any) {
	panic(&Error{Class: class, Index: idx, Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// Catch recovers an *Error raised by [Fatalf] and stores it in *err. Other panics
// propagate. It must be deferred directly:
//
//	defer ir.Catch(&err)
func Catch(err *error) {
	r := recover()
	if r == nil {
		return
	}
	e, ok := r.(*Error)
	if !ok {
		panic(r)
	}
	*err = e
}
