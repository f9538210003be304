package vm

import "fmt"

// ---------------------------------------------------------------------------
// Runtime exceptions
// ---------------------------------------------------------------------------

// InvalidArgsError is raised when a function is invoked with the wrong
// number of arguments.
type InvalidArgsError struct {
	Expected int
	Got      int
}

func (e *InvalidArgsError) Error() string {
	return fmt.Sprintf("invalid arguments: expected %d, got %d", e.Expected, e.Got)
}

// NotCallableError is raised when a non-callable value is invoked.
type NotCallableError struct {
	TypeName string
}

func (e *NotCallableError) Error() string {
	return fmt.Sprintf("value of type '%s' is not callable", e.TypeName)
}

// TypeError is raised when an operation receives operands of unsupported
// types.
type TypeError struct {
	Op       string
	TypeName string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("unsupported operand of type '%s' for %s", e.TypeName, e.Op)
}

// ThrownError carries a value raised by user code.
type ThrownError struct {
	Message string
}

func (e *ThrownError) Error() string {
	return e.Message
}
