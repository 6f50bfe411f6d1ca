// Package check reports compiler defects.
//
// A failed check means the compiler itself is wrong (a malformed CFG, a
// missing operand, an out-of-range register id, touching shared state
// without the context lock). Compilation must not continue past one, so
// failures panic with a *Failure instead of returning an error.
package check

import "fmt"

// Failure is the panic value raised by a failed check.
type Failure struct {
	Msg string
}

func (f *Failure) Error() string {
	return "jit check failed: " + f.Msg
}

// Failf aborts with a formatted message.
func Failf(format string, args ...any) {
	panic(&Failure{Msg: fmt.Sprintf(format, args...)})
}

// That aborts with a formatted message when cond is false.
func That(cond bool, format string, args ...any) {
	if !cond {
		Failf(format, args...)
	}
}

// Unreachable aborts; used as the default arm of exhaustive opcode switches.
func Unreachable(what any) {
	Failf("unreachable: %v", what)
}
