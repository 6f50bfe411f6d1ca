package bytecode

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSyntax is returned by Assemble for malformed source.
var ErrSyntax = errors.New("bytecode: syntax error")

// Assemble builds code from a textual listing, one instruction per line:
//
//	loop:
//	    LOAD_FAST 0
//	    POP_JUMP_IF_FALSE done
//	    JUMP_BACKWARD loop
//	done:
//	    RETURN_CONST 0
//
// A jump's argument names a label. '#' starts a comment.
func Assemble(enc *Encoding, src string) (*Code, error) {
	b := NewBuilder(enc)
	labels := map[string]*Label{}
	marked := map[string]bool{}
	label := func(name string) *Label {
		if l, ok := labels[name]; ok {
			return l
		}
		l := b.NewLabel()
		labels[name] = l
		return l
	}

	sc := bufio.NewScanner(strings.NewReader(src))
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if name, ok := strings.CutSuffix(fields[0], ":"); ok && len(fields) == 1 {
			if marked[name] {
				return nil, fmt.Errorf("%w: line %d: label %q defined twice", ErrSyntax, line, name)
			}
			marked[name] = true
			b.Mark(label(name))
			continue
		}
		op, ok := OpcodeByName(fields[0])
		if !ok || op == EXTENDED_ARG || op == CACHE {
			return nil, fmt.Errorf("%w: line %d: unknown opcode %q", ErrSyntax, line, fields[0])
		}
		if !enc.Supports(op) {
			return nil, fmt.Errorf("%w: line %d: %s is not available in %s", ErrSyntax, line, op, enc.Name)
		}
		switch {
		case enc.JumpKind(op) != NoJump:
			if len(fields) != 2 {
				return nil, fmt.Errorf("%w: line %d: %s needs a label", ErrSyntax, line, op)
			}
			b.EmitJump(op, label(fields[1]))
		case op.HasArg():
			if len(fields) != 2 {
				return nil, fmt.Errorf("%w: line %d: %s needs an argument", ErrSyntax, line, op)
			}
			arg, err := strconv.ParseUint(fields[1], 0, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrSyntax, line, err)
			}
			b.Emit(op, uint32(arg))
		default:
			if len(fields) != 1 {
				return nil, fmt.Errorf("%w: line %d: %s takes no argument", ErrSyntax, line, op)
			}
			b.Emit0(op)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for name := range labels {
		if !marked[name] {
			return nil, fmt.Errorf("%w: label %q is never defined", ErrSyntax, name)
		}
	}
	return b.Code(), nil
}
