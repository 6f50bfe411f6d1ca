package bytecode

import (
	"iter"

	"github.com/chazu/jitcore/check"
)

// Block is a half-open [start, end) range of code units.
type Block struct {
	code  *Code
	start int
	end   int
}

// Block returns the view over [start, end).
func (c *Code) Block(start, end int) Block {
	check.That(0 <= start && start <= end && end <= c.Len(),
		"bytecode: block [%d, %d) outside code of %d units", start, end, c.Len())
	return Block{code: c, start: start, end: end}
}

// All returns the view over the whole buffer.
func (c *Code) All() Block {
	return Block{code: c, start: 0, end: c.Len()}
}

// Start returns the first unit index of the block.
func (b Block) Start() int { return b.start }

// End returns the index one past the block.
func (b Block) End() int { return b.end }

// Code returns the code the block views.
func (b Block) Code() *Code { return b.code }

// Empty reports whether the block has no units.
func (b Block) Empty() bool { return b.start == b.end }

// Scanner returns a fresh iterator positioned at the start of the block.
func (b Block) Scanner() *Scanner {
	return &Scanner{block: b, pos: b.start}
}

// Instructions returns every instruction in the block in order.
func (b Block) Instructions() ([]Instruction, error) {
	var out []Instruction
	s := b.Scanner()
	for s.Next() {
		out = append(out, s.Instr())
	}
	return out, s.Err()
}

// Seq returns the block as a range-over-func sequence. Iteration stops after
// yielding the first error.
func (b Block) Seq() iter.Seq2[Instruction, error] {
	return func(yield func(Instruction, error) bool) {
		s := b.Scanner()
		for s.Next() {
			if !yield(s.Instr(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(Instruction{}, err)
		}
	}
}

// Scanner walks a Block one logical instruction at a time, in the manner of
// bufio.Scanner.
type Scanner struct {
	block Block
	pos   int
	cur   Instruction
	err   error
}

// Next decodes the next instruction. It returns false at the end of the
// block or on error.
func (s *Scanner) Next() bool {
	if s.err != nil || s.pos >= s.block.end {
		return false
	}
	in, err := s.block.code.decode(s.pos, s.block.end)
	if err != nil {
		s.err = err
		return false
	}
	s.cur = in
	s.pos = in.next
	return true
}

// Instr returns the instruction decoded by the last call to Next.
func (s *Scanner) Instr() Instruction {
	return s.cur
}

// Err returns the first decode error, if any.
func (s *Scanner) Err() error {
	return s.err
}

// Reset rewinds the scanner to the start of its block.
func (s *Scanner) Reset() {
	s.pos = s.block.start
	s.cur = Instruction{}
	s.err = nil
}
