package ot

// stream reads an op sequence in chunks. Compose and transform consume two
// streams in lockstep, taking the shorter of the two current ops each step.
type stream struct {
	ops    []Op
	pos    int
	inside int    // characters of ops[pos] already consumed
	runes  []rune // text of ops[pos] when it is an insert
}

func newStream(ops []Op) *stream {
	return &stream{ops: ops}
}

func (s *stream) eof() bool {
	return s.pos == len(s.ops)
}

func (s *stream) kind() Kind {
	return s.ops[s.pos].Kind
}

// remaining returns the unread length of the current op.
func (s *stream) remaining() int {
	op := s.ops[s.pos]
	if op.Kind == InsertOp {
		return len(s.currentRunes()) - s.inside
	}
	return op.N - s.inside
}

// read consumes up to n characters of the current op, or all of it when
// n <= 0.
func (s *stream) read(n int) Op {
	op := s.ops[s.pos]
	rem := s.remaining()
	if n <= 0 || n > rem {
		n = rem
	}
	if op.Kind == InsertOp {
		op.Text = string(s.currentRunes()[s.inside : s.inside+n])
	} else {
		op.N = n
	}
	s.inside += n
	if n == rem {
		s.pos++
		s.inside = 0
		s.runes = nil
	}
	return op
}

func (s *stream) currentRunes() []rune {
	if s.runes == nil {
		s.runes = []rune(s.ops[s.pos].Text)
	}
	return s.runes
}
