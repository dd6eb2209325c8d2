package browse

import (
	"bytes"
	"fmt"
	"strings"
)

// Framing selects how drained bytes are cut into command lines
type Framing int

const (
	// FramingCycle treats everything drained in one readiness cycle as a single line.
	// Two commands that arrive in the same cycle are not split.
	FramingCycle Framing = iota
	// FramingLine splits on '\n' and keeps an incomplete tail for the next cycle.
	FramingLine
)

// MaxPendingLine is the longest unterminated line FramingLine buffers before flushing it as a line
const MaxPendingLine = 64 * 1024

func (f Framing) String() string {
	switch f {
	case FramingCycle:
		return "cycle"
	case FramingLine:
		return "line"
	default:
		return fmt.Sprintf("Framing(%d)", int(f))
	}
}

// ParseFraming parses "cycle" or "line", the empty string is FramingCycle
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cycle":
		return FramingCycle, nil
	case "line":
		return FramingLine, nil
	}
	return 0, fmt.Errorf("unknown framing %q, expected \"cycle\" or \"line\"", s)
}

// Reassembler accumulates the bytes of one connection and hands out command lines
type Reassembler struct {
	framing Framing
	buf     []byte
}

// NewReassembler returns an empty Reassembler using framing
func NewReassembler(framing Framing) *Reassembler {
	return &Reassembler{framing: framing}
}

// Write appends p to the accumulator, it never fails
func (r *Reassembler) Write(p []byte) (int, error) {
	r.buf = append(r.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes not yet handed out
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Lines returns the trimmed lines completed by the bytes written so far.
// With FramingCycle it always returns exactly one line, possibly empty, and resets the accumulator.
func (r *Reassembler) Lines() []string {
	if r.framing != FramingLine {
		line := strings.TrimSpace(string(r.buf))
		r.buf = r.buf[:0]
		return []string{line}
	}

	var lines []string
	start := 0
	for {
		i := bytes.IndexByte(r.buf[start:], '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimSpace(string(r.buf[start:start+i])))
		start += i + 1
	}
	n := copy(r.buf, r.buf[start:])
	r.buf = r.buf[:n]

	if len(r.buf) > MaxPendingLine {
		lines = append(lines, strings.TrimSpace(string(r.buf)))
		r.buf = r.buf[:0]
	}
	return lines
}
