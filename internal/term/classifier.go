// Package term handles local terminal mode switching and filtering of
// escape-sequence artifacts in the remote output stream.
package term

import (
	"log/slog"
)

// SequenceKind classifies a recognized span of remote output.
type SequenceKind int

const (
	// KindText is plain output with no escape introducer.
	KindText SequenceKind = iota

	// KindCursor is a CSI cursor/screen control sequence.
	KindCursor

	// KindAltScreen is an alternate-screen switch (CSI ?47/?1047/?1049 h|l).
	KindAltScreen

	// KindMouseToggle is a mouse-reporting enable/disable (CSI ?1000-?1006 h|l).
	KindMouseToggle

	// KindOSC is an Operating System Command sequence.
	KindOSC

	// KindColorReply is an OSC 10-19 color report (rgb:..../..../....).
	// These are answers to queries the remote program addressed to a
	// terminal; echoing them to the local display corrupts output.
	KindColorReply

	// KindPassthrough is an unrecognized, aborted, or overlong sequence
	// emitted verbatim.
	KindPassthrough
)

func (k SequenceKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCursor:
		return "cursor"
	case KindAltScreen:
		return "alt-screen"
	case KindMouseToggle:
		return "mouse-toggle"
	case KindOSC:
		return "osc"
	case KindColorReply:
		return "color-reply"
	case KindPassthrough:
		return "passthrough"
	}
	return "unknown"
}

// Segment is one classified span of output. Data is valid until the next
// Scan or Flush call on the owning Classifier.
type Segment struct {
	Data       []byte
	Kind       SequenceKind
	Suppressed bool
}

// MaxSequenceLen bounds how many bytes of a single escape sequence the
// classifier will buffer before giving up and emitting them verbatim.
// Tunable; 4 KiB comfortably covers every sequence a well-behaved program
// emits while keeping worst-case buffering small.
const MaxSequenceLen = 4096

const (
	escByte = 0x1b
	belByte = 0x07
	canByte = 0x18
	subByte = 0x1a
)

type scanState int

const (
	stGround scanState = iota
	stEsc               // saw ESC
	stCSI               // saw ESC [ — collecting parameter/intermediate bytes
	stOSC               // saw ESC ] — collecting payload
	stOSCEsc            // saw ESC inside OSC payload (possible ST)
)

type segRef struct {
	start, end int
	kind       SequenceKind
	suppressed bool
}

// Classifier incrementally scans remote output, recognizing ANSI CSI and
// OSC sequences and deciding per span whether to emit or suppress it.
// It is restartable: bytes of an incomplete sequence are retained between
// Scan calls, so splitting the input at arbitrary chunk boundaries yields
// the same classification as scanning the concatenated stream at once.
type Classifier struct {
	logger *slog.Logger

	state scanState
	seq   []byte // in-flight sequence, introducer included

	out  []byte // emit arena, reused across calls
	refs []segRef
	segs []Segment
}

// NewClassifier creates a classifier. Decisions are traced on logger at
// debug level; a nil logger falls back to slog.Default().
func NewClassifier(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		logger: logger,
		seq:    make([]byte, 0, 64),
	}
}

// Scan consumes the next chunk of remote output and returns the classified
// segments ready for emission. Suppressed segments account for their input
// bytes but must not be written to the display. Returned segment data is
// valid until the next Scan or Flush call.
func (c *Classifier) Scan(p []byte) []Segment {
	c.out = c.out[:0]
	c.refs = c.refs[:0]

	for i := 0; i < len(p); {
		if c.step(p[i]) {
			i++
		}
	}

	return c.materialize()
}

// Flush emits whatever incomplete sequence is pending as verbatim
// passthrough. Call it when the remote stream ends so a connection closed
// mid-sequence loses no bytes.
func (c *Classifier) Flush() []Segment {
	c.out = c.out[:0]
	c.refs = c.refs[:0]

	if c.state != stGround {
		c.logger.Debug("flushing incomplete escape sequence", "len", len(c.seq))
		c.emitSeq(KindPassthrough)
	}

	return c.materialize()
}

// step processes one byte and reports whether it was consumed. A false
// return means the byte aborted the pending sequence and must be
// re-examined in the new state.
func (c *Classifier) step(b byte) bool {
	switch c.state {
	case stGround:
		if b == escByte {
			c.state = stEsc
			c.seq = append(c.seq[:0], b)
			return true
		}
		c.emitByte(b)
		return true

	case stEsc:
		if b == escByte {
			// Lone ESC followed by another: first one is on its own.
			c.emitSeq(KindPassthrough)
			return false
		}
		c.seq = append(c.seq, b)
		switch b {
		case '[':
			c.state = stCSI
		case ']':
			c.state = stOSC
		default:
			// Two-byte escape (ESC 7, ESC c, charset shifts, ...): not ours.
			c.emitSeq(KindPassthrough)
		}
		return true

	case stCSI:
		if b == escByte || b < 0x20 || len(c.seq) >= MaxSequenceLen {
			// Control byte mid-sequence or lookahead window exhausted:
			// give up and emit what we have verbatim.
			c.emitSeq(KindPassthrough)
			return false
		}
		c.seq = append(c.seq, b)
		if b >= 0x40 && b <= 0x7e {
			c.finishCSI()
		}
		return true

	case stOSC:
		if b == canByte || b == subByte || len(c.seq) >= MaxSequenceLen {
			// CAN/SUB cancel the sequence in progress; release the withheld
			// bytes instead of buffering to the window limit.
			c.emitSeq(KindPassthrough)
			return false
		}
		c.seq = append(c.seq, b)
		switch b {
		case belByte:
			c.finishOSC(1)
		case escByte:
			c.state = stOSCEsc
		}
		return true

	case stOSCEsc:
		if b == '\\' {
			c.seq = append(c.seq, b)
			c.finishOSC(2)
			return true
		}
		// ESC inside the payload that is not a string terminator: abort the
		// OSC but keep the ESC as the introducer of a new sequence.
		c.emit(c.seq[:len(c.seq)-1], KindPassthrough, false)
		c.seq = append(c.seq[:0], escByte)
		c.state = stEsc
		return false
	}

	c.emitByte(b)
	return true
}

// finishCSI classifies a complete CSI sequence. Everything passes through;
// mouse-reporting and alternate-screen toggles are recognized so they can
// be traced.
func (c *Classifier) finishCSI() {
	final := c.seq[len(c.seq)-1]
	params := c.seq[2 : len(c.seq)-1]

	kind := KindCursor
	if (final == 'h' || final == 'l') && len(params) > 0 && params[0] == '?' {
		switch mode := leadingInt(params[1:]); {
		case mode >= 1000 && mode <= 1006:
			kind = KindMouseToggle
			c.logger.Debug("mouse reporting toggle passed through",
				"mode", mode, "enable", final == 'h')
		case mode == 47 || mode == 1047 || mode == 1049:
			kind = KindAltScreen
			c.logger.Debug("alternate screen switch",
				"mode", mode, "enable", final == 'h')
		}
	}

	c.emitSeq(kind)
}

// finishOSC classifies a complete OSC sequence; termLen is the terminator
// length (1 for BEL, 2 for ESC \). Color reports for codes 10-19 are
// suppressed, everything else passes through.
func (c *Classifier) finishOSC(termLen int) {
	payload := c.seq[2 : len(c.seq)-termLen]

	code := leadingInt(payload)
	if code >= 10 && code <= 19 {
		rest := payload[intDigits(payload):]
		if len(rest) > 4 && rest[0] == ';' && string(rest[1:5]) == "rgb:" {
			c.logger.Debug("suppressed color query reply",
				"code", code, "len", len(c.seq))
			c.emitSuppressed(KindColorReply)
			return
		}
	}

	c.emitSeq(KindOSC)
}

// emitByte adds one plain text byte to the output.
func (c *Classifier) emitByte(b byte) {
	c.emit([]byte{b}, KindText, false)
}

// emitSeq emits the pending sequence verbatim and returns to ground.
func (c *Classifier) emitSeq(kind SequenceKind) {
	c.emit(c.seq, kind, false)
	c.reset()
}

// emitSuppressed accounts for the pending sequence without displaying it.
func (c *Classifier) emitSuppressed(kind SequenceKind) {
	c.emit(c.seq, kind, true)
	c.reset()
}

func (c *Classifier) reset() {
	c.seq = c.seq[:0]
	c.state = stGround
}

// emit appends data to the arena, merging contiguous spans of the same
// classification into one segment.
func (c *Classifier) emit(data []byte, kind SequenceKind, suppressed bool) {
	start := len(c.out)
	c.out = append(c.out, data...)

	if n := len(c.refs); n > 0 {
		last := &c.refs[n-1]
		if last.end == start && last.kind == kind && last.suppressed == suppressed {
			last.end = len(c.out)
			return
		}
	}
	c.refs = append(c.refs, segRef{
		start:      start,
		end:        len(c.out),
		kind:       kind,
		suppressed: suppressed,
	})
}

// materialize resolves arena offsets into segments. Offsets are collected
// first because the arena may reallocate while a scan is in progress.
func (c *Classifier) materialize() []Segment {
	c.segs = c.segs[:0]
	for _, r := range c.refs {
		c.segs = append(c.segs, Segment{
			Data:       c.out[r.start:r.end],
			Kind:       r.kind,
			Suppressed: r.suppressed,
		})
	}
	return c.segs
}

// leadingInt parses the decimal prefix of b, returning -1 if there is none.
func leadingInt(b []byte) int {
	n := intDigits(b)
	if n == 0 {
		return -1
	}
	v := 0
	for _, d := range b[:n] {
		v = v*10 + int(d-'0')
		if v > 1<<20 {
			return -1
		}
	}
	return v
}

// intDigits counts the decimal digits at the start of b.
func intDigits(b []byte) int {
	n := 0
	for n < len(b) && b[n] >= '0' && b[n] <= '9' {
		n++
	}
	return n
}
