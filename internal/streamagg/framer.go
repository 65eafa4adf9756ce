package streamagg

// framer splits a byte stream into top-level JSON objects.
//
// Bytes seen while no object is open are dropped, so the enclosing array
// brackets, the commas between items, whitespace and any line framing such as
// an SSE "data: " prefix never reach the parser. Inside an object the framer
// tracks nesting depth plus string and escape state, which keeps braces that
// appear inside string values from ending the object early.
//
// Structural characters are all ASCII and never occur inside a multi-byte
// UTF-8 sequence, so framing raw bytes is safe even when a rune is split
// across writes.
type framer struct {
	buf      []byte
	depth    int
	inString bool
	escaped  bool
	maxItem  int
	emit     func(obj []byte) error
}

func newFramer(maxItem int, emit func(obj []byte) error) *framer {
	return &framer{maxItem: maxItem, emit: emit}
}

// Write implements io.Writer. The slice passed to emit is only valid for the
// duration of the call.
func (f *framer) Write(p []byte) (int, error) {
	for i, c := range p {
		if f.depth == 0 {
			if c != '{' {
				continue
			}
			f.buf = f.buf[:0]
		}
		f.buf = append(f.buf, c)

		switch {
		case f.escaped:
			f.escaped = false
		case f.inString:
			switch c {
			case '\\':
				f.escaped = true
			case '"':
				f.inString = false
			}
		case c == '"':
			f.inString = true
		case c == '{' || c == '[':
			f.depth++
		case c == '}' || c == ']':
			f.depth--
			if f.depth == 0 {
				err := f.emit(f.buf)
				f.buf = f.buf[:0]
				if err != nil {
					return i + 1, err
				}
				continue
			}
		}

		if f.maxItem > 0 && len(f.buf) > f.maxItem {
			f.reset()
			return i + 1, ErrItemTooLarge
		}
	}
	return len(p), nil
}

// pending reports how many bytes of an unfinished object are buffered.
func (f *framer) pending() int {
	if f.depth == 0 {
		return 0
	}
	return len(f.buf)
}

func (f *framer) reset() {
	f.buf = f.buf[:0]
	f.depth = 0
	f.inString = false
	f.escaped = false
}
