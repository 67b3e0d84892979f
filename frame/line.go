package frame

import "bytes"

// CRLF is the delimiter of every line protocol served here.
var CRLF = []byte("\r\n")

// DefaultMaxLine bounds a single command line.
const DefaultMaxLine = 8 * 1024

// LineCodec frames delimiter-terminated text lines. The frame excludes the
// delimiter; Encode appends it.
type LineCodec struct {
	// Delimiter terminates each line. Empty means CRLF.
	Delimiter []byte
	// MaxLine caps the bytes buffered for one line; 0 disables the cap.
	MaxLine int
}

// NewLineCodec returns a CRLF codec with the given line cap.
func NewLineCodec(maxLine int) *LineCodec {
	return &LineCodec{Delimiter: CRLF, MaxLine: maxLine}
}

func (c *LineCodec) delimiter() []byte {
	if len(c.Delimiter) == 0 {
		return CRLF
	}
	return c.Delimiter
}

// Next implements Codec.
func (c *LineCodec) Next(buf []byte) ([]byte, int, error) {
	delim := c.delimiter()

	idx := bytes.Index(buf, delim)
	if idx < 0 {
		// A partial delimiter may still be arriving, so only count the rest.
		pending := len(buf) - (len(delim) - 1)
		if c.MaxLine > 0 && pending > c.MaxLine {
			return nil, 0, Errorf("line exceeds %d bytes without delimiter", c.MaxLine)
		}
		return nil, 0, nil
	}

	if c.MaxLine > 0 && idx > c.MaxLine {
		return nil, 0, Errorf("line of %d bytes exceeds %d", idx, c.MaxLine)
	}

	line := make([]byte, idx)
	copy(line, buf[:idx])
	return line, idx + len(delim), nil
}

// Encode implements Codec.
func (c *LineCodec) Encode(payload []byte) ([]byte, error) {
	delim := c.delimiter()
	out := make([]byte, 0, len(payload)+len(delim))
	out = append(out, payload...)
	return append(out, delim...), nil
}
