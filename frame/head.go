package frame

// HeadTerminator ends a request head: the empty line after the header fields.
var HeadTerminator = []byte("\r\n\r\n")

// DefaultMaxHead bounds a request head.
const DefaultMaxHead = 8 * 1024

// HeadCodec frames request heads terminated by an empty line. The frame is
// the request line plus header fields without the terminator. Encode passes
// payloads through untouched, since replies are complete responses.
type HeadCodec struct {
	lines LineCodec
}

// NewHeadCodec returns a head codec capped at maxHead bytes; 0 disables the cap.
func NewHeadCodec(maxHead int) *HeadCodec {
	return &HeadCodec{lines: LineCodec{Delimiter: HeadTerminator, MaxLine: maxHead}}
}

// Next implements Codec.
func (c *HeadCodec) Next(buf []byte) ([]byte, int, error) {
	return c.lines.Next(buf)
}

// Encode implements Codec.
func (c *HeadCodec) Encode(payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}
