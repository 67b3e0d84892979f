package frame

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
)

// HeaderSize is the length prefix of every envelope: a little-endian uint32
// holding the body size.
const HeaderSize = 4

// DefaultMaxFrame caps envelope bodies and their decompressed payloads.
const DefaultMaxFrame = 16 * 1024 * 1024

// EnvelopeCodec frames length-prefixed binary envelopes whose body is
// optionally zlib-compressed.
//
// Wire format: u32le(len(body)) || body, body = zlib(payload) when Compress is set.
type EnvelopeCodec struct {
	// MaxFrame caps the body and the decompressed payload; 0 disables the cap.
	MaxFrame int
	// Compress enables zlib on the body.
	Compress bool
}

// NewEnvelopeCodec returns a compressed envelope codec capped at maxFrame.
func NewEnvelopeCodec(maxFrame int) *EnvelopeCodec {
	return &EnvelopeCodec{MaxFrame: maxFrame, Compress: true}
}

// Next implements Codec.
func (c *EnvelopeCodec) Next(buf []byte) ([]byte, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, nil
	}

	size := binary.LittleEndian.Uint32(buf[:HeaderSize])
	if c.MaxFrame > 0 && uint64(size) > uint64(c.MaxFrame) {
		return nil, 0, Errorf("envelope of %d bytes exceeds %d", size, c.MaxFrame)
	}

	total := HeaderSize + int(size)
	if len(buf) < total {
		return nil, 0, nil
	}

	body := buf[HeaderSize:total]
	if !c.Compress {
		payload := make([]byte, len(body))
		copy(payload, body)
		return payload, total, nil
	}

	payload, err := c.inflate(body)
	if err != nil {
		return nil, 0, err
	}

	return payload, total, nil
}

// Encode implements Codec.
func (c *EnvelopeCodec) Encode(payload []byte) ([]byte, error) {
	body := payload
	if c.Compress {
		var err error
		if body, err = Deflate(payload); err != nil {
			return nil, err
		}
	}

	if c.MaxFrame > 0 && len(body) > c.MaxFrame {
		return nil, Errorf("envelope of %d bytes exceeds %d", len(body), c.MaxFrame)
	}

	out := make([]byte, HeaderSize, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...), nil
}

// Deflate returns payload in the zlib format used by envelope bodies.
func Deflate(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, Wrap("compress", err)
	}
	if err := zw.Close(); err != nil {
		return nil, Wrap("compress", err)
	}
	return buf.Bytes(), nil
}

func (c *EnvelopeCodec) inflate(body []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, Wrap("decompress", err)
	}
	defer zr.Close()

	var r io.Reader = zr
	if c.MaxFrame > 0 {
		r = io.LimitReader(zr, int64(c.MaxFrame)+1)
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, Wrap("decompress", err)
	}
	if c.MaxFrame > 0 && len(payload) > c.MaxFrame {
		return nil, Errorf("decompressed payload exceeds %d bytes", c.MaxFrame)
	}

	return payload, nil
}

// LineEnvelopeCodec carries CRLF-terminated command lines inside compressed
// envelopes. Frames come out without the trailing delimiter, and Encode adds it
// back before wrapping, so command tables see the same frames as with LineCodec.
type LineEnvelopeCodec struct {
	Envelope *EnvelopeCodec
}

// NewLineEnvelopeCodec returns a compressed line envelope codec.
func NewLineEnvelopeCodec(maxFrame int) *LineEnvelopeCodec {
	return &LineEnvelopeCodec{Envelope: NewEnvelopeCodec(maxFrame)}
}

// Next implements Codec.
func (c *LineEnvelopeCodec) Next(buf []byte) ([]byte, int, error) {
	payload, n, err := c.Envelope.Next(buf)
	if err != nil || n == 0 {
		return nil, n, err
	}

	return bytes.TrimSuffix(payload, CRLF), n, nil
}

// Encode implements Codec.
func (c *LineEnvelopeCodec) Encode(payload []byte) ([]byte, error) {
	line := make([]byte, 0, len(payload)+len(CRLF))
	line = append(line, payload...)
	return c.Envelope.Encode(append(line, CRLF...))
}
