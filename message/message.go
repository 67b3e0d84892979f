// Package message defines the payload exchanged by the relay protocol and the
// serializers that turn it into envelope bodies.
package message

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/cyberinferno/netreactor/frame"
)

// Message is one chat-style message relayed between clients. It is built once
// by the sender and treated as read-only after serialization.
type Message struct {
	XMLName   xml.Name `json:"-" cbor:"-" xml:"message"`
	Username  string   `json:"username" cbor:"username" xml:"username"`
	Text      string   `json:"text" cbor:"text" xml:"text"`
	Timestamp string   `json:"timestamp" cbor:"timestamp" xml:"timestamp"`
}

// New builds a Message stamped with t in RFC 3339 format.
func New(username, text string, t time.Time) Message {
	return Message{Username: username, Text: text, Timestamp: t.UTC().Format(time.RFC3339Nano)}
}

// Serializer converts a Message to and from bytes.
type Serializer interface {
	// Name identifies the serializer in configuration ("json", "cbor", "xml").
	Name() string
	Marshal(m Message) ([]byte, error)
	Unmarshal(data []byte) (Message, error)
}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONSerializer encodes messages as JSON objects.
type JSONSerializer struct{}

func (JSONSerializer) Name() string { return "json" }

func (JSONSerializer) Marshal(m Message) ([]byte, error) {
	return jsonAPI.Marshal(m)
}

func (JSONSerializer) Unmarshal(data []byte) (Message, error) {
	var m Message
	err := jsonAPI.Unmarshal(data, &m)
	return m, err
}

// CBORSerializer encodes messages as CBOR maps.
type CBORSerializer struct{}

func (CBORSerializer) Name() string { return "cbor" }

func (CBORSerializer) Marshal(m Message) ([]byte, error) {
	return cbor.Marshal(m)
}

func (CBORSerializer) Unmarshal(data []byte) (Message, error) {
	var m Message
	err := cbor.Unmarshal(data, &m)
	return m, err
}

// XMLSerializer encodes messages as a <message> element.
type XMLSerializer struct{}

func (XMLSerializer) Name() string { return "xml" }

func (XMLSerializer) Marshal(m Message) ([]byte, error) {
	return xml.Marshal(m)
}

func (XMLSerializer) Unmarshal(data []byte) (Message, error) {
	var m Message
	err := xml.Unmarshal(data, &m)
	m.XMLName = xml.Name{}
	return m, err
}

// SerializerByName resolves a configured serializer name.
func SerializerByName(name string) (Serializer, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSONSerializer{}, nil
	case "cbor":
		return CBORSerializer{}, nil
	case "xml":
		return XMLSerializer{}, nil
	default:
		return nil, fmt.Errorf("unknown serializer %q (supported: json, cbor, xml)", name)
	}
}

// Codec pairs a Serializer with a frame.Codec to produce complete wire envelopes.
type Codec struct {
	Serializer Serializer
	Frames     frame.Codec
}

// NewCodec returns a Codec over compressed envelopes capped at maxFrame.
func NewCodec(s Serializer, maxFrame int) *Codec {
	return &Codec{Serializer: s, Frames: frame.NewEnvelopeCodec(maxFrame)}
}

// Encode serializes and frames m.
//
// Returns:
//   - The wire bytes for one envelope
//   - An error if serialization or framing fails
func (c *Codec) Encode(m Message) ([]byte, error) {
	body, err := c.Serializer.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	return c.Frames.Encode(body)
}

// Decode deserializes one extracted frame. Any failure is reported as a
// *frame.Error, since the bytes came off the wire.
func (c *Codec) Decode(f []byte) (Message, error) {
	m, err := c.Serializer.Unmarshal(f)
	if err != nil {
		return Message{}, frame.Wrap(c.Serializer.Name()+" decode", err)
	}

	return m, nil
}
