// Package jsonx provides high-performance JSON serialization using Sonic.
// It is a drop-in replacement for encoding/json for the codec-heavy paths:
// vector index request bodies, model payloads, and API responses.
package jsonx

import (
	"bytes"
	"io"

	"github.com/bytedance/sonic"
)

// Marshal returns the JSON encoding of v using Sonic.
func Marshal(v interface{}) ([]byte, error) {
	return sonic.Marshal(v)
}

// Unmarshal parses the JSON-encoded data and stores the result
// in the value pointed to by v using Sonic.
func Unmarshal(data []byte, v interface{}) error {
	return sonic.Unmarshal(data, v)
}

// MarshalIndent is like Marshal but applies the given indentation.
// It uses the encoding/json-compatible config so map keys come out
// sorted; indented output feeds prompts and must render stably.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return sonic.ConfigStd.MarshalIndent(v, prefix, indent)
}

// MarshalToString is like Marshal but returns the JSON as a string,
// avoiding the []byte to string copy.
func MarshalToString(v interface{}) (string, error) {
	return sonic.MarshalString(v)
}

// UnmarshalFromString parses the JSON string and stores the result in v.
func UnmarshalFromString(data string, v interface{}) error {
	return sonic.UnmarshalString(data, v)
}

// NewDecoder returns a new decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: r}
}

// NewEncoder returns a new encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// Decoder wraps Sonic's decoding behind the encoding/json stream API.
type Decoder struct {
	reader io.Reader
	buf    *bytes.Buffer
}

// Decode reads the next JSON-encoded value from its
// input and stores it in the value pointed to by v.
func (d *Decoder) Decode(v interface{}) error {
	if d.buf == nil {
		d.buf = &bytes.Buffer{}
	}
	if _, err := io.Copy(d.buf, d.reader); err != nil {
		return err
	}
	return sonic.Unmarshal(d.buf.Bytes(), v)
}

// Buffered returns a reader of the data remaining in the Decoder's
// buffer. The reader is valid until the next call to Decode.
func (d *Decoder) Buffered() io.Reader {
	if d.buf == nil {
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(d.buf.Bytes())
}

// Encoder wraps Sonic's encoding behind the encoding/json stream API.
type Encoder struct {
	writer io.Writer
	buf    *bytes.Buffer
}

// Encode writes the JSON encoding of v to the stream,
// followed by a newline character.
func (e *Encoder) Encode(v interface{}) error {
	if e.buf == nil {
		e.buf = &bytes.Buffer{}
	}
	e.buf.Reset()

	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := e.buf.Write(data); err != nil {
		return err
	}
	if _, err := e.buf.WriteRune('\n'); err != nil {
		return err
	}
	_, err = e.writer.Write(e.buf.Bytes())
	return err
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return sonic.Valid(data)
}
