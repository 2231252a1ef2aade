// Package bare implements the BARE binary message format: fixed-width
// little-endian scalars, varint and zigzag integers, length-prefixed strings
// and data, optionals, sequences, fixed tuples, maps, structs and tagged
// unions. The format is not self-describing; both sides must agree on the
// shape of every message.
//
// Values describe themselves to a Writer and build themselves from a Reader
// through the Marshaler and Unmarshaler interfaces. Ordinary Go types that do
// not implement them go through a reflection adapter:
//
//	Go type            | BARE
//	-------------------+-------------------------
//	bool               | bool
//	int8 .. int64      | i8 .. i64
//	uint8 .. uint64    | u8 .. u64
//	int, bare.Int      | int
//	uint, bare.Uint    | uint
//	float32, float64   | f32, f64
//	bare.Char          | u32 code point
//	string             | string
//	[]byte             | data
//	[N]byte            | data<N>
//	[N]T               | [N]T
//	[]T                | []T
//	map[K]V            | map[K]V, pairs sorted by encoded key
//	*T                 | optional<T>
//	struct{}           | void
//	struct             | struct, exported fields in order
//	registered iface   | union, see RegisterUnion
//
// Struct fields tagged `bare:"-"` are skipped; `bare:",uint"` and
// `bare:",int"` select varint encoding for a fixed-width integer field.
package bare

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"unicode/utf8"
)

// Marshaler is implemented by values that describe their own shape to a Writer.
type Marshaler interface {
	MarshalBARE(w *Writer) error
}

// Unmarshaler is implemented by values that construct themselves from a Reader.
type Unmarshaler interface {
	UnmarshalBARE(r *Reader) error
}

// Char is a unicode scalar value, encoded as its u32 code point.
type Char rune

// MarshalBARE writes c as a u32 code point.
func (c Char) MarshalBARE(w *Writer) error { return w.WriteChar(rune(c)) }

// UnmarshalBARE reads and validates a u32 code point.
func (c *Char) UnmarshalBARE(r *Reader) error {
	v, err := r.ReadChar()
	*c = Char(v)
	return err
}

// String returns the character as a string.
func (c Char) String() string {
	if !utf8.ValidRune(rune(c)) {
		return "�"
	}
	return string(rune(c))
}

// Marshal encodes v and returns the bytes.
func Marshal(v any) ([]byte, error) {
	w := NewWriter(nil)
	defer w.Close()

	if err := w.Write(v); err != nil {
		return nil, err
	}
	out := make([]byte, len(w.buf.Bytes))
	copy(out, w.buf.Bytes)
	return out, nil
}

// MarshalWriter encodes v to sink. Nothing is written if encoding fails.
func MarshalWriter(sink io.Writer, v any) error {
	w := NewWriter(sink)
	defer w.Close()
	return w.Encode(v)
}

// Unmarshal decodes data into v, which must be a non-nil pointer or an
// Unmarshaler. All of data must be consumed. Slices and maps in v are
// replaced, not merged into.
func Unmarshal(data []byte, v any) error {
	return UnmarshalWithLimits(data, v, DefaultLimits)
}

// UnmarshalWithLimits is Unmarshal with custom decode limits.
func UnmarshalWithLimits(data []byte, v any, limits DecodeLimits) error {
	r := NewBytesReader(data)
	r.SetLimits(limits)
	if err := r.Read(v); err != nil {
		return err
	}
	if n := r.Remaining(); n > 0 {
		return fmt.Errorf("%w: %d bytes", ErrTrailingData, n)
	}
	return nil
}

// UnmarshalReader decodes one value from src into v. Bytes after the value
// are left unread.
func UnmarshalReader(src io.Reader, v any) error {
	return NewReader(src).Read(v)
}

// Decode reads one value of type T from src.
func Decode[T any](src io.Reader) (T, error) {
	var v T
	err := NewReader(src).Read(&v)
	return v, err
}

// DecodeBytes decodes data as a value of type T, consuming all of it.
func DecodeBytes[T any](data []byte) (T, error) {
	var v T
	err := Unmarshal(data, &v)
	return v, err
}

// Encoder handles type-safe encoding of type T
type Encoder[T any] struct {
	plan *plan
}

// NewEncoder builds an Encoder using type information from T. The encoding
// plan is compiled once here; create one Encoder per type and share it - the
// encoder is safe for concurrent use.
func NewEncoder[T any]() *Encoder[T] {
	return &Encoder[T]{plan: planFor(reflect.TypeFor[T]())}
}

// Marshal appends the encoding of v to buf. On error buf is left as it was.
func (e *Encoder[T]) Marshal(v *T, buf *Buffer) error {
	if v == nil {
		return fmt.Errorf("%w: nil %T", ErrUnsupported, v)
	}
	mark := len(buf.Bytes)
	w := NewBufferWriter(buf)
	if err := e.plan.enc(w, reflect.ValueOf(v).Elem()); err != nil {
		buf.Bytes = buf.Bytes[:mark]
		return w.fail(err)
	}
	return nil
}

// MarshalWriter encodes v to sink.
func (e *Encoder[T]) MarshalWriter(sink io.Writer, v *T) error {
	buf := NewBufferFromPool()
	defer buf.ReturnToPool()

	if err := e.Marshal(v, buf); err != nil {
		return err
	}
	w := &Writer{buf: buf, sink: sink}
	return w.Flush()
}

// Decoder handles type-safe decoding of type T
type Decoder[T any] struct {
	plan   *plan
	limits DecodeLimits
}

// NewDecoder constructs a decoder specialized for type T with default limits
func NewDecoder[T any]() *Decoder[T] {
	return NewDecoderWithLimits[T](DefaultLimits)
}

// NewDecoderWithLimits constructs a decoder with custom bounds checking limits
func NewDecoderWithLimits[T any](limits DecodeLimits) *Decoder[T] {
	return &Decoder[T]{plan: planFor(reflect.TypeFor[T]()), limits: limits}
}

// Unmarshal decodes bytes into v. All of bytes must be consumed.
func (d *Decoder[T]) Unmarshal(bytes []byte, v *T) error {
	r := NewBytesReader(bytes)
	if err := d.Read(r, v); err != nil {
		return err
	}
	if n := r.Remaining(); n > 0 {
		return fmt.Errorf("%w: %d bytes", ErrTrailingData, n)
	}
	return nil
}

// Read decodes one value from r into v using the decoder's limits.
func (d *Decoder[T]) Read(r *Reader, v *T) error {
	if v == nil {
		return fmt.Errorf("%w: nil %T", ErrUnsupported, v)
	}
	r.SetLimits(d.limits)
	if r.err != nil {
		return r.err
	}
	if err := d.plan.dec(r, reflect.ValueOf(v).Elem()); err != nil {
		return r.fail(err)
	}
	return nil
}

// tagOptions represents the comma-separated options in a struct tag.
// Empty string if no options present.
//
// this is jacked from the stdlib to remain compatible with that syntax.
type tagOptions string

// parseTag extracts the name and options from a struct field tag.
// Returns name and comma-separated options.
func parseTag(tag string) (string, tagOptions) {
	if idx := strings.Index(tag, ","); idx != -1 {
		return tag[:idx], tagOptions(tag[idx+1:])
	}
	return tag, tagOptions("")
}

// Contains reports whether a comma-separated list of options
// contains a particular substr flag. substr must be surrounded by a
// string boundary or commas.
func (o tagOptions) Contains(optionName string) bool {
	if len(o) == 0 {
		return false
	}
	s := string(o)
	for s != "" {
		var next string
		i := strings.Index(s, ",")
		if i >= 0 {
			s, next = s[:i], s[i+1:]
		}
		if s == optionName {
			return true
		}
		s = next
	}
	return false
}
