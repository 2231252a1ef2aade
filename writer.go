package bare

import (
	"fmt"
	"io"
	"unicode/utf8"
)

// UnknownLength is passed to WriteSequence or WriteMap by adapters that cannot
// count their elements up front. BARE cannot represent such values, so the
// call fails.
const UnknownLength = -1

// Writer encodes BARE values. Values are assembled in a Buffer and handed to
// the sink by Flush, so a failed Encode leaves nothing half-written in the sink.
//
// A Writer keeps the first error it encounters; every later call returns it.
// It is not safe for concurrent use.
type Writer struct {
	buf    *Buffer
	sink   io.Writer
	pooled bool
	n      int64 // bytes flushed to sink
	depth  uint
	err    error
}

// NewWriter returns a Writer that flushes to sink. Call Close when done to
// return its buffer to the pool.
func NewWriter(sink io.Writer) *Writer {
	return &Writer{buf: NewBufferFromPool(), sink: sink, pooled: true}
}

// NewBufferWriter returns a Writer that appends directly into buf. Flush is a
// no-op for it.
func NewBufferWriter(buf *Buffer) *Writer {
	return &Writer{buf: buf}
}

// Err returns the first error the Writer encountered.
func (w *Writer) Err() error { return w.err }

// Buffered returns the encoded bytes not yet flushed to the sink.
func (w *Writer) Buffered() []byte { return w.buf.Bytes }

// Written returns the number of bytes flushed to the sink so far.
func (w *Writer) Written() int64 { return w.n }

func (w *Writer) enter() error {
	w.depth++
	if w.depth > maxEncodeDepth {
		w.depth--
		return w.fail(fmt.Errorf("%w: nesting deeper than %d", ErrLimitExceeded, maxEncodeDepth))
	}
	return nil
}

func (w *Writer) fail(err error) error {
	if w.err == nil {
		w.err = err
	}
	return w.err
}

// Flush hands buffered bytes to the sink.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if w.sink == nil || len(w.buf.Bytes) == 0 {
		return nil
	}
	n, err := w.sink.Write(w.buf.Bytes)
	w.n += int64(n)
	if err == nil && n < len(w.buf.Bytes) {
		err = io.ErrShortWrite
	}
	w.buf.Reset()
	if err != nil {
		return w.fail(&IOError{Op: "write", Offset: w.n, Err: err})
	}
	return nil
}

// Close releases the Writer's pooled buffer. Unflushed bytes are discarded.
func (w *Writer) Close() {
	if w.pooled && w.buf != nil {
		w.buf.ReturnToPool()
		w.buf = nil
	}
}

// Encode writes v as one complete value and flushes it to the sink. v is
// encoded through its Marshaler implementation if it has one and through
// the reflection adapter otherwise. On error the partial encoding is dropped.
func (w *Writer) Encode(v any) error {
	if w.err != nil {
		return w.err
	}
	mark := len(w.buf.Bytes)
	if err := w.Write(v); err != nil {
		w.buf.Bytes = w.buf.Bytes[:mark]
		return err
	}
	return w.Flush()
}

// Write encodes v at the current position without flushing.
func (w *Writer) Write(v any) error {
	if w.err != nil {
		return w.err
	}
	if m, ok := v.(Marshaler); ok {
		if err := m.MarshalBARE(w); err != nil {
			return w.fail(err)
		}
		return nil
	}
	return encodeReflect(w, v)
}

// WriteBool writes a bool as 0 or 1.
func (w *Writer) WriteBool(v bool) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendBool(v)
	return nil
}

// WriteU8 writes a u8.
func (w *Writer) WriteU8(v uint8) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendUint8(v)
	return nil
}

// WriteU16 writes a little-endian u16.
func (w *Writer) WriteU16(v uint16) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendUint16(v)
	return nil
}

// WriteU32 writes a little-endian u32.
func (w *Writer) WriteU32(v uint32) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendUint32(v)
	return nil
}

// WriteU64 writes a little-endian u64.
func (w *Writer) WriteU64(v uint64) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendUint64(v)
	return nil
}

// WriteI8 writes an i8.
func (w *Writer) WriteI8(v int8) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendInt8(v)
	return nil
}

// WriteI16 writes a little-endian i16.
func (w *Writer) WriteI16(v int16) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendInt16(v)
	return nil
}

// WriteI32 writes a little-endian i32.
func (w *Writer) WriteI32(v int32) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendInt32(v)
	return nil
}

// WriteI64 writes a little-endian i64.
func (w *Writer) WriteI64(v int64) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendInt64(v)
	return nil
}

// WriteF32 writes the IEEE-754 bits of v.
func (w *Writer) WriteF32(v float32) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendFloat32(v)
	return nil
}

// WriteF64 writes the IEEE-754 bits of v.
func (w *Writer) WriteF64(v float64) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendFloat64(v)
	return nil
}

// WriteUint writes a BARE uint.
func (w *Writer) WriteUint(v uint64) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendUvarint(v)
	return nil
}

// WriteInt writes a BARE int.
func (w *Writer) WriteInt(v int64) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendVarint(v)
	return nil
}

// WriteChar writes a unicode scalar value as its u32 code point.
func (w *Writer) WriteChar(v rune) error {
	if w.err != nil {
		return w.err
	}
	if !utf8.ValidRune(v) {
		return w.fail(fmt.Errorf("%w: %#x", ErrInvalidChar, v))
	}
	w.buf.AppendUint32(uint32(v))
	return nil
}

// WriteString writes a length-prefixed UTF-8 string.
func (w *Writer) WriteString(v string) error {
	if w.err != nil {
		return w.err
	}
	if !utf8.ValidString(v) {
		return w.fail(ErrInvalidUTF8)
	}
	w.buf.AppendString(v)
	return nil
}

// WriteData writes a length-prefixed byte string.
func (w *Writer) WriteData(v []byte) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendData(v)
	return nil
}

// WriteFixedData writes v with no length prefix (BARE data<N>).
func (w *Writer) WriteFixedData(v []byte) error {
	if w.err != nil {
		return w.err
	}
	w.buf.AppendRaw(v)
	return nil
}

// WriteVoid writes nothing; it exists so adapters can describe void values.
func (w *Writer) WriteVoid() error {
	return w.err
}

// WriteOptional writes the presence byte and, when present, the value fn writes.
func (w *Writer) WriteOptional(present bool, fn func(*Writer) error) error {
	if err := w.WriteBool(present); err != nil || !present {
		return err
	}
	return w.call(fn)
}

// WriteSequence writes the element count n followed by n elements, each
// written by fn. n must be known: UnknownLength fails with
// ErrSequenceLengthRequired.
func (w *Writer) WriteSequence(n int, fn func(w *Writer, i int) error) error {
	if w.err != nil {
		return w.err
	}
	if n < 0 {
		return w.fail(ErrSequenceLengthRequired)
	}
	w.buf.AppendUvarint(uint64(n))
	return w.each(n, fn)
}

// WriteTuple writes exactly n elements with no count. Both peers know n from
// the schema.
func (w *Writer) WriteTuple(n int, fn func(w *Writer, i int) error) error {
	if w.err != nil {
		return w.err
	}
	if n < 0 {
		return w.fail(fmt.Errorf("%w: tuple length %d", ErrLengthOverflow, n))
	}
	return w.each(n, fn)
}

// WriteMap writes the pair count n followed by n pairs. fn writes the key then
// the value of pair i. UnknownLength fails with ErrMapLengthRequired.
func (w *Writer) WriteMap(n int, fn func(w *Writer, i int) error) error {
	if w.err != nil {
		return w.err
	}
	if n < 0 {
		return w.fail(ErrMapLengthRequired)
	}
	w.buf.AppendUvarint(uint64(n))
	return w.each(n, fn)
}

// WriteStruct writes each field in order. Field names and counts never reach
// the wire.
func (w *Writer) WriteStruct(fields ...func(*Writer) error) error {
	for _, fn := range fields {
		if err := w.call(fn); err != nil {
			return err
		}
	}
	return w.err
}

// WriteUnion writes the discriminant tag as a uint followed by the payload.
// A nil payload is a void variant.
func (w *Writer) WriteUnion(tag uint64, payload func(*Writer) error) error {
	if err := w.WriteUint(tag); err != nil {
		return err
	}
	if payload == nil {
		return nil
	}
	return w.call(payload)
}

func (w *Writer) each(n int, fn func(w *Writer, i int) error) error {
	if err := w.enter(); err != nil {
		return err
	}
	defer func() { w.depth-- }()
	for i := 0; i < n; i++ {
		if err := fn(w, i); err != nil {
			return w.fail(err)
		}
		if w.err != nil {
			return w.err
		}
	}
	return nil
}

func (w *Writer) call(fn func(*Writer) error) error {
	if err := w.enter(); err != nil {
		return err
	}
	defer func() { w.depth-- }()
	if err := fn(w); err != nil {
		return w.fail(err)
	}
	return w.err
}
