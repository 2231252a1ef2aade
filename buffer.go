package bare

import (
	"encoding/binary"
	"math"
	"sync"
)

// Buffer accumulates encoded data during serialization. Supports only append operations
// for efficiency. Append methods perform no validation; use a Writer for checked encoding.
type Buffer struct {
	Bytes []byte
}

// Reset clears the buffer contents but preserves allocated memory
func (b *Buffer) Reset() {
	b.Bytes = b.Bytes[:0]
}

// Len reports the number of encoded bytes held.
func (b *Buffer) Len() int { return len(b.Bytes) }

// Write appends p, making Buffer usable as an io.Writer sink.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Bytes = append(b.Bytes, p...)
	return len(p), nil
}

var bufpool = sync.Pool{
	New: func() any { return &Buffer{} },
}

// NewBufferFromPool obtains a reset Buffer from the pool. Call ReturnToPool when finished.
// For existing memory, create directly: `buf := Buffer{mySlice[:0]}` - pooling is optional.
func NewBufferFromPool() *Buffer {
	b := bufpool.Get().(*Buffer)
	b.Reset()
	return b
}

// NewBufferFromPoolWithCap acquires a pooled Buffer with guaranteed capacity.
// Call ReturnToPool after use.
func NewBufferFromPoolWithCap(size int) *Buffer {
	b := bufpool.Get().(*Buffer)

	if c := cap(b.Bytes); c < size {
		b.Bytes = make([]byte, 0, size)
	} else {
		b.Reset()
	}

	return b
}

// ReturnToPool releases the buffer back to the pool. Using the buffer after this call
// results in undefined behavior.
func (b *Buffer) ReturnToPool() {
	// very large buffers stay out of the pool so one big message doesn't pin memory
	if cap(b.Bytes) > 1<<20 {
		return
	}
	bufpool.Put(b)
}

// AppendBool encodes a boolean as a single byte: 1 for true, 0 for false.
func (b *Buffer) AppendBool(value bool) {
	if value {
		b.Bytes = append(b.Bytes, 1)
	} else {
		b.Bytes = append(b.Bytes, 0)
	}
}

// AppendUint8 adds a single byte to the buffer.
func (b *Buffer) AppendUint8(value uint8) {
	b.Bytes = append(b.Bytes, value)
}

// AppendUint16 encodes a uint16 as two little-endian bytes.
func (b *Buffer) AppendUint16(value uint16) {
	b.Bytes = binary.LittleEndian.AppendUint16(b.Bytes, value)
}

// AppendUint32 encodes a uint32 as four little-endian bytes.
func (b *Buffer) AppendUint32(value uint32) {
	b.Bytes = binary.LittleEndian.AppendUint32(b.Bytes, value)
}

// AppendUint64 encodes a uint64 as eight little-endian bytes.
func (b *Buffer) AppendUint64(value uint64) {
	b.Bytes = binary.LittleEndian.AppendUint64(b.Bytes, value)
}

// AppendInt8 adds a signed byte to the buffer.
func (b *Buffer) AppendInt8(value int8) {
	b.Bytes = append(b.Bytes, byte(value))
}

// AppendInt16 encodes an int16 as two little-endian bytes.
func (b *Buffer) AppendInt16(value int16) {
	b.AppendUint16(uint16(value))
}

// AppendInt32 encodes an int32 as four little-endian bytes.
func (b *Buffer) AppendInt32(value int32) {
	b.AppendUint32(uint32(value))
}

// AppendInt64 encodes an int64 as eight little-endian bytes.
func (b *Buffer) AppendInt64(value int64) {
	b.AppendUint64(uint64(value))
}

// AppendFloat32 encodes the IEEE-754 bits of a float32, NaN payloads included.
func (b *Buffer) AppendFloat32(value float32) {
	b.AppendUint32(math.Float32bits(value))
}

// AppendFloat64 encodes the IEEE-754 bits of a float64, NaN payloads included.
func (b *Buffer) AppendFloat64(value float64) {
	b.AppendUint64(math.Float64bits(value))
}

// AppendUvarint encodes a BARE uint.
func (b *Buffer) AppendUvarint(value uint64) {
	b.Bytes = AppendUvarint(b.Bytes, value)
}

// AppendVarint encodes a BARE int using zigzag encoding.
func (b *Buffer) AppendVarint(value int64) {
	b.Bytes = AppendVarint(b.Bytes, value)
}

// AppendString encodes a string with length prefix into the buffer.
func (b *Buffer) AppendString(value string) {
	b.AppendUvarint(uint64(len(value)))
	b.Bytes = append(b.Bytes, value...)
}

// AppendData encodes a byte slice with length prefix into the buffer.
func (b *Buffer) AppendData(value []byte) {
	b.AppendUvarint(uint64(len(value)))
	b.Bytes = append(b.Bytes, value...)
}

// AppendRaw copies value into the buffer with no prefix (BARE data<N>).
func (b *Buffer) AppendRaw(value []byte) {
	b.Bytes = append(b.Bytes, value...)
}
