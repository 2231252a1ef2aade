package bare

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// DecodeLimits configures bounds checking during decoding to prevent memory exhaustion attacks
type DecodeLimits struct {
	MaxByteSliceLen uint // Maximum data length (0 = unlimited)
	MaxStringLen    uint // Maximum string length (0 = unlimited)
	MaxSliceLen     uint // Maximum list element count (0 = unlimited)
	MaxMapLen       uint // Maximum map pair count (0 = unlimited)
	MaxSliceInitCap uint // Cap initial slice and map allocations to prevent huge upfront allocations
	ChunkSize       uint // Step in which data and string buffers grow while reading
	MaxDepth        uint // Maximum nesting of composite values (0 = unlimited)
}

// DefaultLimits provides sensible defaults for most use cases
var DefaultLimits = DecodeLimits{
	MaxByteSliceLen: 100 * 1024 * 1024, // 100MB
	MaxStringLen:    50 * 1024 * 1024,  // 50MB string max
	MaxSliceLen:     10_000_000,        // 10M elements
	MaxMapLen:       10_000_000,        // 10M pairs
	MaxSliceInitCap: 10000,             // 10K elements initial cap
	ChunkSize:       4096,
	MaxDepth:        1000,
}

// checkLimit validates a length against a limit, with 0 meaning unlimited
func checkLimit(length uint64, limit uint, name string) error {
	if limit > 0 && length > uint64(limit) {
		return fmt.Errorf("%w: %s length %d exceeds limit %d", ErrLimitExceeded, name, length, limit)
	}
	return nil
}

// initCap bounds the capacity preallocated for a claimed element count.
func (l DecodeLimits) initCap(n int) int {
	if l.MaxSliceInitCap > 0 && uint(n) > l.MaxSliceInitCap {
		return int(l.MaxSliceInitCap)
	}
	return n
}

// Reader decodes BARE values from a source. It reads exactly the bytes each
// value occupies; for unbuffered streams wrap the source in a bufio.Reader.
//
// A Reader keeps the first error it encounters; every later call returns it.
// After an error the source position is undefined. It is not safe for
// concurrent use.
type Reader struct {
	src    io.Reader
	br     io.ByteReader
	data   *bytes.Reader // set when decoding from memory, allows early length checks
	offset int64
	limits DecodeLimits
	depth  uint
	err    error
}

// NewReader returns a Reader over src using DefaultLimits.
func NewReader(src io.Reader) *Reader {
	r := &Reader{src: src, limits: DefaultLimits}
	switch s := src.(type) {
	case *bytes.Reader:
		r.data = s
		r.br = s
	case io.ByteReader:
		r.br = s
	default:
		r.br = &singleByteReader{r: src}
	}
	return r
}

// NewBytesReader returns a Reader over b.
func NewBytesReader(b []byte) *Reader {
	return NewReader(bytes.NewReader(b))
}

// SetLimits replaces the Reader's decode limits.
func (r *Reader) SetLimits(limits DecodeLimits) {
	if limits.ChunkSize == 0 {
		limits.ChunkSize = DefaultLimits.ChunkSize
	}
	r.limits = limits
}

// Limits returns the Reader's decode limits.
func (r *Reader) Limits() DecodeLimits { return r.limits }

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int64 { return r.offset }

// Err returns the first error the Reader encountered.
func (r *Reader) Err() error { return r.err }

// Remaining reports how many bytes are left when decoding from memory, and
// -1 for streams.
func (r *Reader) Remaining() int {
	if r.data == nil {
		return -1
	}
	return r.data.Len()
}

func (r *Reader) fail(err error) error {
	if r.err == nil {
		r.err = err
	}
	return r.err
}

func (r *Reader) ioFail(err error) error {
	return r.fail(&IOError{Op: "read", Offset: r.offset, Err: err})
}

// Decode reads one complete value into v, which must be a non-nil pointer
// or implement Unmarshaler. When the source can unread a byte (in-memory
// data, bufio.Reader), an already exhausted source fails with an IOError
// wrapping io.EOF rather than io.ErrUnexpectedEOF, which ends decode loops.
func (r *Reader) Decode(v any) error {
	if r.err != nil {
		return r.err
	}
	if _, err := r.peekByte(); err != nil {
		return r.ioFail(err)
	}
	return r.Read(v)
}

// Read decodes v at the current position.
func (r *Reader) Read(v any) error {
	if r.err != nil {
		return r.err
	}
	if u, ok := v.(Unmarshaler); ok {
		if err := r.enter(); err != nil {
			return err
		}
		err := u.UnmarshalBARE(r)
		r.depth--
		if err != nil {
			return r.fail(err)
		}
		return r.err
	}
	return decodeReflect(r, v)
}

// peekByte checks that a byte is available without consuming it. Sources that
// cannot unread skip the check.
func (r *Reader) peekByte() (byte, error) {
	if r.data != nil {
		if r.data.Len() == 0 {
			return 0, io.EOF
		}
		b, _ := r.data.ReadByte()
		_ = r.data.UnreadByte()
		return b, nil
	}
	if s, ok := r.br.(io.ByteScanner); ok {
		b, err := s.ReadByte()
		if err != nil {
			return 0, err
		}
		return b, s.UnreadByte()
	}
	return 0, nil
}

func (r *Reader) enter() error {
	r.depth++
	if r.limits.MaxDepth > 0 && r.depth > r.limits.MaxDepth {
		r.depth--
		return r.fail(fmt.Errorf("%w: nesting deeper than %d", ErrLimitExceeded, r.limits.MaxDepth))
	}
	return nil
}

// truncated fails an in-memory read that is known to run past the end,
// draining what is there so the offset in the error is accurate.
func (r *Reader) truncated() error {
	r.offset += int64(r.data.Len())
	r.data.Seek(0, io.SeekEnd)
	return r.ioFail(io.ErrUnexpectedEOF)
}

// checkCount rejects n elements of at least size bytes each when decoding
// from memory and fewer bytes than that remain.
func (r *Reader) checkCount(n, size int) error {
	if r.data == nil || size == 0 || n <= r.data.Len()/size {
		return nil
	}
	return r.truncated()
}

func (r *Reader) readByte() (byte, error) {
	if r.err != nil {
		return 0, r.err
	}
	b, err := r.br.ReadByte()
	if err != nil {
		return 0, r.ioFail(unexpectedEOF(err))
	}
	r.offset++
	return b, nil
}

// readFull fills p from the source.
func (r *Reader) readFull(p []byte) error {
	if r.err != nil {
		return r.err
	}
	n, err := io.ReadFull(r.src, p)
	r.offset += int64(n)
	if err != nil {
		return r.ioFail(unexpectedEOF(err))
	}
	return nil
}

// readN reads n bytes, growing the result in ChunkSize steps so a forged
// length cannot force a large allocation before the data runs out.
func (r *Reader) readN(n uint64) ([]byte, error) {
	if n > math.MaxInt {
		return nil, r.fail(fmt.Errorf("%w: %d bytes", ErrLengthOverflow, n))
	}
	if r.data != nil && uint64(r.data.Len()) < n {
		return nil, r.truncated()
	}
	chunk := uint64(r.limits.ChunkSize)
	if chunk == 0 {
		chunk = uint64(DefaultLimits.ChunkSize)
	}
	buf := make([]byte, 0, min(n, chunk))
	for uint64(len(buf)) < n {
		step := min(n-uint64(len(buf)), chunk)
		start := len(buf)
		if uint64(cap(buf)-start) < step {
			grown := make([]byte, start, start+int(max(step, uint64(start))))
			copy(grown, buf)
			buf = grown
		}
		buf = buf[:start+int(step)]
		if err := r.readFull(buf[start:]); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// ReadBool reads a bool. Only 0 and 1 are valid.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.readByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, r.fail(fmt.Errorf("%w: %#x", ErrInvalidBool, b))
}

// ReadU8 reads a u8.
func (r *Reader) ReadU8() (uint8, error) {
	return r.readByte()
}

// ReadU16 reads a little-endian u16.
func (r *Reader) ReadU16() (uint16, error) {
	var b [2]byte
	err := r.readFull(b[:])
	return binary.LittleEndian.Uint16(b[:]), err
}

// ReadU32 reads a little-endian u32.
func (r *Reader) ReadU32() (uint32, error) {
	var b [4]byte
	err := r.readFull(b[:])
	return binary.LittleEndian.Uint32(b[:]), err
}

// ReadU64 reads a little-endian u64.
func (r *Reader) ReadU64() (uint64, error) {
	var b [8]byte
	err := r.readFull(b[:])
	return binary.LittleEndian.Uint64(b[:]), err
}

// ReadI8 reads an i8.
func (r *Reader) ReadI8() (int8, error) {
	b, err := r.readByte()
	return int8(b), err
}

// ReadI16 reads a little-endian i16.
func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

// ReadI32 reads a little-endian i32.
func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

// ReadI64 reads a little-endian i64.
func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

// ReadF32 reads an f32 bit pattern.
func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	return math.Float32frombits(v), err
}

// ReadF64 reads an f64 bit pattern.
func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	return math.Float64frombits(v), err
}

// ReadUint reads a BARE uint.
func (r *Reader) ReadUint() (uint64, error) {
	if r.err != nil {
		return 0, r.err
	}
	v, err := ReadUvarint(countingByteReader{r})
	if err != nil {
		if err == ErrInvalidVarint {
			return 0, r.fail(err)
		}
		// the first byte failing is still mid-value from the caller's view
		return 0, r.ioFail(unexpectedEOF(err))
	}
	return v, nil
}

// ReadInt reads a BARE int.
func (r *Reader) ReadInt() (int64, error) {
	ux, err := r.ReadUint()
	return unzigzag(ux), err
}

// ReadChar reads a u32 code point and checks it is a unicode scalar value.
func (r *Reader) ReadChar() (rune, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 || !utf8.ValidRune(rune(v)) {
		return 0, r.fail(fmt.Errorf("%w: %#x", ErrInvalidChar, v))
	}
	return rune(v), nil
}

// ReadString reads a length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint()
	if err != nil {
		return "", err
	}
	if err := checkLimit(n, r.limits.MaxStringLen, "string"); err != nil {
		return "", r.fail(err)
	}
	b, err := r.readN(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", r.fail(ErrInvalidUTF8)
	}
	return string(b), nil
}

// ReadData reads a length-prefixed byte string.
func (r *Reader) ReadData() ([]byte, error) {
	n, err := r.ReadUint()
	if err != nil {
		return nil, err
	}
	if err := checkLimit(n, r.limits.MaxByteSliceLen, "data"); err != nil {
		return nil, r.fail(err)
	}
	return r.readN(n)
}

// ReadFixedData reads exactly n bytes with no prefix (BARE data<N>).
func (r *Reader) ReadFixedData(n int) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	if n < 0 {
		return nil, r.fail(fmt.Errorf("%w: fixed length %d", ErrLengthOverflow, n))
	}
	return r.readN(uint64(n))
}

// ReadVoid reads nothing.
func (r *Reader) ReadVoid() error {
	return r.err
}

// ReadLength reads a list element count and checks it against MaxSliceLen.
func (r *Reader) ReadLength() (int, error) {
	return r.readCount(r.limits.MaxSliceLen, "list")
}

// ReadMapLength reads a map pair count and checks it against MaxMapLen.
func (r *Reader) ReadMapLength() (int, error) {
	return r.readCount(r.limits.MaxMapLen, "map")
}

func (r *Reader) readCount(limit uint, name string) (int, error) {
	n, err := r.ReadUint()
	if err != nil {
		return 0, err
	}
	if err := checkLimit(n, limit, name); err != nil {
		return 0, r.fail(err)
	}
	if n > math.MaxInt {
		return 0, r.fail(fmt.Errorf("%w: count %d", ErrLengthOverflow, n))
	}
	return int(n), nil
}

// ReadOptional reads a presence byte and, when present, calls fn to read the
// value. It reports whether the value was present.
func (r *Reader) ReadOptional(fn func(*Reader) error) (bool, error) {
	present, err := r.ReadBool()
	if err != nil || !present {
		return false, err
	}
	return true, r.call(fn)
}

// ReadSequence reads an element count then calls fn once per element, in
// order. It returns the count.
func (r *Reader) ReadSequence(fn func(r *Reader, i int) error) (int, error) {
	n, err := r.ReadLength()
	if err != nil {
		return 0, err
	}
	return n, r.each(n, fn)
}

// ReadTuple calls fn exactly n times; n comes from the schema, not the stream.
func (r *Reader) ReadTuple(n int, fn func(r *Reader, i int) error) error {
	if r.err != nil {
		return r.err
	}
	return r.each(n, fn)
}

// ReadMap reads a pair count then calls fn once per pair in stream order. fn
// reads the key then the value. It returns the count.
func (r *Reader) ReadMap(fn func(r *Reader, i int) error) (int, error) {
	n, err := r.ReadMapLength()
	if err != nil {
		return 0, err
	}
	return n, r.each(n, fn)
}

// ReadStruct calls each field reader in declaration order.
func (r *Reader) ReadStruct(fields ...func(*Reader) error) error {
	if err := r.enter(); err != nil {
		return err
	}
	defer func() { r.depth-- }()
	for _, fn := range fields {
		if err := fn(r); err != nil {
			return r.fail(err)
		}
		if r.err != nil {
			return r.err
		}
	}
	return nil
}

// ReadUnion reads a discriminant and hands it to fn, which reads the payload
// of the selected variant. fn returns UnrecognizedTag for unknown tags.
func (r *Reader) ReadUnion(fn func(r *Reader, tag uint64) error) error {
	tag, err := r.ReadUint()
	if err != nil {
		return err
	}
	if err := r.enter(); err != nil {
		return err
	}
	defer func() { r.depth-- }()
	if err := fn(r, tag); err != nil {
		return r.fail(err)
	}
	return r.err
}

// ReadAny always fails: a BARE stream carries no type information to infer
// a value's shape from.
func (r *Reader) ReadAny() (any, error) {
	return nil, r.fail(fmt.Errorf("%w: any", ErrUnsupported))
}

// SkipValue always fails: a value's extent cannot be found without its type.
func (r *Reader) SkipValue() error {
	return r.fail(fmt.Errorf("%w: skipping an untyped value", ErrUnsupported))
}

func (r *Reader) each(n int, fn func(r *Reader, i int) error) error {
	if err := r.enter(); err != nil {
		return err
	}
	defer func() { r.depth-- }()
	for i := 0; i < n; i++ {
		if err := fn(r, i); err != nil {
			return r.fail(err)
		}
		if r.err != nil {
			return r.err
		}
	}
	return nil
}

func (r *Reader) call(fn func(*Reader) error) error {
	if err := r.enter(); err != nil {
		return err
	}
	defer func() { r.depth-- }()
	if err := fn(r); err != nil {
		return r.fail(err)
	}
	return r.err
}

// countingByteReader advances the Reader offset for varint bytes.
type countingByteReader struct{ r *Reader }

func (c countingByteReader) ReadByte() (byte, error) {
	b, err := c.r.br.ReadByte()
	if err == nil {
		c.r.offset++
	}
	return b, err
}

// singleByteReader reads one byte at a time from a plain io.Reader so the
// Reader never consumes past the end of a value.
type singleByteReader struct {
	r   io.Reader
	buf [1]byte
}

func (s *singleByteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
		return 0, err
	}
	return s.buf[0], nil
}
