package bare

import (
	"io"
)

// MaxVarintLen is the longest varint a 64-bit value needs: ceil(64/7) groups.
const MaxVarintLen = 10

// Uint is a BARE uint: an unsigned integer written as a varint rather than
// a fixed-width field.
type Uint uint64

// Int is a BARE int: a signed integer written as a zigzag varint.
type Int int64

// MarshalBARE writes u as a varint.
func (u Uint) MarshalBARE(w *Writer) error { return w.WriteUint(uint64(u)) }

// UnmarshalBARE reads a varint into u.
func (u *Uint) UnmarshalBARE(r *Reader) error {
	v, err := r.ReadUint()
	*u = Uint(v)
	return err
}

// MarshalBARE writes i as a zigzag varint.
func (i Int) MarshalBARE(w *Writer) error { return w.WriteInt(int64(i)) }

// UnmarshalBARE reads a zigzag varint into i.
func (i *Int) UnmarshalBARE(r *Reader) error {
	v, err := r.ReadInt()
	*i = Int(v)
	return err
}

// AppendUvarint appends the minimal varint encoding of value to b.
func AppendUvarint(b []byte, value uint64) []byte {
	for value >= 0b10000000 {
		b = append(b, byte(value&0b01111111)|0b10000000)
		value >>= 7
	}
	return append(b, byte(value))
}

// AppendVarint appends the zigzag varint encoding of value to b.
func AppendVarint(b []byte, value int64) []byte {
	return AppendUvarint(b, zigzag(value))
}

func zigzag(value int64) uint64 {
	ux := uint64(value) << 1
	if value < 0 {
		ux = ^ux
	}
	return ux
}

func unzigzag(ux uint64) int64 {
	x := int64(ux >> 1)
	if ux&1 != 0 {
		x = ^x
	}
	return x
}

// UvarintSize returns the number of bytes AppendUvarint writes for value.
func UvarintSize(value uint64) int {
	n := 1
	for value >= 0b10000000 {
		value >>= 7
		n++
	}
	return n
}

// ReadUvarint decodes a varint from r. It fails with ErrInvalidVarint when
// the encoding runs past MaxVarintLen bytes or the last byte carries bits
// beyond 2^64-1, and with io.ErrUnexpectedEOF when r ends mid-varint.
func ReadUvarint(r io.ByteReader) (uint64, error) {
	var value uint64
	var shift uint
	for i := 0; i < MaxVarintLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i > 0 {
				err = unexpectedEOF(err)
			}
			return 0, err
		}
		if i == MaxVarintLen-1 && b > 1 {
			return 0, ErrInvalidVarint
		}
		if b < 0b10000000 {
			return value | uint64(b)<<shift, nil
		}
		value |= uint64(b&0b01111111) << shift
		shift += 7
	}
	return 0, ErrInvalidVarint
}

// ReadVarint decodes a zigzag varint from r.
func ReadVarint(r io.ByteReader) (int64, error) {
	ux, err := ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	return unzigzag(ux), nil
}
