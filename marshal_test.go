package bare

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type UserRole uint

const (
	Admin UserRole = iota
	Normal
	Guest
)

type Session struct {
	Token   []byte
	Expires uint
}

type User struct {
	ID      uint
	Name    string
	Email   string
	Role    UserRole
	Session *Session
}

const adminToken = "a2b08ecd0a0dc594ebccd607033e79262d1fa049a6d44165631b10028f97b611"

func makeAdmin() ([]byte, User) {
	admin := User{
		ID:    42,
		Name:  "Jane Doe",
		Email: "jdoe@example.com",
		Role:  Admin,
		Session: &Session{
			Token:   []byte(adminToken),
			Expires: 42424242,
		},
	}

	var want []byte
	want = append(want, 42)
	want = append(want, 8)
	want = append(want, "Jane Doe"...)
	want = append(want, 16)
	want = append(want, "jdoe@example.com"...)
	want = append(want, 0)    // role
	want = append(want, 1)    // session present
	want = append(want, 0x40) // token length
	want = append(want, adminToken...)
	want = append(want, 178, 175, 157, 20)
	return want, admin
}

func makeGuest() ([]byte, User) {
	guest := User{
		ID:    112,
		Name:  "John Smith",
		Email: "john@example.com",
		Role:  Guest,
	}

	var want []byte
	want = append(want, 112, 10)
	want = append(want, "John Smith"...)
	want = append(want, 16)
	want = append(want, "john@example.com"...)
	want = append(want, 2, 0)
	return want, guest
}

func TestUserGoldenBytes(t *testing.T) {
	for name, mk := range map[string]func() ([]byte, User){"admin": makeAdmin, "guest": makeGuest} {
		t.Run(name, func(t *testing.T) {
			want, user := mk()

			got, err := Marshal(&user)
			require.NoError(t, err)
			assert.Equal(t, want, got)

			var decoded User
			require.NoError(t, Unmarshal(got, &decoded))
			assert.Equal(t, user, decoded)
		})
	}
}

func TestTypedEncoderDecoder(t *testing.T) {
	want, admin := makeAdmin()

	encoder := NewEncoder[User]()
	decoder := NewDecoder[User]()

	buf := NewBufferFromPool()
	defer buf.ReturnToPool()

	require.NoError(t, encoder.Marshal(&admin, buf))
	assert.Equal(t, want, buf.Bytes)

	var decoded User
	require.NoError(t, decoder.Unmarshal(buf.Bytes, &decoded))
	assert.Equal(t, admin, decoded)

	var sink bytes.Buffer
	require.NoError(t, encoder.MarshalWriter(&sink, &admin))
	assert.Equal(t, want, sink.Bytes())

	got, err := DecodeBytes[User](want)
	require.NoError(t, err)
	assert.Equal(t, admin, got)

	got, err = Decode[User](bytes.NewReader(want))
	require.NoError(t, err)
	assert.Equal(t, admin, got)
}

func TestEncoderConcurrentUse(t *testing.T) {
	want, admin := makeAdmin()
	encoder := NewEncoder[User]()
	decoder := NewDecoder[User]()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf := NewBufferFromPool()
				if err := encoder.Marshal(&admin, buf); err != nil {
					t.Error(err)
				}
				if !bytes.Equal(want, buf.Bytes) {
					t.Error("encoding differs between goroutines")
				}
				var u User
				if err := decoder.Unmarshal(buf.Bytes, &u); err != nil {
					t.Error(err)
				}
				buf.ReturnToPool()
			}
		}()
	}
	wg.Wait()
}

// Shape is a union of the variants registered below.
type Shape interface{ isShape() }

type Circle struct{ Radius float32 }

type Square struct{ Side uint }

type Label struct{ Text string }

type Nothing struct{}

func (Circle) isShape()  {}
func (Square) isShape()  {}
func (*Label) isShape()  {}
func (Nothing) isShape() {}

var shapes = RegisterUnion((*Shape)(nil)).
	Member(Circle{}, 0).
	Member(Square{}, 1).
	Member(&Label{}, 5).
	Member(Nothing{}, 6)

type inner struct {
	A int8
	B string
}

// point has pointer-receiver adapters.
type point struct{ X, Y int8 }

func (p *point) MarshalBARE(w *Writer) error {
	return w.WriteStruct(
		func(w *Writer) error { return w.WriteI8(p.X) },
		func(w *Writer) error { return w.WriteI8(p.Y) },
	)
}

func (p *point) UnmarshalBARE(r *Reader) error {
	return r.ReadStruct(
		func(r *Reader) error { v, err := r.ReadI8(); p.X = v; return err },
		func(r *Reader) error { v, err := r.ReadI8(); p.Y = v; return err },
	)
}

type everything struct {
	Bool    bool
	I8      int8
	I16     int16
	I32     int32
	I64     int64
	Int     int
	U8      uint8
	U16     uint16
	U32     uint32
	U64     uint64
	Uint    uint
	F32     float32
	F64     float64
	Str     string
	Data    []byte
	Fixed   [4]byte
	Tuple   [3]uint16
	Char    Char
	List    []string
	Nested  []inner
	Map     map[string]int32
	Opt     *int64
	OptNil  *string
	OptOpt  **bool
	Inner   inner
	Shape   Shape
	Shapes  []Shape
	Point   point
	Varint  uint32 `bare:",uint"`
	Zig     int16  `bare:",int"`
	Skipped string `bare:"-"`
	Void    struct{}
	hidden  int
}

func TestReflectionRoundtrip(t *testing.T) {
	opt := int64(-77)
	yes := true
	pyes := &yes

	in := everything{
		Bool: true, I8: -8, I16: -16, I32: -32, I64: -64, Int: -1000,
		U8: 8, U16: 16, U32: 32, U64: 64, Uint: 1000,
		F32: 1.5, F64: -2.25,
		Str:    "héllo",
		Data:   []byte{0, 1, 2},
		Fixed:  [4]byte{9, 8, 7, 6},
		Tuple:  [3]uint16{1, 2, 3},
		Char:   'λ',
		List:   []string{"a", "", "c"},
		Nested: []inner{{1, "x"}, {-2, "y"}},
		Map:    map[string]int32{"one": 1, "two": 2},
		Opt:    &opt,
		OptOpt: &pyes,
		Inner:  inner{A: 5, B: "inner"},
		Shape:  Circle{Radius: 2},
		Shapes: []Shape{Square{Side: 3}, &Label{Text: "l"}, Nothing{}},
		Point:  point{X: 1, Y: -1},
		Varint: 300,
		Zig:    -3,
	}
	in.Skipped = "not encoded"
	in.hidden = 7

	data, err := Marshal(in)
	require.NoError(t, err)

	var out everything
	require.NoError(t, Unmarshal(data, &out))

	want := in
	want.Skipped = ""
	want.hidden = 0
	assert.Equal(t, want, out)
}

func TestTaggedVarintFields(t *testing.T) {
	type tagged struct {
		Fixed  uint32
		Varint uint32 `bare:",uint"`
		Zig    int64  `bare:",int"`
	}
	data, err := Marshal(tagged{Fixed: 300, Varint: 300, Zig: -1})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2c, 0x01, 0, 0, 172, 2, 1}, data)

	type narrow struct {
		V uint8 `bare:",uint"`
	}
	var n narrow
	err = Unmarshal([]byte{0x80, 0x02}, &n)
	assert.ErrorIs(t, err, ErrInvalidVarint)
}

func TestUnionEncoding(t *testing.T) {
	var s Shape = Circle{Radius: 1.5}
	data, err := Marshal(&s)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 192, 63}, data)

	s = &Label{Text: "hi"}
	data, err = Marshal(&s)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 2, 'h', 'i'}, data)

	var decoded Shape
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, &Label{Text: "hi"}, decoded)

	tag, ok := shapes.Tag(Nothing{})
	assert.True(t, ok)
	assert.Equal(t, uint64(6), tag)
}

type Triangle struct{}

func (Triangle) isShape() {}

func TestUnionErrors(t *testing.T) {
	var decoded Shape
	err := Unmarshal([]byte{9}, &decoded)
	assert.ErrorIs(t, err, ErrUnrecognizedDiscriminant)

	var s Shape = Triangle{}
	_, err = Marshal(&s)
	assert.ErrorIs(t, err, ErrUnrecognizedDiscriminant)

	s = nil
	_, err = Marshal(&s)
	assert.ErrorIs(t, err, ErrUnrecognizedDiscriminant)

	var anything any = 1
	_, err = Marshal(&anything)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRegisterUnionPanics(t *testing.T) {
	assert.Panics(t, func() { RegisterUnion(Circle{}) })
	assert.Panics(t, func() { shapes.Member(Circle{}, 3) })
	assert.Panics(t, func() { shapes.Member(Square{}, 0) })
	assert.Panics(t, func() { shapes.Member(inner{}, 9) })
	assert.NotPanics(t, func() { shapes.Member(Circle{}, 0) })
	assert.Same(t, shapes, RegisterUnion((*Shape)(nil)))
}

func TestMapEncodingIsDeterministic(t *testing.T) {
	m := map[string]uint8{"b": 2, "a": 1, "c": 3}
	want := []byte{3, 1, 'a', 1, 1, 'b', 2, 1, 'c', 3}
	for i := 0; i < 20; i++ {
		data, err := Marshal(m)
		require.NoError(t, err)
		require.Equal(t, want, data)
	}

	// ordering is by encoded key, so the length prefix sorts first
	data, err := Marshal(map[string]uint8{"zz": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 1, 'b', 2, 2, 'z', 'z', 1}, data)

	var out map[string]uint8
	require.NoError(t, Unmarshal(want, &out))
	assert.Equal(t, m, out)
}

type node struct {
	Value int
	Next  *node
}

func TestRecursiveTypes(t *testing.T) {
	list := &node{Value: 1, Next: &node{Value: 2, Next: &node{Value: 3}}}
	data, err := Marshal(list)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 1, 4, 1, 6, 0}, data)

	var out node
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, *list, out)

	cycle := &node{Value: 1}
	cycle.Next = cycle
	_, err = Marshal(cycle)
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestEmptyCollectionsDecodeNil(t *testing.T) {
	type colls struct {
		L []int
		D []byte
		M map[string]int
	}
	data, err := Marshal(colls{L: []int{}, D: []byte{}, M: map[string]int{}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0}, data)

	var out colls
	require.NoError(t, Unmarshal(data, &out))
	assert.Empty(t, out.L)
	assert.Empty(t, out.D)
	assert.Empty(t, out.M)
}

func TestTrailingData(t *testing.T) {
	var v uint8
	err := Unmarshal([]byte{1, 2}, &v)
	assert.ErrorIs(t, err, ErrTrailingData)

	var u User
	err = NewDecoder[User]().Unmarshal(append(AppendUvarint(nil, 1), 0, 0, 0, 0, 0xff), &u)
	assert.ErrorIs(t, err, ErrTrailingData)
}

func TestUnsupportedValues(t *testing.T) {
	_, err := Marshal(nil)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Marshal(make(chan int))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Marshal(struct{ F func() }{})
	assert.ErrorIs(t, err, ErrUnsupported)

	var n int
	assert.ErrorIs(t, Unmarshal([]byte{0}, n), ErrUnsupported)
	assert.ErrorIs(t, Unmarshal([]byte{0}, nil), ErrUnsupported)

	var nilUser *User
	assert.ErrorIs(t, NewEncoder[User]().Marshal(nilUser, &Buffer{}), ErrUnsupported)
}

func TestReflectionLimits(t *testing.T) {
	// claims 2^35 elements of a list, delivers two
	data := append(AppendUvarint(nil, 1<<35), 1, 2)

	var out []uint8Seq
	err := UnmarshalWithLimits(data, &out, DecodeLimits{MaxSliceInitCap: 16})
	require.Error(t, err)
	assert.True(t, IsIO(err))

	var nested [][][][]int
	deep := []byte{1, 1, 1, 1, 0}
	err = UnmarshalWithLimits(deep, &nested, DecodeLimits{MaxDepth: 2})
	assert.ErrorIs(t, err, ErrLimitExceeded)
	require.NoError(t, UnmarshalWithLimits(deep, &nested, DefaultLimits))
}

func TestForgedCountOfEmptyElements(t *testing.T) {
	// elements that occupy no bytes leave the count as the only bound
	data := AppendUvarint(nil, 1<<40)

	var list []struct{}
	assert.ErrorIs(t, Unmarshal(data, &list), ErrLimitExceeded)

	var set map[struct{}]struct{}
	assert.ErrorIs(t, Unmarshal(data, &set), ErrLimitExceeded)

	// a count below the limit is still accepted
	require.NoError(t, Unmarshal(AppendUvarint(nil, 3), &list))
	assert.Len(t, list, 3)
}

func TestCountBeyondRemainingInput(t *testing.T) {
	// 1000 u32s cannot fit in four bytes
	data := append(AppendUvarint(nil, 1000), 1, 2, 3, 4)

	var list []uint32
	err := Unmarshal(data, &list)
	require.Error(t, err)
	assert.True(t, IsIO(err))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	var m map[uint16]uint16
	err = Unmarshal(data, &m)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

type (
	cyclicList []cyclicList
	cyclicMap  map[string]cyclicMap
)

func TestCyclicCollectionEncode(t *testing.T) {
	v := cyclicList{nil}
	v[0] = v
	_, err := Marshal(v)
	assert.ErrorIs(t, err, ErrLimitExceeded)

	m := cyclicMap{}
	m["self"] = m
	_, err = Marshal(m)
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestUnmarshalReplacesMap(t *testing.T) {
	data, err := Marshal(map[string]uint8{"a": 1})
	require.NoError(t, err)

	out := map[string]uint8{"stale": 9}
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, map[string]uint8{"a": 1}, out)

	out = map[string]uint8{"stale": 9}
	require.NoError(t, Unmarshal([]byte{0}, &out))
	assert.Empty(t, out)
}

// uint8Seq is a byte with an adapter, so []uint8Seq is a list rather than data.
type uint8Seq uint8

func (u uint8Seq) MarshalBARE(w *Writer) error { return w.WriteU8(uint8(u)) }

func (u *uint8Seq) UnmarshalBARE(r *Reader) error {
	v, err := r.ReadU8()
	*u = uint8Seq(v)
	return err
}

func TestByteAdapterSliceIsList(t *testing.T) {
	data, err := Marshal([]uint8Seq{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 1, 2}, data)

	arr, err := Marshal([2]uint8Seq{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, arr)
}

func TestCharString(t *testing.T) {
	assert.Equal(t, "λ", Char('λ').String())
	assert.Equal(t, "�", Char(0xd800).String())
	assert.Equal(t, "x", fmt.Sprint(Char('x')))
}
