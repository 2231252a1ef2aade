package schema

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/kungfusheep/bare"
)

// Dynamic values produced by Decode:
//
//	uint, u8..u64      uint64
//	int, i8..i64       int64
//	f32                float32
//	f64                float64
//	bool               bool
//	str                string
//	char               string holding one character
//	data, data<N>      []byte
//	void, absent       nil
//	enum               string constant name
//	list               []any
//	map                *MapValue
//	struct             *StructValue
//	union              UnionValue

// StructValue is a decoded struct with its fields in declaration order.
type StructValue struct {
	Fields []FieldValue
}

// FieldValue is one struct field.
type FieldValue struct {
	Name  string
	Value any
}

// Get returns the value of the field called name.
func (s *StructValue) Get(name string) (any, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// MapValue is a decoded map with its pairs in stream order.
type MapValue struct {
	Pairs []Pair
}

// Pair is one map entry.
type Pair struct {
	Key   any
	Value any
}

// UnionValue is a decoded union variant.
type UnionValue struct {
	Tag   uint64
	Value any
}

// Marshal encodes v as a value of type t.
func Marshal(t *Type, v any) ([]byte, error) {
	var buf bare.Buffer
	if err := Encode(bare.NewBufferWriter(&buf), t, v); err != nil {
		return nil, err
	}
	return buf.Bytes, nil
}

// Unmarshal decodes data as one value of type t. All of data must be used.
func Unmarshal(t *Type, data []byte) (any, error) {
	r := bare.NewBytesReader(data)
	v, err := Decode(r, t)
	if err != nil {
		return nil, err
	}
	if n := r.Remaining(); n > 0 {
		return nil, fmt.Errorf("%w: %d bytes", bare.ErrTrailingData, n)
	}
	return v, nil
}

// Decode reads one value of type t from r.
func Decode(r *bare.Reader, t *Type) (any, error) {
	t = t.Resolve()

	switch t.Kind {
	case Uint:
		return r.ReadUint()
	case Int:
		return r.ReadInt()
	case U8:
		v, err := r.ReadU8()
		return uint64(v), err
	case U16:
		v, err := r.ReadU16()
		return uint64(v), err
	case U32:
		v, err := r.ReadU32()
		return uint64(v), err
	case U64:
		return r.ReadU64()
	case I8:
		v, err := r.ReadI8()
		return int64(v), err
	case I16:
		v, err := r.ReadI16()
		return int64(v), err
	case I32:
		v, err := r.ReadI32()
		return int64(v), err
	case I64:
		return r.ReadI64()
	case F32:
		return r.ReadF32()
	case F64:
		return r.ReadF64()
	case Bool:
		return r.ReadBool()
	case String:
		return r.ReadString()
	case Char:
		c, err := r.ReadChar()
		if err != nil {
			return nil, err
		}
		return string(c), nil
	case Data:
		return r.ReadData()
	case FixedData:
		return r.ReadFixedData(t.Len)
	case Void:
		return nil, r.ReadVoid()

	case Enum:
		v, err := r.ReadUint()
		if err != nil {
			return nil, err
		}
		name, ok := t.EnumName(v)
		if !ok {
			return nil, fmt.Errorf("enum: %w", bare.UnrecognizedTag(v))
		}
		return name, nil

	case Optional:
		var v any
		_, err := r.ReadOptional(func(r *bare.Reader) error {
			var err error
			v, err = Decode(r, t.Elem)
			return err
		})
		return v, err

	case List:
		var list []any
		_, err := r.ReadSequence(func(r *bare.Reader, i int) error {
			v, err := Decode(r, t.Elem)
			list = append(list, v)
			return err
		})
		if list == nil && err == nil {
			list = []any{}
		}
		return list, err

	case Array:
		list := make([]any, t.Len)
		err := r.ReadTuple(t.Len, func(r *bare.Reader, i int) error {
			var err error
			list[i], err = Decode(r, t.Elem)
			return err
		})
		return list, err

	case Map:
		m := &MapValue{}
		_, err := r.ReadMap(func(r *bare.Reader, i int) error {
			k, err := Decode(r, t.Key)
			if err != nil {
				return err
			}
			v, err := Decode(r, t.Elem)
			m.Pairs = append(m.Pairs, Pair{Key: k, Value: v})
			return err
		})
		return m, err

	case Struct:
		s := &StructValue{Fields: make([]FieldValue, len(t.Fields))}
		readers := make([]func(*bare.Reader) error, len(t.Fields))
		for i, f := range t.Fields {
			readers[i] = func(r *bare.Reader) error {
				v, err := Decode(r, f.Type)
				s.Fields[i] = FieldValue{Name: f.Name, Value: v}
				return err
			}
		}
		return s, r.ReadStruct(readers...)

	case Union:
		var u UnionValue
		err := r.ReadUnion(func(r *bare.Reader, tag uint64) error {
			m, ok := t.Member(tag)
			if !ok {
				return bare.UnrecognizedTag(tag)
			}
			v, err := Decode(r, m.Type)
			u = UnionValue{Tag: tag, Value: v}
			return err
		})
		return u, err
	}

	return nil, fmt.Errorf("%w: cannot decode %s", bare.ErrUnsupported, t)
}

// Encode writes v as a value of type t. Besides the types Decode produces, it
// accepts the shapes JSON, YAML and CBOR decoders yield: any Go number that
// fits, numeric strings, base64 strings for data, map[string]any for structs,
// and {"tag": n, "value": v} or {"MemberType": v} for unions.
func Encode(w *bare.Writer, t *Type, v any) error {
	rt := t.Resolve()

	switch rt.Kind {
	case Uint, U8, U16, U32, U64:
		u, err := toUint(v, uintBits(rt.Kind))
		if err != nil {
			return err
		}
		switch rt.Kind {
		case U8:
			return w.WriteU8(uint8(u))
		case U16:
			return w.WriteU16(uint16(u))
		case U32:
			return w.WriteU32(uint32(u))
		case U64:
			return w.WriteU64(u)
		}
		return w.WriteUint(u)

	case Int, I8, I16, I32, I64:
		i, err := toInt(v, intBits(rt.Kind))
		if err != nil {
			return err
		}
		switch rt.Kind {
		case I8:
			return w.WriteI8(int8(i))
		case I16:
			return w.WriteI16(int16(i))
		case I32:
			return w.WriteI32(int32(i))
		case I64:
			return w.WriteI64(i)
		}
		return w.WriteInt(i)

	case F32:
		if f, ok := v.(float32); ok {
			return w.WriteF32(f)
		}
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		return w.WriteF32(float32(f))

	case F64:
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		return w.WriteF64(f)

	case Bool:
		switch b := v.(type) {
		case bool:
			return w.WriteBool(b)
		case string:
			// JSON object keys
			if p, err := strconv.ParseBool(b); err == nil {
				return w.WriteBool(p)
			}
		}
		return mismatch(t, v)

	case String:
		s, ok := v.(string)
		if !ok {
			return mismatch(t, v)
		}
		return w.WriteString(s)

	case Char:
		switch c := v.(type) {
		case string:
			r, size := utf8.DecodeRuneInString(c)
			if size == 0 || size != len(c) {
				return fmt.Errorf("%w: char needs exactly one character, got %q", ErrTypeMismatch, c)
			}
			return w.WriteChar(r)
		case rune:
			return w.WriteChar(c)
		case bare.Char:
			return w.WriteChar(rune(c))
		}
		u, err := toUint(v, 32)
		if err != nil {
			return err
		}
		return w.WriteChar(rune(u))

	case Data:
		b, err := toBytes(v)
		if err != nil {
			return err
		}
		return w.WriteData(b)

	case FixedData:
		b, err := toBytes(v)
		if err != nil {
			return err
		}
		if len(b) != rt.Len {
			return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrTypeMismatch, rt, rt.Len, len(b))
		}
		return w.WriteFixedData(b)

	case Void:
		return w.WriteVoid()

	case Enum:
		var value uint64
		if name, ok := v.(string); ok {
			if value, ok = rt.EnumValue(name); !ok {
				return fmt.Errorf("%w: %q is not a value of %s", ErrTypeMismatch, name, t)
			}
		} else {
			u, err := toUint(v, 64)
			if err != nil {
				return err
			}
			if _, ok := rt.EnumName(u); !ok {
				return fmt.Errorf("%w: %d is not a value of %s", ErrTypeMismatch, u, t)
			}
			value = u
		}
		return w.WriteUint(value)

	case Optional:
		return w.WriteOptional(v != nil, func(w *bare.Writer) error {
			return Encode(w, rt.Elem, v)
		})

	case List, Array:
		items, ok := toList(v)
		if !ok {
			return mismatch(t, v)
		}
		each := func(w *bare.Writer, i int) error {
			if err := Encode(w, rt.Elem, items[i]); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
			return nil
		}
		if rt.Kind == Array {
			if len(items) != rt.Len {
				return fmt.Errorf("%w: %s needs %d elements, got %d", ErrTypeMismatch, rt, rt.Len, len(items))
			}
			return w.WriteTuple(len(items), each)
		}
		return w.WriteSequence(len(items), each)

	case Map:
		pairs, ok := toPairs(v)
		if !ok {
			return mismatch(t, v)
		}
		return w.WriteMap(len(pairs), func(w *bare.Writer, i int) error {
			if err := Encode(w, rt.Key, pairs[i].Key); err != nil {
				return fmt.Errorf("key %v: %w", pairs[i].Key, err)
			}
			if err := Encode(w, rt.Elem, pairs[i].Value); err != nil {
				return fmt.Errorf("[%v]: %w", pairs[i].Key, err)
			}
			return nil
		})

	case Struct:
		return encodeStruct(w, rt, t, v)

	case Union:
		return encodeUnion(w, rt, t, v)
	}

	return fmt.Errorf("%w: cannot encode %s", bare.ErrUnsupported, t)
}

func encodeStruct(w *bare.Writer, rt, t *Type, v any) error {
	var get func(name string) (any, bool)
	var size int

	switch s := v.(type) {
	case *StructValue:
		get, size = s.Get, len(s.Fields)
	default:
		fields, ok := toStringMap(v)
		if !ok {
			return mismatch(t, v)
		}
		get = func(name string) (any, bool) {
			fv, ok := fields[name]
			return fv, ok
		}
		size = len(fields)
	}

	used := 0
	writers := make([]func(*bare.Writer) error, len(rt.Fields))
	for i, f := range rt.Fields {
		fv, ok := get(f.Name)
		if ok {
			used++
		} else if f.Type.Resolve().Kind != Optional {
			return fmt.Errorf("%w: %s is missing field %s", ErrTypeMismatch, t, f.Name)
		}
		writers[i] = func(w *bare.Writer) error {
			if err := Encode(w, f.Type, fv); err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			return nil
		}
	}
	if used != size {
		return fmt.Errorf("%w: %s has unknown fields", ErrTypeMismatch, t)
	}
	return w.WriteStruct(writers...)
}

func encodeUnion(w *bare.Writer, rt, t *Type, v any) error {
	var tag uint64
	var payload any

	switch u := v.(type) {
	case UnionValue:
		tag, payload = u.Tag, u.Value
	case *UnionValue:
		tag, payload = u.Tag, u.Value
	default:
		fields, ok := toStringMap(v)
		if !ok || len(fields) == 0 {
			return mismatch(t, v)
		}
		if raw, ok := fields["tag"]; ok && len(fields) <= 2 {
			var err error
			if tag, err = toUint(raw, 64); err != nil {
				return err
			}
			payload = fields["value"]
			break
		}
		if len(fields) != 1 {
			return fmt.Errorf("%w: union %s needs {tag, value} or a single member name", ErrTypeMismatch, t)
		}
		found := false
		for name, value := range fields {
			for _, m := range rt.Members {
				if m.Type.String() == name {
					tag, payload, found = m.Tag, value, true
					break
				}
			}
		}
		if !found {
			return fmt.Errorf("%w: no member of %s matches %v", ErrTypeMismatch, t, v)
		}
	}

	m, ok := rt.Member(tag)
	if !ok {
		return fmt.Errorf("%s: %w", t, bare.UnrecognizedTag(tag))
	}
	return w.WriteUnion(tag, func(w *bare.Writer) error {
		return Encode(w, m.Type, payload)
	})
}

func mismatch(t *Type, v any) error {
	return fmt.Errorf("%w: %s cannot hold %T", ErrTypeMismatch, t, v)
}

func uintBits(k Kind) int {
	switch k {
	case U8:
		return 8
	case U16:
		return 16
	case U32:
		return 32
	}
	return 64
}

func intBits(k Kind) int {
	switch k {
	case I8:
		return 8
	case I16:
		return 16
	case I32:
		return 32
	}
	return 64
}

// toUint converts any integral number to a uint64 that fits in bits.
func toUint(v any, bits int) (uint64, error) {
	var u uint64
	switch n := v.(type) {
	case uint64:
		u = n
	case uint:
		u = uint64(n)
	case uint32:
		u = uint64(n)
	case uint16:
		u = uint64(n)
	case uint8:
		u = uint64(n)
	case int, int8, int16, int32, int64:
		i := reflect.ValueOf(n).Int()
		if i < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrTypeMismatch, i)
		}
		u = uint64(i)
	case float64:
		if n < 0 || n != math.Trunc(n) || n >= math.MaxUint64 {
			return 0, fmt.Errorf("%w: %v is not an unsigned integer", ErrTypeMismatch, n)
		}
		u = uint64(n)
	case float32:
		return toUint(float64(n), bits)
	case json.Number:
		return toUint(string(n), bits)
	case string:
		p, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an unsigned integer", ErrTypeMismatch, n)
		}
		u = p
	default:
		return 0, fmt.Errorf("%w: %T is not a number", ErrTypeMismatch, v)
	}
	if bits < 64 && u > 1<<bits-1 {
		return 0, fmt.Errorf("%w: %d overflows %d bits", ErrTypeMismatch, u, bits)
	}
	return u, nil
}

// toInt converts any integral number to an int64 that fits in bits.
func toInt(v any, bits int) (int64, error) {
	var i int64
	switch n := v.(type) {
	case int64:
		i = n
	case int:
		i = int64(n)
	case int32:
		i = int64(n)
	case int16:
		i = int64(n)
	case int8:
		i = int64(n)
	case uint, uint8, uint16, uint32, uint64:
		u := reflect.ValueOf(n).Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", ErrTypeMismatch, u)
		}
		i = int64(u)
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrTypeMismatch, n)
		}
		i = int64(n)
	case float32:
		return toInt(float64(n), bits)
	case json.Number:
		return toInt(string(n), bits)
	case string:
		p, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrTypeMismatch, n)
		}
		i = p
	default:
		return 0, fmt.Errorf("%w: %T is not a number", ErrTypeMismatch, v)
	}
	if bits < 64 && (i < -1<<(bits-1) || i > 1<<(bits-1)-1) {
		return 0, fmt.Errorf("%w: %d overflows %d bits", ErrTypeMismatch, i, bits)
	}
	return i, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, n)
		}
		return f, nil
	}
	if i, err := toInt(v, 64); err == nil {
		return float64(i), nil
	}
	if u, err := toUint(v, 64); err == nil {
		return float64(u), nil
	}
	return 0, fmt.Errorf("%w: %T is not a number", ErrTypeMismatch, v)
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		out, err := base64.StdEncoding.DecodeString(b)
		if err != nil {
			return nil, fmt.Errorf("%w: data strings must be base64: %v", ErrTypeMismatch, err)
		}
		return out, nil
	case []any:
		out := make([]byte, len(b))
		for i, e := range b {
			u, err := toUint(e, 8)
			if err != nil {
				return nil, err
			}
			out[i] = byte(u)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T is not data", ErrTypeMismatch, v)
}

func toList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// toPairs orders plain Go maps by key so equal inputs encode identically.
func toPairs(v any) ([]Pair, bool) {
	switch m := v.(type) {
	case *MapValue:
		return m.Pairs, true
	case MapValue:
		return m.Pairs, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, false
	}
	pairs := make([]Pair, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, Pair{Key: iter.Key().Interface(), Value: iter.Value().Interface()})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return fmt.Sprint(pairs[i].Key) < fmt.Sprint(pairs[j].Key)
	})
	return pairs, true
}

// toStringMap accepts map[string]any and the map[any]any CBOR and YAML
// decoders produce when keys are not all strings.
func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, e := range m {
			s, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[s] = e
		}
		return out, true
	}
	return nil, false
}

// MarshalJSON writes the fields as an object in declaration order.
func (s *StructValue) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteByte(',')
		}
		k, _ := json.Marshal(f.Name)
		b.Write(k)
		b.WriteByte(':')
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// MarshalJSON writes the pairs as an object; keys are formatted as strings.
func (m *MapValue) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, p := range m.Pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		k, _ := json.Marshal(fmt.Sprint(p.Key))
		b.Write(k)
		b.WriteByte(':')
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// MarshalJSON writes {"tag": n, "value": v}, the form Encode reads back.
func (u UnionValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"tag": u.Tag, "value": u.Value})
}

// MarshalYAML renders the fields as a mapping in declaration order.
func (s *StructValue) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range s.Fields {
		v, err := yamlNode(f.Value)
		if err != nil {
			return nil, err
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Name}, v)
	}
	return n, nil
}

// MarshalYAML renders the pairs as a mapping in stream order.
func (m *MapValue) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range m.Pairs {
		k, err := yamlNode(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := yamlNode(p.Value)
		if err != nil {
			return nil, err
		}
		n.Content = append(n.Content, k, v)
	}
	return n, nil
}

// MarshalYAML renders {tag: n, value: v}.
func (u UnionValue) MarshalYAML() (any, error) {
	v, err := yamlNode(u.Value)
	if err != nil {
		return nil, err
	}
	return &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: "tag"},
		{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatUint(u.Tag, 10)},
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: "value"},
		v,
	}}, nil
}

// yamlNode encodes data as base64 text so it reads back through Encode the
// same way JSON does.
func yamlNode(v any) (*yaml.Node, error) {
	if b, ok := v.([]byte); ok {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: base64.StdEncoding.EncodeToString(b)}, nil
	}
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	return &n, nil
}

// cborEncMode sorts map keys so transcoded output is stable.
var cborEncMode cbor.EncMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("schema: CBOR encoder initialization failed: " + err.Error())
	}
}

// MarshalCBOR writes the fields as a CBOR map keyed by field name.
func (s *StructValue) MarshalCBOR() ([]byte, error) {
	m := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		m[f.Name] = f.Value
	}
	return cborEncMode.Marshal(m)
}

// MarshalCBOR writes the pairs as a CBOR map with their native key types.
func (m *MapValue) MarshalCBOR() ([]byte, error) {
	out := make(map[any]any, len(m.Pairs))
	for _, p := range m.Pairs {
		out[p.Key] = p.Value
	}
	return cborEncMode.Marshal(out)
}

// MarshalCBOR writes {"tag": n, "value": v}.
func (u UnionValue) MarshalCBOR() ([]byte, error) {
	return cborEncMode.Marshal(map[string]any{"tag": u.Tag, "value": u.Value})
}
