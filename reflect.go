package bare

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// encodeFunc writes v, decodeFunc fills the addressable v.
type (
	encodeFunc func(w *Writer, v reflect.Value) error
	decodeFunc func(r *Reader, v reflect.Value) error
)

// plan is the compiled encode/decode pair for one Go type. Plans are built
// once per type and cached; they hold no per-call state.
type plan struct {
	enc encodeFunc
	dec decodeFunc
}

// planKey distinguishes an integer type encoded fixed-width from the same
// type forced to a varint by a struct tag.
type planKey struct {
	t      reflect.Type
	varint bool
}

var (
	plans   sync.Map   // planKey -> *plan
	plansMu sync.Mutex // serialises plan construction

	marshalerType   = reflect.TypeFor[Marshaler]()
	unmarshalerType = reflect.TypeFor[Unmarshaler]()
)

func planFor(t reflect.Type) *plan {
	return planForKey(planKey{t: t})
}

func planForKey(k planKey) *plan {
	if p, ok := plans.Load(k); ok {
		return p.(*plan)
	}

	plansMu.Lock()
	defer plansMu.Unlock()

	b := planBuilder{building: make(map[planKey]*plan)}
	p := b.get(k)
	for key, bp := range b.building {
		plans.Store(key, bp)
	}
	return p
}

// planBuilder builds plans for a type graph. Recursive types resolve to the
// plan under construction; closures only dereference child plans when they
// run, by which point every plan is complete.
type planBuilder struct {
	building map[planKey]*plan
}

func (b *planBuilder) get(k planKey) *plan {
	if p, ok := plans.Load(k); ok {
		return p.(*plan)
	}
	if p, ok := b.building[k]; ok {
		return p
	}
	p := &plan{}
	b.building[k] = p
	b.build(p, k)
	return p
}

func (b *planBuilder) build(p *plan, k planKey) {
	t := k.t

	// pointers are always optionals and interfaces always unions, even when
	// their method sets include the adapter interfaces
	if kind := t.Kind(); kind != reflect.Pointer && kind != reflect.Interface {
		switch {
		case t.Implements(marshalerType):
			p.enc = marshalerEncode
		case reflect.PointerTo(t).Implements(marshalerType):
			p.enc = addrMarshalerEncode(t)
		}
		if reflect.PointerTo(t).Implements(unmarshalerType) {
			p.dec = unmarshalerDecode
		}
		if p.enc != nil && p.dec != nil {
			return
		}
	}

	enc, dec := b.kindFuncs(k)
	if p.enc == nil {
		p.enc = enc
	}
	if p.dec == nil {
		p.dec = dec
	}
}

func (b *planBuilder) kindFuncs(k planKey) (encodeFunc, decodeFunc) {
	t := k.t

	if k.varint {
		switch t.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return zigzagFuncs(t)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return uvarintFuncs(t)
		}
	}

	switch t.Kind() {
	case reflect.Bool:
		return func(w *Writer, v reflect.Value) error {
				return w.WriteBool(v.Bool())
			}, func(r *Reader, v reflect.Value) error {
				b, err := r.ReadBool()
				v.SetBool(b)
				return err
			}

	case reflect.Int8:
		return func(w *Writer, v reflect.Value) error {
				return w.WriteI8(int8(v.Int()))
			}, func(r *Reader, v reflect.Value) error {
				i, err := r.ReadI8()
				v.SetInt(int64(i))
				return err
			}

	case reflect.Int16:
		return func(w *Writer, v reflect.Value) error {
				return w.WriteI16(int16(v.Int()))
			}, func(r *Reader, v reflect.Value) error {
				i, err := r.ReadI16()
				v.SetInt(int64(i))
				return err
			}

	case reflect.Int32:
		return func(w *Writer, v reflect.Value) error {
				return w.WriteI32(int32(v.Int()))
			}, func(r *Reader, v reflect.Value) error {
				i, err := r.ReadI32()
				v.SetInt(int64(i))
				return err
			}

	case reflect.Int64:
		return func(w *Writer, v reflect.Value) error {
				return w.WriteI64(v.Int())
			}, func(r *Reader, v reflect.Value) error {
				i, err := r.ReadI64()
				v.SetInt(i)
				return err
			}

	case reflect.Int:
		return zigzagFuncs(t)

	case reflect.Uint8:
		return func(w *Writer, v reflect.Value) error {
				return w.WriteU8(uint8(v.Uint()))
			}, func(r *Reader, v reflect.Value) error {
				u, err := r.ReadU8()
				v.SetUint(uint64(u))
				return err
			}

	case reflect.Uint16:
		return func(w *Writer, v reflect.Value) error {
				return w.WriteU16(uint16(v.Uint()))
			}, func(r *Reader, v reflect.Value) error {
				u, err := r.ReadU16()
				v.SetUint(uint64(u))
				return err
			}

	case reflect.Uint32:
		return func(w *Writer, v reflect.Value) error {
				return w.WriteU32(uint32(v.Uint()))
			}, func(r *Reader, v reflect.Value) error {
				u, err := r.ReadU32()
				v.SetUint(uint64(u))
				return err
			}

	case reflect.Uint64:
		return func(w *Writer, v reflect.Value) error {
				return w.WriteU64(v.Uint())
			}, func(r *Reader, v reflect.Value) error {
				u, err := r.ReadU64()
				v.SetUint(u)
				return err
			}

	case reflect.Uint:
		return uvarintFuncs(t)

	case reflect.Float32:
		// Float and SetFloat go through float64, which quiets signalling NaNs
		return func(w *Writer, v reflect.Value) error {
				if !v.CanAddr() {
					c := reflect.New(t).Elem()
					c.Set(v)
					v = c
				}
				return w.WriteF32(*(*float32)(v.Addr().UnsafePointer()))
			}, func(r *Reader, v reflect.Value) error {
				f, err := r.ReadF32()
				*(*float32)(v.Addr().UnsafePointer()) = f
				return err
			}

	case reflect.Float64:
		return func(w *Writer, v reflect.Value) error {
				return w.WriteF64(v.Float())
			}, func(r *Reader, v reflect.Value) error {
				f, err := r.ReadF64()
				v.SetFloat(f)
				return err
			}

	case reflect.String:
		return func(w *Writer, v reflect.Value) error {
				return w.WriteString(v.String())
			}, func(r *Reader, v reflect.Value) error {
				s, err := r.ReadString()
				v.SetString(s)
				return err
			}

	case reflect.Slice:
		if isByteElem(t.Elem()) {
			return dataFuncs()
		}
		return b.sliceFuncs(t)

	case reflect.Array:
		if isByteElem(t.Elem()) {
			return fixedDataFuncs(t)
		}
		return b.arrayFuncs(t)

	case reflect.Map:
		return b.mapFuncs(t)

	case reflect.Struct:
		return b.structFuncs(t)

	case reflect.Pointer:
		return b.pointerFuncs(t)

	case reflect.Interface:
		return unionFuncs(t)
	}

	return unsupportedFuncs(t)
}

func marshalerEncode(w *Writer, v reflect.Value) error {
	return v.Interface().(Marshaler).MarshalBARE(w)
}

func addrMarshalerEncode(t reflect.Type) encodeFunc {
	return func(w *Writer, v reflect.Value) error {
		if !v.CanAddr() {
			c := reflect.New(t)
			c.Elem().Set(v)
			v = c.Elem()
		}
		return v.Addr().Interface().(Marshaler).MarshalBARE(w)
	}
}

func unmarshalerDecode(r *Reader, v reflect.Value) error {
	if err := r.enter(); err != nil {
		return err
	}
	defer func() { r.depth-- }()
	return v.Addr().Interface().(Unmarshaler).UnmarshalBARE(r)
}

// isByteElem reports whether a slice or array of t is BARE data rather than
// a sequence of u8.
func isByteElem(t reflect.Type) bool {
	return t.Kind() == reflect.Uint8 &&
		!t.Implements(marshalerType) &&
		!reflect.PointerTo(t).Implements(unmarshalerType)
}

func zigzagFuncs(t reflect.Type) (encodeFunc, decodeFunc) {
	bits := t.Bits()
	return func(w *Writer, v reflect.Value) error {
			return w.WriteInt(v.Int())
		}, func(r *Reader, v reflect.Value) error {
			i, err := r.ReadInt()
			if err != nil {
				return err
			}
			if bits < 64 && (i < -1<<(bits-1) || i > 1<<(bits-1)-1) {
				return fmt.Errorf("%w: %d overflows %v", ErrInvalidVarint, i, t)
			}
			v.SetInt(i)
			return nil
		}
}

func uvarintFuncs(t reflect.Type) (encodeFunc, decodeFunc) {
	bits := t.Bits()
	return func(w *Writer, v reflect.Value) error {
			return w.WriteUint(v.Uint())
		}, func(r *Reader, v reflect.Value) error {
			u, err := r.ReadUint()
			if err != nil {
				return err
			}
			if bits < 64 && u > 1<<bits-1 {
				return fmt.Errorf("%w: %d overflows %v", ErrInvalidVarint, u, t)
			}
			v.SetUint(u)
			return nil
		}
}

func dataFuncs() (encodeFunc, decodeFunc) {
	return func(w *Writer, v reflect.Value) error {
			return w.WriteData(v.Bytes())
		}, func(r *Reader, v reflect.Value) error {
			b, err := r.ReadData()
			if err != nil {
				return err
			}
			if len(b) == 0 {
				b = nil
			}
			v.SetBytes(b)
			return nil
		}
}

func fixedDataFuncs(t reflect.Type) (encodeFunc, decodeFunc) {
	n := t.Len()
	return func(w *Writer, v reflect.Value) error {
			b := make([]byte, n)
			for i := range b {
				b[i] = byte(v.Index(i).Uint())
			}
			return w.WriteFixedData(b)
		}, func(r *Reader, v reflect.Value) error {
			b, err := r.ReadFixedData(n)
			if err != nil {
				return err
			}
			for i, c := range b {
				v.Index(i).SetUint(uint64(c))
			}
			return nil
		}
}

func (b *planBuilder) sliceFuncs(t reflect.Type) (encodeFunc, decodeFunc) {
	et := t.Elem()
	elem := b.get(planKey{t: et})
	size := minWireSize(et)

	return func(w *Writer, v reflect.Value) error {
			return w.WriteSequence(v.Len(), func(w *Writer, i int) error {
				return elem.enc(w, v.Index(i))
			})
		}, func(r *Reader, v reflect.Value) error {
			n, err := r.ReadLength()
			if err != nil {
				return err
			}
			if n == 0 {
				v.SetZero()
				return nil
			}
			if err := r.checkCount(n, size); err != nil {
				return err
			}
			if err := r.enter(); err != nil {
				return err
			}
			defer func() { r.depth-- }()

			// grow as elements arrive; n is only a claim until they do
			s := reflect.MakeSlice(t, 0, r.limits.initCap(n))
			zero := reflect.Zero(et)
			for i := 0; i < n; i++ {
				s = reflect.Append(s, zero)
				if err := elem.dec(r, s.Index(i)); err != nil {
					return err
				}
			}
			v.Set(s)
			return nil
		}
}

func (b *planBuilder) arrayFuncs(t reflect.Type) (encodeFunc, decodeFunc) {
	n := t.Len()
	elem := b.get(planKey{t: t.Elem()})

	return func(w *Writer, v reflect.Value) error {
			return w.WriteTuple(n, func(w *Writer, i int) error {
				return elem.enc(w, v.Index(i))
			})
		}, func(r *Reader, v reflect.Value) error {
			return r.ReadTuple(n, func(r *Reader, i int) error {
				return elem.dec(r, v.Index(i))
			})
		}
}

// mapEntry is a map key already encoded, used to order pairs deterministically.
type mapEntry struct {
	key   []byte
	value reflect.Value
}

func (b *planBuilder) mapFuncs(t reflect.Type) (encodeFunc, decodeFunc) {
	kt, vt := t.Key(), t.Elem()
	key := b.get(planKey{t: kt})
	elem := b.get(planKey{t: vt})
	size := minWireSize(kt) + minWireSize(vt)

	return func(w *Writer, v reflect.Value) error {
			entries := make([]mapEntry, 0, v.Len())
			iter := v.MapRange()
			for iter.Next() {
				kw := NewBufferWriter(&Buffer{})
				if err := key.enc(kw, iter.Key()); err != nil {
					return err
				}
				entries = append(entries, mapEntry{key: kw.buf.Bytes, value: iter.Value()})
			}
			sort.Slice(entries, func(i, j int) bool {
				return bytes.Compare(entries[i].key, entries[j].key) < 0
			})

			return w.WriteMap(len(entries), func(w *Writer, i int) error {
				if err := w.WriteFixedData(entries[i].key); err != nil {
					return err
				}
				return elem.enc(w, entries[i].value)
			})
		}, func(r *Reader, v reflect.Value) error {
			n, err := r.ReadMapLength()
			if err != nil {
				return err
			}
			if n == 0 {
				v.SetZero()
				return nil
			}
			if err := r.checkCount(n, size); err != nil {
				return err
			}
			// a fresh map, so entries already in the target do not survive
			v.Set(reflect.MakeMapWithSize(t, r.limits.initCap(n)))
			if err := r.enter(); err != nil {
				return err
			}
			defer func() { r.depth-- }()

			for i := 0; i < n; i++ {
				k := reflect.New(kt).Elem()
				if err := key.dec(r, k); err != nil {
					return err
				}
				e := reflect.New(vt).Elem()
				if err := elem.dec(r, e); err != nil {
					return err
				}
				v.SetMapIndex(k, e)
			}
			return nil
		}
}

// minWireSize is the fewest bytes any encoding of t occupies. Types with
// their own decoder may read nothing, so they count as zero.
func minWireSize(t reflect.Type) int {
	if k := t.Kind(); k != reflect.Pointer && k != reflect.Interface && reflect.PointerTo(t).Implements(unmarshalerType) {
		return 0
	}
	switch t.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Uint8, reflect.Int, reflect.Uint,
		reflect.String, reflect.Slice, reflect.Map, reflect.Pointer, reflect.Interface:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return 4
	case reflect.Int64, reflect.Uint64, reflect.Float64:
		return 8
	case reflect.Array:
		return t.Len() * minWireSize(t.Elem())
	case reflect.Struct:
		n := 0
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name, opts := parseTag(f.Tag.Get("bare"))
			if !f.IsExported() || name == "-" && opts == "" {
				continue
			}
			if opts.Contains("uint") || opts.Contains("int") {
				n += min(1, minWireSize(f.Type))
				continue
			}
			n += minWireSize(f.Type)
		}
		return n
	}
	return 0
}

// fieldPlan is one encoded struct field.
type fieldPlan struct {
	index int
	plan  *plan
}

func (b *planBuilder) structFuncs(t reflect.Type) (encodeFunc, decodeFunc) {
	var fields []fieldPlan

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		name, opts := parseTag(f.Tag.Get("bare"))
		if name == "-" && opts == "" {
			continue
		}

		varint := opts.Contains("uint") || opts.Contains("int")
		fields = append(fields, fieldPlan{index: i, plan: b.get(planKey{t: f.Type, varint: varint})})
	}

	return func(w *Writer, v reflect.Value) error {
			if err := w.enter(); err != nil {
				return err
			}
			defer func() { w.depth-- }()

			for _, f := range fields {
				if err := f.plan.enc(w, v.Field(f.index)); err != nil {
					return err
				}
			}
			return nil
		}, func(r *Reader, v reflect.Value) error {
			if err := r.enter(); err != nil {
				return err
			}
			defer func() { r.depth-- }()

			for _, f := range fields {
				if err := f.plan.dec(r, v.Field(f.index)); err != nil {
					return err
				}
			}
			return nil
		}
}

func (b *planBuilder) pointerFuncs(t reflect.Type) (encodeFunc, decodeFunc) {
	et := t.Elem()
	elem := b.get(planKey{t: et})

	return func(w *Writer, v reflect.Value) error {
			if v.IsNil() {
				return w.WriteBool(false)
			}
			if err := w.WriteBool(true); err != nil {
				return err
			}
			if err := w.enter(); err != nil {
				return err
			}
			defer func() { w.depth-- }()
			return elem.enc(w, v.Elem())
		}, func(r *Reader, v reflect.Value) error {
			present, err := r.ReadBool()
			if err != nil {
				return err
			}
			if !present {
				v.SetZero()
				return nil
			}
			if v.IsNil() {
				v.Set(reflect.New(et))
			}
			if err := r.enter(); err != nil {
				return err
			}
			defer func() { r.depth-- }()
			return elem.dec(r, v.Elem())
		}
}

// unionFuncs resolves the registration when values are processed so unions
// may be registered after a plan referencing them was built.
func unionFuncs(t reflect.Type) (encodeFunc, decodeFunc) {
	return func(w *Writer, v reflect.Value) error {
			u, ok := lookupUnion(t)
			if !ok {
				return fmt.Errorf("%w: %v is not a registered union", ErrUnsupported, t)
			}
			if v.IsNil() {
				return fmt.Errorf("%w: nil %v", ErrUnrecognizedDiscriminant, t)
			}

			c := v.Elem()
			tag, ok := u.tagOf(c.Type())
			if !ok {
				return fmt.Errorf("%w: %v is not a member of %v", ErrUnrecognizedDiscriminant, c.Type(), t)
			}
			if c.Kind() == reflect.Pointer {
				if c.IsNil() {
					return fmt.Errorf("%w: nil %v in %v", ErrUnrecognizedDiscriminant, c.Type(), t)
				}
				c = c.Elem()
			}

			if err := w.WriteUint(tag); err != nil {
				return err
			}
			if err := w.enter(); err != nil {
				return err
			}
			defer func() { w.depth-- }()
			return planFor(c.Type()).enc(w, c)
		}, func(r *Reader, v reflect.Value) error {
			u, ok := lookupUnion(t)
			if !ok {
				return fmt.Errorf("%w: %v is not a registered union", ErrUnsupported, t)
			}

			return r.ReadUnion(func(r *Reader, tag uint64) error {
				m, ok := u.member(tag)
				if !ok {
					return UnrecognizedTag(tag)
				}

				et := m.typ
				if m.ptr {
					et = et.Elem()
				}
				nv := reflect.New(et)
				if err := planFor(et).dec(r, nv.Elem()); err != nil {
					return err
				}
				if m.ptr {
					v.Set(nv)
				} else {
					v.Set(nv.Elem())
				}
				return nil
			})
		}
}

func unsupportedFuncs(t reflect.Type) (encodeFunc, decodeFunc) {
	err := fmt.Errorf("%w: %v", ErrUnsupported, t)
	return func(*Writer, reflect.Value) error { return err },
		func(*Reader, reflect.Value) error { return err }
}

// encodeReflect encodes v through its plan. A top-level pointer is
// dereferenced; deeper pointers are optionals.
func encodeReflect(w *Writer, v any) error {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return w.fail(fmt.Errorf("%w: nil value", ErrUnsupported))
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return w.fail(fmt.Errorf("%w: nil %T", ErrUnsupported, v))
		}
		rv = rv.Elem()
	}
	if err := planFor(rv.Type()).enc(w, rv); err != nil {
		return w.fail(err)
	}
	return nil
}

// decodeReflect decodes into the value v points to.
func decodeReflect(r *Reader, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return r.fail(fmt.Errorf("%w: decode target must be a non-nil pointer, got %T", ErrUnsupported, v))
	}
	rv = rv.Elem()
	if err := planFor(rv.Type()).dec(r, rv); err != nil {
		return r.fail(err)
	}
	return nil
}

// maxEncodeDepth bounds recursion through cyclic pointer graphs.
const maxEncodeDepth = 10000
