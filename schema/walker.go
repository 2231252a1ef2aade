package schema

import (
	"errors"
	"fmt"

	"github.com/kungfusheep/bare"
)

// Visitor is an interface that can be implemented to walk an encoded value.
// Offsets are the byte position where the reported value starts.
type Visitor interface {
	VisitValue(t *Type, v any, offset int64) error
	VisitStructStart(t *Type, offset int64) error
	VisitFieldName(name string) error
	VisitStructEnd(t *Type) error
	VisitListStart(t *Type, length int, offset int64) error
	VisitListEnd(t *Type) error
	VisitMapStart(t *Type, length int, offset int64) error
	VisitMapEnd(t *Type) error
	VisitUnion(t *Type, tag uint64, member *Type, offset int64) error
	VisitOptional(t *Type, present bool, offset int64) error
}

// ErrSkipVisit is returned from a Start method to have the walker consume the
// container without reporting its contents. The matching End is not called.
var ErrSkipVisit = errors.New("skip visit")

// Walk decodes data as a value of type t, reporting each part to visitor.
// All of data must be used.
func Walk(data []byte, t *Type, visitor Visitor) error {
	w := NewWalker(bare.NewBytesReader(data))
	if err := w.Walk(t, visitor); err != nil {
		return err
	}
	if n := w.r.Remaining(); n > 0 {
		return fmt.Errorf("%w: %d bytes", bare.ErrTrailingData, n)
	}
	return nil
}

// Walker walks values read from a bare.Reader.
type Walker struct {
	r *bare.Reader
}

// NewWalker creates a new walker
func NewWalker(r *bare.Reader) Walker {
	return Walker{r: r}
}

// Walk walks one value of type t.
func (w *Walker) Walk(t *Type, visitor Visitor) error {
	return w.walk(t, visitor)
}

func (w *Walker) walk(t *Type, visitor Visitor) error {
	rt := t.Resolve()
	offset := w.r.Offset()

	switch rt.Kind {
	case Optional:
		present, err := w.r.ReadBool()
		if err != nil {
			return err
		}
		if err := visitor.VisitOptional(t, present, offset); err != nil || !present {
			return err
		}
		return w.walk(rt.Elem, visitor)

	case Struct:
		switch err := visitor.VisitStructStart(t, offset); err {
		case ErrSkipVisit:
			_, err := Decode(w.r, rt)
			return err
		case nil:
		default:
			return err
		}
		fields := make([]func(*bare.Reader) error, len(rt.Fields))
		for i, f := range rt.Fields {
			fields[i] = func(*bare.Reader) error {
				if err := visitor.VisitFieldName(f.Name); err != nil {
					return err
				}
				return w.walk(f.Type, visitor)
			}
		}
		if err := w.r.ReadStruct(fields...); err != nil {
			return err
		}
		return visitor.VisitStructEnd(t)

	case List, Array:
		n := rt.Len
		if rt.Kind == List {
			var err error
			if n, err = w.r.ReadLength(); err != nil {
				return err
			}
		}
		switch err := visitor.VisitListStart(t, n, offset); err {
		case ErrSkipVisit:
			return w.r.ReadTuple(n, func(r *bare.Reader, _ int) error {
				_, err := Decode(r, rt.Elem)
				return err
			})
		case nil:
		default:
			return err
		}
		err := w.r.ReadTuple(n, func(_ *bare.Reader, _ int) error {
			return w.walk(rt.Elem, visitor)
		})
		if err != nil {
			return err
		}
		return visitor.VisitListEnd(t)

	case Map:
		n, err := w.r.ReadMapLength()
		if err != nil {
			return err
		}
		skip := false
		switch err := visitor.VisitMapStart(t, n, offset); err {
		case ErrSkipVisit:
			skip = true
		case nil:
		default:
			return err
		}
		err = w.r.ReadTuple(n, func(r *bare.Reader, _ int) error {
			if skip {
				if _, err := Decode(r, rt.Key); err != nil {
					return err
				}
				_, err := Decode(r, rt.Elem)
				return err
			}
			if err := w.walk(rt.Key, visitor); err != nil {
				return err
			}
			return w.walk(rt.Elem, visitor)
		})
		if err != nil || skip {
			return err
		}
		return visitor.VisitMapEnd(t)

	case Union:
		return w.r.ReadUnion(func(r *bare.Reader, tag uint64) error {
			m, ok := rt.Member(tag)
			if !ok {
				return bare.UnrecognizedTag(tag)
			}
			if err := visitor.VisitUnion(t, tag, m.Type, offset); err != nil {
				return err
			}
			return w.walk(m.Type, visitor)
		})
	}

	v, err := Decode(w.r, t)
	if err != nil {
		return err
	}
	return visitor.VisitValue(t, v, offset)
}
