package schema

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// The printer is not written with the same performance concerns as the
// codec. It exists to give command line tools a readable view of a message.

// Print writes an indented tree of the value in data, one line per part,
// each annotated with its type and byte offset.
func Print(w io.Writer, data []byte, t *Type) error {
	p := &printer{w: w}
	if err := Walk(data, t, p); err != nil {
		return err
	}
	return p.err
}

// Sprint returns the Print output as a string.
func Sprint(data []byte, t *Type) (string, error) {
	var b strings.Builder
	err := Print(&b, data, t)
	return b.String(), err
}

type frameKind int

const (
	structFrame frameKind = iota
	listFrame
	mapFrame
	wrapFrame // union or optional, holds a single child
)

type frame struct {
	kind  frameKind
	field string
	index int
}

type printer struct {
	w      io.Writer
	frames []frame
	err    error
}

// label names the next child of the innermost container.
func (p *printer) label() string {
	if len(p.frames) == 0 {
		return ""
	}
	f := &p.frames[len(p.frames)-1]
	switch f.kind {
	case structFrame:
		return f.field + ": "
	case listFrame:
		f.index++
		return "[" + strconv.Itoa(f.index-1) + "]: "
	case mapFrame:
		f.index++
		if f.index%2 == 1 {
			return "key: "
		}
		return "value: "
	}
	return ""
}

func (p *printer) line(format string, args ...any) error {
	if p.err != nil {
		return p.err
	}
	if depth := len(p.frames); depth > 0 {
		if _, p.err = io.WriteString(p.w, strings.Repeat("│  ", depth-1)+"├─ "); p.err != nil {
			return p.err
		}
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
	return p.err
}

func (p *printer) push(kind frameKind) {
	p.frames = append(p.frames, frame{kind: kind})
}

// done closes the single-child frames a finished value was the child of.
func (p *printer) done() error {
	for n := len(p.frames); n > 0 && p.frames[n-1].kind == wrapFrame; n-- {
		p.frames = p.frames[:n-1]
	}
	return p.err
}

func (p *printer) pop() error {
	p.frames = p.frames[:len(p.frames)-1]
	return p.done()
}

func (p *printer) VisitValue(t *Type, v any, offset int64) error {
	if err := p.line("%s%s (%s) @%d", p.label(), formatValue(t, v), t, offset); err != nil {
		return err
	}
	return p.done()
}

func (p *printer) VisitStructStart(t *Type, offset int64) error {
	err := p.line("%s%s @%d", p.label(), t, offset)
	p.push(structFrame)
	return err
}

func (p *printer) VisitFieldName(name string) error {
	p.frames[len(p.frames)-1].field = name
	return p.err
}

func (p *printer) VisitStructEnd(*Type) error { return p.pop() }

func (p *printer) VisitListStart(t *Type, length int, offset int64) error {
	err := p.line("%s%s len=%d @%d", p.label(), t, length, offset)
	p.push(listFrame)
	return err
}

func (p *printer) VisitListEnd(*Type) error { return p.pop() }

func (p *printer) VisitMapStart(t *Type, length int, offset int64) error {
	err := p.line("%s%s len=%d @%d", p.label(), t, length, offset)
	p.push(mapFrame)
	return err
}

func (p *printer) VisitMapEnd(*Type) error { return p.pop() }

func (p *printer) VisitUnion(t *Type, tag uint64, member *Type, offset int64) error {
	err := p.line("%s%s tag=%d (%s) @%d", p.label(), t, tag, member, offset)
	p.push(wrapFrame)
	return err
}

func (p *printer) VisitOptional(t *Type, present bool, offset int64) error {
	if !present {
		if err := p.line("%s%s absent @%d", p.label(), t, offset); err != nil {
			return err
		}
		return p.done()
	}
	err := p.line("%s%s present @%d", p.label(), t, offset)
	p.push(wrapFrame)
	return err
}

// formatValue returns a string representation of a scalar value
func formatValue(t *Type, v any) string {
	switch x := v.(type) {
	case nil:
		return "void"
	case string:
		if t.Resolve().Kind == Enum {
			return x
		}
		return strconv.Quote(x)
	case []byte:
		return fmt.Sprintf("%x", x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}
