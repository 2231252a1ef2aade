// Package schema describes BARE message types at runtime. Schemas are loaded
// from YAML documents and drive a dynamic encoder and decoder, a walker that
// reports every value with its byte offset, and a printer built on it.
//
// Tooling is the intended audience; code that knows its types at compile time
// should use the bare package directly.
package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidSchema is wrapped by every schema loading error.
var ErrInvalidSchema = errors.New("schema: invalid schema")

// ErrTypeMismatch is wrapped when a dynamic value does not fit its type.
var ErrTypeMismatch = errors.New("schema: value does not match type")

// Kind identifies a BARE type.
type Kind uint8

const (
	Invalid Kind = iota
	Uint
	Int
	U8
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	F32
	F64
	Bool
	String
	Data
	Void
	Char
	FixedData // data<N>
	Optional
	List
	Array // list<T>[N]
	Map
	Struct
	Union
	Enum
	Named // reference to a declared type
)

var primitiveNames = map[string]Kind{
	"uint": Uint, "int": Int,
	"u8": U8, "u16": U16, "u32": U32, "u64": U64,
	"i8": I8, "i16": I16, "i32": I32, "i64": I64,
	"f32": F32, "f64": F64,
	"bool": Bool, "str": String, "data": Data, "void": Void, "char": Char,
}

func (k Kind) String() string {
	switch k {
	case Uint:
		return "uint"
	case Int:
		return "int"
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case Bool:
		return "bool"
	case String:
		return "str"
	case Data, FixedData:
		return "data"
	case Void:
		return "void"
	case Char:
		return "char"
	case Optional:
		return "optional"
	case List, Array:
		return "list"
	case Map:
		return "map"
	case Struct:
		return "struct"
	case Union:
		return "union"
	case Enum:
		return "enum"
	case Named:
		return "named"
	}
	return "invalid kind"
}

// IsPrimitive reports whether k is a scalar type.
func (k Kind) IsPrimitive() bool {
	return k >= Uint && k <= Char
}

// Type is one node of a type graph.
type Type struct {
	Kind Kind

	Elem   *Type // optional, list and array element; map value
	Key    *Type // map key
	Len    int   // array and fixed data length
	Name   string
	Fields []Field
	// Members of a union, in declaration order.
	Members []Member
	Values  []EnumValue

	def *Type // resolved declaration of a Named type
}

// Field is a named struct member.
type Field struct {
	Name string
	Type *Type
}

// Member is a union variant.
type Member struct {
	Tag  uint64
	Type *Type
}

// EnumValue is a named enum constant.
type EnumValue struct {
	Name  string
	Value uint64
}

// Resolve follows named references to the declared type.
func (t *Type) Resolve() *Type {
	for t != nil && t.Kind == Named {
		t = t.def
	}
	return t
}

// Field returns the struct field called name.
func (t *Type) Field(name string) (Field, bool) {
	for _, f := range t.Resolve().Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Member returns the union variant with the given tag.
func (t *Type) Member(tag uint64) (Member, bool) {
	for _, m := range t.Resolve().Members {
		if m.Tag == tag {
			return m, true
		}
	}
	return Member{}, false
}

// EnumName returns the constant name for an enum value.
func (t *Type) EnumName(v uint64) (string, bool) {
	for _, e := range t.Resolve().Values {
		if e.Value == v {
			return e.Name, true
		}
	}
	return "", false
}

// EnumValue returns the value of an enum constant.
func (t *Type) EnumValue(name string) (uint64, bool) {
	for _, e := range t.Resolve().Values {
		if e.Name == name {
			return e.Value, true
		}
	}
	return 0, false
}

// String renders t as a type expression. Named types render as their name.
func (t *Type) String() string {
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t *Type) write(b *strings.Builder) {
	switch t.Kind {
	case Named:
		b.WriteString(t.Name)
	case FixedData:
		fmt.Fprintf(b, "data<%d>", t.Len)
	case Optional:
		b.WriteString("optional<")
		t.Elem.write(b)
		b.WriteString(">")
	case List:
		b.WriteString("list<")
		t.Elem.write(b)
		b.WriteString(">")
	case Array:
		b.WriteString("list<")
		t.Elem.write(b)
		fmt.Fprintf(b, ">[%d]", t.Len)
	case Map:
		b.WriteString("map<")
		t.Key.write(b)
		b.WriteString("><")
		t.Elem.write(b)
		b.WriteString(">")
	case Struct:
		b.WriteString("struct { ")
		for i, f := range t.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			f.Type.write(b)
		}
		b.WriteString(" }")
	case Union:
		b.WriteString("union { ")
		for i, m := range t.Members {
			if i > 0 {
				b.WriteString(" | ")
			}
			m.Type.write(b)
			fmt.Fprintf(b, " = %d", m.Tag)
		}
		b.WriteString(" }")
	case Enum:
		b.WriteString("enum { ")
		for i, e := range t.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "%s = %d", e.Name, e.Value)
		}
		b.WriteString(" }")
	default:
		b.WriteString(t.Kind.String())
	}
}

// Decl is a named, user-declared type.
type Decl struct {
	Name string
	Type *Type
}

// Schema holds user types in declaration order.
type Schema struct {
	Decls []Decl

	refs map[string]*Type // name -> Named reference
}

// Lookup returns a reference to the declared type called name.
func (s *Schema) Lookup(name string) (*Type, bool) {
	t, ok := s.refs[name]
	return t, ok
}

// ParseType parses a type expression against s. Named references must be
// declared in s; s may be nil for expressions made only of built-in types.
func (s *Schema) ParseType(expr string) (*Type, error) {
	p := exprParser{src: expr}
	t, err := p.parse()
	if err != nil {
		return nil, err
	}
	var refs map[string]*Type
	if s != nil {
		refs = s.refs
	}
	if err := resolve(t, refs); err != nil {
		return nil, err
	}
	if err := validate(t, false); err != nil {
		return nil, err
	}
	return t, nil
}

// exprParser reads type expressions such as map<str><list<u8>[4]>.
type exprParser struct {
	src string
	pos int
}

func (p *exprParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %q at %d: %s", ErrInvalidSchema, p.src, p.pos, fmt.Sprintf(format, args...))
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *exprParser) expect(c byte) error {
	if p.peek() != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

func (p *exprParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *exprParser) number() (int, error) {
	s := p.ident()
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, p.errorf("expected a positive length, got %q", s)
	}
	return n, nil
}

// parse reads a complete expression.
func (p *exprParser) parse() (*Type, error) {
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if p.peek() != 0 {
		return nil, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return t, nil
}

func (p *exprParser) parseType() (*Type, error) {
	name := p.ident()
	if name == "" {
		return nil, p.errorf("expected a type")
	}

	switch name {
	case "data":
		if p.peek() != '<' {
			return &Type{Kind: Data}, nil
		}
		p.pos++
		n, err := p.number()
		if err != nil {
			return nil, err
		}
		if err := p.expect('>'); err != nil {
			return nil, err
		}
		return &Type{Kind: FixedData, Len: n}, nil

	case "optional":
		elem, err := p.parseAngle()
		if err != nil {
			return nil, err
		}
		return &Type{Kind: Optional, Elem: elem}, nil

	case "list":
		elem, err := p.parseAngle()
		if err != nil {
			return nil, err
		}
		if p.peek() != '[' {
			return &Type{Kind: List, Elem: elem}, nil
		}
		p.pos++
		n, err := p.number()
		if err != nil {
			return nil, err
		}
		if err := p.expect(']'); err != nil {
			return nil, err
		}
		return &Type{Kind: Array, Elem: elem, Len: n}, nil

	case "map":
		key, err := p.parseAngle()
		if err != nil {
			return nil, err
		}
		value, err := p.parseAngle()
		if err != nil {
			return nil, err
		}
		return &Type{Kind: Map, Key: key, Elem: value}, nil
	}

	if k, ok := primitiveNames[name]; ok {
		return &Type{Kind: k}, nil
	}
	if c := name[0]; c < 'A' || c > 'Z' {
		return nil, p.errorf("type names start with an upper case letter: %q", name)
	}
	return &Type{Kind: Named, Name: name}, nil
}

func (p *exprParser) parseAngle() (*Type, error) {
	if err := p.expect('<'); err != nil {
		return nil, err
	}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if err := p.expect('>'); err != nil {
		return nil, err
	}
	return t, nil
}

// resolve binds Named nodes in t to the schema's references.
func resolve(t *Type, refs map[string]*Type) error {
	switch t.Kind {
	case Named:
		if t.def != nil {
			return nil
		}
		ref, ok := refs[t.Name]
		if !ok {
			return fmt.Errorf("%w: unknown type %q", ErrInvalidSchema, t.Name)
		}
		*t = *ref
	case Optional, List, Array:
		return resolve(t.Elem, refs)
	case Map:
		if err := resolve(t.Key, refs); err != nil {
			return err
		}
		return resolve(t.Elem, refs)
	case Struct:
		for _, f := range t.Fields {
			if err := resolve(f.Type, refs); err != nil {
				return err
			}
		}
	case Union:
		for _, m := range t.Members {
			if err := resolve(m.Type, refs); err != nil {
				return err
			}
		}
	}
	return nil
}

// validate checks the structural rules a resolved type must follow. Named
// declarations are validated once on their own, so references stop here.
func validate(t *Type, unionMember bool) error {
	switch t.Kind {
	case Void:
		if !unionMember {
			return fmt.Errorf("%w: void is only valid as a union member", ErrInvalidSchema)
		}
	case Optional, List, Array:
		return validate(t.Elem, false)
	case Map:
		key := t.Key.Resolve()
		if key == nil || !validMapKey(key.Kind) {
			return fmt.Errorf("%w: %s cannot be a map key", ErrInvalidSchema, t.Key)
		}
		return validate(t.Elem, false)
	case Struct:
		if len(t.Fields) == 0 {
			return fmt.Errorf("%w: struct has no fields", ErrInvalidSchema)
		}
		seen := make(map[string]bool, len(t.Fields))
		for _, f := range t.Fields {
			if f.Name == "" {
				return fmt.Errorf("%w: struct field without a name", ErrInvalidSchema)
			}
			if seen[f.Name] {
				return fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name)
			}
			seen[f.Name] = true
			if err := validate(f.Type, false); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
	case Union:
		if len(t.Members) == 0 {
			return fmt.Errorf("%w: union has no members", ErrInvalidSchema)
		}
		seen := make(map[uint64]bool, len(t.Members))
		for _, m := range t.Members {
			if seen[m.Tag] {
				return fmt.Errorf("%w: duplicate union tag %d", ErrInvalidSchema, m.Tag)
			}
			seen[m.Tag] = true
			if err := validate(m.Type, true); err != nil {
				return err
			}
		}
	case Enum:
		if len(t.Values) == 0 {
			return fmt.Errorf("%w: enum has no values", ErrInvalidSchema)
		}
		names := make(map[string]bool, len(t.Values))
		values := make(map[uint64]bool, len(t.Values))
		for _, e := range t.Values {
			if names[e.Name] || values[e.Value] {
				return fmt.Errorf("%w: duplicate enum value %s = %d", ErrInvalidSchema, e.Name, e.Value)
			}
			names[e.Name], values[e.Value] = true, true
		}
	}
	return nil
}

func validMapKey(k Kind) bool {
	switch k {
	case Uint, Int, U8, U16, U32, U64, I8, I16, I32, I64, Bool, String, Char, Enum:
		return true
	}
	return false
}
