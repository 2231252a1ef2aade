package schema

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// document is the YAML layout of a schema file:
//
//	types:
//	  - name: Session
//	    struct:
//	      - {name: token, type: data}
//	      - {name: expires, type: uint}
//	  - name: Role
//	    enum: [ADMIN, NORMAL, GUEST=7]
//	  - name: Shape
//	    union:
//	      - {type: Circle}
//	      - {type: Square, tag: 5}
//	  - name: Tags
//	    type: list<str>
type document struct {
	Types []declDoc `yaml:"types"`
}

type declDoc struct {
	Name   string      `yaml:"name"`
	Struct []fieldDoc  `yaml:"struct"`
	Enum   []string    `yaml:"enum"`
	Union  []memberDoc `yaml:"union"`
	Type   string      `yaml:"type"`
}

type fieldDoc struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type memberDoc struct {
	Type string  `yaml:"type"`
	Tag  *uint64 `yaml:"tag"`
}

// Load reads and parses the schema file at path.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse parses a YAML schema document. Every reference must resolve, and a
// type may only refer to itself through an optional, list, map or union.
func Parse(data []byte) (*Schema, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	s := &Schema{refs: make(map[string]*Type, len(doc.Types))}

	for _, d := range doc.Types {
		if d.Name == "" {
			return nil, fmt.Errorf("%w: type without a name", ErrInvalidSchema)
		}
		if c := d.Name[0]; c < 'A' || c > 'Z' {
			return nil, fmt.Errorf("%w: type name %q must start with an upper case letter", ErrInvalidSchema, d.Name)
		}
		if _, dup := s.refs[d.Name]; dup {
			return nil, fmt.Errorf("%w: type %q declared twice", ErrInvalidSchema, d.Name)
		}

		t, err := parseDecl(d)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", d.Name, err)
		}
		s.Decls = append(s.Decls, Decl{Name: d.Name, Type: t})
		s.refs[d.Name] = &Type{Kind: Named, Name: d.Name, def: t}
	}

	for _, d := range s.Decls {
		if err := resolve(d.Type, s.refs); err != nil {
			return nil, fmt.Errorf("type %s: %w", d.Name, err)
		}
	}
	for _, d := range s.Decls {
		if d.Type.Kind == Void {
			return nil, fmt.Errorf("type %s: %w: a declared type cannot be void", d.Name, ErrInvalidSchema)
		}
		if err := validate(d.Type, false); err != nil {
			return nil, fmt.Errorf("type %s: %w", d.Name, err)
		}
		if err := checkRecursion(d.Name, d.Type, map[string]bool{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func parseDecl(d declDoc) (*Type, error) {
	forms := 0
	for _, set := range []bool{d.Struct != nil, d.Enum != nil, d.Union != nil, d.Type != ""} {
		if set {
			forms++
		}
	}
	if forms != 1 {
		return nil, fmt.Errorf("%w: exactly one of struct, enum, union or type is required", ErrInvalidSchema)
	}

	switch {
	case d.Struct != nil:
		t := &Type{Kind: Struct}
		for _, f := range d.Struct {
			ft, err := parseExpr(f.Type)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			t.Fields = append(t.Fields, Field{Name: f.Name, Type: ft})
		}
		return t, nil

	case d.Enum != nil:
		t := &Type{Kind: Enum}
		var next uint64
		for _, e := range d.Enum {
			name, value, explicit := strings.Cut(e, "=")
			name = strings.TrimSpace(name)
			if explicit {
				v, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: enum value %q: %v", ErrInvalidSchema, e, err)
				}
				next = v
			}
			if name == "" {
				return nil, fmt.Errorf("%w: enum value without a name", ErrInvalidSchema)
			}
			t.Values = append(t.Values, EnumValue{Name: name, Value: next})
			next++
		}
		return t, nil

	case d.Union != nil:
		t := &Type{Kind: Union}
		var next uint64
		for _, m := range d.Union {
			mt, err := parseExpr(m.Type)
			if err != nil {
				return nil, err
			}
			if m.Tag != nil {
				next = *m.Tag
			}
			t.Members = append(t.Members, Member{Tag: next, Type: mt})
			next++
		}
		return t, nil
	}

	return parseExpr(d.Type)
}

func parseExpr(expr string) (*Type, error) {
	p := exprParser{src: expr}
	return p.parse()
}

// checkRecursion reports a declaration that contains itself without an
// indirection that can end the recursion.
func checkRecursion(root string, t *Type, seen map[string]bool) error {
	switch t.Kind {
	case Named:
		if t.Name == root {
			return fmt.Errorf("%w: type %s contains itself without optional, list, map or union", ErrInvalidSchema, root)
		}
		if seen[t.Name] {
			return nil
		}
		seen[t.Name] = true
		return checkRecursion(root, t.def, seen)
	case Array:
		return checkRecursion(root, t.Elem, seen)
	case Struct:
		for _, f := range t.Fields {
			if err := checkRecursion(root, f.Type, seen); err != nil {
				return err
			}
		}
	}
	// optional, list, map and union values can all be finite
	return nil
}
