package main

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/kungfusheep/bare/schema"
)

func newGenerateCmd(o *options) *cobra.Command {
	var pkg string
	cmd := &cobra.Command{
		Use:     "generate",
		Short:   "Generate Go types for the declarations of a schema file",
		Example: `  bare generate -s user.yaml --package model > model/types.go`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.schema == nil {
				return fmt.Errorf("--schema is required")
			}
			_, err := io.WriteString(cmd.OutOrStdout(), GenerateGo(o.schema, pkg))
			return err
		},
	}
	cmd.Flags().StringVarP(&pkg, "package", "p", "main", "package name of the generated file")
	return cmd
}

// GenerateGo returns Go source declaring one type per schema declaration,
// laid out so the reflection codec produces the schema's wire format.
func GenerateGo(s *schema.Schema, packageName string) string {
	g := &goGenerator{schema: s}
	for _, d := range s.Decls {
		g.decl(d)
	}
	return g.file(packageName)
}

// goGenerator handles the generation of Go declarations from a schema
type goGenerator struct {
	schema   *schema.Schema
	body     strings.Builder
	unions   []string // RegisterUnion statements for init
	usesBare bool
}

// fieldInfo represents a field in a generated struct
type fieldInfo struct {
	name   string
	goType string
	tag    string
}

func (g *goGenerator) file(packageName string) string {
	var b strings.Builder
	b.WriteString("// Code generated by bare generate. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", packageName)
	if g.usesBare || len(g.unions) > 0 {
		b.WriteString("import \"github.com/kungfusheep/bare\"\n\n")
	}
	b.WriteString(g.body.String())

	if len(g.unions) > 0 {
		b.WriteString("func init() {\n")
		for _, u := range g.unions {
			b.WriteString(u)
		}
		b.WriteString("}\n")
	}
	return b.String()
}

func (g *goGenerator) decl(d schema.Decl) {
	t := d.Type
	switch t.Kind {
	case schema.Struct:
		fields := make([]fieldInfo, 0, len(t.Fields))
		for i, f := range t.Fields {
			name := toGoFieldName(f.Name)
			if name == "" {
				name = fmt.Sprintf("Field%d", i)
			}
			fields = append(fields, fieldInfo{
				name:   name,
				goType: g.goType(f.Type),
				tag:    fmt.Sprintf(`bare:"%s"`, f.Name),
			})
		}
		g.writeStruct(d.Name, fields)

	case schema.Enum:
		fmt.Fprintf(&g.body, "type %s uint64\n\nconst (\n", d.Name)
		for _, v := range t.Values {
			fmt.Fprintf(&g.body, "\t%s%s %s = %d\n", d.Name, toGoFieldName(v.Name), d.Name, v.Value)
		}
		g.body.WriteString(")\n\n")
		g.writeScalarMethods(d.Name, schema.Uint)

	case schema.Union:
		g.union(d.Name, t)

	case schema.Uint, schema.Int, schema.Char:
		fmt.Fprintf(&g.body, "type %s %s\n\n", d.Name, scalarBase(t.Kind))
		g.writeScalarMethods(d.Name, t.Kind)

	case schema.Named:
		// an alias keeps the methods of the referenced type
		fmt.Fprintf(&g.body, "type %s = %s\n\n", d.Name, t.Name)

	default:
		fmt.Fprintf(&g.body, "type %s %s\n\n", d.Name, g.goType(t))
	}
}

// union declares the interface for a union and gives every member a marker
// method. Members that cannot carry methods are wrapped in a single field
// struct, which has the same encoding as the wrapped value.
func (g *goGenerator) union(name string, t *schema.Type) {
	marker := "is" + name
	fmt.Fprintf(&g.body, "type %s interface {\n\t%s()\n}\n\n", name, marker)

	var reg strings.Builder
	fmt.Fprintf(&reg, "\tbare.RegisterUnion((*%s)(nil))", name)
	for _, m := range t.Members {
		member, isStruct := g.memberType(name, m)
		fmt.Fprintf(&g.body, "func (%s) %s() {}\n\n", member, marker)
		zero := member + "{}"
		if !isStruct {
			zero = "*new(" + member + ")"
		}
		fmt.Fprintf(&reg, ".\n\t\tMember(%s, %d)", zero, m.Tag)
	}
	reg.WriteString("\n")
	g.unions = append(g.unions, reg.String())
}

// memberType returns the Go type registered for m and whether it is a struct.
func (g *goGenerator) memberType(union string, m schema.Member) (string, bool) {
	if m.Type.Kind == schema.Named {
		if def := m.Type.Resolve(); def.Kind != schema.Union && def.Kind != schema.Optional && !g.isAlias(m.Type.Name) {
			return m.Type.Name, def.Kind == schema.Struct
		}
	}

	wrapper := fmt.Sprintf("%s%d", union, m.Tag)
	if m.Type.Kind == schema.Void {
		fmt.Fprintf(&g.body, "type %s struct{}\n\n", wrapper)
	} else {
		g.writeStruct(wrapper, []fieldInfo{{name: "Value", goType: g.goType(m.Type)}})
	}
	return wrapper, true
}

func (g *goGenerator) isAlias(name string) bool {
	for _, d := range g.schema.Decls {
		if d.Name == name {
			return d.Type.Kind == schema.Named
		}
	}
	return false
}

// goType converts a schema type expression to a Go type
func (g *goGenerator) goType(t *schema.Type) string {
	switch t.Kind {
	case schema.Named:
		return t.Name
	case schema.Uint:
		g.usesBare = true
		return "bare.Uint"
	case schema.Int:
		g.usesBare = true
		return "bare.Int"
	case schema.Char:
		g.usesBare = true
		return "bare.Char"
	case schema.U8:
		return "uint8"
	case schema.U16:
		return "uint16"
	case schema.U32:
		return "uint32"
	case schema.U64:
		return "uint64"
	case schema.I8:
		return "int8"
	case schema.I16:
		return "int16"
	case schema.I32:
		return "int32"
	case schema.I64:
		return "int64"
	case schema.F32:
		return "float32"
	case schema.F64:
		return "float64"
	case schema.Bool:
		return "bool"
	case schema.String:
		return "string"
	case schema.Data:
		return "[]byte"
	case schema.FixedData:
		return fmt.Sprintf("[%d]byte", t.Len)
	case schema.Void:
		return "struct{}"
	case schema.Optional:
		return "*" + g.goType(t.Elem)
	case schema.List:
		return "[]" + g.goType(t.Elem)
	case schema.Array:
		return fmt.Sprintf("[%d]%s", t.Len, g.goType(t.Elem))
	case schema.Map:
		return fmt.Sprintf("map[%s]%s", g.goType(t.Key), g.goType(t.Elem))
	}
	return "any"
}

// writeStruct writes a single struct definition
func (g *goGenerator) writeStruct(name string, fields []fieldInfo) {
	fmt.Fprintf(&g.body, "type %s struct {\n", name)

	// Find the maximum field name length for alignment
	maxNameLen, maxTypeLen := 0, 0
	for _, f := range fields {
		maxNameLen = max(maxNameLen, len(f.name))
		maxTypeLen = max(maxTypeLen, len(f.goType))
	}

	for _, f := range fields {
		if f.tag == "" {
			fmt.Fprintf(&g.body, "\t%-*s %s\n", maxNameLen, f.name, f.goType)
			continue
		}
		fmt.Fprintf(&g.body, "\t%-*s %-*s `%s`\n", maxNameLen, f.name, maxTypeLen, f.goType, f.tag)
	}
	g.body.WriteString("}\n\n")
}

// writeScalarMethods gives a named integer type the varint or char encoding
// its Go kind would not get on its own.
func (g *goGenerator) writeScalarMethods(name string, kind schema.Kind) {
	g.usesBare = true
	write, read, base := "WriteUint", "ReadUint", "uint64"
	switch kind {
	case schema.Int:
		write, read, base = "WriteInt", "ReadInt", "int64"
	case schema.Char:
		write, read, base = "WriteChar", "ReadChar", "rune"
	}

	fmt.Fprintf(&g.body, "func (v %s) MarshalBARE(w *bare.Writer) error { return w.%s(%s(v)) }\n\n", name, write, base)
	fmt.Fprintf(&g.body, "func (v *%s) UnmarshalBARE(r *bare.Reader) error {\n", name)
	fmt.Fprintf(&g.body, "\tx, err := r.%s()\n\t*v = %s(x)\n\treturn err\n}\n\n", read, name)
}

func scalarBase(k schema.Kind) string {
	switch k {
	case schema.Int:
		return "int64"
	case schema.Char:
		return "rune"
	}
	return "uint64"
}

// toGoFieldName converts a schema field name to Go field naming convention
func toGoFieldName(fieldName string) string {
	var result strings.Builder
	for _, part := range strings.Split(fieldName, "_") {
		if len(part) == 0 {
			continue
		}

		// Capitalize first letter and add the rest
		runes := []rune(part)
		result.WriteRune(unicode.ToUpper(runes[0]))
		if len(runes) > 1 {
			result.WriteString(strings.ToLower(string(runes[1:])))
		}
	}
	return result.String()
}
