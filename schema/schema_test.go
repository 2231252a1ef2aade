package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSchema = `
types:
  - name: Role
    enum: [ADMIN, NORMAL, GUEST]
  - name: Session
    struct:
      - {name: token, type: data}
      - {name: expires, type: uint}
  - name: User
    struct:
      - {name: id, type: uint}
      - {name: name, type: str}
      - {name: email, type: str}
      - {name: role, type: Role}
      - {name: session, type: optional<Session>}
`

func mustParse(t *testing.T, doc string) *Schema {
	t.Helper()
	s, err := Parse([]byte(doc))
	require.NoError(t, err)
	return s
}

func mustLookup(t *testing.T, s *Schema, name string) *Type {
	t.Helper()
	typ, ok := s.Lookup(name)
	require.True(t, ok, "type %s", name)
	return typ
}

func TestParseUserSchema(t *testing.T) {
	s := mustParse(t, userSchema)

	require.Len(t, s.Decls, 3)
	assert.Equal(t, "Role", s.Decls[0].Name)

	user := mustLookup(t, s, "User")
	assert.Equal(t, Named, user.Kind)
	assert.Equal(t, "User", user.String())

	rt := user.Resolve()
	require.Equal(t, Struct, rt.Kind)
	var names []string
	for _, f := range rt.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"id", "name", "email", "role", "session"}, names)

	session, ok := user.Field("session")
	require.True(t, ok)
	assert.Equal(t, "optional<Session>", session.Type.String())
	assert.Equal(t, Struct, session.Type.Elem.Resolve().Kind)

	role := mustLookup(t, s, "Role")
	v, ok := role.EnumValue("GUEST")
	assert.True(t, ok)
	assert.Equal(t, uint64(2), v)

	_, ok = s.Lookup("Missing")
	assert.False(t, ok)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.yaml")
	require.NoError(t, os.WriteFile(path, []byte(userSchema), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	mustLookup(t, s, "Session")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTagAssignment(t *testing.T) {
	s := mustParse(t, `
types:
  - name: Circle
    struct: [{name: r, type: f32}]
  - name: Square
    struct: [{name: side, type: uint}]
  - name: Shape
    union:
      - {type: Circle}
      - {type: Square, tag: 5}
      - {type: void}
  - name: Level
    enum: [LOW, HIGH=4, MAX]
`)

	shape := mustLookup(t, s, "Shape").Resolve()
	require.Len(t, shape.Members, 3)
	assert.Equal(t, uint64(0), shape.Members[0].Tag)
	assert.Equal(t, uint64(5), shape.Members[1].Tag)
	assert.Equal(t, uint64(6), shape.Members[2].Tag)
	assert.Equal(t, "union { Circle = 0 | Square = 5 | void = 6 }", shape.String())

	level := mustLookup(t, s, "Level").Resolve()
	assert.Equal(t, []EnumValue{{"LOW", 0}, {"HIGH", 4}, {"MAX", 5}}, level.Values)
}

func TestTypeExpressions(t *testing.T) {
	s := mustParse(t, userSchema)

	for _, expr := range []string{
		"uint", "i64", "f32", "char", "str", "data",
		"data<16>",
		"optional<list<i32>>",
		"list<u8>[4]",
		"map<str><list<u8>[4]>",
		"map<Role><optional<User>>",
	} {
		typ, err := s.ParseType(expr)
		require.NoError(t, err, expr)
		assert.Equal(t, expr, typ.String())
	}

	typ, err := s.ParseType(" map < str > < u8 > ")
	require.NoError(t, err)
	assert.Equal(t, "map<str><u8>", typ.String())

	typ, err = (*Schema)(nil).ParseType("list<u16>")
	require.NoError(t, err)
	assert.Equal(t, List, typ.Kind)
}

func TestRecursionThroughIndirection(t *testing.T) {
	s := mustParse(t, `
types:
  - name: Node
    struct:
      - {name: value, type: int}
      - {name: next, type: optional<Node>}
      - {name: children, type: list<Node>}
  - name: Expr
    union: [{type: Num}, {type: Add}]
  - name: Num
    type: i64
  - name: Add
    struct:
      - {name: left, type: Expr}
      - {name: right, type: Expr}
`)
	mustLookup(t, s, "Node")
	mustLookup(t, s, "Expr")
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"unknown reference": `
types:
  - {name: A, struct: [{name: b, type: Missing}]}`,
		"declared twice": `
types:
  - {name: A, type: u8}
  - {name: A, type: u16}`,
		"lower case name": `
types:
  - {name: a, type: u8}`,
		"void field": `
types:
  - {name: A, struct: [{name: v, type: void}]}`,
		"float key": `
types:
  - {name: A, type: "map<f32><str>"}`,
		"data key": `
types:
  - {name: A, type: "map<data><str>"}`,
		"direct recursion": `
types:
  - {name: A, struct: [{name: self, type: A}]}`,
		"recursion through array": `
types:
  - {name: A, struct: [{name: x, type: B}]}
  - {name: B, type: "list<A>[2]"}`,
		"two forms": `
types:
  - {name: A, type: u8, enum: [X]}`,
		"zero length": `
types:
  - {name: A, type: "list<u8>[0]"}`,
		"duplicate tag": `
types:
  - {name: A, union: [{type: u8, tag: 1}, {type: u16, tag: 1}]}`,
		"duplicate enum": `
types:
  - {name: A, enum: [X, Y=0]}`,
		"unterminated": `
types:
  - {name: A, type: "list<u8"}`,
		"unknown key": `
types:
  - {name: A, type: u8, colour: red}`,
		"empty struct": `
types:
  - {name: A, struct: []}`,
		"void declaration": `
types:
  - {name: A, type: void}`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidSchema)
		})
	}
}
