package schema

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kungfusheep/bare"
)

const pairSchema = `
types:
  - name: Pair
    struct:
      - {name: name, type: str}
      - {name: tags, type: list<u8>}
      - {name: extra, type: optional<u16>}
`

func TestPrint(t *testing.T) {
	pair := mustLookup(t, mustParse(t, pairSchema), "Pair")

	out, err := Sprint([]byte{2, 'a', 'b', 2, 1, 2, 0}, pair)
	require.NoError(t, err)

	want := strings.Join([]string{
		`Pair @0`,
		`├─ name: "ab" (str) @0`,
		`├─ tags: list<u8> len=2 @3`,
		`│  ├─ [0]: 1 (u8) @4`,
		`│  ├─ [1]: 2 (u8) @5`,
		`├─ extra: optional<u16> absent @6`,
		``,
	}, "\n")
	assert.Equal(t, want, out)
}

func TestPrintUser(t *testing.T) {
	user := mustLookup(t, mustParse(t, userSchema), "User")

	out, err := Sprint(adminBytes(), user)
	require.NoError(t, err)

	for _, line := range []string{
		"User @0\n",
		"├─ id: 42 (uint) @0\n",
		"├─ role: ADMIN (Role) @27\n",
		"├─ session: optional<Session> present @28\n",
		"│  ├─ Session @29\n",
		"│  │  ├─ expires: 42424242 (uint) @94\n",
	} {
		assert.Contains(t, out, line)
	}
}

func TestPrintUnionAndMap(t *testing.T) {
	s := mustParse(t, kitchenSink)
	shapes, err := s.ParseType("map<str><Shape>")
	require.NoError(t, err)

	data, err := Marshal(shapes, &MapValue{Pairs: []Pair{
		{"p", UnionValue{Tag: 0, Value: map[string]any{"x": 1, "y": 2}}},
		{"v", UnionValue{Tag: 4}},
	}})
	require.NoError(t, err)

	out, err := Sprint(data, shapes)
	require.NoError(t, err)

	want := strings.Join([]string{
		`map<str><Shape> len=2 @0`,
		`├─ key: "p" (str) @1`,
		`├─ value: Shape tag=0 (Point) @3`,
		`│  ├─ Point @4`,
		`│  │  ├─ x: 1 (i8) @4`,
		`│  │  ├─ y: 2 (i8) @5`,
		`├─ key: "v" (str) @6`,
		`├─ value: Shape tag=4 (void) @8`,
		`│  ├─ void (void) @9`,
		``,
	}, "\n")
	assert.Equal(t, want, out)
}

// countingVisitor records events and can skip containers.
type countingVisitor struct {
	events []string
	skip   bool
}

func (v *countingVisitor) add(format string, args ...any) error {
	v.events = append(v.events, fmt.Sprintf(format, args...))
	return nil
}

func (v *countingVisitor) VisitValue(t *Type, val any, offset int64) error {
	return v.add("value %s %v @%d", t, val, offset)
}

func (v *countingVisitor) VisitStructStart(t *Type, offset int64) error {
	return v.add("struct %s @%d", t, offset)
}

func (v *countingVisitor) VisitFieldName(name string) error { return v.add("field %s", name) }
func (v *countingVisitor) VisitStructEnd(t *Type) error     { return v.add("end %s", t) }

func (v *countingVisitor) VisitListStart(t *Type, length int, offset int64) error {
	if v.skip {
		return ErrSkipVisit
	}
	return v.add("list %s %d @%d", t, length, offset)
}

func (v *countingVisitor) VisitListEnd(t *Type) error { return v.add("end %s", t) }

func (v *countingVisitor) VisitMapStart(t *Type, length int, offset int64) error {
	return v.add("map %s %d @%d", t, length, offset)
}

func (v *countingVisitor) VisitMapEnd(t *Type) error { return v.add("end %s", t) }

func (v *countingVisitor) VisitUnion(t *Type, tag uint64, member *Type, offset int64) error {
	return v.add("union %s %d %s @%d", t, tag, member, offset)
}

func (v *countingVisitor) VisitOptional(t *Type, present bool, offset int64) error {
	return v.add("optional %s %v @%d", t, present, offset)
}

func TestWalkSkip(t *testing.T) {
	pair := mustLookup(t, mustParse(t, pairSchema), "Pair")
	data := []byte{2, 'a', 'b', 3, 1, 2, 3, 1, 7, 0}

	v := &countingVisitor{skip: true}
	require.NoError(t, Walk(data, pair, v))
	assert.Equal(t, []string{
		"struct Pair @0",
		"field name",
		"value str ab @0",
		"field tags",
		"field extra",
		"optional optional<u16> true @7",
		"value u16 7 @8",
		"end Pair",
	}, v.events)
}

func TestWalkErrors(t *testing.T) {
	pair := mustLookup(t, mustParse(t, pairSchema), "Pair")

	err := Walk([]byte{2, 'a', 'b', 0, 0, 9}, pair, &countingVisitor{})
	assert.ErrorIs(t, err, bare.ErrTrailingData)

	err = Walk([]byte{2, 'a', 'b', 0, 2}, pair, &countingVisitor{})
	assert.ErrorIs(t, err, bare.ErrInvalidBool)

	_, err = Sprint([]byte{5, 'a'}, pair)
	assert.True(t, bare.IsIO(err))
}

func TestFingerprint(t *testing.T) {
	s := mustParse(t, userSchema)
	user := mustLookup(t, s, "User")

	assert.Equal(t,
		"User=struct{id:uint,name:str,email:str,role:Role=enum{ADMIN=0,NORMAL=1,GUEST=2},session:optional<Session=struct{token:data,expires:uint}>}",
		Canonical(user))
	assert.Equal(t, Fingerprint(user), Fingerprint(mustLookup(t, mustParse(t, userSchema), "User")))
	assert.Len(t, FingerprintString(user), 64)

	changed := strings.Replace(userSchema, "{name: expires, type: uint}", "{name: expires, type: u64}", 1)
	assert.NotEqual(t, Fingerprint(user), Fingerprint(mustLookup(t, mustParse(t, changed), "User")))

	node := mustLookup(t, mustParse(t, `
types:
  - name: Node
    struct:
      - {name: next, type: optional<Node>}
`), "Node")
	assert.Equal(t, "Node=struct{next:optional<Node>}", Canonical(node))
}
