package bare

import (
	"fmt"
	"reflect"
	"sync"
)

// UnionTypes maps the members of a union interface to their discriminants.
type UnionTypes struct {
	iface reflect.Type

	mu     sync.RWMutex
	byTag  map[uint64]unionMember
	byType map[reflect.Type]uint64
}

// unionMember is one variant. Pointer members carry their element as payload.
type unionMember struct {
	typ reflect.Type
	ptr bool
}

var unions sync.Map // reflect.Type of interface -> *UnionTypes

// RegisterUnion declares an interface type as a BARE union. Pass a nil
// pointer to the interface:
//
//	bare.RegisterUnion((*Shape)(nil)).
//		Member(Circle{}, 0).
//		Member(Square{}, 1)
//
// Registering the same interface twice returns the existing registration.
func RegisterUnion(iface any) *UnionTypes {
	t := reflect.TypeOf(iface)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Interface {
		panic(fmt.Sprintf("bare: RegisterUnion needs a nil pointer to an interface, got %T", iface))
	}
	t = t.Elem()

	u, _ := unions.LoadOrStore(t, &UnionTypes{
		iface:  t,
		byTag:  make(map[uint64]unionMember),
		byType: make(map[reflect.Type]uint64),
	})
	return u.(*UnionTypes)
}

// Member registers the dynamic type of v as the variant selected by tag.
// It panics if the type does not implement the interface or if either the
// type or the tag is already taken by a different member.
func (u *UnionTypes) Member(v any, tag uint64) *UnionTypes {
	t := reflect.TypeOf(v)
	if t == nil {
		panic("bare: union member must not be nil")
	}
	if !t.Implements(u.iface) {
		panic(fmt.Sprintf("bare: %v does not implement %v", t, u.iface))
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if prev, ok := u.byTag[tag]; ok && prev.typ != t {
		panic(fmt.Sprintf("bare: %v tag %d already taken by %v", u.iface, tag, prev.typ))
	}
	if prev, ok := u.byType[t]; ok && prev != tag {
		panic(fmt.Sprintf("bare: %v already registered in %v with tag %d", t, u.iface, prev))
	}

	u.byTag[tag] = unionMember{typ: t, ptr: t.Kind() == reflect.Pointer}
	u.byType[t] = tag
	return u
}

// Tag returns the discriminant registered for the dynamic type of v.
func (u *UnionTypes) Tag(v any) (uint64, bool) {
	return u.tagOf(reflect.TypeOf(v))
}

func (u *UnionTypes) tagOf(t reflect.Type) (uint64, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	tag, ok := u.byType[t]
	return tag, ok
}

func (u *UnionTypes) member(tag uint64) (unionMember, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	m, ok := u.byTag[tag]
	return m, ok
}

// lookupUnion returns the registration for an interface type.
func lookupUnion(t reflect.Type) (*UnionTypes, bool) {
	u, ok := unions.Load(t)
	if !ok {
		return nil, false
	}
	return u.(*UnionTypes), true
}
