package schema

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// Fingerprint hashes the complete shape of t. Named types are expanded the
// first time they appear and referenced by name afterwards, so recursive
// types hash finitely. Two types with the same fingerprint have the same
// wire format.
func Fingerprint(t *Type) [32]byte {
	return blake3.Sum256([]byte(Canonical(t)))
}

// FingerprintString returns the fingerprint as hex.
func FingerprintString(t *Type) string {
	sum := Fingerprint(t)
	return hex.EncodeToString(sum[:])
}

// Canonical renders t with every named type expanded once.
func Canonical(t *Type) string {
	var b strings.Builder
	writeCanonical(&b, t, map[string]bool{})
	return b.String()
}

func writeCanonical(b *strings.Builder, t *Type, seen map[string]bool) {
	switch t.Kind {
	case Named:
		b.WriteString(t.Name)
		if seen[t.Name] {
			return
		}
		seen[t.Name] = true
		b.WriteString("=")
		writeCanonical(b, t.def, seen)

	case Optional:
		b.WriteString("optional<")
		writeCanonical(b, t.Elem, seen)
		b.WriteString(">")
	case List, Array:
		b.WriteString("list<")
		writeCanonical(b, t.Elem, seen)
		b.WriteString(">")
		if t.Kind == Array {
			b.WriteString("[" + strconv.Itoa(t.Len) + "]")
		}
	case Map:
		b.WriteString("map<")
		writeCanonical(b, t.Key, seen)
		b.WriteString("><")
		writeCanonical(b, t.Elem, seen)
		b.WriteString(">")
	case Struct:
		b.WriteString("struct{")
		for i, f := range t.Fields {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(f.Name + ":")
			writeCanonical(b, f.Type, seen)
		}
		b.WriteString("}")
	case Union:
		b.WriteString("union{")
		for i, m := range t.Members {
			if i > 0 {
				b.WriteString("|")
			}
			writeCanonical(b, m.Type, seen)
			b.WriteString("=" + strconv.FormatUint(m.Tag, 10))
		}
		b.WriteString("}")

	case Enum:
		b.WriteString("enum{")
		for i, e := range t.Values {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(e.Name + "=" + strconv.FormatUint(e.Value, 10))
		}
		b.WriteString("}")

	default:
		t.write(b)
	}
}
