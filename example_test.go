package bare_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/kungfusheep/bare"
)

func Example() {
	// Define your struct
	type Person struct {
		Name string
		Age  uint
		Tags []string
	}

	// Create encoder and decoder once (thread-safe, reusable)
	encoder := bare.NewEncoder[Person]()
	decoder := bare.NewDecoder[Person]()

	alice := Person{
		Name: "TestUser",
		Age:  32,
		Tags: []string{"engineer", "go", "serialization"},
	}

	buffer := bare.NewBufferFromPool()
	defer buffer.ReturnToPool()

	if err := encoder.Marshal(&alice, buffer); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Encoded %d bytes\n", len(buffer.Bytes))

	var decoded Person
	if err := decoder.Unmarshal(buffer.Bytes, &decoded); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Decoded: %+v\n", decoded)
	// Output:
	// Encoded 37 bytes
	// Decoded: {Name:TestUser Age:32 Tags:[engineer go serialization]}
}

// Temperature describes its own wire shape: a tagged union of celsius (0)
// and kelvin (1) readings.
type Temperature struct {
	Kelvin bool
	Value  float32
}

func (t Temperature) MarshalBARE(w *bare.Writer) error {
	tag := uint64(0)
	if t.Kelvin {
		tag = 1
	}
	return w.WriteUnion(tag, func(w *bare.Writer) error { return w.WriteF32(t.Value) })
}

func (t *Temperature) UnmarshalBARE(r *bare.Reader) error {
	return r.ReadUnion(func(r *bare.Reader, tag uint64) error {
		if tag > 1 {
			return bare.UnrecognizedTag(tag)
		}
		t.Kelvin = tag == 1
		v, err := r.ReadF32()
		t.Value = v
		return err
	})
}

func ExampleMarshaler() {
	data, err := bare.Marshal(Temperature{Kelvin: true, Value: 300})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("% x\n", data)

	var t Temperature
	err = bare.Unmarshal([]byte{7, 0, 0, 0, 0}, &t)
	fmt.Println(errors.Is(err, bare.ErrUnrecognizedDiscriminant))
	// Output:
	// 01 00 00 96 43
	// true
}

func ExampleReader_Decode() {
	var stream bytes.Buffer
	for _, word := range []string{"alpha", "beta"} {
		if err := bare.MarshalWriter(&stream, word); err != nil {
			fmt.Println(err)
			return
		}
	}

	r := bare.NewReader(bytes.NewReader(stream.Bytes()))
	for {
		var s string
		err := r.Decode(&s)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println(s)
	}
	// Output:
	// alpha
	// beta
}
