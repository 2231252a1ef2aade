package main

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kungfusheep/bare"
)

func newVarintCmd() *cobra.Command {
	var (
		zigzag bool
		encode string
	)
	cmd := &cobra.Command{
		Use:   "varint [bytes...]",
		Short: "Decode a varint from decimal bytes, or encode one with --encode",
		Example: `  bare varint 172 2
  bare varint --zigzag 3
  bare varint --encode 300
  bare varint --zigzag --encode -2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if cmd.Flags().Changed("encode") {
				b, err := encodeVarint(encode, zigzag)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, formatBytes(b))
				return err
			}

			var input string
			if len(args) > 0 {
				input = strings.Join(args, " ")
			} else {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("error reading input: %v", err)
				}
				input = string(b)
			}
			return decodeVarint(out, input, zigzag)
		},
	}
	cmd.Flags().BoolVarP(&zigzag, "zigzag", "z", false, "signed (zigzag) varint")
	cmd.Flags().StringVarP(&encode, "encode", "e", "", "encode this decimal value instead")
	return cmd
}

func encodeVarint(value string, zigzag bool) ([]byte, error) {
	if zigzag {
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("error parsing %q: %v", value, err)
		}
		return bare.AppendVarint(nil, v), nil
	}
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing %q: %v", value, err)
	}
	return bare.AppendUvarint(nil, v), nil
}

// decodeVarint reads one varint from space separated decimal bytes and
// reports any bytes left over.
func decodeVarint(out io.Writer, input string, zigzag bool) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return fmt.Errorf("no input provided")
	}

	var b []byte
	for _, part := range parts {
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return fmt.Errorf("error parsing byte %q: %v", part, err)
		}
		b = append(b, byte(v))
	}

	r := bytes.NewReader(b)
	var value string
	if zigzag {
		v, err := bare.ReadVarint(r)
		if err != nil {
			return err
		}
		value = strconv.FormatInt(v, 10)
	} else {
		v, err := bare.ReadUvarint(r)
		if err != nil {
			return err
		}
		value = strconv.FormatUint(v, 10)
	}

	if r.Len() > 0 {
		_, err := fmt.Fprintf(out, "%s (%d trailing bytes)\n", value, r.Len())
		return err
	}
	_, err := fmt.Fprintln(out, value)
	return err
}

func formatBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = strconv.Itoa(int(c))
	}
	return strings.Join(parts, " ")
}
