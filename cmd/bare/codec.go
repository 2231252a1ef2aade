package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kungfusheep/bare"
	"github.com/kungfusheep/bare/schema"
)

var cborDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

func newEncodeCmd(o *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "encode [file]",
		Short: "Encode a JSON, YAML or CBOR value as a BARE message",
		Example: `  bare encode -s user.yaml -t User user.json > user.bin
  bare encode -s user.yaml -t User --format yaml --hex user.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := o.messageType()
			if err != nil {
				return err
			}
			input, err := o.readInput(cmd, args)
			if err != nil {
				return err
			}
			v, err := parseValue(format, input)
			if err != nil {
				return err
			}
			data, err := schema.Marshal(t, v)
			if err != nil {
				return err
			}
			return o.writeMessage(cmd, data)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "input format: json, jsonc, yaml or cbor")
	return cmd
}

func newDecodeCmd(o *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "decode [file]",
		Short: "Decode a BARE message to JSON, YAML or CBOR",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := o.messageType()
			if err != nil {
				return err
			}
			data, err := o.readMessage(cmd, args)
			if err != nil {
				return err
			}

			r := bare.NewBytesReader(data)
			r.SetLimits(o.limits())
			v, err := schema.Decode(r, t)
			if err != nil {
				return err
			}
			if n := r.Remaining(); n > 0 {
				return fmt.Errorf("%w: %d bytes after %s", bare.ErrTrailingData, n, t)
			}

			out, err := formatValue(format, v)
			if err != nil {
				return err
			}
			o.log.Debug("value decoded", zap.String("format", format), zap.Int("bytes", len(out)))
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json, yaml or cbor")
	return cmd
}

// parseValue decodes input into the loose shapes schema.Encode accepts.
func parseValue(format string, input []byte) (any, error) {
	var v any
	switch format {
	case "jsonc":
		input = jsonc.ToJSON(input)
		fallthrough
	case "json":
		dec := json.NewDecoder(bytes.NewReader(input))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
		if dec.More() {
			return nil, fmt.Errorf("parsing json: more than one value")
		}
	case "yaml":
		if err := yaml.Unmarshal(input, &v); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	case "cbor":
		if err := cborDecMode.Unmarshal(input, &v); err != nil {
			return nil, fmt.Errorf("parsing cbor: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported input format: %s", format)
	}
	return v, nil
}

func formatValue(format string, v any) ([]byte, error) {
	switch format {
	case "json":
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	case "yaml":
		return yaml.Marshal(v)
	case "cbor":
		return cbor.Marshal(v)
	}
	return nil, fmt.Errorf("unsupported output format: %s", format)
}
