package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kungfusheep/bare"
	"github.com/kungfusheep/bare/schema"
)

// options holds the persistent flags and the state they produce.
type options struct {
	schemaPath string
	typeName   string
	verbose    bool
	maxBytes   uint
	hex        bool

	log    *zap.Logger
	schema *schema.Schema
}

func newRootCmd() *cobra.Command {
	o := &options{log: zap.NewNop()}

	root := &cobra.Command{
		Use:   "bare",
		Short: "Encode, decode and inspect BARE messages",
		Long: `bare converts between BARE binary messages and JSON, YAML or CBOR
using a schema file, and prints annotated views of raw messages.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = o.log.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&o.schemaPath, "schema", "s", "", "schema file (YAML)")
	flags.StringVarP(&o.typeName, "type", "t", "", "message type: a declared name or a type expression")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "log to stderr")
	flags.UintVar(&o.maxBytes, "max-bytes", 16<<20, "largest input accepted, and the largest string or data value decoded (0 = unlimited)")
	flags.BoolVar(&o.hex, "hex", false, "binary messages are hex text")

	root.AddCommand(
		newEncodeCmd(o),
		newDecodeCmd(o),
		newInspectCmd(o),
		newSchemaCmd(o),
		newGenerateCmd(o),
		newVarintCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (o *options) setup() error {
	if o.verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		log, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		o.log = log
	}

	if o.schemaPath == "" {
		return nil
	}
	s, err := schema.Load(o.schemaPath)
	if err != nil {
		return err
	}
	o.schema = s
	o.log.Debug("schema loaded", zap.String("path", o.schemaPath), zap.Int("types", len(s.Decls)))
	return nil
}

// messageType resolves --type against the loaded schema. Built-in type
// expressions work without a schema.
func (o *options) messageType() (*schema.Type, error) {
	if o.typeName == "" {
		return nil, fmt.Errorf("--type is required")
	}
	if o.schema != nil {
		if t, ok := o.schema.Lookup(o.typeName); ok {
			o.log.Debug("type selected", zap.String("type", o.typeName), zap.String("fingerprint", schema.FingerprintString(t)))
			return t, nil
		}
	}
	t, err := o.schema.ParseType(o.typeName)
	if err != nil {
		return nil, err
	}
	o.log.Debug("type expression", zap.Stringer("type", t))
	return t, nil
}

func (o *options) limits() bare.DecodeLimits {
	l := bare.DefaultLimits
	l.MaxByteSliceLen = o.maxBytes
	l.MaxStringLen = o.maxBytes
	return l
}

// readInput reads the file named by args, or stdin when there is none or it
// is "-".
func (o *options) readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	src := cmd.InOrStdin()
	name := "stdin"
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		src, name = f, args[0]
	}

	if o.maxBytes > 0 {
		src = io.LimitReader(src, int64(o.maxBytes)+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if o.maxBytes > 0 && uint(len(data)) > o.maxBytes {
		return nil, fmt.Errorf("%s is larger than --max-bytes %d", name, o.maxBytes)
	}
	o.log.Debug("input read", zap.String("from", name), zap.Int("bytes", len(data)))
	return data, nil
}

// readMessage reads a binary message, decoding it from hex with --hex.
func (o *options) readMessage(cmd *cobra.Command, args []string) ([]byte, error) {
	data, err := o.readInput(cmd, args)
	if err != nil || !o.hex {
		return data, err
	}
	data, err = hex.DecodeString(string(bytes.Join(bytes.Fields(data), nil)))
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return data, nil
}

func (o *options) writeMessage(cmd *cobra.Command, data []byte) error {
	o.log.Debug("message written", zap.Int("bytes", len(data)))
	out := cmd.OutOrStdout()
	if o.hex {
		_, err := fmt.Fprintln(out, hex.EncodeToString(data))
		return err
	}
	_, err := out.Write(data)
	return err
}
