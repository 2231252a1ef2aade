package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kungfusheep/bare/schema"
)

func newSchemaCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "List the types of a schema file with their fingerprints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.schema == nil {
				return fmt.Errorf("--schema is required")
			}
			out := cmd.OutOrStdout()

			if o.typeName != "" {
				t, err := o.messageType()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "%s\n%s\n", schema.Canonical(t), schema.FingerprintString(t))
				return err
			}

			for _, d := range o.schema.Decls {
				ref, _ := o.schema.Lookup(d.Name)
				if _, err := fmt.Fprintf(out, "%s = %s\n  %s\n", d.Name, d.Type, schema.FingerprintString(ref)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
