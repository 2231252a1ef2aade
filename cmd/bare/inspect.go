package main

import (
	"github.com/spf13/cobra"

	"github.com/kungfusheep/bare/schema"
)

func newInspectCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [file]",
		Short: "Print a message as a tree annotated with types and byte offsets",
		Example: `  bare inspect -s user.yaml -t User user.bin
  echo 03 010203 | bare inspect --hex -t "list<u8>"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := o.messageType()
			if err != nil {
				return err
			}
			data, err := o.readMessage(cmd, args)
			if err != nil {
				return err
			}
			return schema.Print(cmd.OutOrStdout(), data, t)
		},
	}
}
