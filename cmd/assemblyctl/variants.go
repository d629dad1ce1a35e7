package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/lyzr/assembly/cmd/station/registry"
	"github.com/lyzr/assembly/common/logger"
	"github.com/spf13/cobra"
)

func newVariantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "variants [variant-id]",
		Short: "List the built-in variants or show one variant's components",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.Default(logger.NewWithWriter(cmd.ErrOrStderr(), "error", "text"))
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				variants := reg.Variants()
				if jsonOutput {
					return printJSON(out, variants)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tFAMILY\tCOMPONENTS\tSUBTITLE")
				for _, v := range variants {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", v.ID, v.Family, len(v.Components), v.Subtitle)
				}
				return tw.Flush()
			}

			v, ok := reg.Variant(args[0])
			if !ok {
				return fmt.Errorf("unknown variant %q", args[0])
			}
			if jsonOutput {
				return printJSON(out, v)
			}

			fmt.Fprintf(out, "%s  %s\n", v.ID, v.Name)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tCOMPONENT\tITEM\tCODE")
			for _, c := range v.Components {
				code := "(lookup)"
				if c.VerificationCode != nil {
					code = *c.VerificationCode
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.Sequence, c.ID, c.ItemCode, code)
			}
			return tw.Flush()
		},
	}
}
