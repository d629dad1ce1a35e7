package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

var jsonOutput bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "assemblyctl",
		Short:         "Inspect variants, check barcodes and reconcile fallback records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of text")

	root.AddCommand(
		newVariantsCmd(),
		newCheckCmd(),
		newPendingCmd(),
		newReconcileCmd(),
	)
	return root
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
