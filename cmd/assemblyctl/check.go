package main

import (
	"fmt"
	"unicode/utf8"

	"github.com/lyzr/assembly/cmd/station/validator"
	"github.com/spf13/cobra"
)

type checkResult struct {
	Barcode   string `json:"barcode"`
	Code      string `json:"code"`
	Extracted string `json:"extracted"`
	Valid     bool   `json:"valid"`
	Error     string `json:"error,omitempty"`
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <barcode> <code>",
		Short: "Check a scanned barcode against a verification code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			barcode, code := args[0], args[1]
			res := checkResult{Barcode: barcode, Code: code}

			if err := validator.CheckCode(code); err != nil {
				res.Error = err.Error()
			} else {
				res.Extracted, _ = validator.Extract(barcode, utf8.RuneCountInString(code))
				res.Valid = validator.IsValid(barcode, &code)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(out, res); err != nil {
					return err
				}
			} else {
				switch {
				case res.Error != "":
					fmt.Fprintf(out, "INVALID CODE  %s\n", res.Error)
				case res.Valid:
					fmt.Fprintf(out, "MATCH     %s carries %s at offset %d\n", barcode, code, validator.CodeOffset)
				default:
					fmt.Fprintf(out, "MISMATCH  %s has %q at offset %d, want %q\n", barcode, res.Extracted, validator.CodeOffset, code)
				}
			}

			if !res.Valid {
				return fmt.Errorf("barcode %s does not validate against %s", barcode, code)
			}
			return nil
		},
	}
}
