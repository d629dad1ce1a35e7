// Package validator checks scanned barcodes against component verification
// codes. The printing process embeds the code at a fixed offset, so a
// barcode validates when the characters starting at CodeOffset equal the
// code exactly.
package validator

import (
	"fmt"
	"unicode/utf8"

	"github.com/lyzr/assembly/cmd/station/models"
)

const (
	// CodeOffset is the zero-based position of the code inside a barcode
	CodeOffset = 4

	MinCodeLength = 1
	MaxCodeLength = 3
)

// ErrUnsupportedCodeLength marks a code that can never validate
var ErrUnsupportedCodeLength = models.NewError(models.KindConfigurationFault,
	fmt.Sprintf("verification code length must be %d to %d characters", MinCodeLength, MaxCodeLength), nil)

// CheckCode returns ErrUnsupportedCodeLength when code cannot be used for
// validation
func CheckCode(code string) error {
	n := utf8.RuneCountInString(code)
	if n < MinCodeLength || n > MaxCodeLength {
		return fmt.Errorf("code %q has %d characters: %w", code, n, ErrUnsupportedCodeLength)
	}
	return nil
}

// Extract returns the n characters of barcode starting at CodeOffset.
// ok is false when the barcode is too short.
func Extract(barcode string, n int) (string, bool) {
	runes := []rune(barcode)
	if n < 0 || len(runes) < CodeOffset+n {
		return "", false
	}
	return string(runes[CodeOffset : CodeOffset+n]), true
}

// IsValid reports whether barcode carries code.
//
// A nil code accepts every barcode; callers must surface that degraded mode
// to the operator. A code of unsupported length never validates.
func IsValid(barcode string, code *string) bool {
	if code == nil {
		return true
	}
	if CheckCode(*code) != nil {
		return false
	}

	got, ok := Extract(barcode, utf8.RuneCountInString(*code))
	return ok && got == *code
}
