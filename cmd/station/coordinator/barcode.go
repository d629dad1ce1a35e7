package coordinator

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

const suffixAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// FallbackBarcode builds a locally issued assembly barcode:
//
//	{variantId}-{assemblyId}-{last 6 digits of epoch ms}-{suffix}
//
// An empty assembly id is written as UNK.
func FallbackBarcode(variantID, assemblyID string, now time.Time, suffix string) string {
	if assemblyID == "" {
		assemblyID = "UNK"
	}
	return fmt.Sprintf("%s-%s-%06d-%s", variantID, assemblyID, now.UnixMilli()%1_000_000, suffix)
}

// RandomSuffix returns four random characters from [0-9A-Z]
func RandomSuffix() string {
	var b strings.Builder
	b.Grow(4)
	for i := 0; i < 4; i++ {
		b.WriteByte(suffixAlphabet[rand.IntN(len(suffixAlphabet))])
	}
	return b.String()
}
