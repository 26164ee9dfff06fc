package service

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const barcodeRandomBytes = 4

var barcodeStrip = regexp.MustCompile(`[^A-Z0-9-]`)

// GenerateBarcode builds a dispatch note barcode from a transfer reference:
// DN-<ref>-<base36 timestamp>-<random>. The result is uppercased and
// stripped to [A-Z0-9-] so it survives every scanner and label printer in
// the field.
func GenerateBarcode(ref string) string {
	ts := strconv.FormatInt(time.Now().UTC().UnixMilli(), 36)

	buf := make([]byte, barcodeRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		// Timestamp entropy still makes collisions unlikely, and the
		// unique constraint on barcodes catches the rest.
		buf = []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
	}
	random := fmt.Sprintf("%X", buf)

	code := strings.ToUpper(fmt.Sprintf("DN-%s-%s-%s", ref, ts, random))
	return barcodeStrip.ReplaceAllString(code, "")
}

// NormalizeBarcode canonicalizes a scanned barcode the same way generation
// does, so lookups are insensitive to case and scanner noise.
func NormalizeBarcode(scanned string) string {
	return barcodeStrip.ReplaceAllString(strings.ToUpper(strings.TrimSpace(scanned)), "")
}
