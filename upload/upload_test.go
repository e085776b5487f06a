package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iland112/pkd-ingest/core"
)

func TestSanitizeFilenameRejectsTraversal(t *testing.T) {
	_, err := SanitizeFilename("../../etc/passwd")
	assert.Error(t, err)
}

func TestSanitizeFilenameRejectsEmpty(t *testing.T) {
	_, err := SanitizeFilename("")
	assert.Error(t, err)
}

func TestSanitizeFilenameRejectsDisallowedChars(t *testing.T) {
	_, err := SanitizeFilename("file name!.ldif")
	assert.Error(t, err)
}

func TestSanitizeFilenameAccepts(t *testing.T) {
	name, err := SanitizeFilename("icao-masterlist_2024.ml")
	assert.NoError(t, err)
	assert.Equal(t, "icao-masterlist_2024.ml", name)
}

func TestDetectFormatLDIF(t *testing.T) {
	f, err := DetectFormat([]byte("dn: cn=test\n"), "ldif")
	assert.NoError(t, err)
	assert.Equal(t, core.FormatLDIF, f)
}

func TestDetectFormatLDIFRejectsMissingMarker(t *testing.T) {
	_, err := DetectFormat([]byte("not an ldif file"), "ldif")
	assert.Error(t, err)
}

func TestDetectFormatMasterListRequiresSequenceTag(t *testing.T) {
	_, err := DetectFormat([]byte{0x01, 0x02}, "ml")
	assert.Error(t, err)

	f, err := DetectFormat([]byte{0x30, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00}, "ml")
	assert.NoError(t, err)
	assert.Equal(t, core.FormatML, f)
}

func TestDetectFormatRejectsUnsupportedExtension(t *testing.T) {
	_, err := DetectFormat([]byte("x"), "exe")
	assert.Error(t, err)
}

func TestCheckDERMagicTruncatedLongForm(t *testing.T) {
	err := checkDERMagic([]byte{0x30, 0x82, 0x01})
	assert.Error(t, err)
}

func TestMaxSizeForBulkVsCert(t *testing.T) {
	assert.Equal(t, int64(maxBulkSize), MaxSizeFor(core.FormatLDIF))
	assert.Equal(t, int64(maxCertSize), MaxSizeFor(core.FormatDER))
}
