package ldif

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSimpleEntry(t *testing.T) {
	input := "dn: c=KR,o=csca,dc=download,dc=data\ndescription: test entry\n"
	var entries []Entry
	err := Decode(strings.NewReader(input), func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c=KR,o=csca,dc=download,dc=data", entries[0].DN)
	assert.Equal(t, []byte("test entry"), entries[0].First("description"))
}

func TestDecodeLineContinuation(t *testing.T) {
	input := "dn: c=KR,o=csc\n a,dc=download,dc=data\ndescription: long\n value\n"
	var entries []Entry
	err := Decode(strings.NewReader(input), func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c=KR,o=csca,dc=download,dc=data", entries[0].DN)
	assert.Equal(t, []byte("longvalue"), entries[0].First("description"))
}

func TestDecodeBase64Value(t *testing.T) {
	cert := []byte{0x30, 0x82, 0x01, 0x02, 0xde, 0xad}
	encoded := base64.StdEncoding.EncodeToString(cert)
	input := "dn: cn=test\nuserCertificate;binary:: " + encoded + "\n"
	var entries []Entry
	err := Decode(strings.NewReader(input), func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, cert, entries[0].First("userCertificate;binary"))
	assert.True(t, entries[0].Has("userCertificate"))
}

func TestDecodeAnnotatesBinarySuffixWhenMissing(t *testing.T) {
	cert := []byte{0x30, 0x03, 0x02, 0x01, 0x05}
	encoded := base64.StdEncoding.EncodeToString(cert)
	input := "dn: cn=test\nuserCertificate:: " + encoded + "\n"
	var entries []Entry
	err := Decode(strings.NewReader(input), func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "userCertificate;binary", entries[0].Attributes[0].Name)
}

func TestDecodeMultipleEntriesNoTrailingBlankLine(t *testing.T) {
	input := "dn: cn=one\ndescription: a\n\ndn: cn=two\ndescription: b"
	var entries []Entry
	err := Decode(strings.NewReader(input), func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "cn=two", entries[1].DN)
}

func TestDecodeSkipsComments(t *testing.T) {
	input := "# a comment\ndn: cn=one\n# another\ndescription: a\n"
	var entries []Entry
	err := Decode(strings.NewReader(input), func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("a"), entries[0].First("description"))
}

func TestDecodeRejectsMissingColon(t *testing.T) {
	input := "dn cn=one\n"
	err := Decode(strings.NewReader(input), func(Entry) error { return nil })
	assert.Error(t, err)
}
