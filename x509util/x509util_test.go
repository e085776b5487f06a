package x509util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCountryCode(t *testing.T) {
	cases := []struct {
		dn   string
		want string
	}{
		{"CN=CSCA-TEST,C=KR", "KR"},
		{"CN=CSCA-TEST,c=kr,O=Gov", "KR"},
		{"/C=DE/CN=CSCA-DE", "DE"},
		{"/c=de/CN=CSCA-DE", "DE"},
		{"CN=NoCountry,O=Unknown", UnknownCountry},
		{"", UnknownCountry},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ExtractCountryCode(c.dn), "dn=%q", c.dn)
	}
}

func TestBase64RoundTrip(t *testing.T) {
	inputs := []string{"", "aGVsbG8=", "aGVsbG8gd29ybGQ=\n  ", "a\nG\tVsbG8="}
	for _, in := range inputs {
		decoded, err := DecodeBase64Loose(in)
		assert.NoError(t, err)
		reEncoded := EncodeBase64(decoded)
		redecoded, err := DecodeBase64Loose(reEncoded)
		assert.NoError(t, err)
		assert.Equal(t, decoded, redecoded)
	}
}

func TestEscapeRDNRoundTrip(t *testing.T) {
	values := []string{
		`Smith, James`,
		`CN=evil`,
		` leading space`,
		`trailing space `,
		`#leadinghash`,
		`plain value`,
	}
	for _, v := range values {
		escaped := EscapeRDNValue(v)
		assert.Equal(t, v, UnescapeRDNValue(escaped), "value=%q escaped=%q", v, escaped)
	}
}

func TestSHA256Hex(t *testing.T) {
	h1 := SHA256Hex([]byte("hello"))
	h2 := SHA256Hex([]byte("hello"))
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, SHA256Hex([]byte("world")))
}
