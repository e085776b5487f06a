// Package x509util provides the ASN.1/X.509 leaf utilities (spec
// component C1): DN rendering, serial/time formatting, base64 and
// fingerprint helpers, and country-code extraction. No function
// panics; the string helpers fail soft with an empty string or "XX",
// and DecodeBase64Loose is the one function that returns an error.
package x509util

import (
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// UnknownCountry is returned whenever a country code cannot be
// determined from a DN.
const UnknownCountry = "XX"

// DecodeBase64Loose decodes s, tolerating embedded whitespace and
// newlines the way LDIF and PEM producers commonly emit them.
func DecodeBase64Loose(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.DecodeString(cleaned)
}

// EncodeBase64 is the inverse of DecodeBase64Loose for round-trip
// property tests (spec section 8, property 4).
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// RenderDN renders a pkix.Name as a single-line RFC 2253/4514 string,
// most-specific RDN first (the order crypto/x509 already parses DER
// names into).
func RenderDN(name pkix.Name) string {
	return name.String()
}

// SerialHex renders a certificate serial number as uppercase hex, with
// no leading "0x" and no separators, matching the BIGNUM rendering the
// original C++ service used.
func SerialHex(cert *x509.Certificate) string {
	if cert == nil || cert.SerialNumber == nil {
		return ""
	}
	return strings.ToUpper(cert.SerialNumber.Text(16))
}

// FormatTimestamp renders t as "YYYY-MM-DD HH:MM:SS+00", the fixed
// ISO-8601-ish form the legacy directory schema expects.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05+00")
}

// SHA256Hex computes the lowercase hex SHA-256 fingerprint over an
// arbitrary byte buffer (DER certificate, CRL, or CMS blob).
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

var (
	// Matches "C=XX" (case-insensitive) in a comma-separated DN.
	countryCommaRe = regexp.MustCompile(`(?i)(?:^|,)\s*C\s*=\s*([A-Za-z]{2,3})\s*(?:,|$)`)
	// Matches "/C=XX" in a slash-separated (OpenSSL oneline) DN.
	countrySlashRe = regexp.MustCompile(`(?i)/C=([A-Za-z]{2,3})(?:/|$)`)
)

// ExtractCountryCode pulls the C= RDN out of dn, tolerating both
// comma-separated ("CN=x,C=KR") and slash-separated ("/C=KR/CN=x")
// forms, case-insensitively. It never fails: a miss returns "XX".
func ExtractCountryCode(dn string) string {
	if dn == "" {
		return UnknownCountry
	}
	if m := countrySlashRe.FindStringSubmatch(dn); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := countryCommaRe.FindStringSubmatch(dn); m != nil {
		return strings.ToUpper(m[1])
	}
	return UnknownCountry
}

// dn4514Specials are the characters RFC 4514 section 2.4 requires
// escaping anywhere in an RDN value.
const dn4514Specials = `,=+"<>;\`

// EscapeRDNValue escapes value for safe inclusion as an RDN attribute
// value per RFC 4514: specials are backslash-escaped, a leading '#' or
// space and a trailing space are escaped, embedded NUL is escaped.
func EscapeRDNValue(value string) string {
	if value == "" {
		return value
	}
	var b strings.Builder
	runes := []rune(value)
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteString(`\00`)
		case strings.ContainsRune(dn4514Specials, r):
			b.WriteByte('\\')
			b.WriteRune(r)
		case i == 0 && r == '#':
			b.WriteString(`\#`)
		case i == 0 && r == ' ':
			b.WriteString(`\ `)
		case i == len(runes)-1 && r == ' ':
			b.WriteString(`\ `)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UnescapeRDNValue reverses EscapeRDNValue, used by property tests to
// assert the escape round-trips (spec section 8, property 3).
func UnescapeRDNValue(escaped string) string {
	var b strings.Builder
	runes := []rune(escaped)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' && i+1 < len(runes) {
			// \HH hex-escape form
			if i+2 < len(runes) && isHex(runes[i+1]) && isHex(runes[i+2]) {
				hexPair := string(runes[i+1 : i+3])
				var v int
				fmt.Sscanf(hexPair, "%02x", &v)
				b.WriteByte(byte(v))
				i += 2
				continue
			}
			b.WriteRune(runes[i+1])
			i++
			continue
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// HasKeyUsage reports whether ku includes usage bit.
func HasKeyUsage(ku x509.KeyUsage, bit x509.KeyUsage) bool {
	return ku&bit != 0
}
