package cmsx

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSignedCert(t *testing.T, cn string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn, Country: []string{"KR"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
		KeyUsage:     x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

func marshalMasterListBody(t *testing.T, version *int, certs [][]byte) []byte {
	t.Helper()
	var elements []asn1.RawValue
	if version != nil {
		vBytes, err := asn1.Marshal(*version)
		require.NoError(t, err)
		elements = append(elements, asn1.RawValue{FullBytes: vBytes})
	}
	var setElems []asn1.RawValue
	for _, c := range certs {
		setElems = append(setElems, asn1.RawValue{FullBytes: c})
	}
	var setBytes []byte
	for _, e := range setElems {
		setBytes = append(setBytes, e.FullBytes...)
	}
	set := asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: setBytes}
	setFull, err := asn1.Marshal(set)
	require.NoError(t, err)

	var body []byte
	for _, e := range elements {
		body = append(body, e.FullBytes...)
	}
	body = append(body, setFull...)

	outer := asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSequence, IsCompound: true, Bytes: body}
	outerFull, err := asn1.Marshal(outer)
	require.NoError(t, err)
	return outerFull
}

func TestDecodeMasterListBodyWithVersion(t *testing.T) {
	cert := selfSignedCert(t, "CSCA-TEST")
	v := 0
	body := marshalMasterListBody(t, &v, [][]byte{cert})

	var seen []int
	certs, version, err := decodeMasterListBody(body, func(done, total int) {
		seen = append(seen, done)
		assert.Equal(t, 1, total)
	})
	require.NoError(t, err)
	require.NotNil(t, version)
	assert.Equal(t, 0, *version)
	require.Len(t, certs, 1)
	assert.Equal(t, "CSCA-TEST", certs[0].Subject.CommonName)
	assert.Equal(t, []int{1}, seen)
}

func TestDecodeMasterListBodyNoVersion(t *testing.T) {
	certA := selfSignedCert(t, "CSCA-A")
	certB := selfSignedCert(t, "CSCA-B")
	body := marshalMasterListBody(t, nil, [][]byte{certA, certB})

	certs, version, err := decodeMasterListBody(body, nil)
	require.NoError(t, err)
	assert.Nil(t, version)
	assert.Len(t, certs, 2)
}

func TestTrimToDeclaredLength(t *testing.T) {
	cert := selfSignedCert(t, "CSCA-TRIM")
	padded := append(append([]byte{}, cert...), 0xDE, 0xAD, 0xBE, 0xEF)

	trimmed, err := trimToDeclaredLength(padded)
	require.NoError(t, err)
	assert.Equal(t, cert, trimmed)
}
