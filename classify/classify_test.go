package classify

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iland112/pkd-ingest/core"
)

func makeCert(t *testing.T, subjectCN, issuerCN string, isCA bool, keyUsage x509.KeyUsage) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: subjectCN, Country: []string{"KR"}},
		Issuer:       pkix.Name{CommonName: issuerCN, Country: []string{"KR"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         isCA,
		KeyUsage:     keyUsage,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	parsed, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return parsed
}

func TestClassifySelfSignedIsCSCA(t *testing.T) {
	cert := makeCert(t, "CSCA-ROOT", "CSCA-ROOT", true, x509.KeyUsageCertSign)
	got := Classify(Input{Cert: cert, EntryDN: "cn=CSCA-ROOT,o=csca,c=KR"})
	assert.Equal(t, core.CertCSCA, got)
}

func TestClassifyMasterListAlwaysCSCA(t *testing.T) {
	cert := makeCert(t, "LINK-CSCA", "LINK-CSCA", false, 0)
	got := Classify(Input{Cert: cert, FromMasterList: true})
	assert.Equal(t, core.CertCSCA, got)
}

func TestClassifyNonConformantMarker(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	issuerTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "CSCA-ROOT", Country: []string{"KR"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
		KeyUsage:     x509.KeyUsageCertSign,
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "DSC-LEAF", Country: []string{"KR"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, leafTmpl, issuerTmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	got := Classify(Input{Cert: leaf, EntryDN: "cn=DSC-LEAF,o=dsc,c=KR,dc=nc-data"})
	assert.Equal(t, core.CertDSCNC, got)
}

func TestClassifyOrdinaryDSC(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	issuerTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "CSCA-ROOT", Country: []string{"KR"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
		KeyUsage:     x509.KeyUsageCertSign,
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "DSC-LEAF", Country: []string{"KR"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, leafTmpl, issuerTmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	got := Classify(Input{Cert: leaf, EntryDN: "cn=DSC-LEAF,o=dsc,c=KR"})
	assert.Equal(t, core.CertDSC, got)
}

func TestIsSelfSigned(t *testing.T) {
	cert := makeCert(t, "CSCA-ROOT", "CSCA-ROOT", true, x509.KeyUsageCertSign)
	assert.True(t, IsSelfSigned(cert))
}
