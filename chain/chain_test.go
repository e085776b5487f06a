package chain

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kp struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

func genCSCA(t *testing.T, cn string, notBefore, notAfter time.Time) kp {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn, Country: []string{"KR"}},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		IsCA:         true,
		KeyUsage:     x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	parsed, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return kp{cert: parsed, key: key}
}

func genDSC(t *testing.T, cn string, issuer kp, notBefore, notAfter time.Time) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: cn, Country: []string{"KR"}},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer.cert, &key.PublicKey, issuer.key)
	require.NoError(t, err)
	parsed, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return parsed
}

func TestValidateCSCAHappyPath(t *testing.T) {
	csca := genCSCA(t, "CSCA-ROOT", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	r := ValidateCSCA(csca.cert)
	assert.True(t, r.IsValid)
	assert.True(t, r.SignatureValid)
	assert.True(t, r.NotExpired)
}

func TestValidateCSCAMissingFlagsIsWarning(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "CSCA-NOFLAG", Country: []string{"KR"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	r := ValidateCSCA(cert)
	assert.True(t, r.IsValid)
	assert.NotEmpty(t, r.ErrorMessage)
}

func TestValidateChainDSCHappyPath(t *testing.T) {
	csca := genCSCA(t, "CSCA-ROOT", time.Now().Add(-24*time.Hour), time.Now().Add(24*time.Hour))
	dsc := genDSC(t, "DSC-LEAF", csca, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	r := ValidateChain(dsc, []*x509.Certificate{csca.cert})
	assert.True(t, r.IsValid)
	assert.True(t, r.CSCAFound)
	assert.False(t, r.DSCExpired)
	assert.True(t, strings.HasPrefix(r.TrustChainPath, "DSC"))
	assert.Contains(t, r.TrustChainPath, "CSCA-ROOT")
}

func TestValidateChainExpiredCSCAIsInformationalOnly(t *testing.T) {
	csca := genCSCA(t, "CSCA-EXPIRED", time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour))
	dsc := genDSC(t, "DSC-LEAF", csca, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	r := ValidateChain(dsc, []*x509.Certificate{csca.cert})
	assert.True(t, r.IsValid)
	assert.True(t, r.CSCAExpired)
}

func TestValidateChainExpiredDSCIsValidWithFlag(t *testing.T) {
	csca := genCSCA(t, "CSCA-ROOT", time.Now().Add(-24*time.Hour), time.Now().Add(24*time.Hour))
	dsc := genDSC(t, "DSC-EXPIRED", csca, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))

	r := ValidateChain(dsc, []*x509.Certificate{csca.cert})
	assert.True(t, r.IsValid)
	assert.True(t, r.DSCExpired)
}

func TestValidateChainNotYetValidIsHardFailure(t *testing.T) {
	csca := genCSCA(t, "CSCA-ROOT", time.Now().Add(-24*time.Hour), time.Now().Add(24*time.Hour))
	dsc := genDSC(t, "DSC-FUTURE", csca, time.Now().Add(time.Hour), time.Now().Add(2*time.Hour))

	r := ValidateChain(dsc, []*x509.Certificate{csca.cert})
	assert.False(t, r.IsValid)
	assert.True(t, r.NotYetValid)
}

func TestValidateChainNoCSCAFound(t *testing.T) {
	csca := genCSCA(t, "CSCA-OTHER", time.Now().Add(-24*time.Hour), time.Now().Add(24*time.Hour))
	unrelated := genCSCA(t, "CSCA-UNRELATED", time.Now().Add(-24*time.Hour), time.Now().Add(24*time.Hour))
	dsc := genDSC(t, "DSC-LEAF", csca, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	r := ValidateChain(dsc, []*x509.Certificate{unrelated.cert})
	assert.False(t, r.IsValid)
	assert.False(t, r.CSCAFound)
}

func TestValidateChainRollover(t *testing.T) {
	oldCSCA := genCSCA(t, "CSCA-ROOT", time.Now().Add(-48*time.Hour), time.Now().Add(48*time.Hour))
	newCSCA := genCSCA(t, "CSCA-ROOT", time.Now().Add(-1*time.Hour), time.Now().Add(48*time.Hour))
	dsc := genDSC(t, "DSC-LEAF", oldCSCA, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	r := ValidateChain(dsc, []*x509.Certificate{newCSCA.cert, oldCSCA.cert})
	assert.True(t, r.IsValid)
}
