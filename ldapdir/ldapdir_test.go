package ldapdir

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iland112/pkd-ingest/core"
)

func TestBuildDNLegacy(t *testing.T) {
	dn := BuildDN(DNVersionLegacy, "CN=Test CSCA,O=Gov,C=KR", "0A1B", "deadbeef",
		"dc=download,dc=data", "dc=download,dc=data", "KR", OUCsca)
	assert.Equal(t, "cn=CN\\=Test CSCA\\,O\\=Gov\\,C\\=KR+sn=0A1B,o=csca,c=KR,dc=download,dc=data,dc=download,dc=data", dn)
}

func TestBuildDNFingerprint(t *testing.T) {
	dn := BuildDN(DNVersionFingerprint, "CN=Test CSCA,O=Gov,C=KR", "0A1B", "deadbeef",
		"dc=download,dc=data", "dc=download,dc=data", "KR", OUCsca)
	assert.Equal(t, "cn=deadbeef,o=csca,c=KR,dc=download,dc=data,dc=download,dc=data", dn)
}

func TestOuForCertificate(t *testing.T) {
	cases := []struct {
		name string
		cert core.Certificate
		want OU
	}{
		{"self-signed csca", core.Certificate{CertificateType: core.CertCSCA, SubjectDN: "CN=Root,C=KR", IssuerDN: "CN=Root,C=KR"}, OUCsca},
		{"cross-signed link csca", core.Certificate{CertificateType: core.CertCSCA, SubjectDN: "CN=Root,C=KR", IssuerDN: "CN=OtherRoot,C=KR"}, OULc},
		{"dsc", core.Certificate{CertificateType: core.CertDSC}, OUDsc},
		{"dsc-nc", core.Certificate{CertificateType: core.CertDSCNC}, OUDsc},
		{"mlsc", core.Certificate{CertificateType: core.CertMLSC}, OUMlsc},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ouForCertificate(tc.cert))
		})
	}
}
