// Package classify assigns a CertificateType to a parsed X.509
// certificate (component C9). Grounded on Boulder's policy package
// style of small, independently-testable predicate functions over a
// *x509.Certificate (policy/policy.go's well-formedness checks),
// adapted to the ICAO classification decision tree.
package classify

import (
	"crypto/x509"
	"strings"

	"github.com/iland112/pkd-ingest/core"
	"github.com/iland112/pkd-ingest/x509util"
)

// Input carries everything the decision tree needs: the parsed
// certificate plus the DN of the LDIF entry it was extracted from
// (which may carry the dc=nc-data non-conformance marker absent from
// the certificate itself).
type Input struct {
	Cert        *x509.Certificate
	EntryDN     string
	FromMasterList bool
}

// Classify implements spec section 4.9's decision tree.
//
//   - subject == issuer (case-insensitive)        -> CSCA
//   - entry DN contains "dc=nc-data" (case-insensitive) -> DSC_NC
//   - BasicConstraints.CA && KeyUsage keyCertSign  -> CSCA (link variant)
//   - otherwise                                    -> DSC
//
// Certificates sourced from a Master List body are always CSCA,
// including link variants, overriding the tree entirely.
func Classify(in Input) core.CertificateType {
	if in.FromMasterList {
		return core.CertCSCA
	}

	subject := x509util.RenderDN(in.Cert.Subject)
	issuer := x509util.RenderDN(in.Cert.Issuer)
	if strings.EqualFold(subject, issuer) {
		return core.CertCSCA
	}

	if strings.Contains(strings.ToLower(in.EntryDN), "dc=nc-data") {
		return core.CertDSCNC
	}

	if in.Cert.IsCA && x509util.HasKeyUsage(in.Cert.KeyUsage, x509.KeyUsageCertSign) {
		return core.CertCSCA
	}

	return core.CertDSC
}

// IsSelfSigned reports subject == issuer (case-insensitive), the same
// predicate Classify uses, exposed separately because the trust-chain
// engine (C8) needs it on its own to decide chain termination.
func IsSelfSigned(cert *x509.Certificate) bool {
	return strings.EqualFold(x509util.RenderDN(cert.Subject), x509util.RenderDN(cert.Issuer))
}
