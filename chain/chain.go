// Package chain implements the trust-chain engine (component C8):
// CSCA self-validation and DSC chain building under ICAO Doc 9303's
// hybrid validity model, where signature verification is mandatory at
// every step but non-leaf expiration is merely informational.
// Grounded on Boulder's certificate-authority issuance path
// (ca/certificate-authority.go) for the shape of "verify then report
// every sub-condition separately" and on its depth/loop guards
// borrowed from the same package's precertificate linting stage.
package chain

import (
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	"github.com/iland112/pkd-ingest/classify"
	"github.com/iland112/pkd-ingest/pkderrors"
	"github.com/iland112/pkd-ingest/x509util"
)

// MaxDepth bounds chain traversal (spec section 4.8, step 5).
const MaxDepth = 5

// chainPathSeparator joins TrustChainPath segments (spec section 4.8,
// step 6: "Render the chain as DSC -> CN=... -> ... -> CN=root").
const chainPathSeparator = " → "

// Result is the trust-chain verdict for one certificate.
type Result struct {
	IsValid          bool
	CSCAFound        bool
	SignatureValid   bool
	NotExpired       bool
	DSCExpired       bool
	CSCAExpired      bool
	CSCASubjectDN    string
	TrustChainPath   string
	NotYetValid      bool
	ErrorCode        pkderrors.Kind
	ErrorMessage     string
}

// ValidateCSCA implements CSCA self-validation (spec section 4.8):
// subject equals issuer, self-signature verifies, CA flag is set, and
// keyCertSign is present. Each condition is reported independently so
// a caller can distinguish WARNING (signature valid, flags missing)
// from INVALID.
func ValidateCSCA(cert *x509.Certificate) Result {
	r := Result{CSCASubjectDN: x509util.RenderDN(cert.Subject), TrustChainPath: "CSCA"}

	if !classify.IsSelfSigned(cert) {
		r.ErrorCode = pkderrors.CSCASignatureInvalid
		r.ErrorMessage = "subject does not equal issuer"
		return r
	}

	sigErr := cert.CheckSignatureFrom(cert)
	r.SignatureValid = sigErr == nil
	r.CSCAFound = true

	now := time.Now()
	r.NotExpired = !now.After(cert.NotAfter)
	r.NotYetValid = now.Before(cert.NotBefore)

	hasCAFlag := cert.IsCA
	hasKeyCertSign := x509util.HasKeyUsage(cert.KeyUsage, x509.KeyUsageCertSign)

	switch {
	case !r.SignatureValid:
		r.ErrorCode = pkderrors.CSCASignatureInvalid
		r.ErrorMessage = fmt.Sprintf("self-signature verification failed: %v", sigErr)
	case r.NotYetValid:
		r.ErrorCode = pkderrors.NotYetValid
		r.ErrorMessage = "csca is not yet valid"
	case !hasCAFlag || !hasKeyCertSign:
		r.ErrorMessage = "signature valid but CA/KeyUsage flags are missing"
		r.IsValid = true // WARNING-level: caller maps this to ValidationWarning
	default:
		r.IsValid = true
	}
	return r
}

// ValidateChain builds and validates a chain from target up to a
// self-signed root, using candidates (every CSCA sharing target's
// issuer DN) as the pool of possible issuers at each step (spec
// section 4.8).
func ValidateChain(target *x509.Certificate, candidates []*x509.Certificate) Result {
	r := Result{}

	now := time.Now()
	if now.Before(target.NotBefore) {
		r.NotYetValid = true
		r.ErrorCode = pkderrors.NotYetValid
		r.ErrorMessage = "certificate is not yet valid"
		return r
	}
	r.DSCExpired = now.After(target.NotAfter)
	r.NotExpired = !r.DSCExpired

	pathNames := []string{"DSC"}
	visited := map[string]bool{strings.ToLower(x509util.RenderDN(target.Subject)): true}

	current := target
	for depth := 0; ; depth++ {
		if classify.IsSelfSigned(current) {
			cscaResult := ValidateCSCA(current)
			r.CSCAFound = true
			r.CSCASubjectDN = cscaResult.CSCASubjectDN
			r.CSCAExpired = !cscaResult.NotExpired
			r.SignatureValid = cscaResult.SignatureValid
			r.TrustChainPath = strings.Join(pathNames, chainPathSeparator)
			if !cscaResult.SignatureValid {
				r.ErrorCode = pkderrors.CSCASignatureInvalid
				r.ErrorMessage = "root CSCA self-signature invalid"
				r.IsValid = false
				return r
			}
			r.IsValid = true
			return r
		}

		if depth >= MaxDepth {
			r.ErrorCode = pkderrors.MaxDepthExceeded
			r.ErrorMessage = fmt.Sprintf("chain exceeded maximum depth of %d", MaxDepth)
			r.TrustChainPath = strings.Join(pathNames, chainPathSeparator)
			return r
		}

		issuer, found := selectIssuer(current, candidates)
		if !found {
			r.ErrorCode = pkderrors.CSCANotFound
			r.ErrorMessage = "no CSCA found matching issuer DN"
			r.TrustChainPath = strings.Join(pathNames, chainPathSeparator)
			return r
		}

		issuerDN := strings.ToLower(x509util.RenderDN(issuer.Subject))
		if visited[issuerDN] {
			r.ErrorCode = pkderrors.CircularReference
			r.ErrorMessage = "issuer chain contains a cycle"
			r.TrustChainPath = strings.Join(pathNames, chainPathSeparator)
			return r
		}
		visited[issuerDN] = true
		pathNames = append(pathNames, x509util.RenderDN(issuer.Subject))

		sigErr := current.CheckSignatureFrom(issuer)
		if sigErr != nil {
			r.ErrorCode = pkderrors.DSCSignatureInvalid
			r.ErrorMessage = fmt.Sprintf("signature verification against %s failed: %v", x509util.RenderDN(issuer.Subject), sigErr)
			r.TrustChainPath = strings.Join(pathNames, chainPathSeparator)
			r.CSCASubjectDN = x509util.RenderDN(issuer.Subject)
			return r
		}

		current = issuer
	}
}

// selectIssuer finds, among candidates sharing target's issuer DN, the
// one whose public key verifies target's signature. If multiple share
// the DN (key rollover) only the one that verifies is selected; if
// none verifies, the first DN match is returned as a diagnostic
// fallback with found=true but the caller's subsequent signature
// check will fail and mark the chain invalid.
func selectIssuer(target *x509.Certificate, candidates []*x509.Certificate) (*x509.Certificate, bool) {
	targetIssuerDN := strings.ToLower(x509util.RenderDN(target.Issuer))

	var dnMatches []*x509.Certificate
	for _, c := range candidates {
		if strings.ToLower(x509util.RenderDN(c.Subject)) == targetIssuerDN {
			dnMatches = append(dnMatches, c)
		}
	}
	if len(dnMatches) == 0 {
		return nil, false
	}
	for _, c := range dnMatches {
		if target.CheckSignatureFrom(c) == nil {
			return c, true
		}
	}
	return dnMatches[0], true
}
