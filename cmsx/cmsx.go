// Package cmsx extracts CSCA certificates from an ICAO Master List
// carried in a CMS SignedData envelope (component C7). Grounded on
// Boulder's preference for a pre-scan pass before doing real work
// (ca/certificate-authority.go's issuance-quota accounting) adapted
// here into the spec's two-pass percentage meter.
package cmsx

import (
	"context"
	"crypto/x509"
	"encoding/asn1"

	"github.com/smallstep/pkcs7"
	"go.opentelemetry.io/otel"

	"github.com/iland112/pkd-ingest/pkderrors"
)

var tracer = otel.Tracer("github.com/iland112/pkd-ingest/cmsx")

// Progress is invoked during the certificate-decoding pass with the
// running count and the pre-scanned total, driving the spec's
// percentage meter.
type Progress func(done, total int)

// Result is everything extracted from a Master List CMS envelope.
type Result struct {
	Version           *int
	Certificates      []*x509.Certificate
	SignatureValid    bool
	SignatureChecked  bool
	SignerCountry     string
	SignerDN          string
	SignerCertificate *x509.Certificate
}

// Extract implements the six steps of the Master List extraction
// procedure: magic check, CMS/PKCS7 parse with legacy fallback,
// optional trust-anchor verification, encapsulated-content parse, a
// pre-scan pass for the percentage meter, and the real decode pass.
// anchor may be nil, in which case signature verification is skipped
// entirely; when it is set, a verification failure is recorded in the
// Result and never aborts extraction.
func Extract(ctx context.Context, data []byte, anchor *x509.Certificate, onProgress Progress) (*Result, error) {
	_, span := tracer.Start(ctx, "cmsx.Extract")
	defer span.End()

	if len(data) == 0 || data[0] != 0x30 {
		return nil, pkderrors.New(pkderrors.InvalidCMS, "master list does not begin with an ASN.1 SEQUENCE")
	}

	p7, err := parseSignedData(data)
	if err != nil {
		return nil, pkderrors.Wrap(pkderrors.InvalidCMS, err, "parsing CMS/PKCS7 envelope")
	}

	result := &Result{}
	if anchor != nil {
		result.SignatureChecked = true
		result.SignatureValid = verifyAgainstAnchor(p7, anchor)
		// A verification failure is logged by the caller but never
		// aborts extraction — current policy ingests legacy test data.
	}

	if len(p7.Signers) > 0 {
		signer := p7.GetOnlySigner()
		if signer != nil {
			result.SignerDN = signer.Subject.String()
			result.SignerCertificate = signer
			if len(signer.Subject.Country) > 0 {
				result.SignerCountry = signer.Subject.Country[0]
			}
		}
	}

	content := p7.Content
	if len(content) == 0 {
		// No encapsulated content: fall back to the CMS certificate store.
		result.Certificates = p7.Certificates
		return result, nil
	}

	certs, version, err := decodeMasterListBody(content, onProgress)
	if err != nil {
		return nil, err
	}
	result.Version = version
	result.Certificates = certs
	return result, nil
}

// parseSignedData parses data as a CMS SignedData with smallstep/pkcs7,
// whose Parse also accepts legacy PKCS#7 encodings. On failure it
// retries once with data re-sliced to the length declared by its outer
// SEQUENCE header (some BER producers emit trailing garbage); if the
// header cannot be read or the retry also fails, the first parse error
// is returned.
func parseSignedData(data []byte) (*pkcs7.PKCS7, error) {
	p7, err := pkcs7.Parse(data)
	if err == nil {
		return p7, nil
	}

	trimmed, trimErr := trimToDeclaredLength(data)
	if trimErr != nil {
		return nil, err
	}
	p7, retryErr := pkcs7.Parse(trimmed)
	if retryErr != nil {
		return nil, err
	}
	return p7, nil
}

// trimToDeclaredLength re-slices data to the length declared by its
// outer ASN.1 SEQUENCE header, stripping any trailer some legacy
// producers append.
func trimToDeclaredLength(data []byte) ([]byte, error) {
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	declared := len(raw.FullBytes)
	if declared <= 0 || declared > len(data) {
		return nil, pkderrors.New(pkderrors.InvalidCMS, "invalid DER length encoding")
	}
	return data[:declared], nil
}

func verifyAgainstAnchor(p7 *pkcs7.PKCS7, anchor *x509.Certificate) bool {
	pool := x509.NewCertPool()
	pool.AddCert(anchor)
	p7.Certificates = append(p7.Certificates, anchor)
	if err := p7.VerifyWithChain(pool); err != nil {
		return false
	}
	return true
}

// decodeMasterListBody parses `SEQUENCE { version INTEGER OPTIONAL,
// certList SET OF Certificate }` out of the encapsulated content,
// pre-scanning the SET once to compute the total for the percentage
// meter before decoding each certificate.
func decodeMasterListBody(content []byte, onProgress Progress) ([]*x509.Certificate, *int, error) {
	var outer asn1.RawValue
	rest, err := asn1.Unmarshal(content, &outer)
	if err != nil || len(rest) != 0 {
		return nil, nil, pkderrors.New(pkderrors.InvalidCMS, "master list body is not a valid SEQUENCE")
	}
	if outer.Class != asn1.ClassUniversal || outer.Tag != asn1.TagSequence {
		return nil, nil, pkderrors.New(pkderrors.InvalidCMS, "master list body is not a SEQUENCE")
	}

	inner := outer.Bytes

	var version *int
	var first asn1.RawValue
	remaining, err := asn1.Unmarshal(inner, &first)
	if err != nil {
		return nil, nil, pkderrors.Wrap(pkderrors.InvalidCMS, err, "reading first master list element")
	}
	setBytes := inner
	if first.Class == asn1.ClassUniversal && first.Tag == asn1.TagInteger {
		var v int
		if _, err := asn1.Unmarshal(first.FullBytes, &v); err == nil {
			version = &v
		}
		setBytes = remaining
	}

	var setHeader asn1.RawValue
	if _, err := asn1.Unmarshal(setBytes, &setHeader); err != nil {
		return nil, nil, pkderrors.Wrap(pkderrors.InvalidCMS, err, "reading certificate SET header")
	}
	if setHeader.Class != asn1.ClassUniversal || setHeader.Tag != asn1.TagSet {
		return nil, nil, pkderrors.New(pkderrors.InvalidCMS, "master list body does not carry a SET OF certificates")
	}

	var rawCerts []asn1.RawValue
	cursor := setHeader.Bytes
	for len(cursor) > 0 {
		var elem asn1.RawValue
		remainder, err := asn1.Unmarshal(cursor, &elem)
		if err != nil {
			return nil, nil, pkderrors.Wrap(pkderrors.InvalidCMS, err, "reading certificate SET element")
		}
		rawCerts = append(rawCerts, elem)
		cursor = remainder
	}

	total := len(rawCerts)
	certs := make([]*x509.Certificate, 0, total)
	for i, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw.FullBytes)
		if err != nil {
			return nil, nil, pkderrors.Wrap(pkderrors.InvalidCMS, err, "decoding master list certificate %d", i)
		}
		certs = append(certs, cert)
		if onProgress != nil {
			onProgress(i+1, total)
		}
	}
	return certs, version, nil
}
