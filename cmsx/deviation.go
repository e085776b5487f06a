package cmsx

import (
	"context"
	"crypto/x509"
	"encoding/asn1"
	"math/big"

	"github.com/iland112/pkd-ingest/pkderrors"
)

// DeviationEntry is one non-conformance defect record decoded from a
// deviation list's encapsulated content.
type DeviationEntry struct {
	CertificateIssuerDN     string
	CertificateSerialNumber string
	DefectTypeOID           string
	DefectCategory          string
	DefectDescription       string
}

// DeviationResult is everything extracted from a Deviation List CMS
// envelope.
type DeviationResult struct {
	SignerCountry string
	SignerDN      string
	Entries       []DeviationEntry
}

// asn1DeviationEntry mirrors `DeviationEntry ::= SEQUENCE {
// certificateIssuer UTF8String, certificateSerialNumber INTEGER,
// defectType OBJECT IDENTIFIER, defectCategory UTF8String,
// defectDescription UTF8String }`. Spec section 3 specifies only the
// stored shape of a deviation list, not its wire encoding, so this
// struct is this module's own convention rather than a literal ICAO
// ASN.1 definition.
type asn1DeviationEntry struct {
	CertificateIssuer       string `asn1:"utf8"`
	CertificateSerialNumber *big.Int
	DefectType               asn1.ObjectIdentifier
	DefectCategory           string `asn1:"utf8"`
	DefectDescription        string `asn1:"utf8"`
}

// asn1DeviationList mirrors `DeviationList ::= SEQUENCE OF
// DeviationEntry`. Unlike the Master List's SET OF Certificate, a
// SEQUENCE OF struct decodes directly through encoding/asn1 without
// the manual RawValue walk decodeMasterListBody needs.
type asn1DeviationList []asn1DeviationEntry

// ExtractDeviationList parses a deviation-list CMS envelope: CMS/PKCS7
// parse with legacy fallback, optional trust-anchor verification, then
// decode of the encapsulated SEQUENCE OF DeviationEntry.
func ExtractDeviationList(ctx context.Context, data []byte, anchor *x509.Certificate) (*DeviationResult, error) {
	_, span := tracer.Start(ctx, "cmsx.ExtractDeviationList")
	defer span.End()

	if len(data) == 0 || data[0] != 0x30 {
		return nil, pkderrors.New(pkderrors.InvalidCMS, "deviation list does not begin with an ASN.1 SEQUENCE")
	}

	p7, err := parseSignedData(data)
	if err != nil {
		return nil, pkderrors.Wrap(pkderrors.InvalidCMS, err, "parsing CMS/PKCS7 envelope")
	}

	result := &DeviationResult{}
	if anchor != nil {
		_ = verifyAgainstAnchor(p7, anchor)
	}
	if len(p7.Signers) > 0 {
		if signer := p7.GetOnlySigner(); signer != nil {
			result.SignerDN = signer.Subject.String()
			if len(signer.Subject.Country) > 0 {
				result.SignerCountry = signer.Subject.Country[0]
			}
		}
	}

	if len(p7.Content) == 0 {
		return result, nil
	}

	var list asn1DeviationList
	if _, err := asn1.Unmarshal(p7.Content, &list); err != nil {
		return nil, pkderrors.Wrap(pkderrors.InvalidCMS, err, "decoding deviation list body")
	}
	for _, e := range list {
		result.Entries = append(result.Entries, DeviationEntry{
			CertificateIssuerDN:     e.CertificateIssuer,
			CertificateSerialNumber: e.CertificateSerialNumber.Text(16),
			DefectTypeOID:           e.DefectType.String(),
			DefectCategory:          e.DefectCategory,
			DefectDescription:       e.DefectDescription,
		})
	}
	return result, nil
}
