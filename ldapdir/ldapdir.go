// Package ldapdir materializes the ICAO-defined DIT and mirrors
// certificates, CRLs and Master Lists into it (spec component C5).
// Grounded on the netresearch/ldap-manager pooled-client architecture
// retrieved in the example pack, adapted from "manage directory
// objects behind a cache" to "write immutable PKI artifacts behind an
// idempotent add/modify".
package ldapdir

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/iland112/pkd-ingest/core"
	"github.com/iland112/pkd-ingest/ldappool"
	"github.com/iland112/pkd-ingest/pkderrors"
	"github.com/iland112/pkd-ingest/x509util"
)

// DNVersion selects the DN construction strategy (spec section 4.5).
type DNVersion int

const (
	// DNVersionLegacy builds "cn={ESCAPED_SUBJECT_DN}+sn={SERIAL}, o=..., c=..., ...".
	DNVersionLegacy DNVersion = iota
	// DNVersionFingerprint builds "cn={SHA256_FINGERPRINT}, o=..., c=..., ..." and
	// is preferred for new writes.
	DNVersionFingerprint
)

// OU names the LDAP organizational-unit container a written artifact
// belongs to.
type OU string

const (
	OUCsca OU = "csca"
	OUDsc  OU = "dsc"
	OULc   OU = "lc"
	OUMlsc OU = "mlsc"
	OUCrl  OU = "crl"
	OUMl   OU = "ml"
)

// Writer mirrors DB rows into the LDAP DIT rooted at BaseDN.
type Writer struct {
	pool       *ldappool.Pool
	log        *zap.Logger
	baseDN     string
	dataBranch string // "dc=download,dc=data"
	ncBranch   string // "dc=download,dc=nc-data"
}

// Config configures the writer's DIT root and branch names.
type Config struct {
	BaseDN       string
	DataBranch   string
	NCDataBranch string
}

func New(pool *ldappool.Pool, cfg Config, log *zap.Logger) *Writer {
	dataBranch := cfg.DataBranch
	if dataBranch == "" {
		dataBranch = "dc=download,dc=data"
	}
	ncBranch := cfg.NCDataBranch
	if ncBranch == "" {
		ncBranch = "dc=download,dc=nc-data"
	}
	return &Writer{pool: pool, log: log, baseDN: cfg.BaseDN, dataBranch: dataBranch, ncBranch: ncBranch}
}

// BuildDN constructs the DN for a certificate under the given country
// and OU, using either the legacy (subject+serial) or fingerprint (v2)
// form.
func BuildDN(version DNVersion, subjectDN, serial, fingerprint string, base, branch string, cc string, ou OU) string {
	var rdn string
	switch version {
	case DNVersionFingerprint:
		rdn = fmt.Sprintf("cn=%s", x509util.EscapeRDNValue(fingerprint))
	default:
		rdn = fmt.Sprintf("cn=%s+sn=%s", x509util.EscapeRDNValue(subjectDN), x509util.EscapeRDNValue(serial))
	}
	return fmt.Sprintf("%s,o=%s,c=%s,%s,%s", rdn, ou, x509util.EscapeRDNValue(cc), branch, base)
}

func (w *Writer) branchFor(nonConformant bool) string {
	if nonConformant {
		return w.ncBranch
	}
	return w.dataBranch
}

// ensureContainers walks down from the base, idempotently creating
// c={CC} and o={ou} containers. LDAP "already exists" on any step is
// swallowed, matching spec section 4.5's idempotence contract.
func (w *Writer) ensureContainers(ctx context.Context, conn *ldap.Conn, branch, cc string, ou OU) error {
	countryDN := fmt.Sprintf("c=%s,%s,%s", x509util.EscapeRDNValue(cc), branch, w.baseDN)
	if err := w.addIfAbsent(conn, countryDN, map[string][]string{
		"objectClass": {"top", "country"},
		"c":           {cc},
	}); err != nil {
		return err
	}

	ouDN := fmt.Sprintf("o=%s,%s", ou, countryDN)
	if err := w.addIfAbsent(conn, ouDN, map[string][]string{
		"objectClass": {"top", "organization"},
		"o":           {string(ou)},
	}); err != nil {
		return err
	}
	return nil
}

func (w *Writer) addIfAbsent(conn *ldap.Conn, dn string, attrs map[string][]string) error {
	req := ldap.NewAddRequest(dn, nil)
	for name, values := range attrs {
		req.Attribute(name, values)
	}
	err := conn.Add(req)
	if err == nil {
		return nil
	}
	if ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
		return nil
	}
	return pkderrors.Wrap(pkderrors.LDAPSaveFailed, err, "creating container %s", dn)
}

// WriteCertificate mirrors a Certificate row into the DIT, choosing
// the branch (data / nc-data) from its type and the OU from its
// classification. On ALREADY_EXISTS it falls back to a REPLACE of the
// binary attribute, per spec section 4.5. It returns the DN the
// caller must persist back onto the Certificate row.
func (w *Writer) WriteCertificate(ctx context.Context, cert core.Certificate, version DNVersion) (string, error) {
	handle, err := w.pool.AcquireWrite(ctx)
	if err != nil {
		return "", pkderrors.Wrap(pkderrors.LDAPConnectionFailed, err, "acquiring ldap write handle")
	}
	defer handle.Release()
	conn := handle.Conn()

	nonConformant := cert.CertificateType == core.CertDSCNC
	ou := ouForCertificate(cert)
	branch := w.branchFor(nonConformant)

	if err := w.ensureContainers(ctx, conn, branch, cert.CountryCode, ou); err != nil {
		return "", err
	}

	dn := BuildDN(version, cert.SubjectDN, cert.SerialNumber, cert.FingerprintSHA256, w.baseDN, branch, cert.CountryCode, ou)

	attrs := map[string][]string{
		"objectClass": {"top", "person", "organizationalPerson", "inetOrgPerson", "pkdDownload"},
		"cn":          cnValues(version, cert.SubjectDN, cert.FingerprintSHA256),
		"sn":          {cert.SerialNumber},
		"description": {cert.SubjectDN},
	}
	if nonConformant {
		attrs["pkdConformanceCode"] = []string{"NC"}
		attrs["pkdConformanceText"] = []string{"Non-conformant DSC"}
		attrs["pkdVersion"] = []string{"1"}
	}

	if err := w.addEntryOrReplaceBinary(conn, dn, attrs, "userCertificate;binary", cert.CertificateBinary); err != nil {
		return "", err
	}
	return dn, nil
}

// WriteCRL mirrors a CRL row into o=crl,c={CC} under the data branch.
func (w *Writer) WriteCRL(ctx context.Context, c core.CRL, version DNVersion) (string, error) {
	handle, err := w.pool.AcquireWrite(ctx)
	if err != nil {
		return "", pkderrors.Wrap(pkderrors.LDAPConnectionFailed, err, "acquiring ldap write handle")
	}
	defer handle.Release()
	conn := handle.Conn()

	if err := w.ensureContainers(ctx, conn, w.dataBranch, c.CountryCode, OUCrl); err != nil {
		return "", err
	}

	dn := BuildDN(version, c.IssuerDN, c.CRLNumber, c.FingerprintSHA256, w.baseDN, w.dataBranch, c.CountryCode, OUCrl)
	attrs := map[string][]string{
		"objectClass": {"top", "cRLDistributionPoint", "pkdDownload"},
		"cn":          cnValues(version, c.IssuerDN, c.FingerprintSHA256),
	}
	if err := w.addEntryOrReplaceBinary(conn, dn, attrs, "certificateRevocationList;binary", c.CRLBinary); err != nil {
		return "", err
	}
	return dn, nil
}

// WriteMasterList mirrors a Master List row into o=ml,c={CC} under the
// data branch, carrying its CMS content and version as distinguished
// attributes rather than a binary RDN.
func (w *Writer) WriteMasterList(ctx context.Context, ml core.MasterList, version DNVersion) (string, error) {
	handle, err := w.pool.AcquireWrite(ctx)
	if err != nil {
		return "", pkderrors.Wrap(pkderrors.LDAPConnectionFailed, err, "acquiring ldap write handle")
	}
	defer handle.Release()
	conn := handle.Conn()

	if err := w.ensureContainers(ctx, conn, w.dataBranch, ml.SignerCountry, OUMl); err != nil {
		return "", err
	}

	dn := BuildDN(version, ml.SignerDN, "", ml.FingerprintSHA256, w.baseDN, w.dataBranch, ml.SignerCountry, OUMl)
	versionStr := "0"
	if ml.Version != nil {
		versionStr = fmt.Sprintf("%d", *ml.Version)
	}
	attrs := map[string][]string{
		"objectClass":          {"top", "pkdMasterList", "pkdDownload"},
		"cn":                   cnValues(version, ml.SignerDN, ml.FingerprintSHA256),
		"pkdVersion":           {versionStr},
		"pkdMasterListContent": {string(ml.MLBinary)},
	}
	req := ldap.NewAddRequest(dn, nil)
	for name, values := range attrs {
		req.Attribute(name, values)
	}
	if err := conn.Add(req); err != nil {
		if !ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
			return "", pkderrors.Wrap(pkderrors.LDAPSaveFailed, err, "writing master list entry %s", dn)
		}
	}
	return dn, nil
}

// addEntryOrReplaceBinary adds a new entry; if it already exists, it
// falls back to replacing only the binary attribute, matching spec
// section 4.5's ALREADY_EXISTS recovery path.
func (w *Writer) addEntryOrReplaceBinary(conn *ldap.Conn, dn string, attrs map[string][]string, binaryAttr string, binaryValue []byte) error {
	req := ldap.NewAddRequest(dn, nil)
	for name, values := range attrs {
		req.Attribute(name, values)
	}
	req.Attribute(binaryAttr, []string{string(binaryValue)})

	err := conn.Add(req)
	if err == nil {
		return nil
	}
	if !ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
		return pkderrors.Wrap(pkderrors.LDAPSaveFailed, err, "writing entry %s", dn)
	}

	modReq := ldap.NewModifyRequest(dn, nil)
	modReq.Replace(binaryAttr, []string{string(binaryValue)})
	if err := conn.Modify(modReq); err != nil {
		return pkderrors.Wrap(pkderrors.LDAPSaveFailed, err, "replacing binary attribute on %s", dn)
	}
	return nil
}

func cnValues(version DNVersion, subjectDN, fingerprint string) []string {
	if version == DNVersionFingerprint {
		return []string{fingerprint}
	}
	return []string{subjectDN, fingerprint}
}

// ouForCertificate chooses the DIT organizational unit for cert. Link
// CSCAs (classified as plain CSCA per spec section 4.9 rule 3, but
// cross-signed rather than self-signed) land in o=lc rather than
// o=csca, mirroring the DIT split spec section 4.5 describes.
func ouForCertificate(cert core.Certificate) OU {
	switch cert.CertificateType {
	case core.CertCSCA:
		if !strings.EqualFold(cert.SubjectDN, cert.IssuerDN) {
			return OULc
		}
		return OUCsca
	case core.CertMLSC:
		return OUMlsc
	default:
		return OUDsc
	}
}
