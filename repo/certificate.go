package repo

import (
	"context"
	"strconv"
	"strings"

	"github.com/iland112/pkd-ingest/core"
	"github.com/iland112/pkd-ingest/dbexec"
	"github.com/iland112/pkd-ingest/pkderrors"
)

// CertificateRepository persists classified certificates and enforces
// the UNIQUE(certificate_type, fingerprint_sha256) invariant.
type CertificateRepository struct {
	exec *dbexec.Executor
}

func NewCertificateRepository(exec *dbexec.Executor) *CertificateRepository {
	return &CertificateRepository{exec: exec}
}

const certificateColumns = `id::text AS id, upload_id::text AS upload_id, certificate_type,
	country_code, subject_dn, issuer_dn, serial_number, fingerprint_sha256, certificate_binary,
	not_before, not_after, validation_status, validation_message, ldap_dn, stored_in_ldap, stored_at`

func scanCertificate(row dbexec.Row) core.Certificate {
	return core.Certificate{
		ID:                rowString(row, "id"),
		UploadID:          rowString(row, "upload_id"),
		CertificateType:   core.CertificateType(rowString(row, "certificate_type")),
		CountryCode:       rowString(row, "country_code"),
		SubjectDN:         rowString(row, "subject_dn"),
		IssuerDN:          rowString(row, "issuer_dn"),
		SerialNumber:      rowString(row, "serial_number"),
		FingerprintSHA256: rowString(row, "fingerprint_sha256"),
		CertificateBinary: rowBytes(row, "certificate_binary"),
		NotBefore:         rowTime(row, "not_before"),
		NotAfter:          rowTime(row, "not_after"),
		ValidationStatus:  core.ValidationStatus(rowString(row, "validation_status")),
		ValidationMessage: rowString(row, "validation_message"),
		LdapDN:            rowString(row, "ldap_dn"),
		StoredInLdap:      rowBool(row, "stored_in_ldap"),
		StoredAt:          rowTimePtr(row, "stored_at"),
	}
}

// SaveCertificateWithDuplicateCheck inserts cert, or — if its
// (type, fingerprint) pair already exists — becomes a no-op and
// reports isDuplicate=true so the caller can count it separately
// (spec section 3 invariant).
func (r *CertificateRepository) SaveCertificateWithDuplicateCheck(ctx context.Context, cert core.Certificate) (id string, isDuplicate bool, err error) {
	existing, lookErr := r.exec.QueryRow(ctx,
		`SELECT id::text AS id FROM certificates WHERE certificate_type = $1 AND fingerprint_sha256 = $2`,
		string(cert.CertificateType), cert.FingerprintSHA256)
	if lookErr == nil && existing != nil {
		return rowString(existing, "id"), true, nil
	}

	_, err = r.exec.ExecuteCommand(ctx, `
		INSERT INTO certificates (id, upload_id, certificate_type, country_code, subject_dn,
			issuer_dn, serial_number, fingerprint_sha256, certificate_binary, not_before, not_after,
			validation_status, validation_message, ldap_dn, stored_in_ldap)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		cert.ID, cert.UploadID, string(cert.CertificateType), cert.CountryCode, cert.SubjectDN,
		cert.IssuerDN, cert.SerialNumber, cert.FingerprintSHA256, cert.CertificateBinary,
		cert.NotBefore, cert.NotAfter, string(cert.ValidationStatus), cert.ValidationMessage,
		nullString(cert.LdapDN), cert.StoredInLdap)
	if err != nil {
		return "", false, pkderrors.Wrap(pkderrors.DBSaveFailed, err, "inserting certificate %s", cert.FingerprintSHA256)
	}
	return cert.ID, false, nil
}

// UpdateCertificateLdapStatus records the DN returned by a successful
// LDAP mirror write and flips storedInLdap to true.
func (r *CertificateRepository) UpdateCertificateLdapStatus(ctx context.Context, id, dn string) error {
	_, err := r.exec.ExecuteCommand(ctx,
		`UPDATE certificates SET ldap_dn = $1, stored_in_ldap = true, stored_at = now() WHERE id = $2::uuid`,
		dn, id)
	if err != nil {
		return pkderrors.Wrap(pkderrors.LDAPSaveFailed, err, "recording ldap status for certificate %s", id)
	}
	return nil
}

// FindAllCscasBySubjectDn returns every CSCA whose subject equals dn,
// case-insensitively — the candidate set the trust-chain engine walks
// to discover link certificates and rollover keys (spec section 4.4).
func (r *CertificateRepository) FindAllCscasBySubjectDn(ctx context.Context, dn string) ([]core.Certificate, error) {
	rows, err := r.exec.ExecuteQuery(ctx,
		`SELECT `+certificateColumns+` FROM certificates
		 WHERE certificate_type = 'CSCA' AND lower(subject_dn) = lower($1)`, dn)
	if err != nil {
		return nil, pkderrors.Wrap(pkderrors.DBConnectionFailed, err, "looking up CSCAs by subject")
	}
	out := make([]core.Certificate, len(rows))
	for i, row := range rows {
		out[i] = scanCertificate(row)
	}
	return out, nil
}

// CertificateFilter narrows the Search operation.
type CertificateFilter struct {
	CountryCode     string
	CertificateType core.CertificateType
	SubjectContains string
	Limit           int
}

// buildCertificateSearchQuery renders filter into parameterized SQL,
// kept separate from Search so the placeholder numbering and clause
// assembly can be tested without a database (the same split upload.go
// uses for computeDeltas).
func buildCertificateSearchQuery(filter CertificateFilter) (string, []any) {
	var clauses []string
	var params []any
	n := 1
	if filter.CountryCode != "" {
		clauses = append(clauses, "country_code = $"+strconv.Itoa(n))
		params = append(params, filter.CountryCode)
		n++
	}
	if filter.CertificateType != "" {
		clauses = append(clauses, "certificate_type = $"+strconv.Itoa(n))
		params = append(params, string(filter.CertificateType))
		n++
	}
	if filter.SubjectContains != "" {
		clauses = append(clauses, "subject_dn ILIKE $"+strconv.Itoa(n))
		params = append(params, "%"+filter.SubjectContains+"%")
		n++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + certificateColumns + ` FROM certificates`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY subject_dn LIMIT $" + strconv.Itoa(n)
	params = append(params, limit)
	return query, params
}

// Search returns certificates matching filter.
func (r *CertificateRepository) Search(ctx context.Context, filter CertificateFilter) ([]core.Certificate, error) {
	query, params := buildCertificateSearchQuery(filter)

	rows, err := r.exec.ExecuteQuery(ctx, query, params...)
	if err != nil {
		return nil, pkderrors.Wrap(pkderrors.DBConnectionFailed, err, "searching certificates")
	}
	out := make([]core.Certificate, len(rows))
	for i, row := range rows {
		out[i] = scanCertificate(row)
	}
	return out, nil
}

// CountLdapStatusByUploadID reports how many of an upload's
// certificates have been mirrored to LDAP so far, for the MANUAL
// stage-3 progress readout.
func (r *CertificateRepository) CountLdapStatusByUploadID(ctx context.Context, uploadID string) (total, inLdap int, err error) {
	row, err := r.exec.QueryRow(ctx, `
		SELECT count(*) AS total, count(*) FILTER (WHERE stored_in_ldap) AS in_ldap
		FROM certificates WHERE upload_id = $1::uuid`, uploadID)
	if err != nil {
		return 0, 0, pkderrors.Wrap(pkderrors.DBConnectionFailed, err, "counting ldap status")
	}
	return rowInt(row, "total"), rowInt(row, "in_ldap"), nil
}

// FindPendingLdapByUploadID returns certificates belonging to uploadID
// that have not yet been mirrored, feeding MANUAL stage 3.
func (r *CertificateRepository) FindPendingLdapByUploadID(ctx context.Context, uploadID string) ([]core.Certificate, error) {
	rows, err := r.exec.ExecuteQuery(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE upload_id = $1::uuid AND stored_in_ldap = false`, uploadID)
	if err != nil {
		return nil, pkderrors.Wrap(pkderrors.DBConnectionFailed, err, "loading pending ldap certificates")
	}
	out := make([]core.Certificate, len(rows))
	for i, row := range rows {
		out[i] = scanCertificate(row)
	}
	return out, nil
}

// TrackCertificateDuplicate records a duplicate-ingestion observation
// for audit purposes (a no-op save still produces a countable event).
func (r *CertificateRepository) TrackCertificateDuplicate(ctx context.Context, uploadID, fingerprint string) error {
	_, err := r.exec.ExecuteCommand(ctx, `
		INSERT INTO auth_audit (id, operation_type, subtype, resource_id, success, metadata, created_at)
		VALUES (gen_random_uuid(), 'CERT_DUPLICATE', 'ingest', $1, true, jsonb_build_object('fingerprint', $2::text), now())`,
		uploadID, fingerprint)
	if err != nil {
		return pkderrors.Wrap(pkderrors.DBSaveFailed, err, "tracking certificate duplicate")
	}
	return nil
}

// GetDistinctCountries returns every country code observed across all
// certificates, for the countries/countries-detailed read views.
func (r *CertificateRepository) GetDistinctCountries(ctx context.Context) ([]string, error) {
	rows, err := r.exec.ExecuteQuery(ctx, `SELECT DISTINCT country_code FROM certificates ORDER BY country_code`)
	if err != nil {
		return nil, pkderrors.Wrap(pkderrors.DBConnectionFailed, err, "loading distinct countries")
	}
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = rowString(row, "country_code")
	}
	return out, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

