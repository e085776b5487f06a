package repo

import (
	"context"

	"github.com/iland112/pkd-ingest/core"
	"github.com/iland112/pkd-ingest/dbexec"
	"github.com/iland112/pkd-ingest/pkderrors"
)

// ValidationRepository persists one ValidationResult per
// (uploadID, fingerprint); re-validation overwrites by that key.
type ValidationRepository struct {
	exec *dbexec.Executor
}

func NewValidationRepository(exec *dbexec.Executor) *ValidationRepository {
	return &ValidationRepository{exec: exec}
}

// Save upserts a ValidationResult keyed by (uploadID, fingerprint).
func (r *ValidationRepository) Save(ctx context.Context, v core.ValidationResult) error {
	_, err := r.exec.ExecuteCommand(ctx, `
		INSERT INTO validation_results (certificate_id, upload_id, fingerprint, subject_dn, issuer_dn,
			serial_number, certificate_type, country_code, trust_chain_valid, trust_chain_message,
			trust_chain_path, csca_found, csca_subject_dn, signature_verified, signature_algorithm,
			validity_check_passed, is_expired, is_not_yet_valid, not_before, not_after, is_ca,
			is_self_signed, path_length_constraint, key_usage_valid, key_usage_flags,
			crl_check_status, crl_check_message, error_code, error_message, validation_duration_ms,
			validation_status)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)
		ON CONFLICT (upload_id, fingerprint) DO UPDATE SET
			trust_chain_valid = EXCLUDED.trust_chain_valid,
			trust_chain_message = EXCLUDED.trust_chain_message,
			trust_chain_path = EXCLUDED.trust_chain_path,
			csca_found = EXCLUDED.csca_found,
			csca_subject_dn = EXCLUDED.csca_subject_dn,
			signature_verified = EXCLUDED.signature_verified,
			validity_check_passed = EXCLUDED.validity_check_passed,
			is_expired = EXCLUDED.is_expired,
			is_not_yet_valid = EXCLUDED.is_not_yet_valid,
			validation_status = EXCLUDED.validation_status,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message`,
		v.CertificateID, v.UploadID, v.Fingerprint, v.SubjectDN, v.IssuerDN, v.SerialNumber,
		string(v.CertificateType), v.CountryCode, v.TrustChainValid, v.TrustChainMessage,
		v.TrustChainPath, v.CSCAFound, v.CSCASubjectDN, v.SignatureVerified, v.SignatureAlgorithm,
		v.ValidityCheckPassed, v.IsExpired, v.IsNotYetValid, v.NotBefore, v.NotAfter, v.IsCA,
		v.IsSelfSigned, v.PathLengthConstraint, v.KeyUsageValid, v.KeyUsageFlags,
		v.CRLCheckStatus, v.CRLCheckMessage, v.ErrorCode, v.ErrorMessage, v.ValidationDurationMs,
		string(v.ValidationStatus))
	if err != nil {
		return pkderrors.Wrap(pkderrors.DBSaveFailed, err, "saving validation result for %s", v.Fingerprint)
	}
	return nil
}

// GetReasonBreakdown tallies validation_status occurrences across all
// results, for the validation-statistics read view.
func (r *ValidationRepository) GetReasonBreakdown(ctx context.Context) (map[string]int, error) {
	rows, err := r.exec.ExecuteQuery(ctx,
		`SELECT validation_status, count(*) AS n FROM validation_results GROUP BY validation_status`)
	if err != nil {
		return nil, pkderrors.Wrap(pkderrors.DBConnectionFailed, err, "loading reason breakdown")
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[rowString(row, "validation_status")] = rowInt(row, "n")
	}
	return out, nil
}

// FindByFingerprint supports the lightweight PA lookup endpoint.
func (r *ValidationRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*core.ValidationResult, error) {
	row, err := r.exec.QueryRow(ctx,
		`SELECT *, upload_id::text AS upload_id FROM validation_results
		 WHERE fingerprint = $1 ORDER BY validation_results.upload_id DESC LIMIT 1`, fingerprint)
	if err != nil {
		return nil, pkderrors.New(pkderrors.NotFound, "no validation result for fingerprint %s", fingerprint)
	}
	v := scanValidationResult(row)
	return &v, nil
}

// FindBySubjectDN supports PA lookups keyed by subject DN instead of
// fingerprint.
func (r *ValidationRepository) FindBySubjectDN(ctx context.Context, dn string) ([]core.ValidationResult, error) {
	rows, err := r.exec.ExecuteQuery(ctx,
		`SELECT *, upload_id::text AS upload_id FROM validation_results WHERE lower(subject_dn) = lower($1)`, dn)
	if err != nil {
		return nil, pkderrors.Wrap(pkderrors.DBConnectionFailed, err, "looking up validation results by subject")
	}
	out := make([]core.ValidationResult, len(rows))
	for i, row := range rows {
		out[i] = scanValidationResult(row)
	}
	return out, nil
}

func scanValidationResult(row dbexec.Row) core.ValidationResult {
	return core.ValidationResult{
		UploadID:             rowString(row, "upload_id"),
		Fingerprint:          rowString(row, "fingerprint"),
		SubjectDN:            rowString(row, "subject_dn"),
		IssuerDN:             rowString(row, "issuer_dn"),
		SerialNumber:         rowString(row, "serial_number"),
		CertificateType:      core.CertificateType(rowString(row, "certificate_type")),
		CountryCode:          rowString(row, "country_code"),
		TrustChainValid:      rowBool(row, "trust_chain_valid"),
		TrustChainMessage:    rowString(row, "trust_chain_message"),
		TrustChainPath:       rowString(row, "trust_chain_path"),
		CSCAFound:            rowBool(row, "csca_found"),
		CSCASubjectDN:        rowString(row, "csca_subject_dn"),
		SignatureVerified:    rowBool(row, "signature_verified"),
		SignatureAlgorithm:   rowString(row, "signature_algorithm"),
		ValidityCheckPassed:  rowBool(row, "validity_check_passed"),
		IsExpired:            rowBool(row, "is_expired"),
		IsNotYetValid:        rowBool(row, "is_not_yet_valid"),
		NotBefore:            rowTime(row, "not_before"),
		NotAfter:             rowTime(row, "not_after"),
		IsCA:                 rowBool(row, "is_ca"),
		IsSelfSigned:         rowBool(row, "is_self_signed"),
		PathLengthConstraint: rowInt(row, "path_length_constraint"),
		KeyUsageValid:        rowBool(row, "key_usage_valid"),
		KeyUsageFlags:        rowString(row, "key_usage_flags"),
		CRLCheckStatus:       rowString(row, "crl_check_status"),
		CRLCheckMessage:      rowString(row, "crl_check_message"),
		ErrorCode:            rowString(row, "error_code"),
		ErrorMessage:         rowString(row, "error_message"),
		ValidationDurationMs: rowInt64(row, "validation_duration_ms"),
		ValidationStatus:     core.ValidationStatus(rowString(row, "validation_status")),
	}
}
