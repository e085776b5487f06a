package repo

import (
	"context"
	"time"

	"github.com/iland112/pkd-ingest/core"
	"github.com/iland112/pkd-ingest/dbexec"
	"github.com/iland112/pkd-ingest/pkderrors"
)

// CrlRepository persists CRLs and their revoked-certificate entries.
type CrlRepository struct {
	exec *dbexec.Executor
}

func NewCrlRepository(exec *dbexec.Executor) *CrlRepository {
	return &CrlRepository{exec: exec}
}

// Save inserts a CRL row, returning its id.
func (r *CrlRepository) Save(ctx context.Context, c core.CRL) (string, error) {
	_, err := r.exec.ExecuteCommand(ctx, `
		INSERT INTO crls (id, upload_id, country_code, issuer_dn, this_update, next_update,
			crl_number, fingerprint_sha256, crl_binary, validation_status, ldap_dn, stored_in_ldap)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (fingerprint_sha256) DO NOTHING`,
		c.ID, c.UploadID, c.CountryCode, c.IssuerDN, c.ThisUpdate, c.NextUpdate,
		c.CRLNumber, c.FingerprintSHA256, c.CRLBinary, string(c.ValidationStatus),
		nullString(c.LdapDN), c.StoredInLdap)
	if err != nil {
		return "", pkderrors.Wrap(pkderrors.DBSaveFailed, err, "saving crl %s", c.FingerprintSHA256)
	}
	return c.ID, nil
}

// SaveRevokedCertificate appends a revoked-serial entry under crlID.
func (r *CrlRepository) SaveRevokedCertificate(ctx context.Context, crlID, serial string, revokedAt time.Time, reason core.RevocationReason) error {
	_, err := r.exec.ExecuteCommand(ctx, `
		INSERT INTO revoked_certificates (id, crl_id, serial_number, revocation_date, revocation_reason)
		VALUES (gen_random_uuid(), $1::uuid, $2, $3, $4)`,
		crlID, serial, revokedAt, string(reason))
	if err != nil {
		return pkderrors.Wrap(pkderrors.DBSaveFailed, err, "saving revoked certificate %s", serial)
	}
	return nil
}

// UpdateLdapStatus records the DN returned by a successful LDAP mirror
// write for a CRL.
func (r *CrlRepository) UpdateLdapStatus(ctx context.Context, id, dn string) error {
	_, err := r.exec.ExecuteCommand(ctx,
		`UPDATE crls SET ldap_dn = $1, stored_in_ldap = true WHERE id = $2::uuid`, dn, id)
	if err != nil {
		return pkderrors.Wrap(pkderrors.LDAPSaveFailed, err, "recording ldap status for crl %s", id)
	}
	return nil
}
