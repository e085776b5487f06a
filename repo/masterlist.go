package repo

import (
	"context"

	"github.com/iland112/pkd-ingest/core"
	"github.com/iland112/pkd-ingest/dbexec"
	"github.com/iland112/pkd-ingest/pkderrors"
)

// MasterListRepository persists Master List records.
type MasterListRepository struct {
	exec *dbexec.Executor
}

func NewMasterListRepository(exec *dbexec.Executor) *MasterListRepository {
	return &MasterListRepository{exec: exec}
}

// Save inserts a MasterList row, no-op on fingerprint collision.
func (r *MasterListRepository) Save(ctx context.Context, ml core.MasterList) (string, error) {
	_, err := r.exec.ExecuteCommand(ctx, `
		INSERT INTO master_lists (id, upload_id, signer_country, signer_dn, version,
			csca_certificate_count, fingerprint_sha256, ml_binary, ldap_dn, stored_in_ldap)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (fingerprint_sha256) DO NOTHING`,
		ml.ID, ml.UploadID, ml.SignerCountry, ml.SignerDN, ml.Version,
		ml.CSCACertificateCount, ml.FingerprintSHA256, ml.MLBinary, nullString(ml.LdapDN), ml.StoredInLdap)
	if err != nil {
		return "", pkderrors.Wrap(pkderrors.DBSaveFailed, err, "saving master list %s", ml.FingerprintSHA256)
	}
	return ml.ID, nil
}

// UpdateLdapStatus records the DN returned by a successful LDAP mirror
// write for a Master List.
func (r *MasterListRepository) UpdateLdapStatus(ctx context.Context, id, dn string) error {
	_, err := r.exec.ExecuteCommand(ctx,
		`UPDATE master_lists SET ldap_dn = $1, stored_in_ldap = true WHERE id = $2::uuid`, dn, id)
	if err != nil {
		return pkderrors.Wrap(pkderrors.LDAPSaveFailed, err, "recording ldap status for master list %s", id)
	}
	return nil
}

// DeviationListRepository persists non-conformance deviation lists and
// their defect entries.
type DeviationListRepository struct {
	exec *dbexec.Executor
}

func NewDeviationListRepository(exec *dbexec.Executor) *DeviationListRepository {
	return &DeviationListRepository{exec: exec}
}

// Save inserts a DeviationList and its entries in one logical unit.
func (r *DeviationListRepository) Save(ctx context.Context, dl core.DeviationList) error {
	_, err := r.exec.ExecuteCommand(ctx,
		`INSERT INTO deviation_lists (id, upload_id, signer_country, signer_dn) VALUES ($1::uuid, $2::uuid, $3, $4)`,
		dl.ID, dl.UploadID, dl.SignerCountry, dl.SignerDN)
	if err != nil {
		return pkderrors.Wrap(pkderrors.DBSaveFailed, err, "saving deviation list %s", dl.ID)
	}
	for _, entry := range dl.Entries {
		_, err := r.exec.ExecuteCommand(ctx, `
			INSERT INTO deviation_list_entries (id, deviation_list_id, certificate_issuer_dn,
				certificate_serial_number, defect_type_oid, defect_category, defect_description)
			VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7)`,
			entry.ID, dl.ID, entry.CertificateIssuerDN, entry.CertificateSerialNumber,
			entry.DefectTypeOID, entry.DefectCategory, entry.DefectDescription)
		if err != nil {
			return pkderrors.Wrap(pkderrors.DBSaveFailed, err, "saving deviation entry for %s", dl.ID)
		}
	}
	return nil
}
