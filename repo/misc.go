package repo

import (
	"context"
	"encoding/json"

	"github.com/iland112/pkd-ingest/core"
	"github.com/iland112/pkd-ingest/dbexec"
	"github.com/iland112/pkd-ingest/pkderrors"
)

// UserRepository is the minimal user store backing the authentication
// boundary — account lookup only, no CRUD beyond it (spec section 1
// non-goals).
type UserRepository struct {
	exec *dbexec.Executor
}

func NewUserRepository(exec *dbexec.Executor) *UserRepository {
	return &UserRepository{exec: exec}
}

// FindByUsername looks up a user by their unique username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*core.User, error) {
	row, err := r.exec.QueryRow(ctx,
		`SELECT id::text AS id, username, roles FROM users WHERE username = $1`, username)
	if err != nil {
		return nil, pkderrors.New(pkderrors.NotFound, "user %s not found", username)
	}
	roles, _ := row["roles"].([]string)
	return &core.User{ID: rowString(row, "id"), Username: rowString(row, "username"), Roles: roles}, nil
}

// AuthAuditRepository appends audit records for every state-changing
// operation (spec section 4.13). Audit writes are append-only: there
// is deliberately no Update or Delete.
type AuthAuditRepository struct {
	exec *dbexec.Executor
}

func NewAuthAuditRepository(exec *dbexec.Executor) *AuthAuditRepository {
	return &AuthAuditRepository{exec: exec}
}

// Record appends one AuthAudit entry.
func (r *AuthAuditRepository) Record(ctx context.Context, a core.AuthAudit) error {
	metadataJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}
	_, err = r.exec.ExecuteCommand(ctx, `
		INSERT INTO auth_audit (id, user_id, username, operation_type, subtype, resource_id, ip,
			user_agent, method, path, success, error_message, metadata, created_at)
		VALUES (gen_random_uuid(), $1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())`,
		nullString(a.UserID), a.Username, a.OperationType, a.Subtype, a.ResourceID, a.IP,
		a.UserAgent, a.Method, a.Path, a.Success, a.ErrorMessage, metadataJSON)
	if err != nil {
		return pkderrors.Wrap(pkderrors.DBSaveFailed, err, "recording audit entry")
	}
	return nil
}

// LdifStructureRepository records the top-level shape of a parsed LDIF
// upload for the ldif-structure read view.
type LdifStructureRepository struct {
	exec *dbexec.Executor
}

func NewLdifStructureRepository(exec *dbexec.Executor) *LdifStructureRepository {
	return &LdifStructureRepository{exec: exec}
}

// Save records (or overwrites) the LdifStructure row for an upload.
func (r *LdifStructureRepository) Save(ctx context.Context, s core.LdifStructure) error {
	_, err := r.exec.ExecuteCommand(ctx, `
		INSERT INTO ldif_structures (upload_id, entry_count, attribute_set)
		VALUES ($1::uuid, $2, $3)
		ON CONFLICT (upload_id) DO UPDATE SET entry_count = EXCLUDED.entry_count, attribute_set = EXCLUDED.attribute_set`,
		s.UploadID, s.EntryCount, s.AttributeSet)
	if err != nil {
		return pkderrors.Wrap(pkderrors.DBSaveFailed, err, "saving ldif structure for %s", s.UploadID)
	}
	return nil
}

// FindByUploadID returns the recorded structure for an upload.
func (r *LdifStructureRepository) FindByUploadID(ctx context.Context, uploadID string) (*core.LdifStructure, error) {
	row, err := r.exec.QueryRow(ctx,
		`SELECT upload_id::text AS upload_id, entry_count, attribute_set FROM ldif_structures WHERE upload_id = $1::uuid`, uploadID)
	if err != nil {
		return nil, pkderrors.New(pkderrors.NotFound, "no ldif structure for upload %s", uploadID)
	}
	attrs, _ := row["attribute_set"].([]string)
	return &core.LdifStructure{UploadID: rowString(row, "upload_id"), EntryCount: rowInt(row, "entry_count"), AttributeSet: attrs}, nil
}

// StatisticsRepository aggregates cross-cutting counts used by the
// statistics read view.
type StatisticsRepository struct {
	exec *dbexec.Executor
}

func NewStatisticsRepository(exec *dbexec.Executor) *StatisticsRepository {
	return &StatisticsRepository{exec: exec}
}

// TotalsByType returns the total certificate count per CertificateType
// across the whole store.
func (r *StatisticsRepository) TotalsByType(ctx context.Context) (map[core.CertificateType]int, error) {
	rows, err := r.exec.ExecuteQuery(ctx,
		`SELECT certificate_type, count(*) AS n FROM certificates GROUP BY certificate_type`)
	if err != nil {
		return nil, pkderrors.Wrap(pkderrors.DBConnectionFailed, err, "loading statistics")
	}
	out := make(map[core.CertificateType]int, len(rows))
	for _, row := range rows {
		out[core.CertificateType(rowString(row, "certificate_type"))] = rowInt(row, "n")
	}
	return out, nil
}
