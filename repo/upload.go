package repo

import (
	"context"
	"fmt"

	"github.com/iland112/pkd-ingest/core"
	"github.com/iland112/pkd-ingest/dbexec"
	"github.com/iland112/pkd-ingest/pkderrors"
)

// UploadRepository persists Upload rows and their change history.
type UploadRepository struct {
	exec *dbexec.Executor
}

func NewUploadRepository(exec *dbexec.Executor) *UploadRepository {
	return &UploadRepository{exec: exec}
}

// Insert creates a new Upload row in PROCESSING (or PENDING for a
// MANUAL stage-1 dry run) and returns nothing further — the caller
// already generated u.ID.
func (r *UploadRepository) Insert(ctx context.Context, u core.Upload) error {
	_, err := r.exec.ExecuteCommand(ctx, `
		INSERT INTO uploads (id, file_name, original_file_name, file_hash, file_size,
			file_format, processing_mode, status, file_path, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		u.ID, u.FileName, u.OriginalFileName, u.FileHash, u.FileSize,
		string(u.FileFormat), string(u.ProcessingMode), string(u.Status), u.FilePath)
	if err != nil {
		return pkderrors.Wrap(pkderrors.DBSaveFailed, err, "inserting upload %s", u.ID)
	}
	return nil
}

func scanUpload(row dbexec.Row) core.Upload {
	return core.Upload{
		ID:               rowString(row, "id"),
		FileName:         rowString(row, "file_name"),
		OriginalFileName: rowString(row, "original_file_name"),
		FileHash:         rowString(row, "file_hash"),
		FileSize:         rowInt64(row, "file_size"),
		FileFormat:       core.FileFormat(rowString(row, "file_format")),
		ProcessingMode:   core.ProcessingMode(rowString(row, "processing_mode")),
		Status:           core.UploadStatus(rowString(row, "status")),
		CSCACount:        rowInt(row, "csca_count"),
		DSCCount:         rowInt(row, "dsc_count"),
		DSCNCCount:       rowInt(row, "dsc_nc_count"),
		CRLCount:         rowInt(row, "crl_count"),
		MLCount:          rowInt(row, "ml_count"),
		MLSCCount:        rowInt(row, "mlsc_count"),
		TotalEntries:     rowInt(row, "total_entries"),
		ProcessedEntries: rowInt(row, "processed_entries"),
		ValidCount:       rowInt(row, "valid_count"),
		InvalidCount:     rowInt(row, "invalid_count"),
		WarningCount:     rowInt(row, "warning_count"),
		ErrorMessage:     rowString(row, "error_message"),
		FilePath:         rowString(row, "file_path"),
		CreatedAt:        rowTime(row, "created_at"),
		CompletedAt:      rowTimePtr(row, "completed_at"),
	}
}

const uploadColumns = `id::text AS id, file_name, original_file_name, file_hash, file_size,
	file_format, processing_mode, status, csca_count, dsc_count, dsc_nc_count, crl_count,
	ml_count, mlsc_count, total_entries, processed_entries, valid_count, invalid_count,
	warning_count, error_message, file_path, created_at, completed_at`

// FindByID looks up a single Upload by id.
func (r *UploadRepository) FindByID(ctx context.Context, id string) (*core.Upload, error) {
	row, err := r.exec.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1::uuid`, id)
	if err != nil {
		return nil, pkderrors.New(pkderrors.NotFound, "upload %s not found", id)
	}
	u := scanUpload(row)
	return &u, nil
}

// FindByFileHash implements the content-dedupe invariant: a second
// upload of identical bytes never creates a new row.
func (r *UploadRepository) FindByFileHash(ctx context.Context, hash string) (*core.Upload, error) {
	rows, err := r.exec.ExecuteQuery(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE file_hash = $1`, hash)
	if err != nil {
		return nil, pkderrors.Wrap(pkderrors.DBConnectionFailed, err, "looking up file hash")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	u := scanUpload(rows[0])
	return &u, nil
}

// UpdateStatus transitions the Upload's lifecycle status, recording an
// error message for FAILED terminations.
func (r *UploadRepository) UpdateStatus(ctx context.Context, id string, status core.UploadStatus, errMsg string) error {
	completedClause := ""
	if status == core.StatusCompleted || status == core.StatusFailed {
		completedClause = ", completed_at = now()"
	}
	_, err := r.exec.ExecuteCommand(ctx,
		fmt.Sprintf(`UPDATE uploads SET status = $1, error_message = $2%s WHERE id = $3::uuid`, completedClause),
		string(status), errMsg, id)
	if err != nil {
		return pkderrors.Wrap(pkderrors.DBSaveFailed, err, "updating status for upload %s", id)
	}
	return nil
}

// UpdateStatistics overwrites the per-category entity counters.
func (r *UploadRepository) UpdateStatistics(ctx context.Context, id string, csca, dsc, dscNC, crl, ml, mlsc, valid, invalid, warning int) error {
	_, err := r.exec.ExecuteCommand(ctx, `
		UPDATE uploads SET csca_count = $1, dsc_count = $2, dsc_nc_count = $3, crl_count = $4,
			ml_count = $5, mlsc_count = $6, valid_count = $7, invalid_count = $8, warning_count = $9
		WHERE id = $10::uuid`,
		csca, dsc, dscNC, crl, ml, mlsc, valid, invalid, warning, id)
	if err != nil {
		return pkderrors.Wrap(pkderrors.DBSaveFailed, err, "updating statistics for upload %s", id)
	}
	return nil
}

// UpdateProgress persists the coalesced entry-counter pair consumed by
// the polling fallback (spec section 4.11).
func (r *UploadRepository) UpdateProgress(ctx context.Context, id string, total, processed int) error {
	_, err := r.exec.ExecuteCommand(ctx,
		`UPDATE uploads SET total_entries = $1, processed_entries = $2 WHERE id = $3::uuid`,
		total, processed, id)
	if err != nil {
		return pkderrors.Wrap(pkderrors.DBSaveFailed, err, "updating progress for upload %s", id)
	}
	return nil
}

// Delete removes an Upload and, via ON DELETE CASCADE, every
// certificate/CRL/ML row it owns. Used to clean up a failed MANUAL
// upload (spec section 4.10).
func (r *UploadRepository) Delete(ctx context.Context, id string) error {
	_, err := r.exec.ExecuteCommand(ctx, `DELETE FROM uploads WHERE id = $1::uuid`, id)
	if err != nil {
		return pkderrors.Wrap(pkderrors.DBSaveFailed, err, "deleting upload %s", id)
	}
	return nil
}

// GetChangeHistory returns the most recent `limit` uploads, each
// annotated with its statistics delta against the upload immediately
// before it in ingestion order.
func (r *UploadRepository) GetChangeHistory(ctx context.Context, limit int) ([]core.UploadDelta, error) {
	rows, err := r.exec.ExecuteQuery(ctx,
		`SELECT `+uploadColumns+` FROM uploads ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, pkderrors.Wrap(pkderrors.DBConnectionFailed, err, "loading upload history")
	}

	uploads := make([]core.Upload, len(rows))
	for i, row := range rows {
		uploads[i] = scanUpload(row)
	}

	return computeDeltas(uploads), nil
}

// computeDeltas pairs each upload (newest-first order, as returned by
// GetChangeHistory's query) with the statistics delta against the
// upload immediately before it in ingestion order — the next element
// in this slice. Kept as a pure function so the pairing logic is
// testable without a database.
func computeDeltas(uploads []core.Upload) []core.UploadDelta {
	deltas := make([]core.UploadDelta, len(uploads))
	for i, u := range uploads {
		d := core.UploadDelta{Upload: u}
		if i+1 < len(uploads) {
			prev := uploads[i+1]
			d.CSCADelta = u.CSCACount - prev.CSCACount
			d.DSCDelta = u.DSCCount - prev.DSCCount
			d.DSCNCDelta = u.DSCNCCount - prev.DSCNCCount
			d.CRLDelta = u.CRLCount - prev.CRLCount
			d.MLDelta = u.MLCount - prev.MLCount
		} else {
			d.CSCADelta, d.DSCDelta, d.DSCNCDelta, d.CRLDelta, d.MLDelta = u.CSCACount, u.DSCCount, u.DSCNCCount, u.CRLCount, u.MLCount
		}
		deltas[i] = d
	}
	return deltas
}
