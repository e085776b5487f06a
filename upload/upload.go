// Package upload implements the upload coordinator (component C12):
// multipart handling, filename sanitization, magic-byte format
// checks, hash-based deduplication, and dispatch to the AUTO or
// MANUAL processing strategy. Grounded on Boulder's WFE request
// validation style (wfe/web-front-end.go's "validate, then act")
// generalized from ACME JWS envelopes to multipart file parts.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"

	"github.com/iland112/pkd-ingest/core"
	"github.com/iland112/pkd-ingest/pkderrors"
	"github.com/iland112/pkd-ingest/repo"
)

const (
	maxBulkSize = 100 << 20 // LDIF/ML cap
	maxCertSize = 10 << 20  // individual cert/CRL cap
)

var safeFilename = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// SanitizeFilename enforces spec section 4.12's filename contract:
// only [A-Za-z0-9_.-], no ".." traversal, capped at 255 chars, never
// empty.
func SanitizeFilename(name string) (string, error) {
	if name == "" {
		return "", pkderrors.New(pkderrors.InvalidFilename, "filename is empty")
	}
	if len(name) > 255 {
		return "", pkderrors.New(pkderrors.InvalidFilename, "filename exceeds 255 characters")
	}
	if !safeFilename.MatchString(name) {
		return "", pkderrors.New(pkderrors.InvalidFilename, "filename contains disallowed characters")
	}
	if filepath.Clean(name) != name || name == ".." {
		return "", pkderrors.New(pkderrors.InvalidFilename, "filename attempts path traversal")
	}
	return name, nil
}

// DetectFormat applies the format-specific magic check (spec section
// 4.12): LDIF must textually contain "dn:" or "version:"; CMS/ML/P7
// blobs must begin with the ASN.1 SEQUENCE tag (0x30) followed by a
// syntactically valid DER length.
func DetectFormat(body []byte, declaredExt string) (core.FileFormat, error) {
	switch declaredExt {
	case "ldif":
		if !looksLikeLDIF(body) {
			return "", pkderrors.New(pkderrors.InvalidLDIF, "file does not contain dn: or version: markers")
		}
		return core.FormatLDIF, nil
	case "ml":
		if err := checkDERMagic(body); err != nil {
			return "", err
		}
		return core.FormatML, nil
	case "p7b":
		if err := checkDERMagic(body); err != nil {
			return "", err
		}
		return core.FormatP7B, nil
	case "crl":
		if err := checkDERMagic(body); err != nil {
			return "", err
		}
		return core.FormatCRL, nil
	case "der", "cer":
		if err := checkDERMagic(body); err != nil {
			return "", err
		}
		if declaredExt == "cer" {
			return core.FormatCER, nil
		}
		return core.FormatDER, nil
	case "pem":
		return core.FormatPEM, nil
	default:
		return "", pkderrors.New(pkderrors.UnsupportedFormat, "unsupported file extension %q", declaredExt)
	}
}

func looksLikeLDIF(body []byte) bool {
	head := body
	if len(head) > 4096 {
		head = head[:4096]
	}
	s := string(head)
	return containsToken(s, "dn:") || containsToken(s, "version:")
}

func containsToken(s, token string) bool {
	for i := 0; i+len(token) <= len(s); i++ {
		if s[i:i+len(token)] == token {
			return true
		}
	}
	return false
}

// checkDERMagic requires the first byte 0x30 (SEQUENCE) and a
// syntactically valid BER/DER length octet sequence immediately
// after the tag.
func checkDERMagic(body []byte) error {
	if len(body) < 2 || body[0] != 0x30 {
		return pkderrors.New(pkderrors.InvalidCMS, "body does not begin with an ASN.1 SEQUENCE tag")
	}
	lenByte := body[1]
	if lenByte < 0x80 {
		return nil // short form, always valid
	}
	numOctets := int(lenByte &^ 0x80)
	if numOctets == 0 {
		return nil // indefinite length, valid BER
	}
	if len(body) < 2+numOctets {
		return pkderrors.New(pkderrors.InvalidCMS, "truncated DER length encoding")
	}
	return nil
}

// MaxSizeFor returns the body size cap for the given format.
func MaxSizeFor(f core.FileFormat) int64 {
	switch f {
	case core.FormatLDIF, core.FormatML:
		return maxBulkSize
	default:
		return maxCertSize
	}
}

// Coordinator persists incoming artifacts to the upload directory and
// records the Upload row, returning enough information for the caller
// to dispatch into the AUTO/MANUAL strategy.
type Coordinator struct {
	uploads   *repo.UploadRepository
	uploadDir string
}

func NewCoordinator(uploads *repo.UploadRepository, uploadDir string) *Coordinator {
	return &Coordinator{uploads: uploads, uploadDir: uploadDir}
}

// FindByID returns the Upload row for id, for handlers that drive a
// MANUAL upload's subsequent stages.
func (c *Coordinator) FindByID(ctx context.Context, id string) (*core.Upload, error) {
	return c.uploads.FindByID(ctx, id)
}

// Delete removes the Upload row for id, backing DELETE
// /api/upload/{id} for a failed or abandoned MANUAL upload (spec
// section 4.10).
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	return c.uploads.Delete(ctx, id)
}

// Outcome is the coordinator's verdict: either a fresh upload was
// created, or an identical upload already exists (ExistingID set,
// Created false).
type Outcome struct {
	Upload     core.Upload
	Created    bool
	ExistingID string
}

// Accept implements spec section 4.12's single-file ingestion
// contract: sanitize, magic-check, size-cap, hash-dedupe, persist to
// disk under the upload UUID, and record the Upload row in
// PROCESSING (AUTO) or PENDING (MANUAL).
func (c *Coordinator) Accept(ctx context.Context, originalName string, ext string, body io.Reader, mode core.ProcessingMode) (Outcome, error) {
	safeName, err := SanitizeFilename(originalName)
	if err != nil {
		return Outcome{}, err
	}

	data, err := io.ReadAll(io.LimitReader(body, maxBulkSize+1))
	if err != nil {
		return Outcome{}, pkderrors.Wrap(pkderrors.Unexpected, err, "reading upload body")
	}

	format, err := DetectFormat(data, ext)
	if err != nil {
		return Outcome{}, err
	}
	if int64(len(data)) > MaxSizeFor(format) {
		return Outcome{}, pkderrors.New(pkderrors.TooLarge, "upload exceeds the %d byte cap for %s", MaxSizeFor(format), format)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if existing, err := c.uploads.FindByFileHash(ctx, hash); err == nil && existing != nil {
		return Outcome{ExistingID: existing.ID, Created: false}, nil
	}

	id := uuid.NewString()
	filePath := filepath.Join(c.uploadDir, id+"."+ext)
	if err := os.MkdirAll(c.uploadDir, 0o750); err != nil {
		return Outcome{}, pkderrors.Wrap(pkderrors.Unexpected, err, "creating upload directory")
	}
	if err := os.WriteFile(filePath, data, 0o640); err != nil {
		return Outcome{}, pkderrors.Wrap(pkderrors.Unexpected, err, "persisting uploaded file")
	}

	status := core.StatusProcessing
	if mode == core.ModeManual {
		status = core.StatusPending
	}

	u := core.Upload{
		ID:               id,
		FileName:         id + "." + ext,
		OriginalFileName: safeName,
		FileHash:         hash,
		FileSize:         int64(len(data)),
		FileFormat:       format,
		ProcessingMode:   mode,
		Status:           status,
		FilePath:         filePath,
	}
	if err := c.uploads.Insert(ctx, u); err != nil {
		return Outcome{}, err
	}
	return Outcome{Upload: u, Created: true}, nil
}
