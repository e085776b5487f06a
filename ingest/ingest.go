// Package ingest implements the two processing strategies (component
// C10) that turn a parsed LDIF stream or Master List body into
// persisted, classified, chain-validated certificates mirrored into
// LDAP. Grounded on Boulder's certificate-authority issuance pipeline
// (ca/certificate-authority.go) for "parse, classify, verify, persist"
// sequencing, and on its single-flight-by-key idiom for preventing
// reentrant issuance of the same request.
package ingest

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/iland112/pkd-ingest/chain"
	"github.com/iland112/pkd-ingest/classify"
	"github.com/iland112/pkd-ingest/cmsx"
	"github.com/iland112/pkd-ingest/core"
	"github.com/iland112/pkd-ingest/ldapdir"
	"github.com/iland112/pkd-ingest/ldif"
	"github.com/iland112/pkd-ingest/pkderrors"
	"github.com/iland112/pkd-ingest/pkdmetrics"
	"github.com/iland112/pkd-ingest/progress"
	"github.com/iland112/pkd-ingest/repo"
	"github.com/iland112/pkd-ingest/x509util"
)

var tracer = otel.Tracer("github.com/iland112/pkd-ingest/ingest")

// progressEveryN matches spec section 4.10's "every N (~10-50) entries"
// guidance.
const progressEveryN = 25

// Repositories bundles every repository collaborator a Processor
// needs, so constructing one stays a single call.
type Repositories struct {
	Uploads        *repo.UploadRepository
	Certificates   *repo.CertificateRepository
	CRLs           *repo.CrlRepository
	MasterLists    *repo.MasterListRepository
	DeviationLists *repo.DeviationListRepository
	Validations    *repo.ValidationRepository
	LdifStructures *repo.LdifStructureRepository
}

// Processor holds every collaborator shared by the AUTO and MANUAL
// strategies: persistence, the LDAP mirror writer, the progress
// registry, and an optional CMS trust anchor.
type Processor struct {
	repos       Repositories
	ldapWriter  *ldapdir.Writer
	prog        *progress.Manager
	log         *zap.Logger
	clk         clock.Clock
	trustAnchor *x509.Certificate
	dnVersion   ldapdir.DNVersion
	manualDir   string

	singleFlight singleFlightSet
}

func NewProcessor(repos Repositories, ldapWriter *ldapdir.Writer, prog *progress.Manager, log *zap.Logger, clk clock.Clock, trustAnchor *x509.Certificate, manualDir string) *Processor {
	if clk == nil {
		clk = clock.New()
	}
	return &Processor{
		repos:       repos,
		ldapWriter:  ldapWriter,
		prog:        prog,
		log:         log,
		clk:         clk,
		trustAnchor: trustAnchor,
		dnVersion:   ldapdir.DNVersionFingerprint,
		manualDir:   manualDir,
	}
}

// singleFlightSet is the mutex-guarded uploadId set backing the
// idempotence guarantee in spec section 4.10: duplicate launches for
// an uploadId already in flight log and return without spawning.
type singleFlightSet struct {
	mu      sync.Mutex
	inFlight map[string]bool
}

// TryStart reports whether uploadID was newly claimed; a false return
// means processing is already underway and the caller must not spawn
// a second goroutine for it.
func (s *singleFlightSet) TryStart(uploadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight == nil {
		s.inFlight = make(map[string]bool)
	}
	if s.inFlight[uploadID] {
		return false
	}
	s.inFlight[uploadID] = true
	return true
}

func (s *singleFlightSet) Finish(uploadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, uploadID)
}

// counters accumulates per-type counts across one upload's processing
// run, written back via UploadRepository.UpdateStatistics.
type counters struct {
	csca, dsc, dscNC, crl, ml, mlsc int
	valid, invalid, warning         int
	total, processed                int
	attrs                           map[string]bool
}

// recordAttr notes that attribute name appeared at least once across
// the upload's LDIF entries, feeding the LdifStructure summary row.
func (c *counters) recordAttr(name string) {
	if c.attrs == nil {
		c.attrs = make(map[string]bool)
	}
	c.attrs[name] = true
}

// sortedAttrs returns the recorded attribute names in sorted order,
// for a deterministic LdifStructure.AttributeSet.
func (c *counters) sortedAttrs() []string {
	out := make([]string, 0, len(c.attrs))
	for name := range c.attrs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ProcessLdifAuto implements the AUTO strategy over an LDIF stream
// (spec section 4.10). If requireLdap is true and the LDAP writer is
// nil, the upload is aborted to FAILED before any row is touched —
// dual-write must be all-or-none at the artifact level.
func (p *Processor) ProcessLdifAuto(ctx context.Context, uploadID string, entries func(yield func(ldif.Entry) error) error, requireLdap bool) error {
	ctx, span := tracer.Start(ctx, "ingest.ProcessLdifAuto")
	defer span.End()
	defer pkdmetrics.ObserveStage(string(progress.StageParsingCompleted), time.Now())

	if !p.singleFlight.TryStart(uploadID) {
		p.log.Info("ignoring duplicate launch for upload already in flight", zap.String("uploadId", uploadID))
		return nil
	}
	defer p.singleFlight.Finish(uploadID)

	if requireLdap && p.ldapWriter == nil {
		msg := "LDAP write required but no write handle is configured"
		_ = p.repos.Uploads.UpdateStatus(ctx, uploadID, core.StatusFailed, msg)
		p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageFailed, ErrorMessage: msg})
		return pkderrors.New(pkderrors.LDAPConnectionFailed, msg)
	}

	p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageParsingStarted})

	c := &counters{}
	err := entries(func(e ldif.Entry) error {
		if err := p.dispatchEntry(ctx, uploadID, e, requireLdap, c); err != nil {
			return err
		}
		c.processed++
		if c.processed%progressEveryN == 0 {
			p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageValidationProgress, ProcessedCount: c.processed, TotalCount: c.total})
		}
		return nil
	})
	if err != nil {
		_ = p.repos.Uploads.UpdateStatus(ctx, uploadID, core.StatusFailed, err.Error())
		p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageFailed, ErrorMessage: err.Error()})
		return err
	}

	if err := p.repos.Uploads.UpdateStatistics(ctx, uploadID, c.csca, c.dsc, c.dscNC, c.crl, c.ml, c.mlsc, c.valid, c.invalid, c.warning); err != nil {
		return err
	}
	if err := p.repos.Uploads.UpdateProgress(ctx, uploadID, c.total, c.processed); err != nil {
		return err
	}
	if err := p.repos.LdifStructures.Save(ctx, core.LdifStructure{
		UploadID:     uploadID,
		EntryCount:   c.total,
		AttributeSet: c.sortedAttrs(),
	}); err != nil {
		return err
	}
	if err := p.repos.Uploads.UpdateStatus(ctx, uploadID, core.StatusCompleted, ""); err != nil {
		return err
	}
	p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageCompleted, ProcessedCount: c.processed, TotalCount: c.total})
	return nil
}

// dispatchEntry routes one LDIF entry by attribute presence, per spec
// section 4.10.
func (p *Processor) dispatchEntry(ctx context.Context, uploadID string, e ldif.Entry, writeLdap bool, c *counters) error {
	c.total++
	for _, a := range e.Attributes {
		c.recordAttr(a.Name)
	}
	switch {
	case e.Has("userCertificate") || e.Has("cACertificate"):
		raw := e.First("userCertificate")
		if raw == nil {
			raw = e.First("cACertificate")
		}
		return p.handleCertificate(ctx, uploadID, raw, e.DN, false, writeLdap, c)
	case e.Has("certificateRevocationList"):
		return p.handleCRL(ctx, uploadID, e.First("certificateRevocationList"), writeLdap, c)
	case e.Has("pkdMasterListContent"):
		return p.ProcessMasterListContent(ctx, uploadID, e.First("pkdMasterListContent"), writeLdap, c)
	case e.Has("pkdDeviationListContent"):
		return p.ProcessDeviationListContent(ctx, uploadID, e.First("pkdDeviationListContent"))
	default:
		return nil
	}
}

// manualIntermediate is the host-addressable artifact staged between
// MANUAL strategy stages (spec section 4.10): stage 1 parses an LDIF
// stream once and stores it here, so stages 2 and 3 can each be driven
// by a separate request without re-parsing.
type manualIntermediate struct {
	Entries []ldif.Entry `json:"entries"`
}

// manualArtifactPath returns the staging file for uploadID's parsed
// entries.
func (p *Processor) manualArtifactPath(uploadID string) string {
	return filepath.Join(p.manualDir, uploadID+".json")
}

func (p *Processor) writeManualIntermediate(uploadID string, entries []ldif.Entry) error {
	if err := os.MkdirAll(p.manualDir, 0o755); err != nil {
		return pkderrors.Wrap(pkderrors.Unexpected, err, "creating manual staging directory")
	}
	data, err := json.Marshal(manualIntermediate{Entries: entries})
	if err != nil {
		return pkderrors.Wrap(pkderrors.Unexpected, err, "encoding manual intermediate artifact for %s", uploadID)
	}
	if err := os.WriteFile(p.manualArtifactPath(uploadID), data, 0o644); err != nil {
		return pkderrors.Wrap(pkderrors.Unexpected, err, "writing manual intermediate artifact for %s", uploadID)
	}
	return nil
}

func (p *Processor) readManualIntermediate(uploadID string) ([]ldif.Entry, error) {
	data, err := os.ReadFile(p.manualArtifactPath(uploadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pkderrors.New(pkderrors.NotFound, "no parsed artifact staged for upload %s", uploadID)
		}
		return nil, pkderrors.Wrap(pkderrors.Unexpected, err, "reading manual intermediate artifact for %s", uploadID)
	}
	var mi manualIntermediate
	if err := json.Unmarshal(data, &mi); err != nil {
		return nil, pkderrors.Wrap(pkderrors.InvalidLDIF, err, "decoding manual intermediate artifact for %s", uploadID)
	}
	return mi.Entries, nil
}

// removeManualIntermediate cleans up the staged artifact once stage 3
// has flushed it to LDAP (spec section 4.10). Deleting an upload row
// does not call it.
func (p *Processor) removeManualIntermediate(uploadID string) {
	if err := os.Remove(p.manualArtifactPath(uploadID)); err != nil && !os.IsNotExist(err) {
		p.log.Warn("failed to remove manual staging artifact", zap.String("uploadId", uploadID), zap.Error(err))
	}
}

// ParseManual implements MANUAL strategy stage 1 (spec section 4.10):
// decode the LDIF stream once into the staged intermediate artifact,
// without persisting any certificate, CRL or Master List rows yet; only
// the upload row's progress (or FAILED status) is updated.
func (p *Processor) ParseManual(ctx context.Context, uploadID string, raw []byte) error {
	ctx, span := tracer.Start(ctx, "ingest.ParseManual")
	defer span.End()

	p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageParsingStarted})

	var entries []ldif.Entry
	err := ldif.Decode(bytes.NewReader(raw), func(e ldif.Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		_ = p.repos.Uploads.UpdateStatus(ctx, uploadID, core.StatusFailed, err.Error())
		p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageFailed, ErrorMessage: err.Error()})
		return err
	}

	if err := p.writeManualIntermediate(uploadID, entries); err != nil {
		_ = p.repos.Uploads.UpdateStatus(ctx, uploadID, core.StatusFailed, err.Error())
		p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageFailed, ErrorMessage: err.Error()})
		return err
	}

	if err := p.repos.Uploads.UpdateProgress(ctx, uploadID, len(entries), 0); err != nil {
		return err
	}
	p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageParsingCompleted, TotalCount: len(entries)})
	return nil
}

// ValidateManual implements MANUAL strategy stage 2 (spec section
// 4.10): classify, validate and persist every staged entry to the
// database only, leaving storedInLdap=false for stage 3 to flush.
func (p *Processor) ValidateManual(ctx context.Context, uploadID string) error {
	ctx, span := tracer.Start(ctx, "ingest.ValidateManual")
	defer span.End()
	defer pkdmetrics.ObserveStage(string(progress.StageDBSavingComplete), time.Now())

	if !p.singleFlight.TryStart(uploadID) {
		p.log.Info("ignoring duplicate launch for upload already in flight", zap.String("uploadId", uploadID))
		return nil
	}
	defer p.singleFlight.Finish(uploadID)

	entries, err := p.readManualIntermediate(uploadID)
	if err != nil {
		_ = p.repos.Uploads.UpdateStatus(ctx, uploadID, core.StatusFailed, err.Error())
		p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageFailed, ErrorMessage: err.Error()})
		return err
	}

	p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageValidationStarted, TotalCount: len(entries)})

	c := &counters{}
	for _, e := range entries {
		if err := p.dispatchEntry(ctx, uploadID, e, false, c); err != nil {
			_ = p.repos.Uploads.UpdateStatus(ctx, uploadID, core.StatusFailed, err.Error())
			p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageFailed, ErrorMessage: err.Error()})
			return err
		}
		c.processed++
		if c.processed%progressEveryN == 0 {
			p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageDBSavingProgress, ProcessedCount: c.processed, TotalCount: c.total})
		}
	}

	if err := p.repos.Uploads.UpdateStatistics(ctx, uploadID, c.csca, c.dsc, c.dscNC, c.crl, c.ml, c.mlsc, c.valid, c.invalid, c.warning); err != nil {
		return err
	}
	if err := p.repos.Uploads.UpdateProgress(ctx, uploadID, c.total, c.processed); err != nil {
		return err
	}
	if err := p.repos.LdifStructures.Save(ctx, core.LdifStructure{
		UploadID:     uploadID,
		EntryCount:   c.total,
		AttributeSet: c.sortedAttrs(),
	}); err != nil {
		return err
	}
	// Stage 3 still owes the LDAP mirror, so the upload stays PROCESSING
	// rather than COMPLETED until FlushLdapManual runs.
	if err := p.repos.Uploads.UpdateStatus(ctx, uploadID, core.StatusProcessing, ""); err != nil {
		return err
	}
	p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageDBSavingComplete, ProcessedCount: c.processed, TotalCount: c.total})
	return nil
}

// FlushLdapManual implements MANUAL strategy stage 3 (spec section
// 4.10): mirror every certificate persisted by stage 2 that hasn't
// reached LDAP yet, then mark the upload COMPLETED.
func (p *Processor) FlushLdapManual(ctx context.Context, uploadID string) error {
	ctx, span := tracer.Start(ctx, "ingest.FlushLdapManual")
	defer span.End()
	defer pkdmetrics.ObserveStage(string(progress.StageLDAPSavingComplete), time.Now())

	if p.ldapWriter == nil {
		msg := "LDAP write required but no write handle is configured"
		_ = p.repos.Uploads.UpdateStatus(ctx, uploadID, core.StatusFailed, msg)
		p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageFailed, ErrorMessage: msg})
		return pkderrors.New(pkderrors.LDAPConnectionFailed, msg)
	}

	pending, err := p.repos.Certificates.FindPendingLdapByUploadID(ctx, uploadID)
	if err != nil {
		return err
	}

	p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageLDAPSavingStarted, TotalCount: len(pending)})

	processed := 0
	for _, cert := range pending {
		dn, err := p.ldapWriter.WriteCertificate(ctx, cert, p.dnVersion)
		if err != nil {
			// Dual-write stays eventually consistent: a failed mirror
			// leaves the row pending for the next flush attempt.
			p.log.Warn("ldap mirror write failed, db row left pending", zap.String("fingerprint", cert.FingerprintSHA256), zap.Error(err))
			continue
		}
		if err := p.repos.Certificates.UpdateCertificateLdapStatus(ctx, cert.ID, dn); err != nil {
			return err
		}
		processed++
		if processed%progressEveryN == 0 {
			p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageLDAPSavingProgress, ProcessedCount: processed, TotalCount: len(pending)})
		}
	}

	if err := p.repos.Uploads.UpdateStatus(ctx, uploadID, core.StatusCompleted, ""); err != nil {
		return err
	}
	p.removeManualIntermediate(uploadID)
	p.prog.Send(progress.Event{UploadID: uploadID, Stage: progress.StageCompleted, ProcessedCount: processed, TotalCount: len(pending)})
	return nil
}

// handleCertificate classifies one certificate from an LDIF/Master
// List entry and hands it to persistCertificate.
func (p *Processor) handleCertificate(ctx context.Context, uploadID string, der []byte, entryDN string, fromMasterList, writeLdap bool, c *counters) error {
	if der == nil {
		return nil
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return pkderrors.Wrap(pkderrors.InvalidCMS, err, "parsing certificate from ldif entry")
	}

	certType := classify.Classify(classify.Input{Cert: cert, EntryDN: entryDN, FromMasterList: fromMasterList})
	return p.persistCertificate(ctx, uploadID, cert, der, certType, writeLdap, c)
}

// persistMasterListSigner persists the Master List's own CMS signer
// certificate as an MLSC row (spec section 3: certificateType MLSC),
// the one certificate type the classifier never produces directly
// since it is a property of the envelope, not of an LDIF/ML entry.
func (p *Processor) persistMasterListSigner(ctx context.Context, uploadID string, signer *x509.Certificate, writeLdap bool, c *counters) error {
	if signer == nil {
		return nil
	}
	return p.persistCertificate(ctx, uploadID, signer, signer.Raw, core.CertMLSC, writeLdap, c)
}

// persistCertificate validates and persists one already-classified
// certificate, optionally mirroring it into LDAP.
func (p *Processor) persistCertificate(ctx context.Context, uploadID string, cert *x509.Certificate, der []byte, certType core.CertificateType, writeLdap bool, c *counters) error {
	tallyType(c, certType)

	fingerprint := x509util.SHA256Hex(der)
	countryCode := x509util.ExtractCountryCode(x509util.RenderDN(cert.Subject))

	record := core.Certificate{
		ID:                newID(),
		UploadID:          uploadID,
		CertificateType:   certType,
		CountryCode:       countryCode,
		SubjectDN:         x509util.RenderDN(cert.Subject),
		IssuerDN:          x509util.RenderDN(cert.Issuer),
		SerialNumber:      x509util.SerialHex(cert),
		FingerprintSHA256: fingerprint,
		CertificateBinary: der,
		NotBefore:         cert.NotBefore,
		NotAfter:          cert.NotAfter,
	}

	start := p.clk.Now()
	vr := p.validate(ctx, cert, certType)
	vr.CertificateID = record.ID
	vr.UploadID = uploadID
	vr.Fingerprint = fingerprint
	vr.SubjectDN = record.SubjectDN
	vr.IssuerDN = record.IssuerDN
	vr.SerialNumber = record.SerialNumber
	vr.CertificateType = certType
	vr.CountryCode = countryCode
	vr.NotBefore = cert.NotBefore
	vr.NotAfter = cert.NotAfter
	vr.ValidationDurationMs = p.clk.Now().Sub(start).Milliseconds()

	record.ValidationStatus = vr.ValidationStatus
	record.ValidationMessage = vr.TrustChainMessage
	tallyStatus(c, vr.ValidationStatus)

	id, isDuplicate, err := p.repos.Certificates.SaveCertificateWithDuplicateCheck(ctx, record)
	if err != nil {
		return err
	}
	if isDuplicate {
		return p.repos.Certificates.TrackCertificateDuplicate(ctx, uploadID, fingerprint)
	}
	vr.CertificateID = id
	if err := p.repos.Validations.Save(ctx, vr); err != nil {
		return err
	}

	if writeLdap && p.ldapWriter != nil {
		record.ID = id
		dn, err := p.ldapWriter.WriteCertificate(ctx, record, p.dnVersion)
		if err != nil {
			// Dual-write is eventually consistent at the row level: the DB
			// row stands with storedInLdap=false for a later retry.
			p.log.Warn("ldap mirror write failed, db row left pending", zap.String("fingerprint", fingerprint), zap.Error(err))
			return nil
		}
		return p.repos.Certificates.UpdateCertificateLdapStatus(ctx, id, dn)
	}
	return nil
}

// validate runs the appropriate trust-chain procedure for certType:
// CSCA self-validation, or DSC/link chain building against candidate
// CSCAs sharing the target's issuer DN.
func (p *Processor) validate(ctx context.Context, cert *x509.Certificate, certType core.CertificateType) core.ValidationResult {
	var r chain.Result
	if certType == core.CertCSCA && classify.IsSelfSigned(cert) {
		r = chain.ValidateCSCA(cert)
	} else {
		candidates, err := p.repos.Certificates.FindAllCscasBySubjectDn(ctx, x509util.RenderDN(cert.Issuer))
		if err != nil {
			candidates = nil
		}
		pool := make([]*x509.Certificate, 0, len(candidates))
		for _, cand := range candidates {
			if parsed, err := x509.ParseCertificate(cand.CertificateBinary); err == nil {
				pool = append(pool, parsed)
			}
		}
		r = chain.ValidateChain(cert, pool)
	}

	status := statusFromChainResult(r)
	errorCode := ""
	if r.ErrorMessage != "" {
		errorCode = r.ErrorCode.String()
	}
	message := r.ErrorMessage
	if status == core.ValidationExpiredValid && message == "" {
		message = expiredChainMessage(r)
	}
	return core.ValidationResult{
		TrustChainValid:     r.IsValid,
		TrustChainMessage:   message,
		TrustChainPath:      r.TrustChainPath,
		CSCAFound:           r.CSCAFound,
		CSCASubjectDN:       r.CSCASubjectDN,
		SignatureVerified:   r.SignatureValid,
		ValidityCheckPassed: r.NotExpired || r.DSCExpired,
		IsExpired:           r.DSCExpired,
		IsNotYetValid:       r.NotYetValid,
		IsCA:                cert.IsCA,
		IsSelfSigned:        classify.IsSelfSigned(cert),
		KeyUsageValid:       x509util.HasKeyUsage(cert.KeyUsage, x509.KeyUsageCertSign) || certType != core.CertCSCA,
		ErrorCode:           errorCode,
		ErrorMessage:        r.ErrorMessage,
		ValidationStatus:    status,
	}
}

// expiredChainMessage synthesizes a human-readable TrustChainMessage
// for the expired-but-valid case, where ValidateChain reports no
// ErrorMessage because the chain verified successfully and the leaf's
// or the CSCA's expiration is informational only (spec section 4.8
// hybrid model).
func expiredChainMessage(r chain.Result) string {
	switch {
	case r.DSCExpired && r.CSCAExpired:
		return "chain verified but the certificate and its issuing CSCA have both expired"
	case r.DSCExpired:
		return "chain verified but the certificate has expired"
	case r.CSCAExpired:
		return "chain verified but the issuing CSCA has expired"
	default:
		return "chain verified but one or more certificates in it have expired"
	}
}

func statusFromChainResult(r chain.Result) core.ValidationStatus {
	switch {
	case r.NotYetValid:
		return core.ValidationInvalid
	case !r.IsValid:
		return core.ValidationInvalid
	case r.DSCExpired || r.CSCAExpired:
		return core.ValidationExpiredValid
	case r.ErrorMessage != "":
		return core.ValidationWarning
	default:
		return core.ValidationValid
	}
}

func (p *Processor) handleCRL(ctx context.Context, uploadID string, der []byte, writeLdap bool, c *counters) error {
	if der == nil {
		return nil
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return pkderrors.Wrap(pkderrors.InvalidCMS, err, "parsing crl from ldif entry")
	}
	c.crl++

	record := core.CRL{
		ID:                newID(),
		UploadID:          uploadID,
		CountryCode:       x509util.ExtractCountryCode(x509util.RenderDN(crl.Issuer)),
		IssuerDN:          x509util.RenderDN(crl.Issuer),
		ThisUpdate:        crl.ThisUpdate,
		CRLNumber:         crl.Number.String(),
		FingerprintSHA256: x509util.SHA256Hex(der),
		CRLBinary:         der,
		ValidationStatus:  core.ValidationValid,
	}
	if !crl.NextUpdate.IsZero() {
		nu := crl.NextUpdate
		record.NextUpdate = &nu
	}

	id, err := p.repos.CRLs.Save(ctx, record)
	if err != nil {
		return err
	}
	for _, revoked := range crl.RevokedCertificateEntries {
		reason := revocationReasonFromCode(revoked.ReasonCode)
		if err := p.repos.CRLs.SaveRevokedCertificate(ctx, id, revoked.SerialNumber.Text(16), revoked.RevocationTime, reason); err != nil {
			p.log.Warn("failed to save revoked certificate entry", zap.Error(err))
		}
	}

	if writeLdap && p.ldapWriter != nil {
		record.ID = id
		dn, err := p.ldapWriter.WriteCRL(ctx, record, p.dnVersion)
		if err != nil {
			p.log.Warn("ldap mirror write failed for crl, db row left pending", zap.String("fingerprint", record.FingerprintSHA256), zap.Error(err))
			return nil
		}
		return p.repos.CRLs.UpdateLdapStatus(ctx, id, dn)
	}
	return nil
}

// ProcessMasterListContent implements the nested Master List path
// (spec section 4.7 + 4.10): every extracted certificate is always
// classified CSCA.
func (p *Processor) ProcessMasterListContent(ctx context.Context, uploadID string, data []byte, writeLdap bool, c *counters) error {
	ctx, span := tracer.Start(ctx, "ingest.ProcessMasterListContent")
	defer span.End()
	if c == nil {
		c = &counters{}
	}

	result, err := cmsx.Extract(ctx, data, p.trustAnchor, nil)
	if err != nil {
		return err
	}
	if result.SignatureChecked && !result.SignatureValid {
		p.log.Warn("master list CMS signature did not verify against the trust anchor, continuing", zap.String("uploadId", uploadID))
	}

	ml := core.MasterList{
		ID:                   newID(),
		UploadID:             uploadID,
		SignerCountry:        result.SignerCountry,
		SignerDN:             result.SignerDN,
		Version:              result.Version,
		CSCACertificateCount: len(result.Certificates),
		FingerprintSHA256:    x509util.SHA256Hex(data),
		MLBinary:             data,
	}
	mlID, err := p.repos.MasterLists.Save(ctx, ml)
	if err != nil {
		return err
	}
	c.ml++

	if writeLdap && p.ldapWriter != nil {
		ml.ID = mlID
		dn, err := p.ldapWriter.WriteMasterList(ctx, ml, p.dnVersion)
		if err != nil {
			p.log.Warn("ldap mirror write failed for master list", zap.Error(err))
		} else if err := p.repos.MasterLists.UpdateLdapStatus(ctx, mlID, dn); err != nil {
			return err
		}
	}

	for _, cert := range result.Certificates {
		der := cert.Raw
		if err := p.handleCertificate(ctx, uploadID, der, "", true, writeLdap, c); err != nil {
			p.log.Warn("failed to persist master list certificate", zap.Error(err))
		}
	}

	if err := p.persistMasterListSigner(ctx, uploadID, result.SignerCertificate, writeLdap, c); err != nil {
		p.log.Warn("failed to persist master list signer certificate", zap.Error(err))
	}
	return nil
}

// ProcessDeviationListContent extracts and persists a non-conformance
// deviation list carried in an entry's pkdDeviationListContent
// attribute (spec section 3 DeviationList entity; the LDIF attribute
// name and CMS wire format are this module's own convention, since
// spec.md specifies only the stored row shape). Deviation lists have
// no LDAP mirror: core.DeviationList carries no LdapDN/StoredInLdap
// fields.
func (p *Processor) ProcessDeviationListContent(ctx context.Context, uploadID string, data []byte) error {
	ctx, span := tracer.Start(ctx, "ingest.ProcessDeviationListContent")
	defer span.End()

	result, err := cmsx.ExtractDeviationList(ctx, data, p.trustAnchor)
	if err != nil {
		return err
	}

	dl := core.DeviationList{
		ID:            newID(),
		UploadID:      uploadID,
		SignerCountry: result.SignerCountry,
		SignerDN:      result.SignerDN,
	}
	for _, e := range result.Entries {
		dl.Entries = append(dl.Entries, core.DeviationListEntry{
			ID:                      newID(),
			DeviationListID:         dl.ID,
			CertificateIssuerDN:     e.CertificateIssuerDN,
			CertificateSerialNumber: e.CertificateSerialNumber,
			DefectTypeOID:           e.DefectTypeOID,
			DefectCategory:          e.DefectCategory,
			DefectDescription:       e.DefectDescription,
		})
	}
	return p.repos.DeviationLists.Save(ctx, dl)
}

// revocationReasonFromCode maps the RFC 5280 CRL reason code carried
// on a crypto/x509.RevocationListEntry to the domain enumeration.
func revocationReasonFromCode(code int) core.RevocationReason {
	switch code {
	case 1:
		return core.ReasonKeyCompromise
	case 2:
		return core.ReasonCACompromise
	case 3:
		return core.ReasonAffiliationChanged
	case 4:
		return core.ReasonSuperseded
	case 5:
		return core.ReasonCessationOfOperation
	case 6:
		return core.ReasonCertificateHold
	case 8:
		return core.ReasonRemoveFromCRL
	case 9:
		return core.ReasonPrivilegeWithdrawn
	case 10:
		return core.ReasonAACompromise
	default:
		return core.ReasonUnspecified
	}
}

func tallyType(c *counters, t core.CertificateType) {
	switch t {
	case core.CertCSCA:
		c.csca++
	case core.CertMLSC:
		c.mlsc++
	case core.CertDSC:
		c.dsc++
	case core.CertDSCNC:
		c.dscNC++
	}
}

func tallyStatus(c *counters, s core.ValidationStatus) {
	switch s {
	case core.ValidationValid, core.ValidationExpiredValid:
		c.valid++
	case core.ValidationWarning:
		c.warning++
	default:
		c.invalid++
	}
}

// newID generates the UUID the caller will use as a row's primary key.
func newID() string {
	return uuid.NewString()
}
