// Copyright 2014 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package core holds the domain types shared by every component of the
// ingestion pipeline: Upload, Certificate, CRL, ValidationResult,
// MasterList, DeviationList, User and AuthAudit, plus the enumerations
// spec section 3 defines over them.
package core

import "time"

// FileFormat is the detected format of an uploaded artifact.
type FileFormat string

const (
	FormatLDIF FileFormat = "LDIF"
	FormatML   FileFormat = "ML"
	FormatPEM  FileFormat = "PEM"
	FormatDER  FileFormat = "DER"
	FormatCER  FileFormat = "CER"
	FormatP7B  FileFormat = "P7B"
	FormatCRL  FileFormat = "CRL"
)

// ProcessingMode selects whether an Upload runs end-to-end automatically
// or pauses at each stage gate for operator confirmation.
type ProcessingMode string

const (
	ModeAuto   ProcessingMode = "AUTO"
	ModeManual ProcessingMode = "MANUAL"
)

// UploadStatus is the lifecycle state of an Upload row.
type UploadStatus string

const (
	StatusProcessing UploadStatus = "PROCESSING"
	StatusPending     UploadStatus = "PENDING"
	StatusCompleted   UploadStatus = "COMPLETED"
	StatusFailed      UploadStatus = "FAILED"
	StatusDuplicate   UploadStatus = "DUPLICATE"
)

// CertificateType is the classification C9 assigns to a parsed certificate.
type CertificateType string

const (
	CertCSCA  CertificateType = "CSCA"
	CertDSC   CertificateType = "DSC"
	CertDSCNC CertificateType = "DSC_NC"
	CertMLSC  CertificateType = "MLSC"
)

// ValidationStatus is the outcome of running a certificate through the
// trust-chain engine (C8).
type ValidationStatus string

const (
	ValidationValid        ValidationStatus = "VALID"
	ValidationExpiredValid  ValidationStatus = "EXPIRED_VALID"
	ValidationInvalid       ValidationStatus = "INVALID"
	ValidationPending       ValidationStatus = "PENDING"
	ValidationWarning       ValidationStatus = "WARNING"
	ValidationError         ValidationStatus = "ERROR"
)

// RevocationReason enumerates the ICAO/RFC 5280 CRL reason codes this
// service understands.
type RevocationReason string

const (
	ReasonUnspecified          RevocationReason = "UNSPECIFIED"
	ReasonKeyCompromise        RevocationReason = "KEY_COMPROMISE"
	ReasonCACompromise         RevocationReason = "CA_COMPROMISE"
	ReasonAffiliationChanged   RevocationReason = "AFFILIATION_CHANGED"
	ReasonSuperseded           RevocationReason = "SUPERSEDED"
	ReasonCessationOfOperation RevocationReason = "CESSATION_OF_OPERATION"
	ReasonCertificateHold      RevocationReason = "CERTIFICATE_HOLD"
	ReasonRemoveFromCRL        RevocationReason = "REMOVE_FROM_CRL"
	ReasonPrivilegeWithdrawn   RevocationReason = "PRIVILEGE_WITHDRAWN"
	ReasonAACompromise         RevocationReason = "AA_COMPROMISE"
)

// Upload is the root record of an ingested artifact. fileHash uniquely
// keys the set of content-equivalent uploads (spec section 3 invariant).
type Upload struct {
	ID                string
	FileName          string
	OriginalFileName  string
	FileHash          string
	FileSize          int64
	FileFormat        FileFormat
	ProcessingMode     ProcessingMode
	Status            UploadStatus
	CSCACount         int
	DSCCount          int
	DSCNCCount        int
	CRLCount          int
	MLCount           int
	MLSCCount         int
	TotalEntries      int
	ProcessedEntries  int
	ValidCount        int
	InvalidCount      int
	WarningCount      int
	ErrorMessage      string
	CreatedAt         time.Time
	CompletedAt       *time.Time
	FilePath          string
}

// Certificate is a persisted, classified X.509 certificate extracted
// from an Upload.
type Certificate struct {
	ID                string
	UploadID          string
	CertificateType   CertificateType
	CountryCode       string
	SubjectDN         string
	IssuerDN          string
	SerialNumber      string
	FingerprintSHA256 string
	CertificateBinary []byte
	NotBefore         time.Time
	NotAfter          time.Time
	ValidationStatus  ValidationStatus
	ValidationMessage string
	LdapDN            string
	StoredInLdap      bool
	StoredAt          *time.Time
}

// ValidationResult is the detailed trust-chain verdict for one
// certificate, one row per (uploadID, fingerprint).
type ValidationResult struct {
	CertificateID         string
	UploadID              string
	Fingerprint           string
	SubjectDN             string
	IssuerDN              string
	SerialNumber          string
	CertificateType       CertificateType
	CountryCode           string
	TrustChainValid       bool
	TrustChainMessage     string
	TrustChainPath        string
	CSCAFound             bool
	CSCASubjectDN         string
	SignatureVerified     bool
	SignatureAlgorithm    string
	ValidityCheckPassed   bool
	IsExpired             bool
	IsNotYetValid         bool
	NotBefore             time.Time
	NotAfter              time.Time
	IsCA                  bool
	IsSelfSigned          bool
	PathLengthConstraint  int
	KeyUsageValid         bool
	KeyUsageFlags         string
	CRLCheckStatus        string
	CRLCheckMessage       string
	ErrorCode             string
	ErrorMessage          string
	ValidationDurationMs  int64
	ValidationStatus      ValidationStatus
}

// CRL is a persisted Certificate Revocation List.
type CRL struct {
	ID                string
	UploadID          string
	CountryCode       string
	IssuerDN          string
	ThisUpdate        time.Time
	NextUpdate        *time.Time
	CRLNumber         string
	FingerprintSHA256 string
	CRLBinary         []byte
	ValidationStatus  ValidationStatus
	LdapDN            string
	StoredInLdap      bool
}

// RevokedCertificate is one entry of a CRL's revocation list.
type RevokedCertificate struct {
	ID               string
	CRLID            string
	SerialNumber     string
	RevocationDate   time.Time
	RevocationReason RevocationReason
}

// MasterList is a persisted ICAO Master List (CMS SignedData) record.
type MasterList struct {
	ID                   string
	UploadID             string
	SignerCountry        string
	SignerDN             string
	Version              *int
	CSCACertificateCount int
	FingerprintSHA256    string
	MLBinary             []byte
	LdapDN               string
	StoredInLdap         bool
}

// DeviationListEntry is one non-conformance defect record within a
// Deviation List.
type DeviationListEntry struct {
	ID                       string
	DeviationListID          string
	CertificateIssuerDN      string
	CertificateSerialNumber  string
	DefectTypeOID            string
	DefectCategory           string
	DefectDescription        string
}

// DeviationList carries CMS metadata for a non-conformance list plus
// its defect entries.
type DeviationList struct {
	ID            string
	UploadID      string
	SignerCountry string
	SignerDN      string
	Entries       []DeviationListEntry
}

// User is an authenticated operator account.
type User struct {
	ID       string
	Username string
	Roles    []string
}

// AuthAudit is one append-only audit record of a state-changing
// operation (spec section 4.13).
type AuthAudit struct {
	ID            string
	UserID        string
	Username      string
	OperationType string
	Subtype       string
	ResourceID    string
	IP            string
	UserAgent     string
	Method        string
	Path          string
	Success       bool
	ErrorMessage  string
	Metadata      map[string]any
	CreatedAt     time.Time
}

// LdifStructure records the top-level shape of a parsed LDIF file for
// later operator inspection (GET .../ldif-structure).
type LdifStructure struct {
	UploadID     string
	EntryCount   int
	AttributeSet []string
}

// UploadDelta is one row of the Upload change-history view: the
// statistics delta between an upload and its immediate predecessor in
// ingestion order.
type UploadDelta struct {
	Upload         Upload
	CSCADelta      int
	DSCDelta       int
	DSCNCDelta     int
	CRLDelta       int
	MLDelta        int
}
