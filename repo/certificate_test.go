package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iland112/pkd-ingest/core"
)

func TestBuildCertificateSearchQueryNoFilters(t *testing.T) {
	query, params := buildCertificateSearchQuery(CertificateFilter{})
	assert.NotContains(t, query, "WHERE")
	assert.Contains(t, query, "LIMIT $1")
	assert.Equal(t, []any{100}, params)
}

func TestBuildCertificateSearchQueryAllFilters(t *testing.T) {
	query, params := buildCertificateSearchQuery(CertificateFilter{
		CountryCode:     "KR",
		CertificateType: core.CertCSCA,
		SubjectContains: "Gov",
		Limit:           25,
	})
	assert.Contains(t, query, "country_code = $1")
	assert.Contains(t, query, "certificate_type = $2")
	assert.Contains(t, query, "subject_dn ILIKE $3")
	assert.Contains(t, query, "LIMIT $4")
	assert.Equal(t, []any{"KR", "CSCA", "%Gov%", 25}, params)
}

func TestBuildCertificateSearchQueryDefaultsLimit(t *testing.T) {
	_, params := buildCertificateSearchQuery(CertificateFilter{CountryCode: "KR"})
	assert.Equal(t, []any{"KR", 100}, params)
}
