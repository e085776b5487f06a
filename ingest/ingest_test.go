package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iland112/pkd-ingest/chain"
	"github.com/iland112/pkd-ingest/core"
)

func TestSingleFlightSetPreventsReentry(t *testing.T) {
	var s singleFlightSet
	assert.True(t, s.TryStart("u1"))
	assert.False(t, s.TryStart("u1"))
	s.Finish("u1")
	assert.True(t, s.TryStart("u1"))
}

func TestTallyTypeCounts(t *testing.T) {
	c := &counters{}
	tallyType(c, core.CertCSCA)
	tallyType(c, core.CertDSC)
	tallyType(c, core.CertDSCNC)
	tallyType(c, core.CertMLSC)
	assert.Equal(t, 1, c.csca)
	assert.Equal(t, 1, c.dsc)
	assert.Equal(t, 1, c.dscNC)
	assert.Equal(t, 1, c.mlsc)
}

func TestStatusFromChainResult(t *testing.T) {
	assert.Equal(t, core.ValidationInvalid, statusFromChainResult(chain.Result{NotYetValid: true}))
	assert.Equal(t, core.ValidationInvalid, statusFromChainResult(chain.Result{IsValid: false}))
	assert.Equal(t, core.ValidationExpiredValid, statusFromChainResult(chain.Result{IsValid: true, DSCExpired: true}))
	assert.Equal(t, core.ValidationWarning, statusFromChainResult(chain.Result{IsValid: true, ErrorMessage: "flags missing"}))
	assert.Equal(t, core.ValidationValid, statusFromChainResult(chain.Result{IsValid: true}))
}

func TestRevocationReasonFromCode(t *testing.T) {
	assert.Equal(t, core.ReasonKeyCompromise, revocationReasonFromCode(1))
	assert.Equal(t, core.ReasonCACompromise, revocationReasonFromCode(2))
	assert.Equal(t, core.ReasonUnspecified, revocationReasonFromCode(99))
}
