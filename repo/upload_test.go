package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iland112/pkd-ingest/core"
)

func TestComputeDeltasAgainstPredecessor(t *testing.T) {
	uploads := []core.Upload{
		{ID: "newest", CSCACount: 10, DSCCount: 50},
		{ID: "middle", CSCACount: 8, DSCCount: 45},
		{ID: "oldest", CSCACount: 8, DSCCount: 40},
	}
	deltas := computeDeltas(uploads)

	assert.Equal(t, 2, deltas[0].CSCADelta)
	assert.Equal(t, 5, deltas[0].DSCDelta)
	assert.Equal(t, 0, deltas[1].CSCADelta)
	assert.Equal(t, 5, deltas[1].DSCDelta)
	// The oldest upload has no predecessor: its delta is its own count.
	assert.Equal(t, 8, deltas[2].CSCADelta)
	assert.Equal(t, 40, deltas[2].DSCDelta)
}

func TestComputeDeltasSingleUpload(t *testing.T) {
	uploads := []core.Upload{{ID: "only", CSCACount: 3}}
	deltas := computeDeltas(uploads)
	assert.Len(t, deltas, 1)
	assert.Equal(t, 3, deltas[0].CSCADelta)
}
