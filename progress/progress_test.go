package progress

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iland112/pkd-ingest/pkdlog"
)

func TestSubscribeReplaysLatestCachedEvent(t *testing.T) {
	m := New(pkdlog.Nop())
	m.Send(Event{UploadID: "u1", Stage: StageParsingStarted})

	var received []Event
	m.Subscribe("u1", func(e Event) error {
		received = append(received, e)
		return nil
	})

	require.Len(t, received, 1)
	assert.Equal(t, StageParsingStarted, received[0].Stage)
}

func TestSendForwardsToSubscribers(t *testing.T) {
	m := New(pkdlog.Nop())
	var received []Event
	m.Subscribe("u1", func(e Event) error {
		received = append(received, e)
		return nil
	})
	m.Send(Event{UploadID: "u1", Stage: StageCompleted})

	require.Len(t, received, 1)
	assert.Equal(t, StageCompleted, received[0].Stage)
}

func TestDeadSubscriberIsRemoved(t *testing.T) {
	m := New(pkdlog.Nop())
	calls := 0
	m.Subscribe("u1", func(e Event) error {
		calls++
		return errors.New("subscriber gone")
	})
	m.Send(Event{UploadID: "u1", Stage: StageParsingStarted})
	m.Send(Event{UploadID: "u1", Stage: StageCompleted})

	assert.Equal(t, 1, calls)
}

func TestSnapshotReturnsLatest(t *testing.T) {
	m := New(pkdlog.Nop())
	m.Send(Event{UploadID: "u1", Stage: StageDBSavingComplete})

	e, ok := m.Snapshot("u1")
	require.True(t, ok)
	assert.Equal(t, StageDBSavingComplete, e.Stage)
	assert.Equal(t, 80, e.Percentage)
}

func TestSSEFrame(t *testing.T) {
	frame, err := SSEFrame(Event{UploadID: "u1", Stage: StageCompleted, Percentage: 100})
	require.NoError(t, err)
	assert.Contains(t, frame, "event: progress\n")
	assert.Contains(t, frame, `"uploadId":"u1"`)
	assert.True(t, len(frame) > 0 && frame[len(frame)-2:] == "\n\n")
}
