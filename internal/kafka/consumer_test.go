package kafka

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardOfIsStable(t *testing.T) {
	key := PartitionKey(uuid.NewString())
	first := shardOf(key, 8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, shardOf(key, 8))
	}
	assert.Equal(t, 0, shardOf(key, 1))
}

func TestShardOfSpreads(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		s := shardOf(PartitionKey(uuid.NewString()), 4)
		require.GreaterOrEqual(t, s, 0)
		require.Less(t, s, 4)
		seen[s] = true
	}
	assert.Len(t, seen, 4)
}

func TestDecodeFrame(t *testing.T) {
	good := Frame{FrameID: "f1", SessionID: "s1", Kind: FrameData, From: "A", To: "B", Payload: []byte(`{"x":1}`)}
	f, err := DecodeFrame(MustMarshal(good))
	require.NoError(t, err)
	assert.Equal(t, "s1", f.SessionID)
	assert.JSONEq(t, `{"x":1}`, string(f.Payload))

	_, err = DecodeFrame([]byte(`{"frame_id":"f","session_id":"s","to":"B","kind":"weird"}`))
	assert.Error(t, err)
	_, err = DecodeFrame([]byte(`{"kind":"data"}`))
	assert.Error(t, err)
	_, err = DecodeFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestInboxTopic(t *testing.T) {
	assert.Equal(t, "ledger.session.Producer", InboxTopic("Producer"))
}

func TestOffsetTrackerCommitsHandledPrefix(t *testing.T) {
	tr := newOffsetTracker()
	for _, off := range []int64{10, 11, 12} {
		tr.fetched(0, off)
	}
	tr.fetched(1, 5)

	_, ok := tr.handled(0, 12)
	assert.False(t, ok, "10 and 11 still running")
	_, ok = tr.handled(0, 11)
	assert.False(t, ok)

	last, ok := tr.handled(1, 5)
	require.True(t, ok)
	assert.Equal(t, int64(5), last, "partitions are independent")

	last, ok = tr.handled(0, 10)
	require.True(t, ok)
	assert.Equal(t, int64(12), last)
	assert.Empty(t, tr.pending[0])
	assert.Empty(t, tr.done[0])
}

func TestOffsetTrackerRewind(t *testing.T) {
	tr := newOffsetTracker()
	tr.fetched(0, 7)
	tr.fetched(0, 8)
	_, ok := tr.handled(0, 8)
	assert.False(t, ok)

	tr.fetched(0, 7)
	assert.Equal(t, []int64{7}, tr.pending[0])
	last, ok := tr.handled(0, 7)
	require.True(t, ok)
	assert.Equal(t, int64(7), last)
}
