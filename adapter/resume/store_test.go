package resume

import (
	"context"
	"testing"
	"time"

	"github.com/membranehq/ai-agent-example/genai/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_AppendReplayComplete(t *testing.T) {
	store := NewMemStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "s1", streaming.Frame{Type: streaming.FrameStart}))
	require.NoError(t, store.Append(ctx, "s1", streaming.TextFrame("m1", "hello")))

	frames, err := store.Replay(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, streaming.FrameStart, frames[0].Type)
	assert.Equal(t, "hello", frames[1].Delta)

	done, err := store.Completed(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, store.Complete(ctx, "s1"))
	done, err = store.Completed(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestMemStore_EvictsIdleStreams(t *testing.T) {
	store := NewMemStore(time.Minute)
	current := time.Unix(0, 0)
	store.now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "old", streaming.TextFrame("m1", "a")))
	current = current.Add(2 * time.Minute)
	require.NoError(t, store.Append(ctx, "new", streaming.TextFrame("m2", "b")))

	frames, err := store.Replay(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, frames)
	frames, err = store.Replay(ctx, "new")
	require.NoError(t, err)
	assert.Len(t, frames, 1)
}

func TestRecorder_TeesFramesAndMarksCompletion(t *testing.T) {
	store := NewMemStore(time.Hour)
	var forwarded []streaming.Frame
	sink := streaming.SinkFunc(func(frame streaming.Frame) error {
		forwarded = append(forwarded, frame)
		return nil
	})
	recorder := NewRecorder(store, "s1", sink)

	require.NoError(t, recorder.Write(streaming.Frame{Type: streaming.FrameStart}))
	require.NoError(t, recorder.Write(streaming.TextFrame("m1", "hi")))
	require.NoError(t, recorder.Write(streaming.Frame{Type: streaming.FrameFinish}))

	assert.Len(t, forwarded, 3)
	frames, err := store.Replay(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, frames, 3)
	done, err := store.Completed(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestNewRedisStore_DisabledWithoutAddr(t *testing.T) {
	assert.Nil(t, NewRedisStore("", "", 0, time.Hour))
}
