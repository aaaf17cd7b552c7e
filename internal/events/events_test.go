package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageKeyedByImage(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := message(Event{Type: TypeImageLiked, ImageID: "abc", Source: "10.0.0.1", At: at})
	require.NoError(t, err)

	assert.Equal(t, []byte("abc"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, TypeImageLiked, string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "abc", decoded.ImageID)
	assert.True(t, at.Equal(decoded.At))
}

func TestMessageStampsTime(t *testing.T) {
	msg, err := message(Event{Type: TypeImageStored, ImageID: "x"})
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.False(t, decoded.At.IsZero())
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}
