package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/greeting/internal/queue"
)

func TestMsgpack_RoundTripsNestedRecords(t *testing.T) {
	in := registration{
		Username: "asd1",
		Password: "secret",
		Email:    "a@b.com",
		Profile: &profile{
			Age:       31,
			Interests: []string{"go", "queues"},
			Links:     map[string]string{"site": "https://example.com"},
		},
	}

	body, err := queue.Msgpack.Marshal(in)
	require.NoError(t, err)

	var out registration
	require.NoError(t, queue.Msgpack.Unmarshal(body, &out))
	assert.Equal(t, in, out)
}

func TestMsgpack_UnsupportedValue(t *testing.T) {
	_, err := queue.Msgpack.Marshal(map[string]any{"done": make(chan struct{})})
	assert.ErrorIs(t, err, queue.ErrSerialization)
}

func TestMsgpack_GarbageInput(t *testing.T) {
	var out registration
	err := queue.Msgpack.Unmarshal([]byte{0xc1}, &out)
	assert.ErrorIs(t, err, queue.ErrSerialization)
}
