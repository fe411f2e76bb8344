package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaExhausted(t *testing.T) {
	assert.False(t, Quota{Max24HourSend: 0, SentLast24Hours: 1e9}.Exhausted())
	assert.False(t, Quota{Max24HourSend: 100, SentLast24Hours: 99}.Exhausted())
	assert.True(t, Quota{Max24HourSend: 100, SentLast24Hours: 100}.Exhausted())
	assert.True(t, Quota{Max24HourSend: 100, SentLast24Hours: 150}.Exhausted())
}

func TestMemoryRelaySend(t *testing.T) {
	r := NewMemoryRelay()
	id, err := r.SendRaw(context.Background(), "noreply@acme.com", []string{"a@x.com", "b@x.com"}, []byte("raw"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Equal(t, 1, r.SentCount())
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, r.Sent[0].Recipients)
}

func TestMemoryRelayRejectsOversize(t *testing.T) {
	r := NewMemoryRelay()
	big := make([]byte, MaxRawMessageBytes+1)
	_, err := r.SendRaw(context.Background(), "a@x.com", []string{"b@x.com"}, big)
	assert.Error(t, err)
	assert.Equal(t, 0, r.SentCount())
}
