package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"behavior-server/pkg/fusion"
	"behavior-server/pkg/orchestrator"
)

func TestEncryptedStore_SummaryRoundtrip(t *testing.T) {
	backend := NewMemoryBackend()
	store, err := NewEncryptedStore("test-key", backend, nil)
	require.NoError(t, err)

	summary := &orchestrator.SessionSummary{
		SessionID:      "s1",
		UserID:         "u1",
		ConfidenceAvg:  64.2,
		StressMax:      81.5,
		StressTrend:    fusion.TrendIncreasing,
		TotalSnapshots: 42,
		AlertBreakdown: map[string]int{fusion.AlertStressSpike: 3},
	}

	ctx := context.Background()
	require.NoError(t, store.StoreSummary(ctx, "s1", summary))

	loaded, err := store.LoadSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, summary, loaded)
}

func TestEncryptedStore_CiphertextAtRest(t *testing.T) {
	backend := NewMemoryBackend()
	store, err := NewEncryptedStore("test-key", backend, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.StoreSummary(ctx, "s1", &orchestrator.SessionSummary{SessionID: "s1"}))

	raw, err := backend.Get(ctx, sessionPrefix+"s1")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "session_id", "record must not appear in plaintext")
}

func TestEncryptedStore_WrongKeyFailsToDecrypt(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	writer, err := NewEncryptedStore("key-a", backend, nil)
	require.NoError(t, err)
	require.NoError(t, writer.StoreSummary(ctx, "s1", &orchestrator.SessionSummary{SessionID: "s1"}))

	reader, err := NewEncryptedStore("key-b", backend, nil)
	require.NoError(t, err)
	_, err = reader.LoadSummary(ctx, "s1")
	assert.Error(t, err)
}

func TestEncryptedStore_MissingKey(t *testing.T) {
	store, err := NewEncryptedStore("test-key", NewMemoryBackend(), nil)
	require.NoError(t, err)

	_, err = store.LoadSummary(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEncryptedStore_EphemeralKey(t *testing.T) {
	store, err := NewEncryptedStore("", NewMemoryBackend(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.StoreSnapshot(ctx, "s1", 0, &fusion.BehaviorSnapshot{}))
	require.NoError(t, store.StoreSummary(ctx, "s1", &orchestrator.SessionSummary{SessionID: "s1"}))

	loaded, err := store.LoadSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", loaded.SessionID)
}

func TestMemoryBackend_Expiry(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", []byte("v"), -time.Second))
	_, err := backend.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound, "expired entries evict on read")

	require.NoError(t, backend.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}
