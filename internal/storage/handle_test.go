package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandle(t *testing.T) *Handle {
	t.Helper()
	h, err := OpenHandle(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestHandleDelegatesOperations(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	file := &FileRecord{Path: "a.go", Fingerprint: 1}
	require.NoError(t, h.UpsertFile(ctx, file))

	got, err := h.GetFile(ctx, "a.go")
	require.NoError(t, err)
	assert.Equal(t, file.ID, got.ID)

	stats, err := h.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Files)
}

func TestSuspendBlocksOperationsUntilResume(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	require.NoError(t, h.UpsertFile(ctx, &FileRecord{Path: "a.go", Fingerprint: 1}))
	require.NoError(t, h.Suspend())
	assert.True(t, h.Suspended())

	started := make(chan struct{})
	finished := make(chan error, 1)
	go func() {
		close(started)
		_, err := h.GetFile(ctx, "a.go")
		finished <- err
	}()

	<-started
	select {
	case <-finished:
		t.Fatal("operation completed while suspended")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, h.Resume())
	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("operation never resumed")
	}
	assert.False(t, h.Suspended())
}

func TestSuspendSurvivesDataAcrossCycle(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	require.NoError(t, h.UpsertFile(ctx, &FileRecord{Path: "persist.go", Fingerprint: 7}))
	require.NoError(t, h.Suspend())
	require.NoError(t, h.Resume())

	got, err := h.GetFile(ctx, "persist.go")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Fingerprint)
}

func TestSuspendIsIdempotent(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.Suspend())
	require.NoError(t, h.Suspend())
	require.NoError(t, h.Resume())
}

func TestSuspendAfterCloseFails(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.Close())
	require.ErrorIs(t, h.Suspend(), ErrClosed)
}

func TestCloseUnblocksSuspendedOperations(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.Suspend())

	finished := make(chan error, 1)
	go func() {
		_, err := h.ListFilePaths(context.Background())
		finished <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.Close())

	select {
	case err := <-finished:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked operation never failed after Close")
	}

	assert.ErrorIs(t, h.UpsertFile(context.Background(), &FileRecord{Path: "x"}), ErrClosed)
}

func TestConcurrentOperationsAroundSuspend(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()
	require.NoError(t, h.UpsertFile(ctx, &FileRecord{Path: "a.go", Fingerprint: 1}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := h.GetFile(ctx, "a.go")
				assert.NoError(t, err)
			}
		}()
	}

	require.NoError(t, h.Suspend())
	require.NoError(t, h.Resume())
	wg.Wait()
}
