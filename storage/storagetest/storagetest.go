// Package storagetest holds behaviour checks shared by every
// storage.Repository backend.
package storagetest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altimation/controlsuite/storage"
)

// Run exercises repo. The repository must start empty.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	stored := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := func(doc string, rev uint64) *storage.Record {
		return &storage.Record{Document: []byte(doc), Revision: rev, StoredAt: stored}
	}

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, repo.Put("fc-001", "base", rec(`{"v":1}`, 1)))

		got, err := repo.Get("fc-001", "base")
		require.NoError(t, err)
		assert.Equal(t, `{"v":1}`, string(got.Document))
		assert.Equal(t, uint64(1), got.Revision)
		assert.True(t, stored.Equal(got.StoredAt))

		got.Document[0] = 'X'
		again, err := repo.Get("fc-001", "base")
		require.NoError(t, err)
		assert.Equal(t, byte('{'), again.Document[0], "returned records must not alias stored data")
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		require.NoError(t, repo.Put("fc-001", "base", rec(`{"v":2}`, 2)))
		got, err := repo.Get("fc-001", "base")
		require.NoError(t, err)
		assert.Equal(t, `{"v":2}`, string(got.Document))
		assert.Equal(t, uint64(2), got.Revision)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get("no-such-device", "base")
		assert.ErrorIs(t, err, storage.ErrDeviceNotFound)

		_, err = repo.Get("fc-001", "no-such-config")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListSorted", func(t *testing.T) {
		require.NoError(t, repo.Put("fc-001", "zeta", rec(`{}`, 1)))
		require.NoError(t, repo.Put("fc-001", "alpha", rec(`{}`, 1)))
		require.NoError(t, repo.Put("fc-002", "other", rec(`{}`, 1)))

		ids, err := repo.List("fc-001")
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "base", "zeta"}, ids)

		ids, err = repo.List("no-such-device")
		require.NoError(t, err)
		assert.Empty(t, ids)

		devices, err := repo.ListDevices()
		require.NoError(t, err)
		assert.Equal(t, []string{"fc-001", "fc-002"}, devices)
	})

	t.Run("PutCAS", func(t *testing.T) {
		require.NoError(t, repo.PutCAS("fc-003", "cas", 0, rec(`{"n":1}`, 1)))
		assert.ErrorIs(t, repo.PutCAS("fc-003", "cas", 0, rec(`{"n":1}`, 1)), storage.ErrCASFailed)
		assert.ErrorIs(t, repo.PutCAS("fc-003", "cas", 5, rec(`{"n":2}`, 6)), storage.ErrCASFailed)
		require.NoError(t, repo.PutCAS("fc-003", "cas", 1, rec(`{"n":2}`, 2)))
		assert.ErrorIs(t, repo.PutCAS("fc-003", "missing", 1, rec(`{}`, 2)), storage.ErrCASFailed)

		got, err := repo.Get("fc-003", "cas")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Revision)
		assert.Equal(t, `{"n":2}`, string(got.Document))
	})

	t.Run("PutCASConcurrent", func(t *testing.T) {
		require.NoError(t, repo.PutCAS("fc-004", "race", 0, rec(`{}`, 1)))

		const writers = 8
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- repo.PutCAS("fc-004", "race", 1, rec(`{}`, 2))
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, storage.ErrCASFailed)
			}
		}
		assert.Equal(t, 1, wins, "exactly one writer may win a revision")
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Delete("fc-002", "other"))
		_, err := repo.Get("fc-002", "other")
		assert.Error(t, err)

		assert.ErrorIs(t, repo.Delete("fc-001", "no-such-config"), storage.ErrNotFound)
		assert.ErrorIs(t, repo.Delete("no-such-device", "base"), storage.ErrDeviceNotFound)

		devices, err := repo.ListDevices()
		require.NoError(t, err)
		assert.NotContains(t, devices, "fc-002", "a device without configurations is not listed")
	})
}
