package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteTurnStore(t *testing.T) {
	t.Run("InMemory", func(t *testing.T) {
		store, err := NewSQLiteTurnStore(":memory:")
		require.NoError(t, err)
		defer store.Close()

		TurnStoreTestSuite(t, "SQLite-InMemory", store)
	})

	t.Run("FileBasedDB", func(t *testing.T) {
		store, err := NewSQLiteTurnStore(filepath.Join(t.TempDir(), "turns.db"))
		require.NoError(t, err)
		defer store.Close()

		TurnStoreTestSuite(t, "SQLite-FileBased", store)
	})
}

// TestSQLiteTurnStoreInitialization tests specific SQLite initialization scenarios
func TestSQLiteTurnStoreInitialization(t *testing.T) {
	store, err := NewSQLiteTurnStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	rows, err := store.db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name='conversation_turns'")
	require.NoError(t, err)
	defer rows.Close()

	hasTable := rows.Next()
	require.True(t, hasTable, "conversation_turns table should exist")
}

func TestSQLiteTurnStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	store, err := NewSQLiteTurnStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, "s", Turn{Input: "Integral of x", Output: "x^2/2"}, 3))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteTurnStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	mem := NewConversationMemory(3, WithStore(reopened, "s"))
	require.NoError(t, mem.Load(ctx))
	assert.Equal(t, "Human: Integral of x\nAI: x^2/2", mem.Render())
}

func TestSQLiteTurnStoreConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteTurnStore(filepath.Join(t.TempDir(), "concurrent.db"))
	require.NoError(t, err)
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := fmt.Sprintf("session-%d", i)
			for j := 0; j < 5; j++ {
				assert.NoError(t, store.Append(ctx, session, Turn{Input: fmt.Sprint(j)}, 3))
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		turns, err := store.Load(ctx, fmt.Sprintf("session-%d", i), 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"2", "3", "4"}, inputs(turns))
	}
}
