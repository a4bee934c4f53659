package tts_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/book-expert/voice-narrator/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarm_InitializesOnce(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		inits     int
		teardowns int
	)

	warm := tts.NewWarm("model", func(context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()

		inits++

		return "weights", nil
	}, func(string) error {
		teardowns++

		return nil
	})

	assert.False(t, warm.Ready())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			value, err := warm.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "weights", value)
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, inits)
	assert.True(t, warm.Ready())

	require.NoError(t, warm.Close())
	require.NoError(t, warm.Close())
	assert.Equal(t, 1, teardowns)

	_, err := warm.Get(context.Background())
	require.ErrorIs(t, err, tts.ErrWarmClosed)
}

func TestWarm_RetriesAfterFailure(t *testing.T) {
	t.Parallel()

	errLoad := errors.New("server not ready")
	attempts := 0

	warm := tts.NewWarm("model", func(context.Context) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errLoad
		}

		return attempts, nil
	}, nil)

	_, err := warm.Get(context.Background())
	require.ErrorIs(t, err, errLoad)
	assert.False(t, warm.Ready())

	value, err := warm.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, value)

	require.NoError(t, warm.Close())
}

func TestWarm_TeardownError(t *testing.T) {
	t.Parallel()

	warm := tts.NewWarm("client", func(context.Context) (int, error) { return 1, nil },
		func(int) error { return errors.New("connection reset") })

	_, err := warm.Get(context.Background())
	require.NoError(t, err)

	require.ErrorContains(t, warm.Close(), "connection reset")
}
