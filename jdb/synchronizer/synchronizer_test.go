package synchronizer

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFIFO(t *testing.T) {
	require := require.New(t)

	s := New()
	defer s.Stop()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	launch := make(chan struct{})
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-launch
			_ = s.Push(func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
	}
	close(launch)
	wg.Wait()

	require.Len(order, 16)
}

func TestResultPropagation(t *testing.T) {
	require := require.New(t)

	s := New()
	defer s.Stop()

	require.NoError(s.Push(func() error { return nil }))

	boom := errors.New("boom")
	require.ErrorIs(s.Push(func() error { return boom }), boom)

	// the lane survives failed operations
	require.NoError(s.Push(func() error { return nil }))
}

func TestStop(t *testing.T) {
	require := require.New(t)

	s := New()
	s.Stop()
	s.Stop() // idempotent

	require.Error(s.Push(func() error { return nil }))
}
