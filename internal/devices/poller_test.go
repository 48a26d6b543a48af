package devices

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenMinerCore/internal/minerapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollOnce(t *testing.T) {
	exchanger := newScripted(func(_ minerapi.Address, command string) ([]byte, error) {
		switch command {
		case "version":
			return []byte(bosminerVersion), nil
		case "summary+pools":
			return []byte(`{"summary":[{"STATUS":[{"STATUS":"S"}],"SUMMARY":[{"MHS 5s":13500000}]}],"pools":[{"STATUS":[{"STATUS":"S"}],"POOLS":[]}],"id":1}`), nil
		}
		return nil, minerapi.ErrConnection
	})
	resolver := newTestResolver(t, exchanger)
	miner := resolver.Resolve(context.Background(), testAddr)
	require.NotNil(t, miner)

	var got []PollResult
	poller := NewPoller(miner, time.Hour, func(r PollResult) { got = append(got, r) }, nil)

	_, ok := poller.LastResult()
	assert.False(t, ok)

	result := poller.PollOnce(context.Background())
	require.NoError(t, result.Err)
	assert.Equal(t, []string{"pools", "summary"}, result.Data.Commands())

	last, ok := poller.LastResult()
	require.True(t, ok)
	assert.Equal(t, result.At, last.At)
	assert.Len(t, got, 1)
}

func TestResolverPollers(t *testing.T) {
	var mu sync.Mutex
	polls := 0

	exchanger := newScripted(func(_ minerapi.Address, command string) ([]byte, error) {
		if command == "version" {
			return []byte(cgminerVersion), nil
		}
		return []byte(`{"summary":[{"STATUS":[{"STATUS":"S"}]}],"pools":[{"STATUS":[{"STATUS":"S"}]}],"id":1}`), nil
	})
	resolver := newTestResolver(t, exchanger)

	assert.Error(t, resolver.StartPoller(testAddr, 10*time.Millisecond, nil))

	require.NotNil(t, resolver.Resolve(context.Background(), testAddr))
	require.NoError(t, resolver.StartPoller(testAddr, 10*time.Millisecond, func(PollResult) {
		mu.Lock()
		polls++
		mu.Unlock()
	}))

	poller, ok := resolver.Poller(testAddr)
	require.True(t, ok)
	assert.True(t, poller.IsRunning())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return polls >= 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, resolver.StopAll(context.Background()))
	assert.False(t, poller.IsRunning())
	_, ok = resolver.Poller(testAddr)
	assert.False(t, ok)
}

func TestPollerConcurrentStop(t *testing.T) {
	resolver := newTestResolver(t, newScripted(versionReply(cgminerVersion)))
	miner := resolver.Resolve(context.Background(), testAddr)
	require.NotNil(t, miner)

	poller := NewPoller(miner, time.Hour, nil, nil)
	require.NoError(t, poller.Start())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Stop()
		}()
	}
	wg.Wait()
	assert.False(t, poller.IsRunning())

	require.NoError(t, poller.Start())
	assert.True(t, poller.IsRunning())
	poller.Stop()
	assert.False(t, poller.IsRunning())
}
