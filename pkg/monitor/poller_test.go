package monitor

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablezap/stablezap/pkg/logger"
	"github.com/stablezap/stablezap/pkg/testutil"
)

type deposits struct {
	mu     sync.Mutex
	events map[string][]*big.Int
}

func (d *deposits) handle(_ context.Context, userID string, amount *big.Int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[userID] = append(d.events[userID], amount)
}

func (d *deposits) count(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events[userID])
}

func TestPollerObservesDeposit(t *testing.T) {
	chain := testutil.NewFakeChain()
	token := testutil.GenerateAddress()
	address := testutil.GenerateAddress()
	chain.SetBalance(token, address, testutil.USDC(15))

	seen := &deposits{events: make(map[string][]*big.Int)}
	poller := NewPoller(chain, 10*time.Millisecond, &logger.EmptyLogger{})
	poller.SetHandler(seen.handle)
	defer poller.Stop()

	require.NoError(t, poller.StartMonitoring(context.Background(), "alice", address, time.Second, token))
	assert.True(t, poller.Watching("alice"))

	chain.SetBalance(token, address, testutil.USDC(25))
	require.Eventually(t, func() bool { return seen.count("alice") == 1 }, time.Second, 5*time.Millisecond)

	seen.mu.Lock()
	testutil.AssertBigIntEqual(t, testutil.USDC(10), seen.events["alice"][0])
	seen.mu.Unlock()

	// Withdrawals are not deposits
	chain.SetBalance(token, address, testutil.USDC(5))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, seen.count("alice"))
}

func TestPollerWindowEnds(t *testing.T) {
	chain := testutil.NewFakeChain()
	poller := NewPoller(chain, 5*time.Millisecond, &logger.EmptyLogger{})
	defer poller.Stop()

	require.NoError(t, poller.StartMonitoring(context.Background(), "bob", testutil.GenerateAddress(), 30*time.Millisecond, testutil.GenerateAddress()))
	require.Eventually(t, func() bool { return !poller.Watching("bob") }, time.Second, 5*time.Millisecond)
}

func TestPollerReplacesWatch(t *testing.T) {
	chain := testutil.NewFakeChain()
	token := testutil.GenerateAddress()
	oldAddress := testutil.GenerateAddress()
	newAddress := testutil.GenerateAddress()

	seen := &deposits{events: make(map[string][]*big.Int)}
	poller := NewPoller(chain, 5*time.Millisecond, &logger.EmptyLogger{})
	poller.SetHandler(seen.handle)
	defer poller.Stop()

	require.NoError(t, poller.StartMonitoring(context.Background(), "carol", oldAddress, time.Second, token))
	require.NoError(t, poller.StartMonitoring(context.Background(), "carol", newAddress, time.Second, token))
	assert.True(t, poller.Watching("carol"))

	chain.SetBalance(token, oldAddress, testutil.USDC(50))
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, seen.count("carol"), "the replaced watch no longer reports")

	chain.SetBalance(token, newAddress, testutil.USDC(50))
	require.Eventually(t, func() bool { return seen.count("carol") == 1 }, time.Second, 5*time.Millisecond)
}

func TestPollerInitialReadFailure(t *testing.T) {
	chain := testutil.NewFakeChain()
	address := testutil.GenerateAddress()
	chain.FailBalance(address, testutil.ErrRPC)

	poller := NewPoller(chain, time.Millisecond, &logger.EmptyLogger{})
	err := poller.StartMonitoring(context.Background(), "dave", address, time.Second, testutil.GenerateAddress())
	assert.Error(t, err)
	assert.False(t, poller.Watching("dave"))
}
