package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowlingb/OpenBazaar/kademlia/config"
)

// startTestNode builds and starts a listening Node under a fresh temp
// data directory, closing it when the test ends.
func startTestNode(t *testing.T, addr string) *Node {
	t.Helper()
	n, err := New(Options{
		ListenAddr: addr,
		DataDir:    t.TempDir(),
		Config:     config.New(config.WithRefresh(time.Hour), config.WithReplicate(time.Hour), config.WithExpire(24*time.Hour)),
	})
	require.NoError(t, err)
	require.NoError(t, n.Listen())
	t.Cleanup(func() { n.Shutdown() })
	return n
}

// TestJoinBootstrapsRoutingTable: node A joins through seed B and
// ends up with B in its routing table.
func TestJoinBootstrapsRoutingTable(t *testing.T) {
	b := startTestNode(t, "127.0.0.1:17700")
	a := startTestNode(t, "127.0.0.1:17701")

	seed := b.Self()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.Join(ctx, seed)
	require.NoError(t, err)

	_, ok := a.routes.Get(seed.GUID)
	assert.True(t, ok, "A's routing table should contain the bootstrap seed after Join")
}
