package loresync

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/loremaster/internal/embeddings"
	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/fyrsmithlabs/loremaster/internal/rag"
	"github.com/fyrsmithlabs/loremaster/internal/vectorstore"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

type node struct {
	id      string
	nc      *nats.Conn
	index   *vectorstore.MemoryIndex
	catalog *lore.Catalog
	sub     *Subscriber
}

func newNode(t *testing.T, url, queue string) *node {
	t.Helper()
	logger := zaptest.NewLogger(t)
	nc, err := Connect(url, logger)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	n := &node{id: NodeID(), nc: nc, index: vectorstore.NewMemoryIndex()}
	indexer := rag.NewIndexer(embeddings.NewHashProvider(32), n.index, logger)
	n.catalog = lore.NewCatalog(
		lore.WithIndexer(indexer),
		lore.WithPublisher(NewPublisher(nc, "test.lore", n.id)),
		lore.WithLogger(logger),
	)
	n.sub = NewSubscriber(nc, indexer, n.id, logger)
	require.NoError(t, n.sub.Start("test.lore", queue))
	require.NoError(t, nc.Flush())
	t.Cleanup(func() { _ = n.sub.Close() })
	return n
}

func chunkIDs(t *testing.T, idx *vectorstore.MemoryIndex, id string) []string {
	t.Helper()
	ids, err := idx.Get(context.Background(), rag.CollectionLore, vectorstore.Filter{rag.MetaEntityID: id})
	if err != nil {
		return nil
	}
	return ids
}

func TestSync_UpsertAndDeleteReachOtherNode(t *testing.T) {
	ctx := context.Background()
	srv := startTestNATSServer(t)
	a := newNode(t, srv.ClientURL(), "")
	b := newNode(t, srv.ClientURL(), "")

	u, err := a.catalog.Create(ctx, &lore.Universe{Name: "Aeloria", Description: "Floating isles"})
	require.NoError(t, err)
	id := u.Base().ID

	assert.Equal(t, []string{"universe_" + id + "_0"}, chunkIDs(t, a.index, id))
	assert.Eventually(t, func() bool {
		return len(chunkIDs(t, b.index, id)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, a.catalog.Delete(ctx, lore.KindUniverse, id))
	assert.Eventually(t, func() bool {
		return len(chunkIDs(t, b.index, id)) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSubscriber_SkipsOwnOrigin(t *testing.T) {
	srv := startTestNATSServer(t)
	a := newNode(t, srv.ClientURL(), "")

	pub := NewPublisher(a.nc, "test.lore", a.id)
	data := []byte(`{"id":"u-1","name":"Mirror"}`)
	require.NoError(t, pub.Publish(context.Background(), lore.Change{Op: lore.OpUpsert, Kind: lore.KindUniverse, ID: "u-1", Entity: data}))
	require.NoError(t, a.nc.Flush())

	// A foreign publisher on the same connection proves the subscription is live.
	other := NewPublisher(a.nc, "test.lore", "someone-else")
	require.NoError(t, other.Publish(context.Background(), lore.Change{Op: lore.OpUpsert, Kind: lore.KindUniverse, ID: "u-2", Entity: []byte(`{"id":"u-2","name":"Echo"}`)}))

	assert.Eventually(t, func() bool {
		return len(chunkIDs(t, a.index, "u-2")) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Empty(t, chunkIDs(t, a.index, "u-1"))
}

func TestSubscriber_Apply(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	idx := vectorstore.NewMemoryIndex()
	sub := NewSubscriber(nil, rag.NewIndexer(embeddings.NewHashProvider(32), idx, logger), "n", logger)

	require.NoError(t, sub.Apply(ctx, lore.Change{Op: lore.OpUpsert, Kind: lore.KindParty, ID: "p", Entity: []byte(`{}`)}))
	assert.Zero(t, idx.Count(rag.CollectionLore))

	require.NoError(t, sub.Apply(ctx, lore.Change{Op: lore.OpUpsert, Kind: lore.KindFaction, ID: "f", Entity: []byte(`{"id":"f","name":"Ember Court"}`)}))
	assert.Equal(t, 1, idx.Count(rag.CollectionLore))

	// Applying the same upsert again overwrites in place.
	require.NoError(t, sub.Apply(ctx, lore.Change{Op: lore.OpUpsert, Kind: lore.KindFaction, ID: "f", Entity: []byte(`{"id":"f","name":"Ember Court"}`)}))
	assert.Equal(t, 1, idx.Count(rag.CollectionLore))

	require.NoError(t, sub.Apply(ctx, lore.Change{Op: lore.OpDelete, Kind: lore.KindFaction, ID: "f"}))
	assert.Zero(t, idx.Count(rag.CollectionLore))

	assert.Error(t, sub.Apply(ctx, lore.Change{Op: "rename", Kind: lore.KindFaction, ID: "f"}))
	assert.Error(t, sub.Apply(ctx, lore.Change{Op: lore.OpUpsert, Kind: lore.KindFaction, ID: "f", Entity: []byte(`not json`)}))
}

func TestPublisher_ClosedConnection(t *testing.T) {
	srv := startTestNATSServer(t)
	nc, err := Connect(srv.ClientURL(), nil)
	require.NoError(t, err)
	nc.Close()

	err = NewPublisher(nc, "test.lore", "x").Publish(context.Background(), lore.Change{Kind: lore.KindUniverse})
	assert.ErrorIs(t, err, ErrNotConnected)
}
