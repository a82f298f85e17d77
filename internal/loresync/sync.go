// Package loresync carries catalog changes between loremaster nodes over
// NATS so that every node's vector index follows the writes made on any
// other node.
//
// Changes are published as JSON lore.Change values on "<subject>.<kind>".
// A Subscriber consumes "<subject>.>" and applies each change to an Indexer.
// With a queue group exactly one subscriber of the group handles a change,
// which suits a shared index (qdrant, pgvector); without one every node
// applies every change, which suits per-node embedded indexes.
package loresync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// OriginHeader names the node that published a change. Subscribers skip
// changes from their own node, which already applied them locally.
const OriginHeader = "Loremaster-Origin"

// ErrNotConnected is returned when the NATS connection is closed.
var ErrNotConnected = errors.New("nats connection is not available")

// Connect dials NATS with the reconnect policy used by every loremaster
// component.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("loremaster"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NodeID returns a random identifier for this process.
func NodeID() string {
	return uuid.NewString()
}

// Publisher publishes catalog changes. It implements lore.ChangePublisher.
type Publisher struct {
	nc      *nats.Conn
	subject string
	origin  string
}

// NewPublisher creates a Publisher on nc. origin identifies this node.
func NewPublisher(nc *nats.Conn, subject, origin string) *Publisher {
	return &Publisher{nc: nc, subject: subject, origin: origin}
}

// Publish sends c on "<subject>.<kind>".
func (p *Publisher) Publish(_ context.Context, c lore.Change) error {
	if p.nc == nil || p.nc.IsClosed() {
		return ErrNotConnected
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding change: %w", err)
	}
	msg := nats.NewMsg(fmt.Sprintf("%s.%s", p.subject, c.Kind))
	msg.Data = data
	msg.Header.Set(OriginHeader, p.origin)
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing %s change for %s %s: %w", c.Op, c.Kind, c.ID, err)
	}
	return nil
}

var _ lore.ChangePublisher = (*Publisher)(nil)

// Subscriber applies published changes to an Indexer.
type Subscriber struct {
	nc      *nats.Conn
	indexer lore.Indexer
	origin  string
	logger  *zap.Logger
	timeout time.Duration
	sub     *nats.Subscription
}

// NewSubscriber creates a Subscriber. Changes published with the same
// origin are ignored.
func NewSubscriber(nc *nats.Conn, indexer lore.Indexer, origin string, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{nc: nc, indexer: indexer, origin: origin, logger: logger, timeout: 30 * time.Second}
}

// Start subscribes to every kind under subject. An empty queue subscribes
// without a queue group.
func (s *Subscriber) Start(subject, queue string) error {
	if s.nc == nil || s.nc.IsClosed() {
		return ErrNotConnected
	}
	wildcard := subject + ".>"
	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = s.nc.QueueSubscribe(wildcard, queue, s.handle)
	} else {
		sub, err = s.nc.Subscribe(wildcard, s.handle)
	}
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", wildcard, err)
	}
	s.sub = sub
	s.logger.Info("lore sync subscribed", zap.String("subject", wildcard), zap.String("queue", queue))
	return nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	if msg.Header.Get(OriginHeader) == s.origin {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var c lore.Change
	if err := json.Unmarshal(msg.Data, &c); err != nil {
		s.logger.Warn("dropping undecodable change", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if err := s.Apply(ctx, c); err != nil {
		s.logger.Warn("applying change failed",
			zap.String("op", string(c.Op)),
			zap.String("kind", string(c.Kind)),
			zap.String("id", c.ID),
			zap.Error(err),
		)
	}
}

// Apply mirrors one change into the index. Non-indexable kinds are ignored.
func (s *Subscriber) Apply(ctx context.Context, c lore.Change) error {
	if !c.Kind.Indexable() {
		return nil
	}
	switch c.Op {
	case lore.OpDelete:
		return s.indexer.RemoveEntity(ctx, c.Kind, c.ID)
	case lore.OpUpsert:
		e, err := lore.DecodeEntity(c.Kind, c.Entity)
		if err != nil {
			return err
		}
		n, err := s.indexer.ReindexEntity(ctx, e)
		if err != nil {
			return err
		}
		s.logger.Debug("change applied", zap.String("kind", string(c.Kind)), zap.String("id", c.ID), zap.Int("chunks", n))
		return nil
	}
	return fmt.Errorf("unknown change op %q", c.Op)
}

// Close drains the subscription.
func (s *Subscriber) Close() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}
