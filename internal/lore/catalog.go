package lore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Indexer mirrors indexable entities into the vector index.
type Indexer interface {
	IndexEntity(ctx context.Context, e Entity) (int, error)
	ReindexEntity(ctx context.Context, e Entity) (int, error)
	RemoveEntity(ctx context.Context, kind Kind, id string) error
}

// ChangeOp is the kind of catalog write carried by a Change.
type ChangeOp string

const (
	OpUpsert ChangeOp = "upsert"
	OpDelete ChangeOp = "delete"
)

// Change describes one catalog write. Entity is set for upserts.
type Change struct {
	Op     ChangeOp        `json:"op"`
	Kind   Kind            `json:"kind"`
	ID     string          `json:"id"`
	Entity json.RawMessage `json:"entity,omitempty"`
}

// ChangePublisher receives every successful catalog write.
type ChangePublisher interface {
	Publish(ctx context.Context, c Change) error
}

// ListFilter restricts List to one universe and/or campaign.
type ListFilter struct {
	UniverseID string
	CampaignID string
}

func (f ListFilter) matches(s Scope) bool {
	if f.UniverseID != "" && s.UniverseID != f.UniverseID {
		return false
	}
	if f.CampaignID != "" && s.CampaignID != f.CampaignID {
		return false
	}
	return true
}

type entry struct {
	entity Entity
	seq    uint64
}

// Catalog is an in-memory entity store. It is safe for concurrent use.
// Entities passed in and handed out are copies.
type Catalog struct {
	mu       sync.RWMutex
	entities map[Kind]map[string]entry
	seq      uint64

	validate  *validator.Validate
	indexer   Indexer
	publisher ChangePublisher
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithIndexer keeps the vector index in sync with catalog writes.
func WithIndexer(idx Indexer) Option {
	return func(c *Catalog) { c.indexer = idx }
}

// WithPublisher publishes catalog writes, typically to the sync bus.
func WithPublisher(p ChangePublisher) Option {
	return func(c *Catalog) { c.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCatalog creates an empty catalog.
func NewCatalog(opts ...Option) *Catalog {
	c := &Catalog{
		entities: make(map[Kind]map[string]entry),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate checks the entity's field constraints.
func (c *Catalog) Validate(e Entity) error {
	if err := c.validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEntity, e.Kind(), err)
	}
	return nil
}

// Create stores a new entity. An empty ID is replaced with a fresh UUID.
// Indexable kinds are indexed after the write; indexing failures are logged
// and do not fail Create.
func (c *Catalog) Create(ctx context.Context, e Entity) (Entity, error) {
	if err := c.Validate(e); err != nil {
		return nil, err
	}
	stored := clone(e)
	m := stored.Base()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := c.now()
	m.CreatedAt, m.UpdatedAt = now, now

	c.mu.Lock()
	byID := c.entities[stored.Kind()]
	if byID == nil {
		byID = make(map[string]entry)
		c.entities[stored.Kind()] = byID
	}
	if _, exists := byID[m.ID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s %s already exists", ErrInvalidEntity, stored.Kind(), m.ID)
	}
	c.seq++
	byID[m.ID] = entry{entity: stored, seq: c.seq}
	c.mu.Unlock()

	c.logger.Debug("entity created", zap.String("kind", string(stored.Kind())), zap.String("id", m.ID))
	if stored.Kind().Indexable() && c.indexer != nil {
		if _, err := c.indexer.IndexEntity(ctx, stored); err != nil {
			c.logger.Warn("indexing entity failed",
				zap.String("kind", string(stored.Kind())), zap.String("id", m.ID), zap.Error(err))
		}
	}
	c.publish(ctx, OpUpsert, stored)
	return clone(stored), nil
}

// Get returns the entity or ErrNotFound.
func (c *Catalog) Get(kind Kind, id string) (Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	en, ok := c.entities[kind][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return clone(en.entity), nil
}

// List returns the entities of kind matching f, newest first.
func (c *Catalog) List(kind Kind, f ListFilter) []Entity {
	c.mu.RLock()
	entries := make([]entry, 0, len(c.entities[kind]))
	for _, en := range c.entities[kind] {
		if f.matches(en.entity.Scope()) {
			entries = append(entries, en)
		}
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].entity.Base().CreatedAt, entries[j].entity.Base().CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return entries[i].seq > entries[j].seq
	})
	out := make([]Entity, len(entries))
	for i, en := range entries {
		out[i] = clone(en.entity)
	}
	return out
}

// All returns every entity of every kind, in catalog kind order.
func (c *Catalog) All() []Entity {
	var out []Entity
	for _, k := range Kinds {
		out = append(out, c.List(k, ListFilter{})...)
	}
	return out
}

// Update replaces an existing entity, keeping its creation time, and
// reindexes it.
func (c *Catalog) Update(ctx context.Context, e Entity) (Entity, error) {
	if err := c.Validate(e); err != nil {
		return nil, err
	}
	stored := clone(e)
	m := stored.Base()

	c.mu.Lock()
	old, ok := c.entities[stored.Kind()][m.ID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, stored.Kind(), m.ID)
	}
	m.CreatedAt = old.entity.Base().CreatedAt
	m.UpdatedAt = c.now()
	c.entities[stored.Kind()][m.ID] = entry{entity: stored, seq: old.seq}
	c.mu.Unlock()

	if stored.Kind().Indexable() && c.indexer != nil {
		if _, err := c.indexer.ReindexEntity(ctx, stored); err != nil {
			c.logger.Warn("reindexing entity failed",
				zap.String("kind", string(stored.Kind())), zap.String("id", m.ID), zap.Error(err))
		}
	}
	c.publish(ctx, OpUpsert, stored)
	return clone(stored), nil
}

// Delete removes the entity and its index chunks.
func (c *Catalog) Delete(ctx context.Context, kind Kind, id string) error {
	c.mu.Lock()
	if _, ok := c.entities[kind][id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	delete(c.entities[kind], id)
	c.mu.Unlock()

	if kind.Indexable() && c.indexer != nil {
		if err := c.indexer.RemoveEntity(ctx, kind, id); err != nil {
			c.logger.Warn("removing entity from index failed",
				zap.String("kind", string(kind)), zap.String("id", id), zap.Error(err))
		}
	}
	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, Change{Op: OpDelete, Kind: kind, ID: id}); err != nil {
			c.logger.Warn("publishing change failed", zap.String("id", id), zap.Error(err))
		}
	}
	return nil
}

func (c *Catalog) publish(ctx context.Context, op ChangeOp, e Entity) {
	if c.publisher == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn("encoding change failed", zap.Error(err))
		return
	}
	change := Change{Op: op, Kind: e.Kind(), ID: e.Base().ID, Entity: data}
	if err := c.publisher.Publish(ctx, change); err != nil {
		c.logger.Warn("publishing change failed", zap.String("id", change.ID), zap.Error(err))
	}
}

// Name returns a display name for e: its name, or its summary for events.
func Name(e Entity) string {
	switch v := e.(type) {
	case *Universe:
		return v.Name
	case *Campaign:
		return v.Name
	case *Party:
		return v.Name
	case *Location:
		return v.Name
	case *Character:
		return v.Name
	case *Faction:
		return v.Name
	case *Event:
		return v.Summary
	case *RuleSystem:
		return v.Name
	case *RulesTopic:
		return v.Name
	case *TutorialScript:
		return v.Name
	case *WorldChangeRequest:
		return v.Text
	}
	return ""
}
