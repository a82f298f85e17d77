package lore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Snapshot is a serializable copy of a catalog keyed by kind. Unlike a
// World document it keeps entity ids, so restoring it into a catalog backed
// by a persistent index replaces existing chunks instead of adding new ones.
type Snapshot map[Kind][]json.RawMessage

// Snapshot encodes every entity, oldest first within each kind.
func (c *Catalog) Snapshot() (Snapshot, error) {
	s := Snapshot{}
	for _, k := range Kinds {
		entities := c.List(k, ListFilter{})
		if len(entities) == 0 {
			continue
		}
		raw := make([]json.RawMessage, 0, len(entities))
		for i := len(entities) - 1; i >= 0; i-- {
			data, err := json.Marshal(entities[i])
			if err != nil {
				return nil, fmt.Errorf("encoding %s %s: %w", k, entities[i].Base().ID, err)
			}
			raw = append(raw, data)
		}
		s[k] = raw
	}
	return s, nil
}

// Restore writes every entity in s, creating missing ones and updating the
// rest. Entities without an id get a fresh one. It returns the number of
// entities written and stops at the first invalid entity.
func (c *Catalog) Restore(ctx context.Context, s Snapshot) (int, error) {
	for k := range s {
		if _, err := ParseKind(string(k)); err != nil {
			return 0, err
		}
	}
	n := 0
	for _, k := range Kinds {
		for _, data := range s[k] {
			e, err := DecodeEntity(k, data)
			if err != nil {
				return n, err
			}
			if err := c.upsert(ctx, e); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (c *Catalog) upsert(ctx context.Context, e Entity) error {
	if id := e.Base().ID; id != "" {
		if _, err := c.Get(e.Kind(), id); err == nil {
			_, err = c.Update(ctx, e)
			return err
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	_, err := c.Create(ctx, e)
	return err
}
