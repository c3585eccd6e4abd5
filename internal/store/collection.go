package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DavinciDreams/Megawatts-sub008/internal/logging"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// errDuplicate is returned by a backend insert when the id already exists.
var errDuplicate = errors.New("duplicate id")

// row is the backend representation of one entity.
type row struct {
	ID        string
	Kind      string
	Ref       string
	Data      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// backend stores rows per table. Implementations must keep insertion order
// for scan and must run update's read-modify-write without interleaving.
type backend interface {
	get(ctx context.Context, table, id string) ([]byte, error)
	insert(ctx context.Context, table string, r row) error
	update(ctx context.Context, table, id string, fn func(data []byte) (row, error)) error
	scan(ctx context.Context, table, kind, ref string, fn func(data []byte) (bool, error)) error
	remove(ctx context.Context, table, id string) error
	close() error
}

// collection implements Collection for one entity type over a backend.
type collection[T any, PT interface {
	*T
	Entity
}, F Filter[T]] struct {
	db    backend
	table string
	name  string
	now   func() time.Time
}

func newCollection[T any, PT interface {
	*T
	Entity
}, F Filter[T]](db backend, table, name string, now func() time.Time) *collection[T, PT, F] {
	return &collection[T, PT, F]{db: db, table: table, name: name, now: now}
}

func (c *collection[T, PT, F]) encode(v *T) (row, error) {
	e := PT(v)
	data, err := json.Marshal(v)
	if err != nil {
		return row{}, fmt.Errorf("encode %s %q: %w", c.name, e.Key(), err)
	}
	return row{ID: e.Key(), Kind: e.Kind(), Ref: e.Ref(), Data: data}, nil
}

func (c *collection[T, PT, F]) decode(data []byte) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.name, err)
	}
	return v, nil
}

func (c *collection[T, PT, F]) FindByID(ctx context.Context, id string) (*T, error) {
	data, err := c.db.get(ctx, c.table, id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.NotFound(c.name, id)
		}
		return nil, fmt.Errorf("find %s %q: %w", c.name, id, err)
	}
	return c.decode(data)
}

func (c *collection[T, PT, F]) Create(ctx context.Context, v *T) (*T, error) {
	e := PT(v)
	if e.Key() == "" {
		return nil, types.Invalidf("%s id is required", c.name)
	}
	now := c.now()
	e.Stamp(now)
	r, err := c.encode(v)
	if err != nil {
		return nil, err
	}
	r.CreatedAt, r.UpdatedAt = now, now
	if err := c.db.insert(ctx, c.table, r); err != nil {
		if errors.Is(err, errDuplicate) {
			return nil, types.Invalidf("%s %q already exists", c.name, e.Key())
		}
		logging.StoreError("create %s %s failed: %v", c.name, e.Key(), err)
		return nil, fmt.Errorf("create %s %q: %w", c.name, e.Key(), err)
	}
	logging.StoreDebug("created %s %s", c.name, e.Key())
	return v, nil
}

func (c *collection[T, PT, F]) Update(ctx context.Context, id string, mutate func(*T)) (*T, error) {
	var updated *T
	err := c.db.update(ctx, c.table, id, func(data []byte) (row, error) {
		v, err := c.decode(data)
		if err != nil {
			return row{}, err
		}
		mutate(v)
		now := c.now()
		PT(v).Stamp(now)
		if PT(v).Key() != id {
			return row{}, types.Invalidf("%s id cannot change (%q -> %q)", c.name, id, PT(v).Key())
		}
		r, err := c.encode(v)
		if err != nil {
			return row{}, err
		}
		r.UpdatedAt = now
		updated = v
		return r, nil
	})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.NotFound(c.name, id)
		}
		return nil, err
	}
	logging.StoreDebug("updated %s %s", c.name, id)
	return updated, nil
}

// scan decodes every row of the table matching kind/ref and hands it to fn
// until fn returns false.
func (c *collection[T, PT, F]) scan(ctx context.Context, kind, ref string, fn func(*T) bool) error {
	return c.db.scan(ctx, c.table, kind, ref, func(data []byte) (bool, error) {
		v, err := c.decode(data)
		if err != nil {
			return false, err
		}
		return fn(v), nil
	})
}

func (c *collection[T, PT, F]) FindByOptions(ctx context.Context, filter F) ([]*T, error) {
	limit := filter.MaxResults()
	out := make([]*T, 0)
	err := c.scan(ctx, filter.KindValue(), filter.RefValue(), func(v *T) bool {
		if !filter.Matches(v) {
			return true
		}
		out = append(out, v)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.name, err)
	}
	return out, nil
}

func (c *collection[T, PT, F]) Count(ctx context.Context, filter F) (int, error) {
	n := 0
	err := c.scan(ctx, filter.KindValue(), filter.RefValue(), func(v *T) bool {
		if filter.Matches(v) {
			n++
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}
	return n, nil
}

func (c *collection[T, PT, F]) Delete(ctx context.Context, id string) error {
	if err := c.db.remove(ctx, c.table, id); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.NotFound(c.name, id)
		}
		return fmt.Errorf("delete %s %q: %w", c.name, id, err)
	}
	logging.StoreDebug("deleted %s %s", c.name, id)
	return nil
}
