package store

import (
	"context"
	"encoding/json"
	"fmt"

	"scrap-pickup-api/models"
)

// Entity is implemented by the pointer type of every stored model.
type Entity interface {
	GetID() models.ID
	SetID(models.ID)
}

// Repo is typed access to one collection. Decoding goes through the model
// types, so ids and phones come back coerced whatever backend stored them,
// and unknown fields are dropped on the next write.
type Repo[T any, P interface {
	*T
	Entity
}] struct {
	backend Backend
	coll    Collection
}

func NewRepo[T any, P interface {
	*T
	Entity
}](backend Backend, coll Collection) *Repo[T, P] {
	return &Repo[T, P]{backend: backend, coll: coll}
}

func (r *Repo[T, P]) Collection() Collection { return r.coll }

func (r *Repo[T, P]) decode(doc Document) (T, error) {
	var item T
	if err := json.Unmarshal(doc.Data, &item); err != nil {
		return item, fmt.Errorf("decode %s %d: %w", r.coll, doc.ID, err)
	}
	P(&item).SetID(models.ID(doc.ID))
	return item, nil
}

// List returns the records matching f, or every record when f is nil.
func (r *Repo[T, P]) List(ctx context.Context, f *Filter) ([]T, error) {
	docs, err := r.backend.List(ctx, r.coll, f)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, err := r.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Find returns the first record matching f.
func (r *Repo[T, P]) Find(ctx context.Context, f *Filter) (T, bool, error) {
	var zero T
	items, err := r.List(ctx, f)
	if err != nil || len(items) == 0 {
		return zero, false, err
	}
	return items[0], true, nil
}

func (r *Repo[T, P]) Get(ctx context.Context, id models.ID) (T, error) {
	var zero T
	doc, err := r.backend.Get(ctx, r.coll, int64(id))
	if err != nil {
		return zero, err
	}
	return r.decode(doc)
}

// Add stores item, allocating an id when it has none.
func (r *Repo[T, P]) Add(ctx context.Context, item T) (T, error) {
	p := P(&item)
	if p.GetID() <= 0 {
		id, err := r.backend.NextID(ctx, r.coll)
		if err != nil {
			return item, err
		}
		p.SetID(models.ID(id))
	}
	if err := r.Put(ctx, item); err != nil {
		return item, err
	}
	return item, nil
}

// Put upserts item under its own id.
func (r *Repo[T, P]) Put(ctx context.Context, item T) error {
	id := P(&item).GetID()
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode %s %d: %w", r.coll, id, err)
	}
	return r.backend.Put(ctx, r.coll, Document{ID: int64(id), Data: data})
}

// Update loads id, lets fn change it and writes it back. The id cannot be
// changed by fn. Returning an error from fn aborts without writing.
func (r *Repo[T, P]) Update(ctx context.Context, id models.ID, fn func(*T) error) (T, error) {
	item, err := r.Get(ctx, id)
	if err != nil {
		return item, err
	}
	if err := fn(&item); err != nil {
		return item, err
	}
	P(&item).SetID(id)
	if err := r.Put(ctx, item); err != nil {
		return item, err
	}
	return item, nil
}

func (r *Repo[T, P]) Delete(ctx context.Context, id models.ID) error {
	return r.backend.Delete(ctx, r.coll, int64(id))
}

func (r *Repo[T, P]) NextID(ctx context.Context) (models.ID, error) {
	id, err := r.backend.NextID(ctx, r.coll)
	return models.ID(id), err
}

// BackfillIDs assigns ids to records stored without one or sharing one.
func (r *Repo[T, P]) BackfillIDs(ctx context.Context) (int, error) {
	return r.backend.AssignMissingIDs(ctx, r.coll)
}
