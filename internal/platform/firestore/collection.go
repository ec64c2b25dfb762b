package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// Document is a decoded Firestore document with its metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Collection provides typed access to one Firestore collection. T is the storage document type;
// repositories translate it to domain values.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed helper to the named collection.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Ref resolves the document reference for id.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError("collection", errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError("collection", errors.New("firestore: collection name is required"))
	}
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("ref"), errors.New("firestore: document id is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

// Get fetches and decodes the document.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return c.decode(snap)
}

// GetTx fetches and decodes the document inside a transaction.
func (c *Collection[T]) GetTx(ctx context.Context, tx *firestore.Transaction, id string) (Document[T], error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return c.decode(snap)
}

// Set overwrites the document.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) (time.Time, error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	result, err := ref.Set(ctx, value)
	if err != nil {
		return time.Time{}, WrapError(c.op("set"), err)
	}
	return result.UpdateTime, nil
}

// Create writes the document and fails with a conflict when it already exists.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) (time.Time, error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	result, err := ref.Create(ctx, value)
	if err != nil {
		return time.Time{}, WrapError(c.op("create"), err)
	}
	return result.UpdateTime, nil
}

// Update applies field-level updates. Missing documents surface as not found.
func (c *Collection[T]) Update(ctx context.Context, id string, updates []firestore.Update, preconds ...firestore.Precondition) (time.Time, error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	result, err := ref.Update(ctx, updates, preconds...)
	if err != nil {
		return time.Time{}, WrapError(c.op("update"), err)
	}
	return result.UpdateTime, nil
}

// Delete removes the document. Deleting a missing document succeeds.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return WrapError(c.op("delete"), err)
	}
	return nil
}

func (c *Collection[T]) decode(snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       data,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}

func (c *Collection[T]) op(action string) string {
	name := "firestore"
	if c != nil && c.name != "" {
		name = c.name
	}
	return name + "." + action
}
