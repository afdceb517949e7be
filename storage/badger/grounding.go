package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbsearch/core"
	"github.com/poiesic/kbsearch/storage"
)

// GroundingRepository implements storage.GroundingRepository for BadgerDB.
type GroundingRepository struct {
	backend *Backend
}

var _ storage.GroundingRepository = (*GroundingRepository)(nil)

// NewGroundingRepository creates a new GroundingRepository.
func NewGroundingRepository(backend *Backend) (*GroundingRepository, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	return &GroundingRepository{backend: backend}, nil
}

// SaveGrounding persists g under its collection and topic.
func (r *GroundingRepository) SaveGrounding(ctx context.Context, g *core.Grounding) error {
	if g == nil || g.CollectionID == "" {
		return fmt.Errorf("collection id: %w", core.ErrEmptyID)
	}
	if g.Topic == "" {
		return fmt.Errorf("topic: %w", core.ErrEmptyID)
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = time.Now().UTC()
	}
	value := storage.MarshalGrounding(g)
	return r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeGroundingKey(g.CollectionID, g.Topic), value)
	}, true)
}

// LoadGrounding retrieves the grounding for a collection and topic.
// Returns nil, nil if none has been saved.
func (r *GroundingRepository) LoadGrounding(ctx context.Context, collectionID, topic string) (*core.Grounding, error) {
	var g *core.Grounding
	err := r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		item, err := tx.Get(makeGroundingKey(collectionID, topic))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			g, unmarshalErr = storage.UnmarshalGrounding(val)
			return unmarshalErr
		})
	}, false)
	return g, err
}
