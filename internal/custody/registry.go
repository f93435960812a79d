package custody

import (
	"context"
	"sync"
)

// Store persists asset ownership for the registry adapter.
type Store interface {
	GetOwner(ctx context.Context, ref AssetRef) (string, error)
	Register(ctx context.Context, ref AssetRef, owner string) error

	// TransferOwner atomically reassigns the asset from one holder to
	// another. Implementations must fail with ErrNotHolder when from is
	// not the current holder.
	TransferOwner(ctx context.Context, ref AssetRef, from, to string) error

	ListByOwner(ctx context.Context, owner string) ([]Asset, error)
}

// Registry is the in-process custody adapter backed by a Store.
type Registry struct {
	store Store
}

var _ Adapter = (*Registry)(nil)

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

func (r *Registry) OwnerOf(ctx context.Context, ref AssetRef) (string, error) {
	return r.store.GetOwner(ctx, ref)
}

func (r *Registry) Transfer(ctx context.Context, ref AssetRef, from, to string) error {
	return r.store.TransferOwner(ctx, ref, from, to)
}

// Register records a newly introduced asset and its initial holder.
func (r *Registry) Register(ctx context.Context, ref AssetRef, owner string) error {
	return r.store.Register(ctx, ref, owner)
}

// ListByOwner returns all registered assets held by owner.
func (r *Registry) ListByOwner(ctx context.Context, owner string) ([]Asset, error) {
	return r.store.ListByOwner(ctx, owner)
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	owners map[AssetRef]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{owners: make(map[AssetRef]string)}
}

func (s *MemoryStore) GetOwner(_ context.Context, ref AssetRef) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.owners[ref]
	if !ok {
		return "", ErrAssetNotFound
	}
	return owner, nil
}

func (s *MemoryStore) Register(_ context.Context, ref AssetRef, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.owners[ref]; ok {
		return ErrAssetExists
	}
	s.owners[ref] = owner
	return nil
}

func (s *MemoryStore) TransferOwner(_ context.Context, ref AssetRef, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[ref]
	if !ok {
		return ErrAssetNotFound
	}
	if owner != from {
		return ErrNotHolder
	}
	s.owners[ref] = to
	return nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, owner string) ([]Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var assets []Asset
	for ref, o := range s.owners {
		if o == owner {
			assets = append(assets, Asset{Ref: ref, Owner: o})
		}
	}
	return assets, nil
}
