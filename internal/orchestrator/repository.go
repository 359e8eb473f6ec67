package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Repository defines the concurrency-safe contract for tracking asset runs.
type Repository interface {
	// Create registers a new asset. The asset's Status must be StatusProbing.
	Create(a SourceAsset) error

	// Get returns a copy of the asset, so callers never observe a write in progress.
	Get(id AssetID) (SourceAsset, bool)

	// RecordDimensions stores the probed frame size and derived aspect ratio.
	RecordDimensions(id AssetID, width, height int) error

	// Transition moves the asset to the given status. cause is recorded when
	// moving to StatusFailed; renditions are recorded when moving to
	// StatusSucceeded.
	Transition(id AssetID, to AssetStatus, cause error, renditions ...string) error

	// ActiveCount returns the number of assets in a non-terminal state.
	// Used for metrics.
	ActiveCount() int

	// Prune drops succeeded and failed assets last updated before cutoff and
	// returns how many were removed.
	Prune(cutoff time.Time) int
}

var (
	// ErrAssetExists is returned by Create for a duplicate id.
	ErrAssetExists = errors.New("asset already exists")

	// ErrAssetNotFound is returned for unknown ids.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrInvalidTransition is returned when a status change skips or reverses
	// the Probing → Planning → Encoding → {Succeeded|Failed} order.
	ErrInvalidTransition = errors.New("invalid asset status transition")
)

var allowedTransitions = map[AssetStatus][]AssetStatus{
	StatusProbing:  {StatusPlanning, StatusFailed},
	StatusPlanning: {StatusEncoding, StatusFailed},
	StatusEncoding: {StatusSucceeded, StatusFailed},
}

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
	now   func() time.Time
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
// Useful for testing or for plugging in a different persistence backend.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Create implements Repository.Create.
func (r *InMemoryRepository) Create(a SourceAsset) error {
	if a.Status != StatusProbing {
		return fmt.Errorf("%w: new asset must start in %s, got %s", ErrInvalidTransition, StatusProbing, a.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetAsset(a.ID); exists {
		return fmt.Errorf("%w: %s", ErrAssetExists, a.ID)
	}

	now := r.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	r.store.SetAsset(a)
	return nil
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(id AssetID) (SourceAsset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.GetAsset(id)
}

// update applies fn to the stored asset and writes the result back with a new
// UpdatedAt. Nothing is written when fn fails.
func (r *InMemoryRepository) update(id AssetID, fn func(a *SourceAsset) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.store.GetAsset(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	if err := fn(&a); err != nil {
		return err
	}
	a.UpdatedAt = r.now()
	r.store.SetAsset(a)
	return nil
}

// RecordDimensions implements Repository.RecordDimensions.
func (r *InMemoryRepository) RecordDimensions(id AssetID, width, height int) error {
	return r.update(id, func(a *SourceAsset) error {
		a.Width = width
		a.Height = height
		if height > 0 {
			a.AspectRatio = float64(width) / float64(height)
		}
		return nil
	})
}

// Transition implements Repository.Transition.
func (r *InMemoryRepository) Transition(id AssetID, to AssetStatus, cause error, renditions ...string) error {
	return r.update(id, func(a *SourceAsset) error {
		if !transitionAllowed(a.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
		}
		a.Status = to
		if cause != nil {
			a.Error = cause.Error()
		}
		if to == StatusSucceeded {
			a.Renditions = renditions
		}
		return nil
	})
}

// ActiveCount implements Repository.ActiveCount.
func (r *InMemoryRepository) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListAssetIDs() {
		if a, ok := r.store.GetAsset(id); ok && !a.Status.Terminal() {
			n++
		}
	}
	return n
}

// Prune implements Repository.Prune.
func (r *InMemoryRepository) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, id := range r.store.ListAssetIDs() {
		a, ok := r.store.GetAsset(id)
		if !ok || !a.Status.Terminal() || !a.UpdatedAt.Before(cutoff) {
			continue
		}
		r.store.DeleteAsset(id)
		n++
	}
	return n
}

func transitionAllowed(from, to AssetStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
