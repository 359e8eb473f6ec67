package orchestrator

// Store persists asset records for a Repository, which serialises access;
// implementations need not be safe for concurrent use.
//
// Records cross the boundary by value. SetAsset keeps its own copy and
// GetAsset returns a fresh one, so a stored record only changes through
// SetAsset: once on creation and once per lifecycle step after that. Terminal
// records are removed with DeleteAsset when they fall out of retention.
type Store interface {
	GetAsset(id AssetID) (SourceAsset, bool)
	SetAsset(a SourceAsset)
	DeleteAsset(id AssetID)
	ListAssetIDs() []AssetID
}

// InMemoryStore is a map-backed Store.
type InMemoryStore struct {
	assets map[AssetID]SourceAsset
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{assets: make(map[AssetID]SourceAsset)}
}

func (s *InMemoryStore) GetAsset(id AssetID) (SourceAsset, bool) {
	a, ok := s.assets[id]
	if !ok {
		return SourceAsset{}, false
	}
	return a.clone(), true
}

func (s *InMemoryStore) SetAsset(a SourceAsset) {
	s.assets[a.ID] = a.clone()
}

func (s *InMemoryStore) DeleteAsset(id AssetID) {
	delete(s.assets, id)
}

func (s *InMemoryStore) ListAssetIDs() []AssetID {
	ids := make([]AssetID, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	return ids
}

// clone detaches the slice fields so the copy shares no memory with a.
func (a SourceAsset) clone() SourceAsset {
	if a.Renditions != nil {
		a.Renditions = append([]string(nil), a.Renditions...)
	}
	return a
}
