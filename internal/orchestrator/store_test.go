package orchestrator

import (
	"sort"
	"testing"
)

func TestInMemoryStore_copies_in_and_out(t *testing.T) {
	s := NewInMemoryStore()
	if _, ok := s.GetAsset("a1"); ok {
		t.Fatal("empty store reported an asset")
	}

	in := SourceAsset{ID: "a1", Status: StatusSucceeded, Renditions: []string{"360p", "480p"}}
	s.SetAsset(in)
	in.Status = StatusFailed
	in.Renditions[0] = "caller"

	out, ok := s.GetAsset("a1")
	if !ok {
		t.Fatal("GetAsset(a1) not found")
	}
	if out.Status != StatusSucceeded || out.Renditions[0] != "360p" {
		t.Errorf("stored record changed through the caller's value: %+v", out)
	}

	out.Renditions[1] = "reader"
	again, _ := s.GetAsset("a1")
	if again.Renditions[1] != "480p" {
		t.Errorf("stored record changed through a returned value: %+v", again)
	}
}

func TestInMemoryStore_list_and_delete(t *testing.T) {
	s := NewInMemoryStore()
	s.SetAsset(SourceAsset{ID: "a1", Status: StatusProbing})
	s.SetAsset(SourceAsset{ID: "b2", Status: StatusEncoding})

	ids := s.ListAssetIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) != 2 || ids[0] != "a1" || ids[1] != "b2" {
		t.Errorf("ListAssetIDs = %v", ids)
	}

	s.DeleteAsset("a1")
	s.DeleteAsset("missing")
	if _, ok := s.GetAsset("a1"); ok {
		t.Error("a1 still present after DeleteAsset")
	}
	if ids := s.ListAssetIDs(); len(ids) != 1 || ids[0] != "b2" {
		t.Errorf("ListAssetIDs after delete = %v", ids)
	}
}

func TestRepository_writes_through_injected_store(t *testing.T) {
	s := NewInMemoryStore()
	repo := NewInMemoryRepositoryWithStore(s)

	if err := repo.Create(SourceAsset{ID: "a1", Path: "/uploads/a1.mp4", Status: StatusProbing}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.RecordDimensions("a1", 1280, 720); err != nil {
		t.Fatalf("RecordDimensions: %v", err)
	}

	stored, ok := s.GetAsset("a1")
	if !ok {
		t.Fatal("asset missing from injected store")
	}
	if stored.CreatedAt.IsZero() || stored.Width != 1280 {
		t.Errorf("unexpected stored asset %+v", stored)
	}
}
