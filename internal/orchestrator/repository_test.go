package orchestrator

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInMemoryRepository_lifecycle(t *testing.T) {
	repo := NewInMemoryRepository()
	id := AssetID("a1")

	if err := repo.Create(SourceAsset{ID: id, Status: StatusProbing}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.RecordDimensions(id, 1080, 1920); err != nil {
		t.Fatalf("RecordDimensions: %v", err)
	}
	for _, s := range []AssetStatus{StatusPlanning, StatusEncoding} {
		if err := repo.Transition(id, s, nil); err != nil {
			t.Fatalf("Transition(%s): %v", s, err)
		}
	}
	if got := repo.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}
	if err := repo.Transition(id, StatusSucceeded, nil, "360p", "480p"); err != nil {
		t.Fatalf("Transition(succeeded): %v", err)
	}

	a, ok := repo.Get(id)
	if !ok {
		t.Fatal("Get: not found")
	}
	if a.Status != StatusSucceeded || a.AspectRatio != 0.5625 {
		t.Errorf("unexpected asset: %+v", a)
	}
	if len(a.Renditions) != 2 || a.Renditions[0] != "360p" {
		t.Errorf("renditions = %v", a.Renditions)
	}
	if got := repo.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}

func TestInMemoryRepository_rejects_invalid_transitions(t *testing.T) {
	repo := NewInMemoryRepository()
	_ = repo.Create(SourceAsset{ID: "a1", Status: StatusProbing})

	t.Run("skip_planning", func(t *testing.T) {
		err := repo.Transition("a1", StatusEncoding, nil)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("terminal_is_final", func(t *testing.T) {
		if err := repo.Transition("a1", StatusFailed, errors.New("decode: boom")); err != nil {
			t.Fatalf("Transition(failed): %v", err)
		}
		if err := repo.Transition("a1", StatusPlanning, nil); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition after terminal, got %v", err)
		}
		a, _ := repo.Get("a1")
		if a.Error != "decode: boom" {
			t.Errorf("Error = %q", a.Error)
		}
	})

	t.Run("create_must_start_probing", func(t *testing.T) {
		err := repo.Create(SourceAsset{ID: "a2", Status: StatusEncoding})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestInMemoryRepository_duplicate_and_missing(t *testing.T) {
	repo := NewInMemoryRepository()
	_ = repo.Create(SourceAsset{ID: "a1", Status: StatusProbing})

	if err := repo.Create(SourceAsset{ID: "a1", Status: StatusProbing}); !errors.Is(err, ErrAssetExists) {
		t.Errorf("expected ErrAssetExists, got %v", err)
	}
	if err := repo.Transition("missing", StatusPlanning, nil); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
	if err := repo.RecordDimensions("missing", 1, 1); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
	if _, ok := repo.Get("missing"); ok {
		t.Error("Get(missing) should report not found")
	}
}

func TestInMemoryRepository_Get_returns_copy(t *testing.T) {
	repo := NewInMemoryRepository()
	_ = repo.Create(SourceAsset{ID: "a1", Status: StatusProbing})
	_ = repo.Transition("a1", StatusPlanning, nil)
	_ = repo.Transition("a1", StatusEncoding, nil)
	_ = repo.Transition("a1", StatusSucceeded, nil, "360p")

	a, _ := repo.Get("a1")
	a.Renditions[0] = "mutated"
	a.Status = StatusFailed

	b, _ := repo.Get("a1")
	if b.Renditions[0] != "360p" || b.Status != StatusSucceeded {
		t.Errorf("repository state leaked through Get: %+v", b)
	}
}

func TestInMemoryRepository_failed_transition_writes_nothing(t *testing.T) {
	repo := NewInMemoryRepository()
	_ = repo.Create(SourceAsset{ID: "a1", Status: StatusProbing})
	before, _ := repo.Get("a1")

	repo.now = func() time.Time { return before.UpdatedAt.Add(time.Hour) }
	if err := repo.Transition("a1", StatusSucceeded, nil, "360p"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	after, _ := repo.Get("a1")
	if !after.UpdatedAt.Equal(before.UpdatedAt) || len(after.Renditions) != 0 {
		t.Errorf("rejected transition changed the record: %+v", after)
	}
}

func TestInMemoryRepository_Prune(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := start
	repo := NewInMemoryRepository()
	repo.now = func() time.Time { return clock }

	for _, id := range []AssetID{"done", "failed", "running"} {
		if err := repo.Create(SourceAsset{ID: id, Status: StatusProbing}); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}
	_ = repo.Transition("done", StatusPlanning, nil)
	_ = repo.Transition("done", StatusEncoding, nil)
	_ = repo.Transition("done", StatusSucceeded, nil, "360p")
	_ = repo.Transition("failed", StatusFailed, errors.New("bad source"))

	if n := repo.Prune(start); n != 0 {
		t.Errorf("Prune(start) removed %d, want 0", n)
	}

	clock = start.Add(2 * time.Hour)
	if n := repo.Prune(start.Add(time.Hour)); n != 2 {
		t.Errorf("Prune removed %d, want 2", n)
	}
	for _, id := range []AssetID{"done", "failed"} {
		if _, ok := repo.Get(id); ok {
			t.Errorf("%s survived Prune", id)
		}
	}
	if _, ok := repo.Get("running"); !ok {
		t.Error("non-terminal asset was pruned")
	}
	if got := repo.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}

	// A pruned id is free again.
	if err := repo.Create(SourceAsset{ID: "done", Status: StatusProbing}); err != nil {
		t.Errorf("Create after Prune: %v", err)
	}
}

func TestInMemoryRepository_concurrent_access(t *testing.T) {
	repo := NewInMemoryRepository()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := AssetID(string(rune('a'+i%26)) + string(rune('0'+i/26)))
			_ = repo.Create(SourceAsset{ID: id, Status: StatusProbing})
			_ = repo.RecordDimensions(id, 640, 360)
			_ = repo.ActiveCount()
			_, _ = repo.Get(id)
		}(i)
	}
	wg.Wait()
	if got := repo.ActiveCount(); got != 50 {
		t.Errorf("ActiveCount = %d, want 50", got)
	}
}
