package storage

import (
	"errors"
	"testing"
	"time"

	"flatbot/models"
)

func TestInsertIsIdempotent(t *testing.T) {
	ms := NewMemoryStore(3)

	l := models.NewListing("12345", "immobilienscout24")
	if err := ms.Insert(l); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		err := ms.Insert(models.NewListing("12345", "immobilienscout24"))
		if !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("repeat insert %d: got %v, want ErrAlreadyExists", i, err)
		}
	}

	stats, err := ms.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("expected 1 listing after repeated inserts, got %d", stats.Total)
	}
}

func TestInsertResetsState(t *testing.T) {
	ms := NewMemoryStore(3)

	l := models.NewListing("1", "immobilienscout24")
	l.Processed = true
	l.Failures = 5
	if err := ms.Insert(l); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := ms.Get("immobilienscout24", "1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Processed || got.Failures != 0 {
		t.Errorf("new listing stored as processed=%v failures=%d, want false/0", got.Processed, got.Failures)
	}
}

func TestSameIDDifferentSources(t *testing.T) {
	ms := NewMemoryStore(3)

	if err := ms.Insert(models.NewListing("1", "immobilienscout24")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := ms.Insert(models.NewListing("1", "othersite")); err != nil {
		t.Errorf("same id under different source rejected: %v", err)
	}
}

func TestProcessedIsMonotonic(t *testing.T) {
	ms := NewMemoryStore(3)

	l := models.NewListing("1", "immobilienscout24")
	if err := ms.Insert(l); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := ms.MarkProcessed("immobilienscout24", "1"); err != nil {
		t.Fatalf("mark processed failed: %v", err)
	}

	// an update carrying processed=false must not revert it
	l.Processed = false
	l.Title = "Schöne Wohnung"
	if err := ms.Update(l); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := ms.Get("immobilienscout24", "1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Processed {
		t.Error("processed flag reverted by update")
	}
	if got.Title != "Schöne Wohnung" {
		t.Errorf("update lost attribute data, title = %q", got.Title)
	}
}

func TestExhaustionForcesTerminal(t *testing.T) {
	ms := NewMemoryStore(3)

	if err := ms.Insert(models.NewListing("1", "immobilienscout24")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		n, err := ms.IncrementFailures("immobilienscout24", "1")
		if err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
		if n != i {
			t.Errorf("increment %d returned %d", i, n)
		}

		got, _ := ms.Get("immobilienscout24", "1")
		if i < 3 && got.Processed {
			t.Errorf("listing terminal after only %d failures", i)
		}
		if i == 3 && !got.Processed {
			t.Error("listing not terminal after 3 failures")
		}
	}

	eligible, err := ms.SelectEligible()
	if err != nil {
		t.Fatalf("select eligible failed: %v", err)
	}
	if len(eligible) != 0 {
		t.Errorf("exhausted listing still eligible, got %d listings", len(eligible))
	}
}

func TestSelectEligibleOrder(t *testing.T) {
	ms := NewMemoryStore(3)

	base := time.Now().UTC()
	for i, id := range []string{"c", "a", "b"} {
		l := models.NewListing(id, "immobilienscout24")
		l.ReceivedAt = base.Add(time.Duration(i) * time.Minute)
		if err := ms.Insert(l); err != nil {
			t.Fatalf("insert %s failed: %v", id, err)
		}
	}

	eligible, err := ms.SelectEligible()
	if err != nil {
		t.Fatalf("select eligible failed: %v", err)
	}
	if len(eligible) != 3 {
		t.Fatalf("expected 3 eligible listings, got %d", len(eligible))
	}

	want := []string{"c", "a", "b"}
	for i, l := range eligible {
		if l.ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, l.ID, want[i])
		}
	}
}

func TestStats(t *testing.T) {
	ms := NewMemoryStore(3)

	for _, id := range []string{"1", "2", "3"} {
		if err := ms.Insert(models.NewListing(id, "immobilienscout24")); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}
	if err := ms.MarkProcessed("immobilienscout24", "1"); err != nil {
		t.Fatalf("mark processed failed: %v", err)
	}

	stats, err := ms.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 3 || stats.Processed != 1 || stats.Eligible != 2 {
		t.Errorf("stats = %+v, want total 3, processed 1, eligible 2", stats)
	}
}

func TestGetMissing(t *testing.T) {
	ms := NewMemoryStore(3)

	if _, err := ms.Get("immobilienscout24", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if _, err := ms.IncrementFailures("immobilienscout24", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("increment on missing listing: got %v, want ErrNotFound", err)
	}
}
