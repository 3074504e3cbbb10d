package storage

import (
	"bytes"
	"testing"
)

func TestCookieStoreRoundTrip(t *testing.T) {
	cs, err := NewCookieFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	blob := []byte(`[{"name":"session","value":"abc"}]`)
	if err := cs.Save("immobilienscout24", blob); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, ok, err := cs.Load("immobilienscout24")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !ok {
		t.Fatal("saved blob not found")
	}
	if !bytes.Equal(got, blob) {
		t.Errorf("got %s, want %s", got, blob)
	}
}

func TestCookieStoreMissingIsNotAnError(t *testing.T) {
	cs, err := NewCookieFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	data, ok, err := cs.Load("neversaved")
	if err != nil {
		t.Errorf("missing blob surfaced as error: %v", err)
	}
	if ok || data != nil {
		t.Errorf("got (%v, %v), want (nil, false)", data, ok)
	}
}

func TestCookieStoreOverwrite(t *testing.T) {
	cs, err := NewCookieFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	if err := cs.Save("s", []byte("old")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := cs.Save("s", []byte("new")); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, _, err := cs.Load("s")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("got %q, want %q", got, "new")
	}
}
