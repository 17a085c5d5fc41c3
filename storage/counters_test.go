package storage

import (
	"testing"
)

func TestIncrementCounter(t *testing.T) {
	store := newTestStore(t)

	if value, err := store.GetCounter(CounterUnread); err != nil || value != 0 {
		t.Fatalf("expected absent counter to read 0, got %d err=%v", value, err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := store.IncrementCounter(CounterUnread)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected counter value %d, got %d", want, got)
		}
	}

	if value, err := store.GetCounter(CounterUnread); err != nil || value != 3 {
		t.Fatalf("expected stored counter 3, got %d err=%v", value, err)
	}
}

func TestSetCounter(t *testing.T) {
	store := newTestStore(t)

	if err := store.SetCounter(CounterUnread, 42); err != nil {
		t.Fatalf("SetCounter failed: %v", err)
	}
	if value, err := store.GetCounter(CounterUnread); err != nil || value != 42 {
		t.Fatalf("expected counter 42, got %d err=%v", value, err)
	}

	got, err := store.IncrementCounter(CounterUnread)
	if err != nil {
		t.Fatalf("IncrementCounter after set failed: %v", err)
	}
	if got != 43 {
		t.Fatalf("expected counter 43, got %d", got)
	}
}

func TestCounterPersistsAcrossReopen(t *testing.T) {
	dataDir := t.TempDir()

	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := store.IncrementCounter(CounterUnread); err != nil {
		t.Fatalf("IncrementCounter failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	if value, err := reopened.GetCounter(CounterUnread); err != nil || value != 1 {
		t.Fatalf("expected persisted counter 1, got %d err=%v", value, err)
	}
}
