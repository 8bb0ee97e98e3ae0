package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"taxledger/internal/domain"
	"taxledger/internal/hashchain"
)

func entryFor(t *testing.T, assessmentID string, seq int64, prevHash string) domain.LedgerEntry {
	t.Helper()

	payload, _ := json.Marshal(map[string]any{"seq": seq})
	e := domain.LedgerEntry{
		AssessmentID: assessmentID,
		Sequence:     seq,
		EventType:    domain.EventUpdate,
		Timestamp:    time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second),
		ActorID:      "officer-1",
		ActorRole:    "officer",
		Payload:      payload,
		PreviousHash: prevHash,
	}
	e.CurrentHash = hashchain.Compute(&e)
	return e
}

func TestMemoryAppendAndRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()

	e1 := entryFor(t, "A-1", 1, domain.GenesisHash)
	if err := store.Append(ctx, e1); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	e2 := entryFor(t, "A-1", 2, e1.CurrentHash)
	if err := store.Append(ctx, e2); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	all, err := store.ReadAll(ctx, "A-1")
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != 2 || all[0].Sequence != 1 || all[1].Sequence != 2 {
		t.Fatalf("unexpected chain: %+v", all)
	}

	latest, err := store.ReadLatest(ctx, "A-1")
	if err != nil {
		t.Fatalf("read latest: %v", err)
	}
	if latest == nil || latest.Sequence != 2 {
		t.Fatalf("unexpected latest: %+v", latest)
	}
}

func TestMemoryReadLatestEmpty(t *testing.T) {
	store := NewMemoryLedgerStore()
	latest, err := store.ReadLatest(context.Background(), "missing")
	if err != nil {
		t.Fatalf("read latest: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected nil for empty history, got %+v", latest)
	}
}

func TestMemoryConcurrentAppendConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()

	e1 := entryFor(t, "A-1", 1, domain.GenesisHash)
	if err := store.Append(ctx, e1); err != nil {
		t.Fatalf("append 1: %v", err)
	}

	// two writers both derived sequence 2 from entry 1; the second must lose
	e2a := entryFor(t, "A-1", 2, e1.CurrentHash)
	e2b := entryFor(t, "A-1", 2, e1.CurrentHash)
	if err := store.Append(ctx, e2a); err != nil {
		t.Fatalf("append 2a: %v", err)
	}
	if err := store.Append(ctx, e2b); !errors.Is(err, domain.ErrConcurrentAppend) {
		t.Fatalf("expected ErrConcurrentAppend, got %v", err)
	}

	// the losing append must not have changed history
	all, _ := store.ReadAll(ctx, "A-1")
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
}

func TestMemoryStaleHeadConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()

	e1 := entryFor(t, "A-1", 1, domain.GenesisHash)
	if err := store.Append(ctx, e1); err != nil {
		t.Fatal(err)
	}

	// right sequence, wrong previous hash: a fork attempt
	forged := entryFor(t, "A-1", 2, domain.GenesisHash)
	if err := store.Append(ctx, forged); !errors.Is(err, domain.ErrConcurrentAppend) {
		t.Fatalf("expected ErrConcurrentAppend, got %v", err)
	}
}

func TestMemoryAssessmentsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()

	if err := store.Append(ctx, entryFor(t, "A-1", 1, domain.GenesisHash)); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, entryFor(t, "A-2", 1, domain.GenesisHash)); err != nil {
		t.Fatalf("append to unrelated assessment: %v", err)
	}

	all, _ := store.ReadAll(ctx, "A-2")
	if len(all) != 1 {
		t.Fatalf("expected 1 entry for A-2, got %d", len(all))
	}
}

func TestMemoryReadersSeeSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()

	e1 := entryFor(t, "A-1", 1, domain.GenesisHash)
	if err := store.Append(ctx, e1); err != nil {
		t.Fatal(err)
	}

	snapshot, _ := store.ReadAll(ctx, "A-1")

	e2 := entryFor(t, "A-1", 2, e1.CurrentHash)
	if err := store.Append(ctx, e2); err != nil {
		t.Fatal(err)
	}

	if len(snapshot) != 1 {
		t.Fatalf("earlier read grew after append: %d entries", len(snapshot))
	}
}
