package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/leafline/voicecapture/pkg/logger"
)

func newTestStorage(t *testing.T) *UtteranceStorage {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	storage, err := NewUtteranceStorage(store.DB(), logger.NewNop())
	if err != nil {
		t.Fatalf("NewUtteranceStorage: %v", err)
	}
	return storage
}

func TestStoreAndGetUtterances(t *testing.T) {
	storage := newTestStorage(t)

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	records := []*UtteranceRecord{
		{SessionID: "s1", CreatedAt: base, Content: "an eighth of gelato", Mode: "batch", Language: "en", Confidence: 0.95, DurationMs: 2100, Outcome: "completed"},
		{SessionID: "s2", CreatedAt: base.Add(time.Minute), Content: "", Mode: "batch", Outcome: "no_speech_detected"},
		{SessionID: "s3", CreatedAt: base.Add(2 * time.Minute), Content: "two pre rolls", Mode: "streaming", Language: "en", Confidence: 0.88, DurationMs: 1600, Outcome: "completed"},
	}
	for _, r := range records {
		if _, err := storage.StoreUtterance(r); err != nil {
			t.Fatalf("StoreUtterance: %v", err)
		}
	}

	got, err := storage.GetUtterances(10, 0)
	if err != nil {
		t.Fatalf("GetUtterances: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	// Newest first.
	if got[0].SessionID != "s3" || got[2].SessionID != "s1" {
		t.Errorf("order: got %s..%s", got[0].SessionID, got[2].SessionID)
	}
	if got[2].Content != "an eighth of gelato" {
		t.Errorf("content: got %q", got[2].Content)
	}
	if !got[2].CreatedAt.Equal(base) {
		t.Errorf("created_at: got %v, want %v", got[2].CreatedAt, base)
	}
	if got[1].Outcome != "no_speech_detected" {
		t.Errorf("outcome: got %q", got[1].Outcome)
	}
}

func TestGetUtterancesPagination(t *testing.T) {
	storage := newTestStorage(t)

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		record := &UtteranceRecord{
			SessionID: "s1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Content:   "entry",
			Mode:      "batch",
			Outcome:   "completed",
		}
		if _, err := storage.StoreUtterance(record); err != nil {
			t.Fatalf("StoreUtterance: %v", err)
		}
	}

	page, err := storage.GetUtterances(2, 2)
	if err != nil {
		t.Fatalf("GetUtterances: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d records, want 2", len(page))
	}

	count, err := storage.CountUtterances()
	if err != nil {
		t.Fatalf("CountUtterances: %v", err)
	}
	if count != 5 {
		t.Errorf("count: got %d, want 5", count)
	}
}

func TestGetUtterancesBySession(t *testing.T) {
	storage := newTestStorage(t)

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for _, sid := range []string{"a", "b", "a"} {
		record := &UtteranceRecord{
			SessionID: sid,
			CreatedAt: base,
			Content:   "x",
			Mode:      "batch",
			Outcome:   "completed",
		}
		base = base.Add(time.Second)
		if _, err := storage.StoreUtterance(record); err != nil {
			t.Fatalf("StoreUtterance: %v", err)
		}
	}

	got, err := storage.GetUtterancesBySession("a", 10, 0)
	if err != nil {
		t.Fatalf("GetUtterancesBySession: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	for _, r := range got {
		if r.SessionID != "a" {
			t.Errorf("session filter leaked record for %q", r.SessionID)
		}
	}
}
