package scoring

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryvcs/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	s, err := storage.NewSQLiteStore(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordRejectsOutOfRangeValue(t *testing.T) {
	s := newTestStore(t)
	e := New(s)
	ctx := context.Background()

	if _, err := e.Record(ctx, "fact", "f1", "judge", "accuracy", 1.5, ""); err == nil {
		t.Error("expected error for value above 1")
	}
	if _, err := e.Record(ctx, "fact", "f1", "judge", "accuracy", -0.1, ""); err == nil {
		t.Error("expected error for value below 0")
	}
}

func TestSummaryAggregatesPerDimension(t *testing.T) {
	s := newTestStore(t)
	e := New(s)
	ctx := context.Background()

	if _, err := e.Record(ctx, "fact", "f1", "judge-a", "accuracy", 0.8, ""); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := e.Record(ctx, "fact", "f1", "judge-b", "accuracy", 0.6, ""); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := e.Record(ctx, "fact", "f1", "judge-a", "specificity", 1.0, ""); err != nil {
		t.Fatalf("Record: %v", err)
	}

	summary, err := e.Summary(ctx, "fact", "f1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	acc, ok := summary["accuracy"]
	if !ok {
		t.Fatal("expected an accuracy summary")
	}
	if acc.Count != 2 || acc.Min != 0.6 || acc.Max != 0.8 {
		t.Errorf("unexpected accuracy summary: %+v", acc)
	}
	if acc.Avg < 0.69 || acc.Avg > 0.71 {
		t.Errorf("expected avg ~0.7, got %f", acc.Avg)
	}
	if len(summary) != 2 {
		t.Errorf("expected 2 dimensions summarized, got %d", len(summary))
	}
}
