package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/pratik-mahalle/vitalsync/internal/domain/observation"
	"github.com/pratik-mahalle/vitalsync/internal/testutil"
)

func TestLedgerRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer testutil.CleanupDB(db)

	repo := NewLedgerRepository(db, "sqlite")
	ctx := context.Background()

	var ids []string
	for i := 0; i < ledgerBatch+5; i++ {
		id := fmt.Sprintf("vs-%03d", i)
		ids = append(ids, id)
		if i%2 == 0 {
			if err := repo.Record(ctx, &observation.LedgerEntry{SubjectRef: "Patient/1", DedupID: id}); err != nil {
				t.Fatalf("Record() error = %v", err)
			}
		}
	}
	// Re-recording is a no-op.
	if err := repo.Record(ctx, &observation.LedgerEntry{SubjectRef: "Patient/1", DedupID: "vs-000"}); err != nil {
		t.Fatalf("Record() duplicate error = %v", err)
	}

	found, err := repo.Existing(ctx, "Patient/1", ids)
	if err != nil {
		t.Fatalf("Existing() error = %v", err)
	}
	want := (ledgerBatch + 5 + 1) / 2
	if len(found) != want {
		t.Errorf("Existing() found %d, want %d", len(found), want)
	}
	if !found["vs-000"] || found["vs-001"] {
		t.Errorf("Existing() = wrong membership")
	}

	other, err := repo.Existing(ctx, "Patient/2", ids)
	if err != nil {
		t.Fatalf("Existing() error = %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Existing() leaked entries across subjects: %d", len(other))
	}

	n, err := repo.Count(ctx, "Patient/1")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != want {
		t.Errorf("Count() = %d, want %d", n, want)
	}
}
