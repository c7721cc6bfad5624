package cost

import (
	"path/filepath"
	"testing"

	"github.com/nicolasforstinger/lucyd-sub001/pkg/models"
)

func TestLedgerRecordAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costs.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	usage := models.Usage{InputTokens: 1000, OutputTokens: 500}
	rates := CostRates{3, 15, 0}
	got := l.Record("sess-1", "claude-sonnet", usage, rates)
	want := 1000*3/1_000_000.0 + 500*15/1_000_000.0
	if got != want {
		t.Fatalf("Record returned %v, want %v", got, want)
	}

	rows, err := l.Rows()
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].SessionID != "sess-1" || rows[0].Model != "claude-sonnet" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
	if rows[0].CostUSD != want {
		t.Fatalf("row cost %v, want %v", rows[0].CostUSD, want)
	}
}

func TestLedgerEmptyPathIsNoop(t *testing.T) {
	l, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	spent := l.Record("sess-1", "claude-sonnet", models.Usage{InputTokens: 100}, CostRates{1, 1, 1})
	if spent != 0 {
		t.Fatalf("expected no-op ledger to return 0, got %v", spent)
	}
	rows, err := l.Rows()
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if rows != nil {
		t.Fatalf("expected nil rows, got %v", rows)
	}
}

func TestLedgerNoRatesIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costs.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	spent := l.Record("sess-1", "claude-sonnet", models.Usage{InputTokens: 100}, nil)
	if spent != 0 {
		t.Fatalf("expected 0 spend with no rates, got %v", spent)
	}
	rows, err := l.Rows()
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows recorded, got %d", len(rows))
	}
}
