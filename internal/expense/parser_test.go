package expense

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantOK   bool
		wantVal  float64
		wantDesc string
		wantAcct string
	}{
		{
			name:     "simple phrase",
			input:    "500 padaria nubank",
			wantOK:   true,
			wantVal:  500,
			wantDesc: "padaria",
			wantAcct: "nubank",
		},
		{
			name:     "comma decimals",
			input:    "32,90 mercado inter",
			wantOK:   true,
			wantVal:  32.90,
			wantDesc: "mercado",
			wantAcct: "inter",
		},
		{
			name:     "currency prefix",
			input:    "R$ 18 uber pix",
			wantOK:   true,
			wantVal:  18,
			wantDesc: "uber",
			wantAcct: "pix",
		},
		{
			name:     "reais word stripped",
			input:    "500 reais padaria nubank",
			wantOK:   true,
			wantVal:  500,
			wantDesc: "padaria",
			wantAcct: "nubank",
		},
		{
			name:     "multi word description",
			input:    "45,50 almoço com cliente nubank",
			wantOK:   true,
			wantVal:  45.50,
			wantDesc: "almoço com cliente",
			wantAcct: "nubank",
		},
		{
			name:     "description only",
			input:    "120 farmacia",
			wantOK:   true,
			wantVal:  120,
			wantDesc: "farmacia",
			wantAcct: "",
		},
		{
			name:     "value only",
			input:    "120",
			wantOK:   true,
			wantVal:  120,
			wantDesc: "",
			wantAcct: "",
		},
		{
			name:   "no number",
			input:  "padaria nubank",
			wantOK: false,
		},
		{
			name:   "empty",
			input:  "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok := Parse(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if !ok {
				return
			}

			if entry.Value != tt.wantVal {
				t.Errorf("expected value %v, got %v", tt.wantVal, entry.Value)
			}
			if entry.Description != tt.wantDesc {
				t.Errorf("expected description %q, got %q", tt.wantDesc, entry.Description)
			}
			if entry.Account != tt.wantAcct {
				t.Errorf("expected account %q, got %q", tt.wantAcct, entry.Account)
			}
			if entry.Original != tt.input {
				t.Errorf("expected original %q, got %q", tt.input, entry.Original)
			}
		})
	}
}

func TestConfirmationUsesCommaDecimals(t *testing.T) {
	entry := Entry{Value: 32.90, Description: "mercado", Account: "inter"}

	got := entry.Confirmation()
	want := "Lançado ✅ R$ 32,90 | mercado | inter"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestCSVLedgerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gastos.csv")

	ledger := NewCSVLedger(path)
	ledger.now = func() time.Time {
		return time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	}

	entries := []Entry{
		{Value: 500, Description: "padaria", Account: "nubank", Original: "500 padaria nubank"},
		{Value: 32.90, Description: "mercado", Account: "inter", Original: "32,90 mercado inter"},
	}
	for _, e := range entries {
		if err := ledger.Record(e); err != nil {
			t.Fatalf("failed to record entry: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open ledger file: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to read ledger: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	first := rows[0]
	if !strings.HasPrefix(first[0], "2026-08-01 12:30:00") {
		t.Errorf("unexpected timestamp %q", first[0])
	}
	if first[1] != "500.00" {
		t.Errorf("expected value 500.00, got %q", first[1])
	}
	if first[2] != "padaria" || first[3] != "nubank" {
		t.Errorf("unexpected row %v", first)
	}
	if rows[1][1] != "32.90" {
		t.Errorf("expected value 32.90, got %q", rows[1][1])
	}
}
