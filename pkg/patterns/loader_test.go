package patterns

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmptyPathReturnsBuiltins(t *testing.T) {
	tables, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tables.Dimensions) != 4 {
		t.Errorf("expected 4 builtin dimensions, got %d", len(tables.Dimensions))
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	tables, err := Load("/nonexistent/patterns.yaml")
	if err == nil {
		t.Error("expected an error for a missing file")
	}
	if tables == nil || len(tables.Dimensions) != 4 {
		t.Error("fallback tables should still be the builtins")
	}
	if _, rerr := NewRegistry(tables); rerr != nil {
		t.Errorf("fallback tables should compile: %v", rerr)
	}
}

func TestLoadBadYAMLFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	if err := os.WriteFile(path, []byte(":::: not yaml ["), 0o644); err != nil {
		t.Fatal(err)
	}

	tables, err := Load(path)
	if err == nil {
		t.Error("expected a parse error")
	}
	if tables == nil || len(tables.Dimensions) != 4 {
		t.Error("fallback tables should still be the builtins")
	}
}

func TestLoadMergesOverBuiltins(t *testing.T) {
	override := `
dimensions:
  urgency:
    cap: 3.0
    terms:
      - pattern: superurgent
        weight: 2.5
upi_providers:
  newpay: NewPay Wallet
`
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	tables, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r, err := NewRegistry(tables)
	if err != nil {
		t.Fatalf("merged tables should compile: %v", err)
	}

	// Overridden urgency table replaces the builtin one
	if s := r.Score("this is superurgent"); s.Urgency != 2.5 {
		t.Errorf("expected overridden urgency 2.5, got %.2f", s.Urgency)
	}
	if s := r.Score("act immediately"); s.Urgency != 0 {
		t.Errorf("builtin urgency terms should be gone, got %.2f", s.Urgency)
	}

	// Untouched sections keep the builtin behavior
	if s := r.Score("update your kyc"); s.Authority == 0 {
		t.Error("authority table should still be the builtin one")
	}
	if _, ok := r.UPIProvider("newpay"); !ok {
		t.Error("merged provider should resolve")
	}
	if _, ok := r.UPIProvider("paytm"); !ok {
		t.Error("builtin providers should survive the merge")
	}
}

func TestLoadOverrideCannotBreakRegistry(t *testing.T) {
	// A file with a broken regex loads fine as YAML; the compile step
	// reports it so the caller can fall back to Get()
	override := `
entities:
  url: "(unclosed"
`
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	tables, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if _, err := NewRegistry(tables); err == nil {
		t.Error("expected compile error for broken entity regex")
	}
}
