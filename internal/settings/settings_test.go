package settings

import (
	"context"
	"testing"
	"time"

	"classbank/internal/store"
)

func TestOverrideThreshold(t *testing.T) {
	s := Default()
	// Unset: two-thirds supermajority of 25 is 17.
	if got := s.OverrideThreshold(); got != 17 {
		t.Fatalf("derived override threshold = %d, want 17", got)
	}
	s.VetoOverrideThreshold = 20
	if got := s.OverrideThreshold(); got != 20 {
		t.Fatalf("configured override threshold = %d, want 20", got)
	}
}

func TestRejectionThreshold(t *testing.T) {
	s := Default()
	if got := s.RejectionThreshold(); got != 13 {
		t.Fatalf("rejection threshold = %d, want 13", got)
	}
	s.ClassSize = 24
	if got := s.RejectionThreshold(); got != 12 {
		t.Fatalf("rejection threshold for 24 = %d, want 12", got)
	}
}

func TestTaxSplitsExactly(t *testing.T) {
	s := Default() // 10%
	for _, amount := range []int64{0, 1, 9, 10, 99, 150, 1001} {
		tax := s.TaxOn(amount)
		net := s.NetOfTax(amount)
		if tax+net != amount {
			t.Fatalf("tax %d + net %d != amount %d", tax, net, amount)
		}
		if tax < 0 || tax > amount {
			t.Fatalf("tax %d out of range for amount %d", tax, amount)
		}
	}
	if got := s.TaxOn(150); got != 15 {
		t.Fatalf("tax on 150 = %d, want 15", got)
	}
}

func TestValidate(t *testing.T) {
	s := Default()
	if err := s.Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
	s.TaxRateBps = 10_001
	if err := s.Validate(); err == nil {
		t.Fatalf("expected error for tax rate > 100%%")
	}
}

func TestSeedKeepsExisting(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	first := Default()
	first.StipendAmount = 200
	if err := Seed(ctx, st, first); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A second seed with different values must not overwrite.
	second := Default()
	second.StipendAmount = 999
	if err := Seed(ctx, st, second); err != nil {
		t.Fatalf("re-seed: %v", err)
	}

	got, version, err := Load(ctx, st)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.StipendAmount != 200 {
		t.Fatalf("stipend = %d, want 200", got.StipendAmount)
	}
	if version == 0 {
		t.Fatalf("expected stored version, got 0")
	}
}

func TestLoadUnseededReturnsDefaults(t *testing.T) {
	got, version, err := Load(context.Background(), store.NewMemory())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if version != 0 {
		t.Fatalf("version = %d, want 0", version)
	}
	if got.ClassSize != 25 || got.DeliberationWindow != 7*24*time.Hour {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestSaveRequiresCurrentVersion(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	if err := Seed(ctx, st, Default()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s, version, err := Load(ctx, st)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s.ApprovalThreshold = 14
	if err := Save(ctx, st, s, version); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Saving again with the stale version must conflict.
	if err := Save(ctx, st, s, version); err == nil {
		t.Fatalf("expected conflict on stale version")
	}
}
