// Package settings holds the class-wide configuration document: class size,
// vote thresholds, tax rate, and stipend. It is stored like any other
// authoritative document so threshold changes take effect transactionally.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"classbank/internal/store"
)

// Ref is the authoritative document holding the class settings.
const Ref = "settings/class"

type Settings struct {
	ClassSize             int           `json:"class_size"`
	ApprovalThreshold     int           `json:"approval_threshold"`
	VetoOverrideThreshold int           `json:"veto_override_threshold"` // 0 means derive ceil(2N/3)
	TaxRateBps            int           `json:"tax_rate_bps"`
	StipendAmount         int64         `json:"stipend_amount"`
	DeliberationWindow    time.Duration `json:"deliberation_window"`
	OverrideWindow        time.Duration `json:"override_window"`
}

// Default returns settings for a typical class of 25.
func Default() Settings {
	return Settings{
		ClassSize:          25,
		ApprovalThreshold:  13,
		TaxRateBps:         1000, // 10%
		StipendAmount:      150,
		DeliberationWindow: 7 * 24 * time.Hour,
		OverrideWindow:     48 * time.Hour,
	}
}

func (s Settings) Validate() error {
	if s.ClassSize <= 0 {
		return fmt.Errorf("class size must be > 0")
	}
	if s.ApprovalThreshold <= 0 {
		return fmt.Errorf("approval threshold must be > 0")
	}
	if s.TaxRateBps < 0 || s.TaxRateBps > 10_000 {
		return fmt.Errorf("tax rate must be between 0 and 10000 bps")
	}
	return nil
}

// OverrideThreshold returns the approvals needed to override a veto:
// the configured value, or a two-thirds supermajority when unset.
func (s Settings) OverrideThreshold() int {
	if s.VetoOverrideThreshold > 0 {
		return s.VetoOverrideThreshold
	}
	return CeilDiv(2*s.ClassSize, 3)
}

// RejectionThreshold returns the disapprovals that reject a pending
// proposal: a simple majority of the class.
func (s Settings) RejectionThreshold() int {
	return CeilDiv(s.ClassSize, 2)
}

// TaxOn returns the tax withheld from amount at the configured rate,
// rounded down. NetOfTax is amount minus TaxOn; the two always sum back to
// amount exactly.
func (s Settings) TaxOn(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	return amount * int64(s.TaxRateBps) / 10_000
}

func (s Settings) NetOfTax(amount int64) int64 {
	return amount - s.TaxOn(amount)
}

func CeilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Load reads the settings document. Returns the defaults with version 0 if
// the class has not been seeded yet.
func Load(ctx context.Context, st store.Store) (Settings, int64, error) {
	doc, err := st.Read(ctx, Ref)
	if errors.Is(err, store.ErrNotFound) {
		return Default(), 0, nil
	}
	if err != nil {
		return Settings{}, 0, err
	}
	var s Settings
	if err := json.Unmarshal(doc.Data, &s); err != nil {
		return Settings{}, 0, fmt.Errorf("decode settings: %w", err)
	}
	return s, doc.Version, nil
}

// Seed writes the settings document if it does not exist yet. A class that
// is already seeded keeps its stored settings.
func Seed(ctx context.Context, st store.Store, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = st.Commit(ctx, store.Write{Ref: Ref, ExpectedVersion: 0, Data: data})
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	return err
}

// Save overwrites the settings document at the given version.
func Save(ctx context.Context, st store.Store, s Settings, version int64) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = st.Commit(ctx, store.Write{Ref: Ref, ExpectedVersion: version, Data: data})
	return err
}
