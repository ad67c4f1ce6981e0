package auth

import (
	"testing"
)

func TestIssueAndValidate(t *testing.T) {
	s := NewAPIKeyStore()

	rec, err := s.Issue("user@example.com", "wallet-1", "registration")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if rec.Key == "" {
		t.Fatal("issued key is empty")
	}
	if !s.Validate(rec.Key) {
		t.Fatal("issued key does not validate")
	}
	if s.Validate("no-such-key") {
		t.Fatal("unknown key validates")
	}

	got, ok := s.Get(rec.Key)
	if !ok || got.Email != "user@example.com" || got.Wallet != "wallet-1" {
		t.Fatalf("Get = %+v/%v, want the issued record", got, ok)
	}
}

func TestSetLimitsAndCeilings(t *testing.T) {
	s := NewAPIKeyStore()
	rec, err := s.Issue("", "wallet-1", "registration")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// A fresh key carries no ceilings.
	if _, ok := s.Ceilings(rec.Key); ok {
		t.Fatal("fresh key reports ceilings")
	}
	if _, ok := s.Ceilings("no-such-key"); ok {
		t.Fatal("unknown key reports ceilings")
	}

	if err := s.SetLimits(rec.Key, 10, 100, 1000); err != nil {
		t.Fatalf("SetLimits: %v", err)
	}
	limits, ok := s.Ceilings(rec.Key)
	if !ok {
		t.Fatal("Ceilings = false after SetLimits")
	}
	if limits.PerMinute != 10 || limits.PerHour != 100 || limits.PerDay != 1000 {
		t.Fatalf("ceilings %+v, want 10/100/1000", limits)
	}

	// Clearing all three drops the record back to defaults.
	if err := s.SetLimits(rec.Key, 0, 0, 0); err != nil {
		t.Fatalf("SetLimits to zero: %v", err)
	}
	if _, ok := s.Ceilings(rec.Key); ok {
		t.Fatal("zeroed key still reports ceilings")
	}

	if err := s.SetLimits("no-such-key", 1, 1, 1); err == nil {
		t.Fatal("SetLimits on unknown key succeeded")
	}
}

func TestUpdateWallet(t *testing.T) {
	s := NewAPIKeyStore()
	rec, err := s.Issue("", "", "registration")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	updated, err := s.UpdateWallet(rec.Key, "wallet-2")
	if err != nil {
		t.Fatalf("UpdateWallet: %v", err)
	}
	if updated.Wallet != "wallet-2" {
		t.Fatalf("wallet %q, want wallet-2", updated.Wallet)
	}
	if _, err := s.UpdateWallet(rec.Key, "  "); err == nil {
		t.Fatal("blank wallet accepted")
	}
	if _, err := s.UpdateWallet("no-such-key", "wallet-3"); err == nil {
		t.Fatal("UpdateWallet on unknown key succeeded")
	}
}
